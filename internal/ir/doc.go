// Package ir holds the in-memory representation of a harvest program.
//
// A program is a tree of statements recorded from a browser demonstration.
// Alongside the tree live the session-scoped objects the statements refer
// to: node variables, relations, page variables and the pagination cursors
// page variables own. Environments bind node variable names to the values
// of the current relation row.
//
// ir imports nothing internal. Every other package builds on it.
//
// The package also carries the canonical value encoding used wherever
// identity matters (skip block fingerprints, delivered-row keys, golden
// snapshots):
//   - no floats, integers are int64
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalized, no HTML escaping
package ir
