// Package store is the SQLite coordination backend shared by harvest
// workers, and the home of collected datasets.
//
// Tables:
//   - runs: one row per program run, numbered by seq for logical windows
//   - transactions: committed skip block fingerprints, with the rows the
//     block produced
//   - locks: claims taken by parallel workers, unique per (key, dataset)
//   - output_rows: dataset rows in insertion order
//   - relations: the relation catalogue used to suggest relations for pages
//
// # Atomicity
//
// Check-or-lock runs in one transaction and claims with
// INSERT ... ON CONFLICT DO NOTHING, so of several workers racing for the
// same fingerprint exactly one sees its own run id as the owner.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Times are stored as fixed-width UTC strings so they compare lexically.
package store
