// Package skipblock decides whether a skip block's body runs.
//
// A skip block names the attributes that identify "this logical row". The
// values of those attributes, preceded by the fingerprints of every
// enclosing skip block, form a fingerprint. Depending on the block's
// strategy the backend is asked whether the fingerprint was already
// committed (serial runs) or whether it can be claimed (parallel runs).
// Duplicates skip the body; a long enough streak of duplicates tells the
// enclosing loop to stop, on the theory that the run has caught up with
// data collected earlier.
//
// Workers can also split work without asking the backend at all: the
// fingerprint's 32-bit string hash picks one of N equal slices of the
// hash range, and only the worker owning that slice proceeds.
package skipblock
