// Package engine runs harvest programs.
//
// A run is a continuation-passing interpreter over the program tree. Every
// scheduler step is a task on the run's FIFO queue, executed by a single
// loop goroutine. Steps that wait on something slow (trace replay, the
// relation pager, the coordination backend, timed waits and dialogs) hand
// one collaborator call to a goroutine and enqueue their continuation when
// it returns, so the loop never blocks and only one step is ever in
// flight.
//
// Pause, Resume and Stop are checked at the top of every step. A paused
// run keeps the pending step and resumes it verbatim; a stop takes effect
// once and is then cleared.
//
// Failures inside a replay that the executor classifies as
// ErrNodeNotFound or ErrTransport abandon the current loop iteration and
// suppress skip block commits for it; tabs opened before the failure stay
// bound. Everything else that goes wrong ends the run with a
// *RuntimeError.
package engine
