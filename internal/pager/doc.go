// Package pager produces relation rows one at a time from a live page.
//
// Each (relation, page variable) pair has a cursor (ir.Cursor) that moves
// through the states
//
//	NeedRows -> AwaitingFrames -> HaveRows | NoMoreRows
//	HaveRows (buffer exhausted) -> AwaitingNextInteraction -> AwaitingFrames
//
// Buffered rows are handed out without touching the page. When the buffer
// runs dry every frame of the tab is asked to extract the relation and the
// answers are raced: a frame that alone answered, or whose rows mostly
// carry locators and match the demonstrated row count, wins at once;
// otherwise the pager keeps polling frames that report rows are still
// loading and, once nothing is pending or the timeout passes, settles for
// the best candidate under a looser threshold.
//
// Rows already delivered on a cursor are never delivered again, which is
// also how the pager tells a page that has not yet changed after a next
// interaction from one that has.
package pager
