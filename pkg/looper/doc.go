// Package looper provides a primary execution context: one goroutine that
// runs posted tasks in order, the way a UI thread runs its message queue.
//
// The hang watchdog measures the looper's responsiveness by posting a
// trivial task and waiting for it to run. Stack returns the looper
// goroutine's current stack for hang and frozen-frame reports.
package looper
