// Package crash captures panics and hangs as report files.
//
// Each report is written synchronously to
//
//	crash/<type>_<yyyyMMdd_HHmmss_SSS>.log
//
// with a short header (id, type, time, host, build) followed by the stack.
// After the file is durable the registered Callback is invoked with the
// report type, its path and whether the same failure was already reported
// in this process.
//
// Install panic capture with a deferred Recover at the top of every
// goroutine that should be covered, or start goroutines through Go:
//
//	defer captor.Recover()
//
// Recover re-panics after the report is written, so the process still
// terminates the way it would have without Beacon.
package crash
