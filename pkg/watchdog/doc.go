// Package watchdog detects an unresponsive primary execution context.
//
// The watchdog posts a trivial task to the primary context every interval
// and waits. When the task has not run by the end of the interval the
// context is considered hung: the primary stack is captured and handed to
// a Reporter, at most once per cooldown window. The OnHang callback then
// receives the report path.
//
//	wd := watchdog.New(watchdog.Options{
//		Main:     mainLooper,
//		Reporter: captor,
//		OnHang:   func(path string) { ... },
//	})
//	wd.Start(ctx)
//	defer wd.Stop()
package watchdog
