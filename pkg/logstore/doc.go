// Package logstore provides the durable store behind the business log
// facade.
//
// An Engine accepts formatted log lines and makes them durable on Flush.
// FileEngine stages lines in logs/cache/staging.log and moves them into a
// per-day file logs/app_YYYYMMDD.log on every Flush, so a process killed
// between flushes loses nothing: the next Open recovers the staged lines.
//
// The cache directory belongs to the engine. Retention never ages files
// out of it.
package logstore
