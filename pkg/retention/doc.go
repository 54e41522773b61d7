// Package retention bounds the disk usage of Beacon's storage areas.
//
// A Manager sweeps in two phases:
//
//  1. Age: in every area, delete files last modified before now minus
//     retention.max_age_days. Excluded subdirectories (the log engine's
//     private cache) are never entered.
//  2. Size: in the areas marked SizeBudget only, if the total exceeds
//     retention.max_total_size_mb, delete oldest-first until the total is
//     at or below 80% of the budget. The gap keeps consecutive sweeps
//     from thrashing at the boundary.
//
// Files modified within Grace of the sweep are never deleted, and a file
// or directory that vanishes mid-sweep is skipped rather than reported.
// The Policy is recomputed from the live configuration on every sweep.
//
// A Scheduler runs Sweep on a cron expression (robfig/cron), and
// RunDeferred runs one sweep in the background so startup never waits on
// disk I/O.
package retention
