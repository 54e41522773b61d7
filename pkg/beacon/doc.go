// Package beacon is the orchestrator of the observability pipeline.
//
// A Pipeline owns the live configuration and every subsystem built from
// it: the durable log engine, the event sink, crash capture and the hang
// watchdog, retention, and the performance producers. Configuration
// changes go through Apply, which diffs the old and new snapshots under a
// single mutex and starts or stops only the producers whose flags changed.
//
// # Usage
//
//	store, _ := config.Open(cfg.Store, nil)
//	p := beacon.New(beacon.Options{Store: store, Main: mainLooper})
//	p.Startup().MarkProcessStart()
//
//	if err := p.Init(ctx, nil); err != nil {
//		return err
//	}
//	defer p.Shutdown()
//
//	p.Logger().Named("Home").Info("screen shown")
//	p.SetCurrentPage("Home")
//
// # Storage layout
//
// Under the storage root:
//
//	logs/app_YYYYMMDD.log     durable business log
//	logs/cache/               log engine staging area, never swept
//	apm/perf_YYYYMMDD.jsonl   event stream
//	crash/<type>_<time>.log   crash and hang reports
//
// Areas and Files expose these locations to export tooling.
package beacon
