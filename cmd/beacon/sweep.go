package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mercator-hq/beacon/pkg/beacon"
	"mercator-hq/beacon/pkg/cli"
	"mercator-hq/beacon/pkg/config"
	"mercator-hq/beacon/pkg/retention"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep",
	Long: `Delete stored files older than retention.max_age_days, then trim the
oldest log files until the total is within 80% of
retention.max_total_size_mb. Limits come from the persisted configuration.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

// sweepReport is the sweep command output.
type sweepReport struct {
	AgeDeleted  int    `json:"age_deleted" yaml:"age_deleted"`
	SizeDeleted int    `json:"size_deleted" yaml:"size_deleted"`
	BytesFreed  int64  `json:"bytes_freed" yaml:"bytes_freed"`
	SizeAfter   int64  `json:"size_after" yaml:"size_after"`
	Duration    string `json:"duration" yaml:"duration"`
}

func (r sweepReport) String() string {
	return fmt.Sprintf("Deleted %d files by age and %d by size, freed %s (%s remaining) in %s",
		r.AgeDeleted, r.SizeDeleted,
		humanize.IBytes(uint64(r.BytesFreed)), humanize.IBytes(uint64(r.SizeAfter)), r.Duration)
}

func runSweep(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	cfg, err := loadBootstrap()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	live := store.Load()
	manager := retention.NewManager(retention.Options{
		Areas:  beacon.Areas(cfg.Storage.Dir),
		Config: func() *config.Config { return live },
	})

	start := time.Now()
	res, sweepErr := manager.Sweep(cmd.Context())

	report := sweepReport{
		AgeDeleted:  res.AgeDeleted,
		SizeDeleted: res.SizeDeleted,
		BytesFreed:  res.BytesFreed,
		SizeAfter:   res.SizeAfter,
		Duration:    time.Since(start).Round(time.Millisecond).String(),
	}
	if err := f.FormatTo(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if sweepErr != nil {
		return cli.NewCommandError("sweep", sweepErr)
	}
	return nil
}
