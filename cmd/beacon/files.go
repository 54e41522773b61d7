package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mercator-hq/beacon/pkg/beacon"
	"mercator-hq/beacon/pkg/cli"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List stored log, event and crash files",
	Args:  cobra.NoArgs,
	RunE:  runFiles,
}

var clearFlags struct {
	yes bool
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored file",
	Long: `Delete every file under the storage root. The pipeline must not be
running against the same root.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(filesCmd, clearCmd)
	clearCmd.Flags().BoolVarP(&clearFlags.yes, "yes", "y", false, "do not ask for confirmation")
}

func runFiles(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	cfg, err := loadBootstrap()
	if err != nil {
		return err
	}

	files, err := beacon.ListFiles(cfg.Storage.Dir)
	if err != nil {
		return cli.NewCommandError("files", err)
	}

	table := cli.Table{Headers: []string{"AREA", "FILE", "SIZE", "BYTES", "MODIFIED"}}
	for _, area := range []string{beacon.AreaLogs, beacon.AreaAPM, beacon.AreaCrash} {
		for _, path := range files[area] {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			table.Rows = append(table.Rows, []string{
				area,
				filepath.Base(path),
				humanize.IBytes(uint64(info.Size())),
				strconv.FormatInt(info.Size(), 10),
				humanize.Time(info.ModTime()),
			})
		}
	}
	return f.FormatTo(cmd.OutOrStdout(), table)
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadBootstrap()
	if err != nil {
		return err
	}
	root := cfg.Storage.Dir

	if !clearFlags.yes {
		return cli.NewCommandError("clear", fmt.Errorf("refusing to delete %s without --yes", root))
	}

	if err := os.RemoveAll(root); err != nil {
		return cli.NewCommandError("clear", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return cli.NewCommandError("clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %s\n", root)
	return nil
}
