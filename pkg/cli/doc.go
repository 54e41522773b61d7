/*
Package cli provides the helpers shared by the beacon command.

Output Formatting:

Command results are printed as text, JSON or YAML:

	formatter := cli.NewFormatter(cli.FormatYAML)
	if err := formatter.FormatTo(os.Stdout, cfg); err != nil {
		return err
	}

Text output renders Table values as aligned columns and anything else with
its default format.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps a command error to the process exit status: 2 for
configuration errors, 1 for everything else.
*/
package cli
