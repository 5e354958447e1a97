/*
Package cli provides command-line helpers for the arbiter command.

Output Formatting:

Command results are written as text or JSON. JSON output is indented with
tidwall/pretty and optionally colorized:

	formatter := cli.NewFormatter(cli.FormatJSON, cli.ColorEnabled(os.Stdout))
	if err := formatter.FormatTo(os.Stdout, verdict); err != nil {
		return err
	}

Status Lines:

Printer writes one-line status messages in color when the terminal supports it:

	p := cli.NewPrinter(os.Stdout, cli.ColorEnabled(os.Stdout))
	p.Success("3 rule files valid")
	p.Fail("rules/pii.yaml: priority must be between 0 and 1000")

Exit Codes:

Commands return an *ExitError to choose a process exit code; ExitCode maps
any error to one.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
