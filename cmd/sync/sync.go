package sync

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/pagecounts/cmd/util"
	"github.com/sidkik/pagecounts/pkg/errors"
	mirror "github.com/sidkik/pagecounts/pkg/sync"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `sync` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "sync START [END]",
		Short: "Mirror new pagecounts files into the warehouse",
		Long: "Download every file the origin publishes between START and END\n" +
			"that's missing from the warehouse, verify its checksum, upload it,\n" +
			"and register its Hive partition.\n\n" +
			"START and END are UTC times formatted as YYYY-MM-DD or\n" +
			"YYYY-MM-DDTHH, and are both inclusive. END defaults to the current\n" +
			"hour. Files that fail to download or verify are skipped, and the\n" +
			"command exits with an error so that the next scheduled run retries\n" +
			"them.",
		Args: cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(util.GetProfileName(cmd), args); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(profile string, args []string) error {
	window, err := util.ParseWindow(args)
	if err != nil {
		return err
	}

	session, err := util.OpenSession(profile)
	if err != nil {
		return err
	}
	defer session.Close()

	report, err := mirror.New(session.Warehouse, session.Origin).Sync(window)
	printReport(stdout, report)
	if err != nil {
		return errors.WithContext(err, "sync")
	}
	return reportError(report)
}

func printReport(out io.Writer, report mirror.Report) {
	for _, f := range report.Uploaded {
		fmt.Fprintf(out, "uploaded   %s  %s\n", f.Slot, f.Name)
	}
	for _, slot := range report.Registered {
		fmt.Fprintf(out, "registered %s\n", slot)
	}
	for _, failure := range report.Failed {
		fmt.Fprintf(out, "failed     %s  %s: %s\n", failure.Slot, failure.FileName, failure.Err)
	}
	fmt.Fprintf(out, "%d uploaded, %d registered, %d failed\n",
		len(report.Uploaded), len(report.Registered), len(report.Failed))
}

// reportError returns an error if any file failed, so that the process exits
// non-zero and the scheduler notices.
func reportError(report mirror.Report) error {
	if len(report.Failed) == 0 {
		return nil
	}
	return errors.NewFriendlyError("%d file(s) failed to sync. "+
		"They will be retried on the next run.", len(report.Failed))
}
