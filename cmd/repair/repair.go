package repair

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/pagecounts/cmd/util"
	"github.com/sidkik/pagecounts/pkg/errors"
	mirror "github.com/sidkik/pagecounts/pkg/sync"
	"github.com/sidkik/pagecounts/pkg/timeslot"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `repair` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "repair START [END]",
		Short: "Register Hive partitions for warehouse files that have none",
		Long: "Compare the files in the warehouse between START and END with the\n" +
			"registered Hive partitions, and register a partition for every hour\n" +
			"that has files but no partition. It's safe to run repeatedly.",
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

	return repair(mirror.New(session.Warehouse, session.Origin), window)
}

type partitionRepairer interface {
	RepairPartitions(window timeslot.Window) ([]timeslot.Slot, error)
}

func repair(r partitionRepairer, window timeslot.Window) error {
	repaired, err := r.RepairPartitions(window)
	if err != nil {
		return errors.WithContext(err, "repair partitions")
	}

	for _, slot := range repaired {
		fmt.Fprintf(stdout, "registered %s\n", slot)
	}
	fmt.Fprintf(stdout, "%d partition(s) registered\n", len(repaired))
	return nil
}
