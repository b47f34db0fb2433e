package list

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sidkik/pagecounts/cmd/util"
	"github.com/sidkik/pagecounts/pkg/config"
	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/origin"
	"github.com/sidkik/pagecounts/pkg/timeslot"
	"github.com/sidkik/pagecounts/pkg/warehouse"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `ls` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the pagecounts files and partitions in a window",
		Long: "List what the origin publishes, what the warehouse holds, or which\n" +
			"Hive partitions are registered between START and END.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "origin START [END]",
			Short: "List the files published by the origin",
			Args:  cobra.RangeArgs(1, 2),
			Run: func(cmd *cobra.Command, args []string) {
				if err := listOrigin(util.GetProfileName(cmd), args); err != nil {
					util.HandleFatalError(err)
				}
			},
		},
		&cobra.Command{
			Use:   "files START [END]",
			Short: "List the files in the warehouse",
			Args:  cobra.RangeArgs(1, 2),
			Run: func(cmd *cobra.Command, args []string) {
				err := withWarehouse(util.GetProfileName(cmd), args,
					func(wh *warehouse.Warehouse, window timeslot.Window) error {
						files, err := wh.ListFiles(window)
						if err != nil {
							return errors.WithContext(err, "list files")
						}
						printWarehouseFiles(stdout, files)
						return nil
					})
				if err != nil {
					util.HandleFatalError(err)
				}
			},
		},
		&cobra.Command{
			Use:   "partitions START [END]",
			Short: "List the registered Hive partitions",
			Args:  cobra.RangeArgs(1, 2),
			Run: func(cmd *cobra.Command, args []string) {
				err := withWarehouse(util.GetProfileName(cmd), args,
					func(wh *warehouse.Warehouse, window timeslot.Window) error {
						partitions, err := wh.ListPartitions(window)
						if err != nil {
							return errors.WithContext(err, "list partitions")
						}
						printPartitions(stdout, partitions)
						return nil
					})
				if err != nil {
					util.HandleFatalError(err)
				}
			},
		},
	)
	return cmd
}

// listOrigin doesn't connect to the warehouse, so that it works from hosts
// without access to the cluster.
func listOrigin(profileName string, args []string) error {
	window, err := util.ParseWindow(args)
	if err != nil {
		return err
	}

	profile, err := config.ParseProfile(profileName)
	if err != nil {
		return errors.WithContext(err, "read config")
	}

	src, err := util.NewOrigin(profile)
	if err != nil {
		return err
	}

	files, err := src.ListFiles(window)
	if err != nil {
		return errors.WithContext(err, "list origin files")
	}
	printOriginFiles(stdout, files)
	return nil
}

func withWarehouse(profileName string, args []string,
	fn func(*warehouse.Warehouse, timeslot.Window) error) error {
	window, err := util.ParseWindow(args)
	if err != nil {
		return err
	}

	session, err := util.OpenSession(profileName)
	if err != nil {
		return err
	}
	defer session.Close()

	return fn(session.Warehouse, window)
}

func printOriginFiles(out io.Writer, files []origin.File) {
	w := tabwriter.NewWriter(out, 0, 10, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "SLOT\tCHECKSUM\tURL")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Slot, f.Checksum, f.URL)
	}
}

func printWarehouseFiles(out io.Writer, files []warehouse.File) {
	w := tabwriter.NewWriter(out, 0, 10, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "SLOT\tPATH")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\n", f.Slot, timeslot.FilePath(f.Slot, f.Name))
	}
}

func printPartitions(out io.Writer, partitions []timeslot.Slot) {
	for _, slot := range partitions {
		fmt.Fprintln(out, timeslot.PartitionKey(slot))
	}
}
