package version

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/pagecounts/pkg/version"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of pagecounts.",
		Long:  "Print the version of pagecounts, as a git tag or commit hash.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "pagecounts version: %s\n", version.Version)
		},
	}
}
