package cmd

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/pagecounts/cmd/config"
	"github.com/sidkik/pagecounts/cmd/list"
	"github.com/sidkik/pagecounts/cmd/repair"
	syncCmd "github.com/sidkik/pagecounts/cmd/sync"
	"github.com/sidkik/pagecounts/cmd/util"
	"github.com/sidkik/pagecounts/cmd/version"
	"github.com/sidkik/pagecounts/pkg/audit"
	"github.com/sidkik/pagecounts/pkg/config"
)

const (
	// verboseLogKey is the environment variable used to enable verbose
	// logging. When it's set to `true`, Debug events are logged, rather than
	// just Info and above.
	verboseLogKey = "PAGECOUNTS_LOG_VERBOSE"

	// envFile holds optional environment overrides, such as the profile and
	// the SSH passphrase. It's read from the working directory.
	envFile = ".env"
)

// Execute runs the main CLI process.
func Execute() {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to load environment file")
	}

	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	if err := newRootCommand().Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pagecounts",
		Short:        "Mirror the hourly Wikipedia pagecounts into a Hive warehouse",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors:    true,
		PersistentPreRun: setupAudit,
	}
	rootCmd.PersistentFlags().String(util.ProfileFlag, config.DefaultProfile,
		"The profile to use. It can also be set with $"+util.ProfileEnvKey+".")

	rootCmd.AddCommand(
		configCmd.New(),
		list.New(),
		repair.New(),
		syncCmd.New(),
		version.New(),
	)
	return rootCmd
}

func setupAudit(cmd *cobra.Command, _ []string) {
	audit.SetCommand(cmd.CommandPath())
}
