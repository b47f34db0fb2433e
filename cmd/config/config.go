package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/pagecounts/cmd/util"
	"github.com/sidkik/pagecounts/pkg/config"
	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/hive"
)

// Mocked for unit testing.
var (
	stdout         io.Writer = os.Stdout
	stdin          io.Reader = os.Stdin
	parseConfig              = config.Parse
	parseProfile             = config.ParseProfile
	writeConfig              = config.Write
	getConfigPath            = config.GetConfigPath
	getCurrentUser           = user.Current
)

type initOptions struct {
	host, user, table string
	force             bool
}

// New creates a new `config` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the pagecounts profiles",
	}

	var opts initOptions
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file with a default profile",
		Run: func(_ *cobra.Command, _ []string) {
			if err := initConfig(opts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	initCmd.Flags().StringVar(&opts.host, "host", "",
		"The SSH address of the warehouse, e.g. `hive.example.com:22`. "+
			"Optional: If not set, `pagecounts config init` will interactively prompt.")
	initCmd.Flags().StringVar(&opts.user, "user", "",
		"The SSH user on the warehouse. "+
			"Optional: If not set, `pagecounts config init` will interactively prompt.")
	initCmd.Flags().StringVar(&opts.table, "table", "",
		"The Hive table that the pagecounts are registered in. "+
			"Optional: If not set, `pagecounts config init` will interactively prompt.")
	initCmd.Flags().BoolVarP(&opts.force, "force", "f", false,
		"Overwrite the config file if it already exists.")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "get-profile [NAME]",
		Short: "Print a profile, including defaults",
		Long: "Print the named profile, including defaults. " +
			"It defaults to the profile selected by --profile.",
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := util.GetProfileName(cmd)
			if len(args) == 1 {
				name = args[0]
			}

			profile, err := parseProfile(name)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "read config"))
			}

			out, err := yaml.Marshal(profile)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "marshal"))
			}
			fmt.Fprint(stdout, string(out))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List the defined profiles",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := parseConfig()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "read config"))
			}

			for _, name := range cfg.ProfileNames() {
				fmt.Fprintln(stdout, name)
			}
		},
	})

	// Setup the commands for querying single fields of the selected profile.
	type getterSpec struct {
		use, short string
		fn         func(config.Profile) string
	}

	getters := []getterSpec{
		{
			use:   "get-host",
			short: "Get the warehouse host of the selected profile",
			fn:    func(p config.Profile) string { return p.Warehouse.Host },
		},
		{
			use:   "get-table",
			short: "Get the Hive table of the selected profile",
			fn:    func(p config.Profile) string { return p.Warehouse.Table },
		},
		{
			use:   "get-root",
			short: "Get the warehouse directory of the selected profile",
			fn:    func(p config.Profile) string { return p.Warehouse.Root },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(cmd *cobra.Command, _ []string) {
				profile, err := parseProfile(util.GetProfileName(cmd))
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(profile))
			},
		})
	}

	return cmd
}

func initConfig(opts initOptions) error {
	cfg, err := generateConfig(opts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeConfig(cfg, opts.force); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := getConfigPath()
	if err != nil {
		return errors.WithContext(err, "get config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

type prompt struct {
	helpString    string
	prompt        string
	defaultAnswer string
	currAnswer    string
	field         *string
	validationFn  func(string) (string, bool)
}

func hostValidationFn(host string) (string, bool) {
	if host == "" || strings.ContainsAny(host, " \t") {
		return "The host must be a hostname or IP address, optionally " +
			"followed by `:port`. Please enter another host.", false
	}
	return "", true
}

func tableValidationFn(table string) (string, bool) {
	if !hive.ValidTableName(table) {
		return "The table name may only contain letters, numbers and `_`, " +
			"and must not start with a number. Please enter another table.", false
	}
	return "", true
}

// generateConfig builds the new config from the command line options,
// prompting for the fields that weren't set. The answers in the existing
// default profile are offered as choices, and the other profiles of the
// existing config are kept.
func generateConfig(opts initOptions) (config.Config, error) {
	currConfig, err := parseConfig()
	if err != nil {
		currConfig = config.Config{}
		log.WithError(err).Debug("Failed to read current config")
	}
	currProfile := currConfig.Profiles[config.DefaultProfile]

	var defaultUser string
	if currentUser, err := getCurrentUser(); err == nil {
		defaultUser = currentUser.Username
	} else {
		log.WithError(err).Info("Failed to guess user")
	}

	var prompts []prompt
	if opts.host == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the SSH address of the warehouse host.\n" +
				"The pagecounts are copied to this host, and registered with its Hive CLI.",
			prompt:       "Warehouse host",
			currAnswer:   currProfile.Warehouse.Host,
			field:        &opts.host,
			validationFn: hostValidationFn,
		})
	}

	if opts.user == "" {
		prompts = append(prompts, prompt{
			helpString:    "Enter the user to log in to the warehouse host as.",
			prompt:        "SSH user",
			defaultAnswer: defaultUser,
			currAnswer:    currProfile.Warehouse.User,
			field:         &opts.user,
		})
	}

	if opts.table == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the Hive table that the pagecounts are registered in.\n" +
				"The table must already exist, and be partitioned by y, ym, ymd and h.",
			prompt:        "Hive table",
			defaultAnswer: config.NewDefault("").Profiles[config.DefaultProfile].Warehouse.Table,
			currAnswer:    currProfile.Warehouse.Table,
			field:         &opts.table,
			validationFn:  tableValidationFn,
		})
	}

	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.Config{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	cfg := config.NewDefault(opts.host)
	profile := cfg.Profiles[config.DefaultProfile]
	profile.Warehouse.User = opts.user
	profile.Warehouse.Table = opts.table
	cfg.Profiles[config.DefaultProfile] = profile

	for name, other := range currConfig.Profiles {
		if name != config.DefaultProfile {
			cfg.Profiles[name] = other
		}
	}
	return cfg, nil
}

// promptUser asks for one field. The known answers are listed as numbered
// choices with the first one preselected, and the last choice falls through
// to free text. Without known answers only free text is read. A blank line
// is printed after the answer.
func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	defer fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	in := bufio.NewReader(stdin)
	if answers := knownAnswers(defaultAnswer, currAnswer); len(answers) != 0 {
		answer, ok, err := chooseAnswer(in, answers)
		if err != nil || ok {
			return answer, err
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	return readLine(in)
}

func knownAnswers(defaultAnswer, currAnswer string) []string {
	var answers []string
	if defaultAnswer != "" {
		answers = append(answers, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		answers = append(answers, currAnswer)
	}
	return answers
}

// chooseAnswer returns ok=false when the user picks manual entry. Input
// that isn't one of the listed numbers is asked for again.
func chooseAnswer(in *bufio.Reader, answers []string) (answer string, ok bool, err error) {
	manual := len(answers) + 1

	fmt.Fprintln(stdout)
	for i, answer := range answers {
		if i == 0 {
			answer += " (recommended)"
		}
		fmt.Fprintf(stdout, "\t%d. %s\n", i+1, answer)
	}
	fmt.Fprintf(stdout, "\t%d. (Enter manually)\n\n", manual)

	for {
		fmt.Fprintf(stdout, "Please choose one [1-%d]: ", manual)
		line, err := readLine(in)
		if err != nil {
			return "", false, err
		}

		if line == "" {
			return answers[0], true, nil
		}

		choice, err := strconv.Atoi(line)
		switch {
		case err != nil, choice < 1, choice > manual:
			continue
		case choice == manual:
			return "", false, nil
		default:
			return answers[choice-1], true, nil
		}
	}
}

// readLine reads one line with surrounding whitespace removed. A final line
// without a newline is accepted.
func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
