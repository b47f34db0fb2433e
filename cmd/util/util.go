package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/pagecounts/pkg/audit"
	"github.com/sidkik/pagecounts/pkg/config"
	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/origin"
	"github.com/sidkik/pagecounts/pkg/ssh"
	"github.com/sidkik/pagecounts/pkg/timeslot"
	"github.com/sidkik/pagecounts/pkg/warehouse"
)

const (
	// ProfileFlag is the name of the persistent flag that selects the
	// profile.
	ProfileFlag = "profile"

	// ProfileEnvKey is the environment variable used to select the profile
	// when the flag isn't set.
	ProfileEnvKey = "PAGECOUNTS_PROFILE"

	// PassphraseEnvKey is the environment variable holding the passphrase
	// of the profile's SSH identity file.
	PassphraseEnvKey = "PAGECOUNTS_SSH_PASSPHRASE"
)

// Mocked out for unit testing.
var (
	clock                   = clockwork.NewRealClock()
	getenv                  = os.Getenv
	exit                    = os.Exit
	stderr        io.Writer = os.Stderr
	parseProfile            = config.ParseProfile
	openWarehouse           = warehouse.Open
	openAuditLog            = audit.Open
)

// slotLayouts are the accepted formats for the window arguments, in UTC.
var slotLayouts = []string{"2006-01-02T15", "2006-01-02"}

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs the stack trace of a panic before exiting. It must be
// deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("panic", r).Error("Unexpected panic")
		fmt.Fprintf(stderr, "%s\n", debug.Stack())
		exit(1)
	}
}

// ParseWindow parses the `START [END]` arguments shared by the commands that
// operate on a window of slots. Each argument is either a date, meaning its
// first hour, or a date and hour such as `2014-06-01T13`. END defaults to
// the current hour.
func ParseWindow(args []string) (timeslot.Window, error) {
	if len(args) < 1 || len(args) > 2 {
		return timeslot.Window{}, errors.NewFriendlyError(
			"Expected START and an optional END, got %d arguments.", len(args))
	}

	start, err := parseSlot(args[0])
	if err != nil {
		return timeslot.Window{}, err
	}

	var end *timeslot.Slot
	if len(args) == 2 {
		slot, err := parseSlot(args[1])
		if err != nil {
			return timeslot.Window{}, err
		}
		end = &slot
	}

	window, err := timeslot.DefaultWindow(clock, start, end)
	if err != nil {
		return timeslot.Window{}, errors.NewFriendlyError("Invalid window: %s", err)
	}
	return window, nil
}

func parseSlot(arg string) (timeslot.Slot, error) {
	for _, layout := range slotLayouts {
		if t, err := time.Parse(layout, arg); err == nil {
			return timeslot.FromTime(t), nil
		}
	}
	return timeslot.Slot{}, errors.NewFriendlyError(
		"Invalid time %q. Expected YYYY-MM-DD or YYYY-MM-DDTHH.", arg)
}

// GetProfileName returns the profile selected by the --profile flag, the
// PAGECOUNTS_PROFILE environment variable, or the default profile, in that
// order.
func GetProfileName(cmd *cobra.Command) string {
	if flag := cmd.Flags().Lookup(ProfileFlag); flag != nil && flag.Changed {
		return flag.Value.String()
	}
	if name := getenv(ProfileEnvKey); name != "" {
		return name
	}
	return config.DefaultProfile
}

// Session holds the connections used by a command for one profile.
type Session struct {
	Profile   config.Profile
	Warehouse *warehouse.Warehouse
	Origin    *origin.Source

	auditLog io.Closer
}

// OpenSession parses the named profile and connects to its warehouse. The
// caller must Close the session.
func OpenSession(profileName string) (*Session, error) {
	profile, err := parseProfile(profileName)
	if err != nil {
		return nil, errors.WithContext(err, "read config")
	}

	src, err := NewOrigin(profile)
	if err != nil {
		return nil, err
	}
	session := &Session{Profile: profile, Origin: src}

	if profile.AuditLog != "" {
		session.auditLog, err = openAuditLog(profile.AuditLog)
		if err != nil {
			return nil, errors.WithContext(err, "open audit log")
		}
		audit.SetProfile(profileName)
	}

	session.Warehouse, err = openWarehouse(ssh.Config{
		Host:           profile.Warehouse.Host,
		User:           profile.Warehouse.User,
		IdentityFile:   profile.Warehouse.IdentityFile,
		Passphrase:     getenv(PassphraseEnvKey),
		KnownHostsFile: profile.Warehouse.KnownHostsFile,
		Timeout:        src.Timeout(),
	}, warehouse.Options{
		Root:       profile.Warehouse.Root,
		FilePrefix: profile.Origin.FilePrefix,
		HiveBinary: profile.Warehouse.HiveCommand,
		Table:      profile.Warehouse.Table,
	})
	if err != nil {
		session.Close()
		return nil, errors.WithContext(err, "open warehouse")
	}
	return session, nil
}

// NewOrigin creates the origin source described by profile.
func NewOrigin(profile config.Profile) (*origin.Source, error) {
	timeout, err := profile.Origin.TimeoutDuration()
	if err != nil {
		return nil, errors.WithContext(err, "parse timeout")
	}

	return origin.New(origin.Options{
		BaseURL:              profile.Origin.BaseURL,
		ManifestName:         profile.Origin.ManifestName,
		FilePrefix:           profile.Origin.FilePrefix,
		FinalMonthBestEffort: profile.Origin.BestEffort(),
		TempDir:              profile.Origin.TempDir,
		Timeout:              timeout,
	}), nil
}

// Close releases the warehouse connection and the audit log.
func (s *Session) Close() {
	if s.Warehouse != nil {
		if err := s.Warehouse.Close(); err != nil {
			log.WithError(err).Warn("Failed to close warehouse connection")
		}
	}

	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			log.WithError(err).Warn("Failed to close audit log")
		}
	}
}
