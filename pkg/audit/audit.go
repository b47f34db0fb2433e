// Package audit records the changes each reconciliation pass makes to the
// warehouse: files uploaded and partitions registered. Events are appended
// to the profile's audit log as JSON lines, so the history of a warehouse
// can be reconstructed across runs.
package audit

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/version"
)

var (
	// Log is the global audit logger. Entries logged through it are written
	// to the audit log opened by Open, and discarded otherwise.
	Log = newAuditLogger()

	// Optional values for automatically enriching the audit events.
	command string
	profile string

	// Mocked out for unit testing.
	fs = afero.NewOsFs()
)

// Actions recorded in the audit log.
const (
	ActionUpload            = "upload"
	ActionRegisterPartition = "register-partition"
)

func newAuditLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

// jsonFormatter formats events with stable field names for downstream
// tooling.
var jsonFormatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "level",
		logrus.FieldKeyMsg:   "message",
	},
}

// SetCommand sets the CLI command that's automatically added to audit
// events.
func SetCommand(c string) {
	command = c
}

// SetProfile sets the profile name that's automatically added to audit
// events.
func SetProfile(p string) {
	profile = p
}

// Open starts appending audit events to the file at path. The returned
// closer stops recording and closes the file.
func Open(path string) (io.Closer, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "create audit log directory")
	}

	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open audit log")
	}

	h := &hook{levels: logrus.AllLevels, out: f}
	Log.AddHook(h)
	return closer{f}, nil
}

type closer struct {
	f afero.File
}

func (c closer) Close() error {
	Log.ReplaceHooks(make(logrus.LevelHooks))
	return c.f.Close()
}

type hook struct {
	levels []logrus.Level
	out    io.Writer
	lock   sync.Mutex
}

func (h *hook) Levels() []logrus.Level {
	return h.levels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	data := logrus.Fields{
		"version": version.Version,
	}
	if command != "" {
		data["command"] = command
	}
	if profile != "" {
		data["profile"] = profile
	}
	for k, v := range entry.Data {
		data[k] = v
	}

	// Copy the entry so that the enrichment isn't visible to other hooks.
	entryCopy := *entry
	entryCopy.Data = data

	jsonBytes, err := jsonFormatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal audit event")
		return nil
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	if _, err := h.out.Write(jsonBytes); err != nil {
		logrus.WithError(err).Warn("Failed to write audit event")
	}

	// Never return an error because logrus would print it directly to
	// stderr.
	return nil
}
