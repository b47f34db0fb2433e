// Package warehouse manages the time-partitioned pagecounts directory on the
// warehouse host and the Hive partitions that make it queryable.
//
// Files live at `<root>/y=YYYY/ym=YYYYMM/ymd=YYYYMMDD/h=HH/<file>`, and each
// hour directory is registered as the partition with the same key. A
// Warehouse holds a single connection to the host; it isn't safe for
// concurrent use, and concurrent runs against the same warehouse may race on
// directory creation and partition registration.
package warehouse

import (
	"io"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/pagecounts/pkg/audit"
	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/hive"
	"github.com/sidkik/pagecounts/pkg/ssh"
	"github.com/sidkik/pagecounts/pkg/timeslot"
)

// Mocked out for unit testing.
var (
	fs      = afero.NewOsFs()
	dialSSH = func(cfg ssh.Config) (Transport, error) {
		return ssh.Dial(cfg)
	}
)

// Transport is the connection to the warehouse host. It's implemented by
// *ssh.Conn.
type Transport interface {
	Exec(cmd string) (ssh.Output, error)
	Walk(root string) ([]string, error)
	MkdirAll(dir string) error
	Put(r io.Reader, remotePath string) error
	Close() error
}

// Options configures a Warehouse.
type Options struct {
	// Root is the absolute path of the table's directory on the host.
	Root string

	// FilePrefix is the first dash-separated segment of the data files'
	// names. Files with other prefixes are ignored.
	FilePrefix string

	// HiveBinary and Table select the Hive CLI and the partitioned table.
	HiveBinary string
	Table      string

	// Log receives the outcome of each operation. It defaults to the
	// standard logger.
	Log logrus.FieldLogger
}

// A File is a data file present in the warehouse.
type File struct {
	Slot timeslot.Slot
	Name string
}

// Warehouse is the remote, time-partitioned storage directory and its
// partition catalog.
type Warehouse struct {
	transport Transport
	root      string
	prefix    string
	hive      hive.Builder
	log       logrus.FieldLogger
	closed    bool
}

// Open connects to the warehouse host. The caller must Close the returned
// Warehouse.
func Open(cfg ssh.Config, opts Options) (*Warehouse, error) {
	builder, err := validate(opts)
	if err != nil {
		return nil, err
	}

	transport, err := dialSSH(cfg)
	if err != nil {
		return nil, errors.WithContext(err, "connect to warehouse")
	}
	return newWarehouse(transport, builder, opts), nil
}

// New creates a Warehouse that runs over an already open transport. The
// Warehouse takes ownership of the transport.
func New(transport Transport, opts Options) (*Warehouse, error) {
	builder, err := validate(opts)
	if err != nil {
		return nil, err
	}
	return newWarehouse(transport, builder, opts), nil
}

func validate(opts Options) (hive.Builder, error) {
	if !path.IsAbs(opts.Root) {
		return hive.Builder{}, errors.Errorf("warehouse root %q must be an absolute path", opts.Root)
	}
	if opts.FilePrefix == "" {
		return hive.Builder{}, errors.MissingFieldError{Field: "filePrefix"}
	}
	return hive.NewBuilder(opts.HiveBinary, opts.Table)
}

func newWarehouse(transport Transport, builder hive.Builder, opts Options) *Warehouse {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Warehouse{
		transport: transport,
		root:      path.Clean(opts.Root),
		prefix:    opts.FilePrefix,
		hive:      builder,
		log:       log,
	}
}

// ListFiles returns the data files whose slot falls inside window, ordered
// by slot. Paths that don't follow the warehouse layout are skipped.
func (w *Warehouse) ListFiles(window timeslot.Window) ([]File, error) {
	if w.closed {
		return nil, errors.ConnectionClosedError{Op: "list files"}
	}

	paths, err := w.transport.Walk(w.root)
	if err != nil {
		return nil, errors.WithContext(err, "list files")
	}

	prefix := strings.TrimSuffix(w.root, "/") + "/"
	var files []File
	for _, p := range paths {
		rel := strings.TrimPrefix(p, prefix)
		if rel == p {
			continue
		}

		slot, name, err := timeslot.ParseFilePath(w.prefix, rel)
		if err != nil {
			w.log.WithError(err).WithField("path", p).Debug("Ignoring unrecognized file")
			continue
		}

		if window.Contains(slot) {
			files = append(files, File{Slot: slot, Name: name})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Slot != files[j].Slot {
			return files[i].Slot.Before(files[j].Slot)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// ListPartitions returns the registered partitions inside window, in
// chronological order. A partition key that doesn't follow the layout is an
// error: it means the catalog holds something this tool doesn't understand.
func (w *Warehouse) ListPartitions(window timeslot.Window) ([]timeslot.Slot, error) {
	if w.closed {
		return nil, errors.ConnectionClosedError{Op: "list partitions"}
	}

	out, err := w.transport.Exec(w.hive.ShowPartitions().String())
	if err != nil {
		return nil, errors.WithContext(err, "list partitions")
	}

	if outcome := hive.ParseOutcome(out.Stderr); outcome.Status != hive.StatusOK {
		return nil, errors.Errorf("list partitions: hive %s: %s", outcome.Status, outcome.Message)
	}

	var slots []timeslot.Slot
	for _, key := range hive.ParsePartitionKeys(out.Stdout) {
		slot, err := timeslot.ParsePartitionKey(key)
		if err != nil {
			return nil, errors.MalformedPartitionError{Key: key, Reason: err.Error()}
		}

		if window.Contains(slot) {
			slots = append(slots, slot)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Before(slots[j])
	})
	return slots, nil
}

// Upload copies the local file at localPath into the directory for slot,
// creating the directory if necessary. The file name must be a data file
// name for the same slot, so that the upload shows up in later listings.
func (w *Warehouse) Upload(slot timeslot.Slot, fileName, localPath string) error {
	if w.closed {
		return errors.ConnectionClosedError{Op: "upload"}
	}

	parsed, err := timeslot.ParseFileName(fileName)
	if err != nil {
		return errors.WithContext(err, "upload")
	}
	if parsed.Prefix != w.prefix || parsed.Slot != slot {
		return errors.Errorf("upload: %q doesn't belong in %s", fileName, timeslot.PartitionKey(slot))
	}

	dir := path.Join(w.root, timeslot.PartitionKey(slot))
	if err := w.transport.MkdirAll(dir); err != nil {
		return errors.WithContext(err, "create directory")
	}

	f, err := fs.Open(localPath)
	if err != nil {
		return errors.WithContext(err, "open local file")
	}
	defer f.Close()

	remotePath := path.Join(dir, fileName)
	if err := w.transport.Put(f, remotePath); err != nil {
		return errors.WithContext(err, "transfer "+fileName)
	}

	w.log.WithFields(logrus.Fields{
		"slot": slot,
		"path": remotePath,
	}).Info("Uploaded file")
	audit.Log.WithFields(logrus.Fields{
		"action": audit.ActionUpload,
		"slot":   slot.String(),
		"path":   remotePath,
	}).Info("Uploaded file")
	return nil
}

// RegisterPartition adds the partition for slot to the table. Registration
// is best effort: a partition that already exists, a failed statement, or
// unrecognized output is logged rather than returned, since registration is
// safe to retry on a later run. Only a closed connection or an invalid slot
// is an error.
func (w *Warehouse) RegisterPartition(slot timeslot.Slot) error {
	if w.closed {
		return errors.ConnectionClosedError{Op: "register partition"}
	}

	cmd, err := w.hive.AddPartition(slot)
	if err != nil {
		return errors.WithContext(err, "register partition")
	}

	log := w.log.WithField("slot", slot)
	auditLog := audit.Log.WithFields(logrus.Fields{
		"action": audit.ActionRegisterPartition,
		"slot":   slot.String(),
	})

	out, err := w.transport.Exec(cmd.String())
	if err != nil {
		log.WithError(err).Warn("Failed to register partition. It will be retried on the next run.")
		auditLog.WithError(err).Warn("Failed to register partition")
		return nil
	}

	outcome := hive.ParseOutcome(out.Stderr)
	switch outcome.Status {
	case hive.StatusOK:
		log.Info("Registered partition")
		auditLog.Info("Registered partition")
	case hive.StatusFailed:
		log.WithField("message", outcome.Message).Warn("Hive failed to register partition")
		auditLog.WithField("message", outcome.Message).Warn("Failed to register partition")
	default:
		log.WithField("message", outcome.Message).Warn(
			"Unrecognized output while registering partition")
		auditLog.WithField("message", outcome.Message).Warn("Failed to register partition")
	}
	return nil
}

// RepairPartitions registers a partition for every slot inside window that
// has files but no partition. Slots are registered earliest first. It
// returns the slots it attempted to register.
func (w *Warehouse) RepairPartitions(window timeslot.Window) ([]timeslot.Slot, error) {
	files, err := w.ListFiles(window)
	if err != nil {
		return nil, err
	}

	partitions, err := w.ListPartitions(window)
	if err != nil {
		return nil, err
	}

	registered := map[timeslot.Slot]struct{}{}
	for _, slot := range partitions {
		registered[slot] = struct{}{}
	}

	var unregistered []timeslot.Slot
	for _, f := range files {
		if _, ok := registered[f.Slot]; ok {
			continue
		}
		registered[f.Slot] = struct{}{}
		unregistered = append(unregistered, f.Slot)
	}

	sort.Slice(unregistered, func(i, j int) bool {
		return unregistered[i].Before(unregistered[j])
	})

	for _, slot := range unregistered {
		w.log.WithField("slot", slot).Info("Registering missing partition")
		if err := w.RegisterPartition(slot); err != nil {
			return nil, err
		}
	}
	return unregistered, nil
}

// Close releases the connection. Operations on a closed Warehouse fail with
// errors.ConnectionClosedError.
func (w *Warehouse) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.transport.Close()
}
