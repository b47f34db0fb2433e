package sync

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/origin"
	"github.com/sidkik/pagecounts/pkg/timeslot"
	"github.com/sidkik/pagecounts/pkg/warehouse"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Warehouse is the destination of a sync. It's implemented by
// *warehouse.Warehouse.
type Warehouse interface {
	ListFiles(window timeslot.Window) ([]warehouse.File, error)
	Upload(slot timeslot.Slot, fileName, localPath string) error
	RegisterPartition(slot timeslot.Slot) error
	RepairPartitions(window timeslot.Window) ([]timeslot.Slot, error)
}

// Origin is the source of a sync. It's implemented by *origin.Source.
type Origin interface {
	ListFiles(window timeslot.Window) ([]origin.File, error)
	Download(f origin.File) (localPath string, err error)
}

// Coordinator runs reconciliation passes between an origin and a warehouse.
type Coordinator struct {
	warehouse Warehouse
	origin    Origin
}

// New creates a Coordinator. The caller retains ownership of the warehouse
// connection.
func New(wh Warehouse, src Origin) *Coordinator {
	return &Coordinator{warehouse: wh, origin: src}
}

// ItemError describes a file that couldn't be mirrored. The rest of the pass
// continues past it.
type ItemError struct {
	Slot     timeslot.Slot
	FileName string
	Err      error
}

func (err ItemError) Error() string {
	return fmt.Sprintf("%s (%s): %s", err.FileName, err.Slot, err.Err)
}

// Unwrap returns the cause of the failure.
func (err ItemError) Unwrap() error {
	return err.Err
}

// Report summarizes a sync pass.
type Report struct {
	// Uploaded lists the files copied into the warehouse, in the order they
	// were copied.
	Uploaded []warehouse.File

	// Registered lists the slots whose partition registration was attempted.
	// Registration failures are logged by the warehouse rather than
	// reported.
	Registered []timeslot.Slot

	// Failed lists the files that were skipped because they couldn't be
	// downloaded or didn't match their checksum.
	Failed []ItemError
}

// ListOriginFiles returns the files published by the origin inside window.
func (c *Coordinator) ListOriginFiles(window timeslot.Window) ([]origin.File, error) {
	return c.origin.ListFiles(window)
}

// Sync copies every origin file whose slot is missing from the warehouse,
// and registers the partition for each copied slot. Files are processed in
// origin order.
//
// A file that fails to download or verify is recorded in the report and
// skipped. Any other failure aborts the pass and is returned along with the
// report of the work done so far.
func (c *Coordinator) Sync(window timeslot.Window) (Report, error) {
	var report Report

	originFiles, err := c.ListOriginFiles(window)
	if err != nil {
		return report, errors.WithContext(err, "list origin files")
	}

	warehouseFiles, err := c.warehouse.ListFiles(window)
	if err != nil {
		return report, errors.WithContext(err, "list warehouse files")
	}

	present := map[timeslot.Slot]struct{}{}
	for _, f := range warehouseFiles {
		present[f.Slot] = struct{}{}
	}

	var missing []origin.File
	for _, f := range originFiles {
		if _, ok := present[f.Slot]; !ok {
			missing = append(missing, f)
		}
	}

	log.WithFields(log.Fields{
		"window":    window,
		"origin":    len(originFiles),
		"warehouse": len(warehouseFiles),
		"missing":   len(missing),
	}).Info("Computed missing files")

	registered := map[timeslot.Slot]struct{}{}
	for _, f := range missing {
		fileLog := log.WithFields(log.Fields{
			"slot": f.Slot,
			"file": f.Name,
		})

		localPath, err := c.origin.Download(f)
		if err != nil {
			fileLog.WithError(err).Warn("Skipping file. It will be retried on the next run.")
			report.Failed = append(report.Failed, ItemError{Slot: f.Slot, FileName: f.Name, Err: err})
			continue
		}

		err = c.warehouse.Upload(f.Slot, f.Name, localPath)
		removeTempFile(localPath)
		if err != nil {
			return report, errors.WithContext(err, "upload "+f.Name)
		}
		report.Uploaded = append(report.Uploaded, warehouse.File{Slot: f.Slot, Name: f.Name})

		if _, ok := registered[f.Slot]; ok {
			continue
		}
		if err := c.warehouse.RegisterPartition(f.Slot); err != nil {
			return report, errors.WithContext(err, "register partition")
		}
		registered[f.Slot] = struct{}{}
		report.Registered = append(report.Registered, f.Slot)
	}
	return report, nil
}

func removeTempFile(path string) {
	if err := fs.Remove(path); err != nil {
		log.WithError(err).WithField("path", path).Warn("Failed to remove temporary file")
	}
}

// RepairPartitions registers the partitions for slots inside window that
// have files in the warehouse but no partition.
func (c *Coordinator) RepairPartitions(window timeslot.Window) ([]timeslot.Slot, error) {
	return c.warehouse.RepairPartitions(window)
}
