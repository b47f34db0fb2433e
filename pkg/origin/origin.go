// Package origin reads the public pagecounts dump: the monthly checksum
// manifests that list the hourly files, and the files themselves.
package origin

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/timeslot"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

const (
	// DefaultBaseURL is the root of the Wikimedia pagecounts dump.
	DefaultBaseURL = "http://dumps.wikimedia.org/other/pagecounts-raw"

	// DefaultManifestName is the checksum manifest published in every
	// month's directory.
	DefaultManifestName = "md5sums.txt"

	// DefaultFilePrefix selects the pagecounts files out of each manifest.
	DefaultFilePrefix = "pagecounts"

	// checksumBlockSize is the size of the reads used to digest downloaded
	// files.
	checksumBlockSize = 1 << 20
)

// Options configures a Source. Empty fields take the defaults above.
type Options struct {
	BaseURL      string
	ManifestName string
	FilePrefix   string

	// FinalMonthBestEffort tolerates a failure to fetch or parse the last
	// month of a window. The dump site publishes a month's manifest some
	// time after the month starts, so around the turn of the month the
	// newest manifest may not exist yet.
	FinalMonthBestEffort bool

	// TempDir is where downloads are staged. It defaults to the OS temp
	// directory.
	TempDir string

	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration

	// NewHash creates the digest used to verify downloads. It must match
	// the digest published in the manifests, and defaults to MD5.
	NewHash func() hash.Hash

	Log logrus.FieldLogger
}

// Source fetches manifests and files from the origin.
type Source struct {
	baseURL      string
	manifestName string
	prefix       string
	bestEffort   bool
	tempDir      string
	newHash      func() hash.Hash
	client       *http.Client
	log          logrus.FieldLogger
}

// New creates a Source.
func New(opts Options) *Source {
	s := &Source{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		manifestName: opts.ManifestName,
		prefix:       opts.FilePrefix,
		bestEffort:   opts.FinalMonthBestEffort,
		tempDir:      opts.TempDir,
		newHash:      opts.NewHash,
		client:       &http.Client{Timeout: opts.Timeout},
		log:          opts.Log,
	}

	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.manifestName == "" {
		s.manifestName = DefaultManifestName
	}
	if s.prefix == "" {
		s.prefix = DefaultFilePrefix
	}
	if s.newHash == nil {
		s.newHash = md5.New
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Timeout returns the timeout applied to each request.
func (s *Source) Timeout() time.Duration {
	return s.client.Timeout
}

// MonthURL returns the directory holding the files for month's calendar
// month, e.g. `<base>/2014/2014-06/`.
func (s *Source) MonthURL(month timeslot.Slot) string {
	return fmt.Sprintf("%s/%04d/%04d-%02d/", s.baseURL, month.Year, month.Year, int(month.Month))
}

// ListFiles returns the files published for the slots inside window. The
// manifest of every calendar month that intersects the window is fetched in
// chronological order, and files are returned in manifest order.
func (s *Source) ListFiles(window timeslot.Window) ([]File, error) {
	months := window.Months()

	var files []File
	for i, month := range months {
		monthFiles, err := s.listMonth(month)
		if err != nil {
			if s.bestEffort && i == len(months)-1 {
				s.log.WithError(err).WithField("month", month.Time().Format("2006-01")).
					Warn("Failed to list the final month. Its files will be picked up on a later run.")
				break
			}
			return nil, err
		}

		for _, f := range monthFiles {
			if window.Contains(f.Slot) {
				files = append(files, f)
			}
		}
	}
	return files, nil
}

func (s *Source) listMonth(month timeslot.Slot) ([]File, error) {
	monthURL := s.MonthURL(month)
	manifestURL := monthURL + s.manifestName

	resp, err := s.get(manifestURL)
	if err != nil {
		return nil, errors.WithContext(err, "fetch manifest")
	}
	defer resp.Body.Close()

	files, err := ParseManifest(resp.Body, s.prefix, monthURL)
	if err != nil {
		return nil, errors.WithContext(err, "parse "+manifestURL)
	}

	s.log.WithFields(logrus.Fields{
		"url":   manifestURL,
		"files": len(files),
	}).Debug("Fetched manifest")
	return files, nil
}

// Download fetches f into a temporary file and verifies it against the
// manifest checksum. It returns the path of the temporary file, which the
// caller must remove. If the download or the verification fails, the
// temporary file is removed before returning.
func (s *Source) Download(f File) (string, error) {
	resp, err := s.get(f.URL)
	if err != nil {
		return "", errors.WithContext(err, "download "+f.Name)
	}
	defer resp.Body.Close()

	tmp, err := afero.TempFile(fs, s.tempDir, "pagecounts-")
	if err != nil {
		return "", errors.WithContext(err, "create temp file")
	}
	tmpPath := tmp.Name()

	if err := s.stage(tmp, resp.Body, f); err != nil {
		if rmErr := fs.Remove(tmpPath); rmErr != nil {
			s.log.WithError(rmErr).WithField("path", tmpPath).Warn("Failed to remove temporary file")
		}
		return "", err
	}

	s.log.WithFields(logrus.Fields{
		"url":  f.URL,
		"path": tmpPath,
	}).Debug("Downloaded file")
	return tmpPath, nil
}

// stage copies body into tmp, closes it, and verifies its checksum.
func (s *Source) stage(tmp afero.File, body io.Reader, f File) error {
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return errors.WithContext(err, "download "+f.Name)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithContext(err, "write temp file")
	}

	actual, err := Checksum(tmp.Name(), s.newHash)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, f.Checksum) {
		return errors.ChecksumMismatchError{
			Slot:     f.Slot.String(),
			FileName: f.Name,
			URL:      f.URL,
			Expected: f.Checksum,
			Actual:   actual,
		}
	}
	return nil
}

func (s *Source) get(url string) (*http.Response, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return resp, nil
}

// Checksum returns the hex digest of the file at path, reading it in 1 MiB
// blocks.
func Checksum(path string, newHash func() hash.Hash) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	h := newHash()
	buf := make([]byte, checksumBlockSize)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.WithContext(err, "read "+path)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
