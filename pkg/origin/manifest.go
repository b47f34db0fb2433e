package origin

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/timeslot"
)

// manifestSeparator separates the checksum from the file name, in the format
// written by md5sum(1).
const manifestSeparator = "  "

// A File is a data file published by the origin.
type File struct {
	Slot timeslot.Slot
	URL  string
	Name string

	// Checksum is the hex digest published in the manifest.
	Checksum string
}

// ParseManifest parses a month's checksum manifest. Each line has the form
// `<checksum>  <name>`. Lines for files whose first dash-separated segment
// isn't prefix are ignored, which skips the projectcounts files that are
// published alongside pagecounts. monthURL is the directory the manifest was
// fetched from, and is used to build each file's URL.
func ParseManifest(r io.Reader, prefix, monthURL string) ([]File, error) {
	if !strings.HasSuffix(monthURL, "/") {
		monthURL += "/"
	}

	var files []File
	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, manifestSeparator, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("line %d: expected \"<checksum>  <name>\"", lineNum)
		}
		checksum, name := parts[0], parts[1]

		if strings.SplitN(name, "-", 2)[0] != prefix {
			continue
		}

		parsed, err := timeslot.ParseFileName(name)
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("line %d", lineNum))
		}

		files = append(files, File{
			Slot:     parsed.Slot,
			URL:      monthURL + name,
			Name:     name,
			Checksum: strings.ToLower(checksum),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.WithContext(err, "read manifest")
	}
	return files, nil
}
