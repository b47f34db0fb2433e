package origin

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/pagecounts/pkg/timeslot"
)

func TestParseManifest(t *testing.T) {
	monthURL := "http://dumps.example.org/pagecounts-raw/2014/2014-06/"

	tests := []struct {
		name     string
		manifest string
		exp      []File
		expErr   bool
	}{
		{
			name: "Normal",
			manifest: "a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2  pagecounts-20140601-000000.gz\n" +
				"0123456789ABCDEF0123456789abcdef  projectcounts-20140601-000000\n" +
				"\n" +
				"fedcba9876543210fedcba9876543210  pagecounts-20140601-010001.gz\n",
			exp: []File{
				{
					Slot:     timeslot.Slot{Year: 2014, Month: time.June, Day: 1, Hour: 0},
					URL:      monthURL + "pagecounts-20140601-000000.gz",
					Name:     "pagecounts-20140601-000000.gz",
					Checksum: "a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2",
				},
				{
					Slot:     timeslot.Slot{Year: 2014, Month: time.June, Day: 1, Hour: 1},
					URL:      monthURL + "pagecounts-20140601-010001.gz",
					Name:     "pagecounts-20140601-010001.gz",
					Checksum: "fedcba9876543210fedcba9876543210",
				},
			},
		},
		{
			name:     "NormalizesChecksumCase",
			manifest: "A5E98E66A3BA0C7EF8D6A1F2B5B0C1D2  pagecounts-20140630-230000.gz\r\n",
			exp: []File{
				{
					Slot:     timeslot.Slot{Year: 2014, Month: time.June, Day: 30, Hour: 23},
					URL:      monthURL + "pagecounts-20140630-230000.gz",
					Name:     "pagecounts-20140630-230000.gz",
					Checksum: "a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2",
				},
			},
		},
		{
			name:     "Empty",
			manifest: "",
		},
		{
			name:     "SingleSpace",
			manifest: "a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2 pagecounts-20140601-000000.gz\n",
			expErr:   true,
		},
		{
			name:     "MissingName",
			manifest: "a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2  \n",
			expErr:   true,
		},
		{
			name:     "BadTimestamp",
			manifest: "a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2  pagecounts-20140631-000000.gz\n",
			expErr:   true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			files, err := ParseManifest(strings.NewReader(test.manifest), "pagecounts", monthURL)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.exp, files)
		})
	}
}

func TestParseManifestAddsTrailingSlash(t *testing.T) {
	files, err := ParseManifest(
		strings.NewReader("a5e98e66a3ba0c7ef8d6a1f2b5b0c1d2  pagecounts-20140601-000000.gz\n"),
		"pagecounts", "http://dumps.example.org/2014/2014-06")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "http://dumps.example.org/2014/2014-06/pagecounts-20140601-000000.gz", files[0].URL)
}
