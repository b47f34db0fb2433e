package sync

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/pagecounts/pkg/errors"
	mirror "github.com/sidkik/pagecounts/pkg/sync"
	"github.com/sidkik/pagecounts/pkg/timeslot"
	"github.com/sidkik/pagecounts/pkg/warehouse"
)

func TestPrintReport(t *testing.T) {
	first := timeslot.Slot{Year: 2014, Month: time.June, Day: 1, Hour: 0}
	second := timeslot.Slot{Year: 2014, Month: time.June, Day: 1, Hour: 1}

	tests := []struct {
		name      string
		report    mirror.Report
		expOutput string
		expErr    bool
	}{
		{
			name:      "Empty",
			expOutput: "0 uploaded, 0 registered, 0 failed\n",
		},
		{
			name: "Uploaded",
			report: mirror.Report{
				Uploaded:   []warehouse.File{{Slot: first, Name: "pagecounts-20140601-000000.gz"}},
				Registered: []timeslot.Slot{first},
			},
			expOutput: "uploaded   2014-06-01T00  pagecounts-20140601-000000.gz\n" +
				"registered 2014-06-01T00\n" +
				"1 uploaded, 1 registered, 0 failed\n",
		},
		{
			name: "Failed",
			report: mirror.Report{
				Failed: []mirror.ItemError{{
					Slot:     second,
					FileName: "pagecounts-20140601-010000.gz",
					Err:      errors.New("checksum mismatch"),
				}},
			},
			expOutput: "failed     2014-06-01T01  pagecounts-20140601-010000.gz: checksum mismatch\n" +
				"0 uploaded, 0 registered, 1 failed\n",
			expErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			printReport(&out, test.report)
			assert.Equal(t, test.expOutput, out.String())

			err := reportError(test.report)
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
