package repair

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/timeslot"
)

type fakeRepairer struct {
	repaired []timeslot.Slot
	err      error
	window   timeslot.Window
}

func (r *fakeRepairer) RepairPartitions(window timeslot.Window) ([]timeslot.Slot, error) {
	r.window = window
	return r.repaired, r.err
}

func TestRepair(t *testing.T) {
	june1 := timeslot.Slot{Year: 2014, Month: time.June, Day: 1, Hour: 0}
	june2 := timeslot.Slot{Year: 2014, Month: time.June, Day: 2, Hour: 13}
	window, err := timeslot.NewWindow(june1, june2)
	require.NoError(t, err)

	tests := []struct {
		name      string
		repairer  *fakeRepairer
		expOutput string
		expErr    string
	}{
		{
			name:      "NothingMissing",
			repairer:  &fakeRepairer{},
			expOutput: "0 partition(s) registered\n",
		},
		{
			name:     "Registered",
			repairer: &fakeRepairer{repaired: []timeslot.Slot{june1, june2}},
			expOutput: "registered 2014-06-01T00\n" +
				"registered 2014-06-02T13\n" +
				"2 partition(s) registered\n",
		},
		{
			name:     "ListFailure",
			repairer: &fakeRepairer{err: errors.New("hive: connection reset")},
			expErr:   "repair partitions: hive: connection reset",
		},
	}

	defer func() { stdout = os.Stdout }()
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			stdout = &out

			err := repair(test.repairer, window)
			assert.Equal(t, window, test.repairer.window)
			if test.expErr != "" {
				assert.EqualError(t, err, test.expErr)
				assert.Empty(t, out.String())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expOutput, out.String())
		})
	}
}

func TestRunBadWindow(t *testing.T) {
	err := run("default", []string{"2014-06-02", "2014-06-01"})
	assert.Error(t, err)
}
