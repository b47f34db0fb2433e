// Package hive builds the Hive CLI commands used to inspect and update the
// pagecounts table's partitions, and interprets their output.
//
// Commands are only ever built from validated parts: the table name must be a
// plain identifier and partition values come from a validated
// timeslot.Slot, so nothing user-controlled is interpolated into the remote
// shell command.
package hive

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/sidkik/pagecounts/pkg/errors"
	"github.com/sidkik/pagecounts/pkg/timeslot"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	binaryPattern     = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)
)

// DefaultBinary is the Hive CLI invoked when the profile doesn't name one.
const DefaultBinary = "hive"

// A Command is a Hive CLI invocation that's safe to run through a remote
// shell.
type Command struct {
	binary    string
	statement string
}

// Statement returns the HiveQL statement run by the command.
func (c Command) Statement() string {
	return c.statement
}

// String returns the shell command line.
func (c Command) String() string {
	return fmt.Sprintf("%s -e \"%s;\"", c.binary, c.statement)
}

// Builder creates commands against a single table.
type Builder struct {
	binary string
	table  string
}

// NewBuilder returns a builder for table, invoking the Hive CLI at binary.
func NewBuilder(binary, table string) (Builder, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	if !binaryPattern.MatchString(binary) {
		return Builder{}, errors.Errorf("invalid hive binary %q", binary)
	}
	if !ValidTableName(table) {
		return Builder{}, errors.Errorf("invalid table name %q", table)
	}
	return Builder{binary: binary, table: table}, nil
}

// ValidTableName reports whether table is an unqualified Hive identifier:
// letters, digits and underscores, not starting with a digit.
func ValidTableName(table string) bool {
	return identifierPattern.MatchString(table)
}

// Table returns the name of the table the builder targets.
func (b Builder) Table() string {
	return b.table
}

// ShowPartitions lists every partition of the table.
func (b Builder) ShowPartitions() Command {
	return Command{b.binary, fmt.Sprintf("SHOW PARTITIONS %s", b.table)}
}

// AddPartition registers the partition for s.
func (b Builder) AddPartition(s timeslot.Slot) (Command, error) {
	if err := s.Validate(); err != nil {
		return Command{}, errors.WithContext(err, "partition")
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD PARTITION "+
		"(y='%04d', ym='%04d%02d', ymd='%04d%02d%02d', h='%02d')",
		b.table, s.Year, s.Year, int(s.Month), s.Year, int(s.Month), s.Day, s.Hour)
	return Command{b.binary, stmt}, nil
}

// Status is the result of a Hive statement, as reported on its stderr.
type Status int

const (
	// StatusOK means Hive printed its `OK` token.
	StatusOK Status = iota

	// StatusFailed means Hive printed a `FAILED:` line. Registering a
	// partition that already exists ends up here.
	StatusFailed

	// StatusUnrecognized means neither token was found.
	StatusUnrecognized
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return "unrecognized"
	}
}

// Outcome is the interpreted result of a statement.
type Outcome struct {
	Status Status

	// Message is the `FAILED:` line, or the last line of output when the
	// status is unrecognized.
	Message string
}

// ParseOutcome scans the Hive CLI's stderr for its status token. The first
// `OK` or `FAILED:` line wins.
func ParseOutcome(stderr []byte) Outcome {
	var last string
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}

		switch {
		case line == "OK":
			return Outcome{Status: StatusOK}
		case strings.HasPrefix(line, "FAILED:"):
			return Outcome{Status: StatusFailed, Message: line}
		}
		last = line
	}
	return Outcome{Status: StatusUnrecognized, Message: last}
}

// ParsePartitionKeys returns the partition keys printed by SHOW PARTITIONS,
// one per non-empty line.
func ParsePartitionKeys(stdout []byte) []string {
	var keys []string
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			keys = append(keys, line)
		}
	}
	return keys
}
