package timeslot

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"
)

var (
	// partitionKeyPattern matches `y=YYYY/ym=YYYYMM/ymd=YYYYMMDD/h=HH`.
	partitionKeyPattern = regexp.MustCompile(
		`^y=(\d{4})/ym=(\d{6})/ymd=(\d{8})/h=(\d{2})$`)

	// fileNamePattern matches `<prefix>-YYYYMMDD-HHMMSS.<ext>`.
	fileNamePattern = regexp.MustCompile(
		`^([A-Za-z0-9_]+)-(\d{8})-(\d{2})(\d{2})(\d{2})\.([A-Za-z0-9]+(?:\.[A-Za-z0-9]+)*)$`)
)

// PartitionKey returns the catalog partition key for s. The same string is
// the directory of the slot relative to the warehouse root.
func PartitionKey(s Slot) string {
	return fmt.Sprintf("y=%04d/ym=%04d%02d/ymd=%04d%02d%02d/h=%02d",
		s.Year, s.Year, int(s.Month), s.Year, int(s.Month), s.Day, s.Hour)
}

// ParsePartitionKey parses a key produced by PartitionKey. The redundant
// year and month components must agree with the date component.
func ParsePartitionKey(key string) (Slot, error) {
	m := partitionKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return Slot{}, fmt.Errorf("does not match y=YYYY/ym=YYYYMM/ymd=YYYYMMDD/h=HH")
	}

	y, ym, ymd, h := m[1], m[2], m[3], m[4]
	if ym[:4] != y || ymd[:6] != ym {
		return Slot{}, fmt.Errorf("date components disagree")
	}
	return parseDateHour(ymd, h)
}

// ParsedFileName is the result of parsing a pagecounts file name.
type ParsedFileName struct {
	Prefix string
	Slot   Slot
}

// ParseFileName parses `<prefix>-YYYYMMDD-HHMMSS.<ext>`. Only the date and
// hour determine the slot; the minutes and seconds vary between dumps.
func ParseFileName(name string) (ParsedFileName, error) {
	m := fileNamePattern.FindStringSubmatch(name)
	if m == nil {
		return ParsedFileName{}, fmt.Errorf("%q does not match <prefix>-YYYYMMDD-HHMMSS.<ext>", name)
	}

	if minute, _ := strconv.Atoi(m[4]); minute > 59 {
		return ParsedFileName{}, fmt.Errorf("%q: minute out of range", name)
	}
	if second, _ := strconv.Atoi(m[5]); second > 59 {
		return ParsedFileName{}, fmt.Errorf("%q: second out of range", name)
	}

	slot, err := parseDateHour(m[2], m[3])
	if err != nil {
		return ParsedFileName{}, fmt.Errorf("%q: %s", name, err)
	}
	return ParsedFileName{Prefix: m[1], Slot: slot}, nil
}

// ParseFilePath parses the path of a warehouse file relative to the
// warehouse root, i.e. `<partition key>/<file name>`. The file name must
// carry the expected prefix, and its date and hour must agree with the
// directory.
func ParseFilePath(prefix, relPath string) (Slot, string, error) {
	dir, name := path.Split(relPath)
	dirSlot, err := ParsePartitionKey(path.Clean(dir))
	if err != nil {
		return Slot{}, "", fmt.Errorf("directory: %s", err)
	}

	parsed, err := ParseFileName(name)
	if err != nil {
		return Slot{}, "", err
	}

	if parsed.Prefix != prefix {
		return Slot{}, "", fmt.Errorf("%q: unexpected prefix %q", name, parsed.Prefix)
	}

	if parsed.Slot != dirSlot {
		return Slot{}, "", fmt.Errorf("%q is filed under %s", name, PartitionKey(dirSlot))
	}
	return dirSlot, name, nil
}

// FilePath returns the path of name relative to the warehouse root.
func FilePath(s Slot, name string) string {
	return path.Join(PartitionKey(s), name)
}

func parseDateHour(ymd, hour string) (Slot, error) {
	t, err := time.Parse("2006010215", ymd+hour)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid date %s hour %s", ymd, hour)
	}
	return FromTime(t), nil
}
