package certificate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dayLayout = "20060102"

var (
	clientCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)
	moduleCodePattern = regexp.MustCompile(`^[A-Z0-9]{3}$`)
	sequencePattern   = regexp.MustCompile(`^[0-9]{4,}$`)
)

// ID is the parsed form of "{Client}-{Module}-{YYYYMMDD}-{Sequence}".
type ID struct {
	ClientCode string
	ModuleCode string
	Day        time.Time
	Sequence   int
}

// String formats the id with the sequence zero padded to four digits.
func (id ID) String() string {
	return fmt.Sprintf("%s-%s-%s-%04d", id.ClientCode, id.ModuleCode, id.Day.Format(dayLayout), id.Sequence)
}

// ParseID validates and splits a certificate id.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return ID{}, fmt.Errorf("certificate id %q: want 4 segments, got %d", s, len(parts))
	}
	if !clientCodePattern.MatchString(parts[0]) {
		return ID{}, fmt.Errorf("certificate id %q: invalid client code", s)
	}
	if !moduleCodePattern.MatchString(parts[1]) {
		return ID{}, fmt.Errorf("certificate id %q: invalid module code", s)
	}
	day, err := time.Parse(dayLayout, parts[2])
	if err != nil || len(parts[2]) != len(dayLayout) {
		return ID{}, fmt.Errorf("certificate id %q: invalid date", s)
	}

	seqText := parts[3]
	if !sequencePattern.MatchString(seqText) || (len(seqText) > 4 && seqText[0] == '0') {
		return ID{}, fmt.Errorf("certificate id %q: invalid sequence", s)
	}
	seq, err := strconv.Atoi(seqText)
	if err != nil || seq < 1 {
		return ID{}, fmt.Errorf("certificate id %q: invalid sequence", s)
	}

	return ID{ClientCode: parts[0], ModuleCode: parts[1], Day: day, Sequence: seq}, nil
}

// ValidModuleCode reports whether code is a 3 character module code.
func ValidModuleCode(code string) bool {
	return moduleCodePattern.MatchString(code)
}

// ValidClientCode reports whether code is a 4 character client code.
func ValidClientCode(code string) bool {
	return clientCodePattern.MatchString(code)
}
