package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a playbook version counted in tenths: 7 is "0.7", 10 is "1.0".
type Version int

const (
	// MinDraftVersion is the version of a freshly created draft.
	MinDraftVersion Version = 1
	// MinReleasedVersion is the version of a playbook created already active or released.
	MinReleasedVersion Version = 10
)

// ParseVersion accepts "1", "0.1" or "2.0". More than one fractional digit is rejected.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty version")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	major, err := strconv.Atoi(whole)
	if err != nil || major < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	minor := 0
	if hasFrac {
		if len(frac) != 1 || frac[0] < '0' || frac[0] > '9' {
			return 0, fmt.Errorf("invalid version %q", s)
		}
		minor = int(frac[0] - '0')
	}
	return Version(major*10 + minor), nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", int(v)/10, int(v)%10)
}

// Major is the integer part of the version.
func (v Version) Major() int {
	return int(v) / 10
}

// Next is the minimum increment.
func (v Version) Next() Version {
	return v + 1
}

// NextMajor promotes to the next integer boundary: 0.7 -> 1.0, 1.0 -> 2.0.
func (v Version) NextMajor() Version {
	return Version((v.Major() + 1) * 10)
}

// MarshalJSON emits the version as a JSON number with one fractional digit.
func (v Version) MarshalJSON() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalJSON(b []byte) error {
	parsed, err := ParseVersion(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
