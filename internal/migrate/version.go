package migrate

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// Sentinel bounds for rule windows.
const (
	LowestVersion  = "0"
	HighestVersion = "1000"
)

// Version is a dotted version compared component-wise, so 0.2.9 < 0.2.11.
// The zero value compares equal to "0".
type Version struct {
	v *goversion.Version
}

// ParseVersion parses a dotted version such as "0.2.11" or "1000".
// A leading "v" is accepted.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("migrate: empty version")
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("migrate: parsing version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// MustParseVersion is ParseVersion for literals; it panics on bad input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseVersionOrLowest parses s and falls back to the lowest version when s
// is empty or malformed. Stored settings from unknown firmware use this.
func ParseVersionOrLowest(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}
	}
	return v
}

// ParseVersionOrHighest parses s and falls back to the highest version
// when s is empty or malformed, so upper bounds still reject.
func ParseVersionOrHighest(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		return MustParseVersion(HighestVersion)
	}
	return v
}

func (v Version) inner() *goversion.Version {
	if v.v == nil {
		return goversion.Must(goversion.NewVersion(LowestVersion))
	}
	return v.v
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	return v.inner().Compare(o.inner())
}

// Less reports whether v < o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool { return v.Compare(o) >= 0 }

// AtMost reports whether v <= o.
func (v Version) AtMost(o Version) bool { return v.Compare(o) <= 0 }

// IsZero reports whether v was never set.
func (v Version) IsZero() bool { return v.v == nil }

// String returns the version as it was written.
func (v Version) String() string {
	if v.v == nil {
		return LowestVersion
	}
	return v.v.Original()
}

// UnmarshalYAML accepts scalar versions, quoted or not.
func (v *Version) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("migrate: version must be a scalar, got %q", node.Tag)
	}
	parsed, err := ParseVersion(node.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
