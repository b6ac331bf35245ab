package migrate

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRule is returned by LoadRules for a malformed rule table.
var ErrInvalidRule = errors.New("migrate: invalid rule")

// Rule is the restore validity window of one setting key.
// Aliases are older names the same value may have been saved under.
type Rule struct {
	Key     string   `yaml:"key"`
	Min     Version  `yaml:"min"`
	Max     Version  `yaml:"max"`
	Aliases []string `yaml:"aliases"`
}

// R builds a rule from version literals.
func R(key, minVersion, maxVersion string, aliases ...string) Rule {
	return Rule{
		Key:     key,
		Min:     MustParseVersion(minVersion),
		Max:     MustParseVersion(maxVersion),
		Aliases: aliases,
	}
}

// candidates is the lookup order: canonical key first, then aliases.
func (r Rule) candidates() []string {
	return append([]string{r.Key}, r.Aliases...)
}

func (r Rule) accepts(from, to Version) bool {
	return from.AtLeast(r.Min) && to.AtMost(r.Max)
}

// DefaultRules returns the built-in table for controller settings.
// tempFormat comes first so that restored payloads set the unit before
// any temperature.
func DefaultRules() []Rule {
	return []Rule{
		R("tempFormat", LowestVersion, HighestVersion),
		R("tempSetMin", LowestVersion, HighestVersion),
		R("tempSetMax", LowestVersion, HighestVersion),
		R("pidMax", LowestVersion, HighestVersion),
		R("Kp", LowestVersion, HighestVersion),
		R("Ki", LowestVersion, HighestVersion),
		R("Kd", LowestVersion, HighestVersion),
		R("iMaxErr", LowestVersion, HighestVersion),
		R("idleRangeH", LowestVersion, HighestVersion),
		R("idleRangeL", LowestVersion, HighestVersion),
		R("heatTargetH", LowestVersion, HighestVersion),
		R("heatTargetL", LowestVersion, HighestVersion),
		R("coolTargetH", LowestVersion, HighestVersion),
		R("coolTargetL", LowestVersion, HighestVersion),
		R("maxHeatTimeForEst", LowestVersion, HighestVersion),
		R("maxCoolTimeForEst", LowestVersion, HighestVersion),
		// Filter coefficients changed meaning in 0.2.0.
		R("fridgeFastFilt", "0.2.0", HighestVersion),
		R("fridgeSlowFilt", "0.2.0", HighestVersion),
		R("fridgeSlopeFilt", "0.2.0", HighestVersion),
		R("beerFastFilt", "0.2.0", HighestVersion),
		R("beerSlowFilt", "0.2.0", HighestVersion),
		R("beerSlopeFilt", "0.2.0", HighestVersion),
		R("lah", LowestVersion, HighestVersion, "lightAsHeater"),
		R("hs", LowestVersion, HighestVersion, "rotaryHalfSteps"),
		R("heatEst", LowestVersion, HighestVersion),
		R("coolEst", LowestVersion, HighestVersion),
		R("mode", LowestVersion, HighestVersion),
		R("beerSet", LowestVersion, HighestVersion),
		R("fridgeSet", LowestVersion, HighestVersion),
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule table:
//
//	rules:
//	  - key: tempFormat
//	    min: "0"
//	    max: "1000"
//	    aliases: [fmt]
//
// Omitted bounds default to the sentinels.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses a YAML rule table and validates it.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	seen := make(map[string]bool)
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.Key == "" {
			return nil, fmt.Errorf("%w: rule %d has no key", ErrInvalidRule, i)
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidRule, r.Key)
		}
		seen[r.Key] = true
		if r.Max.IsZero() {
			r.Max = MustParseVersion(HighestVersion)
		}
		if r.Max.Less(r.Min) {
			return nil, fmt.Errorf("%w: %q has max %s below min %s", ErrInvalidRule, r.Key, r.Max, r.Min)
		}
	}
	return f.Rules, nil
}
