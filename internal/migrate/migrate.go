package migrate

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Setting is one restored key/value pair.
type Setting struct {
	Key   string
	Value any
}

// Settings is an ordered list of restored settings. It marshals to a JSON
// object whose keys keep slice order.
type Settings []Setting

// MarshalJSON writes the settings as an object in slice order.
func (s Settings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Keys returns the restored keys in order.
func (s Settings) Keys() []string {
	keys := make([]string, len(s))
	for i, kv := range s {
		keys[i] = kv.Key
	}
	return keys
}

// Map returns the settings as an unordered map.
func (s Settings) Map() map[string]any {
	m := make(map[string]any, len(s))
	for _, kv := range s {
		m[kv.Key] = kv.Value
	}
	return m
}

// Result is the outcome of one migration.
type Result struct {
	// Restored holds values valid in the new version under their canonical
	// keys, in rule order.
	Restored Settings

	// Leftover holds every old key that was not restored, with its
	// original value. This includes keys whose window rejected them.
	Leftover map[string]any
}

// Migrate walks rules in order. For each rule the canonical key and then
// each alias is looked up in the not-yet-claimed old settings; the first
// hit is claimed whether or not its window accepts the move, so a later
// rule can never pick it up. Claimed values are restored only when
// from >= rule.Min and to <= rule.Max.
//
// old is not modified.
func Migrate(rules []Rule, old map[string]any, from, to Version) Result {
	pool := maps.Clone(old)
	if pool == nil {
		pool = map[string]any{}
	}
	leftover := maps.Clone(pool)

	var restored Settings
	for _, rule := range rules {
		for _, key := range rule.candidates() {
			value, ok := pool[key]
			if !ok {
				continue
			}
			delete(pool, key)
			if rule.accepts(from, to) {
				restored = append(restored, Setting{Key: rule.Key, Value: value})
				delete(leftover, key)
			}
			break
		}
	}

	return Result{Restored: restored, Leftover: leftover}
}

// MigrateStrings is Migrate with string versions. A malformed from is the
// lowest version and a malformed to the highest, so neither bound of a
// window is widened by bad input.
func MigrateStrings(rules []Rule, old map[string]any, from, to string) Result {
	return Migrate(rules, old, ParseVersionOrLowest(from), ParseVersionOrHighest(to))
}
