package options

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is a single option's value. Most options carry one string, but the
// legacy options JSON also allows a list (e.g. {"Finish": ["Grommets", "Hem"]}),
// so both encodings are accepted on input.
type Value []string

// Map is an option set keyed by option group name, e.g. {"Size": ["10ft"]}.
type Map map[string]Value

func (v *Value) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = Value{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*v = Value(many)
		return nil
	}

	// Numbers arrive unquoted in hand-entered JSON; keep their text form.
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*v = Value{num.String()}
		return nil
	}

	return fmt.Errorf("option value must be a string or a list of strings")
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}
	return json.Marshal([]string(v))
}

// Canonicalize splits turnaround out of a raw option map and returns the
// remaining options in canonical form together with their fingerprint.
//
// Any key named "turnaround" (case-insensitive) is removed from the option
// set; its first value becomes the turnaround unless hint is non-empty, in
// which case the hint wins and the embedded value is discarded. Turnaround is
// never part of the fingerprint.
func Canonicalize(raw Map, hint string) (canonical Map, turnaround string, fingerprint string) {
	canonical = make(Map, len(raw))
	extracted := ""

	for key, value := range raw {
		if strings.EqualFold(key, "turnaround") {
			if extracted == "" && len(value) > 0 {
				extracted = value[0]
			}
			continue
		}
		sorted := append(Value(nil), value...)
		sort.Strings(sorted)
		canonical[key] = sorted
	}

	turnaround = hint
	if turnaround == "" {
		turnaround = extracted
	}

	return canonical, turnaround, Fingerprint(canonical)
}

// Fingerprint returns the hex MD5 of a deterministic serialization of the
// option map: keys in ordinal order, every value encoded as a sorted list,
// no whitespace. Two maps that are equal as sets of key/value pairs always
// produce the same fingerprint regardless of insertion or list order.
func Fingerprint(m Map) string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(key)
		buf.Write(keyJSON)
		buf.WriteByte(':')

		values := append([]string(nil), m[key]...)
		sort.Strings(values)
		valueJSON, _ := json.Marshal(values)
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')

	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// ParseJSON decodes an options JSON document, tolerating malformed input the
// way the estimator UI always has: anything that does not decode to an object
// yields an empty map rather than an error.
func ParseJSON(optionsJSON string) Map {
	if strings.TrimSpace(optionsJSON) == "" {
		return Map{}
	}
	var m Map
	if err := json.Unmarshal([]byte(optionsJSON), &m); err != nil {
		return Map{}
	}
	if m == nil {
		return Map{}
	}
	return m
}
