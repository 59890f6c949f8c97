package model

import (
	"encoding/json"
	"strings"
)

// PrintSettings normalizes the two shapes marketplaces use for per-item print
// configuration: an array of {name, value} pairs, or a single arbitrary
// object. Lookups are case-insensitive on the key name.
type PrintSettings struct {
	pairs  []SettingPair
	object map[string]json.RawMessage
	raw    json.RawMessage
}

// SettingPair is one {name, value} entry from an array-shaped payload.
type SettingPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UnmarshalJSON accepts either payload shape. Anything that parses as JSON is
// retained; lookups on an unrecognized shape simply return nothing.
func (ps *PrintSettings) UnmarshalJSON(data []byte) error {
	ps.raw = append(ps.raw[:0], data...)
	ps.pairs = nil
	ps.object = nil

	var pairs []SettingPair
	if err := json.Unmarshal(data, &pairs); err == nil {
		ps.pairs = pairs
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		ps.object = obj
		return nil
	}

	// Scalar or null settings carry no usable keys but are not an error.
	return nil
}

// MarshalJSON round-trips the original payload.
func (ps PrintSettings) MarshalJSON() ([]byte, error) {
	if len(ps.raw) == 0 {
		return []byte("null"), nil
	}
	return ps.raw, nil
}

// IsZero reports whether no settings payload was present.
func (ps PrintSettings) IsZero() bool {
	return len(ps.raw) == 0 || string(ps.raw) == "null"
}

// Raw returns the original JSON payload, or nil if none was present.
func (ps PrintSettings) Raw() json.RawMessage {
	if ps.IsZero() {
		return nil
	}
	return ps.raw
}

// Lookup returns the string value for the first key matching name
// case-insensitively, across both payload shapes.
func (ps PrintSettings) Lookup(name string) (string, bool) {
	for _, p := range ps.pairs {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	for k, v := range ps.object {
		if !strings.EqualFold(k, name) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s, true
		}
	}
	// An object payload may itself be a single {name, value} pair.
	if len(ps.object) > 0 {
		var p SettingPair
		if err := json.Unmarshal(ps.raw, &p); err == nil && strings.EqualFold(p.Name, name) && p.Value != "" {
			return p.Value, true
		}
	}
	return "", false
}
