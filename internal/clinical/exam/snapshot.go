// Package exam provides the typed lab and vital-sign snapshot read by the
// alert and protocol engines.
package exam

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type is a lower-case exam type key
type Type string

// Exam types the deterministic checks read. Protocols may reference any
// other lower-case key.
const (
	CKD       Type = "ckd"
	CKD21     Type = "ckd21"
	Schwartz1 Type = "swrtz1"
	Schwartz2 Type = "swrtz2"
	TGO       Type = "tgo"
	TGP       Type = "tgp"
	Platelets Type = "plqt"
	Weight    Type = "weight"
	Age       Type = "age"
)

// ParseType normalises a configured exam key
func ParseType(s string) Type { return Type(strings.ToLower(strings.TrimSpace(s))) }

// Result is one exam value with its collection date
type Result struct {
	Value float64   `json:"value"`
	Date  time.Time `json:"date"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// UnmarshalJSON accepts ISO-8601 dates with or without zone and seconds
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value *float64 `json:"value"`
		Date  string   `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Value != nil {
		r.Value = *raw.Value
	}
	if raw.Date == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw.Date); err == nil {
			r.Date = t
			return nil
		}
	}
	return fmt.Errorf("exam date %q is not ISO-8601", raw.Date)
}

// Snapshot maps exam types to their latest result
type Snapshot map[Type]Result

// Get returns the result for t and whether it is present
func (s Snapshot) Get(t Type) (Result, bool) {
	if s == nil {
		return Result{}, false
	}
	r, ok := s[t]
	return r, ok
}

// Value returns the value for t, or ok=false when absent
func (s Snapshot) Value(t Type) (float64, bool) {
	r, ok := s.Get(t)
	return r.Value, ok
}

// OlderThan reports whether the result for t was collected more than days
// before now. Absent exams report false.
func (s Snapshot) OlderThan(t Type, days int, now time.Time) bool {
	r, ok := s.Get(t)
	if !ok {
		return false
	}
	return r.Date.Before(now.AddDate(0, 0, -days))
}

// UnmarshalJSON lower-cases keys so configured lookups are case-insensitive
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]Result
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Snapshot, len(raw))
	for k, v := range raw {
		out[ParseType(k)] = v
	}
	*s = out
	return nil
}
