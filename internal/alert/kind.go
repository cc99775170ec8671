// Package alert implements the deterministic prescription safety checks:
// dose ceilings, organ-function contraindications, allergy, fasting and the
// vancomycin kidney-injury heuristic.
package alert

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a deterministic check
type Kind int

const (
	KindKidney Kind = iota
	KindLiver
	KindPlatelets
	KindElderly
	KindTube
	KindAllergy
	KindMaxTime
	KindMaxDose
	KindMaxDosePlus
	KindPregnant
	KindLactating
	KindFasting
	KindIRA

	numKinds
)

var kindNames = [numKinds]string{
	KindKidney:      "kidney",
	KindLiver:       "liver",
	KindPlatelets:   "platelets",
	KindElderly:     "elderly",
	KindTube:        "tube",
	KindAllergy:     "allergy",
	KindMaxTime:     "maxTime",
	KindMaxDose:     "maxDose",
	KindMaxDosePlus: "maxDosePlus",
	KindPregnant:    "pregnant",
	KindLactating:   "lactating",
	KindFasting:     "fasting",
	KindIRA:         "ira",
}

// Kinds returns every known kind in declaration order
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || k >= numKinds {
		return nil, fmt.Errorf("unknown alert kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown alert kind %q", text)
}

// Level is the alert severity
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

var levelNames = [...]string{"low", "medium", "high"}

func (l Level) String() string {
	if l < LevelLow || l > LevelHigh {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText encodes the level by name
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText decodes a level name
func (l *Level) UnmarshalText(text []byte) error {
	for i, name := range levelNames {
		if name == string(text) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown alert level %q", text)
}

// Alert is one fired check for one prescription item
type Alert struct {
	ItemID int64  `json:"idPrescriptionDrug"`
	Key    string `json:"key"`
	Kind   Kind   `json:"type"`
	Level  Level  `json:"level"`
	Text   string `json:"text"`
}

// Stats counts alerts per kind. Every kind has a slot by construction.
type Stats struct {
	counts [numKinds]int
	level  Level
}

func (s *Stats) add(a Alert) {
	s.counts[a.Kind]++
	if a.Level > s.level {
		s.level = a.Level
	}
}

// Count returns the number of alerts of kind k
func (s Stats) Count(k Kind) int {
	if k < 0 || k >= numKinds {
		return 0
	}
	return s.counts[k]
}

// Total returns the number of alerts of every kind
func (s Stats) Total() int {
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

// Level returns the highest severity seen, low when no alert fired
func (s Stats) Level() Level { return s.level }

// Counts returns a zero-filled map keyed by kind name
func (s Stats) Counts() map[string]int {
	out := make(map[string]int, numKinds)
	for i, c := range s.counts {
		out[kindNames[i]] = c
	}
	return out
}

// MarshalJSON writes every kind count plus the overall level
func (s Stats) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, numKinds+1)
	for k, c := range s.Counts() {
		out[k] = c
	}
	out["level"] = s.level.String()
	return json.Marshal(out)
}

// UnmarshalJSON reads the format written by MarshalJSON
func (s *Stats) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Stats{}
	for i, name := range kindNames {
		if v, ok := raw[name]; ok {
			if err := json.Unmarshal(v, &s.counts[i]); err != nil {
				return fmt.Errorf("stats %s: %w", name, err)
			}
		}
	}
	if v, ok := raw["level"]; ok {
		var name string
		if err := json.Unmarshal(v, &name); err != nil {
			return err
		}
		return s.level.UnmarshalText([]byte(name))
	}
	return nil
}
