// Package prescription holds the joined prescription rows consumed by the
// alert and protocol engines.
package prescription

import (
	"strconv"
	"time"
)

// Source identifies the kind of prescription line
type Source string

const (
	SourceDrug      Source = "drug"
	SourceSolution  Source = "solution"
	SourceProcedure Source = "procedure"
	SourceDiet      Source = "diet"
)

// Reserved frequency codes. They mark as-needed or one-off administration and
// are never used as a daily multiplier.
const (
	FrequencyCode33  = 33
	FrequencyCode44  = 44
	FrequencyCode55  = 55
	FrequencyNow     = 66
	FrequencyCode99  = 99
	AllergyConfirmed = "S"
)

// IsPRN reports whether a frequency value is one of the reserved codes.
func IsPRN(freq float64) bool {
	switch freq {
	case FrequencyCode33, FrequencyCode44, FrequencyCode55, FrequencyNow, FrequencyCode99:
		return true
	}
	return false
}

// Frequency is the frequency table row joined to an item
type Frequency struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Fasting     bool   `json:"fasting"`
}

// DrugAttributes is the per (drug, segment) safety configuration.
// A nil threshold disables the corresponding check.
type DrugAttributes struct {
	MaxDose   *float64 `json:"maxDose,omitempty"`
	UseWeight bool     `json:"useWeight"`
	Kidney    *float64 `json:"kidney,omitempty"`
	Liver     *float64 `json:"liver,omitempty"`
	Platelets *float64 `json:"platelets,omitempty"`
	Elderly   bool     `json:"elderly"`
	Tube      bool     `json:"tube"`
	Chemo     bool     `json:"chemo"`
	Fasting   bool     `json:"fasting"`
	MaxTime   *float64 `json:"maxTime,omitempty"`
	Pregnant  string   `json:"pregnant,omitempty"`
	Lactating string   `json:"lactating,omitempty"`
	Division  *float64 `json:"division,omitempty"`
}

// Item is one joined drug-list row: the prescribed line plus its drug,
// attributes, frequency and substance.
type Item struct {
	ID                int64           `json:"id"`
	PrescriptionID    int64           `json:"idPrescription"`
	DrugID            int64           `json:"idDrug"`
	DrugName          string          `json:"drugName"`
	SubstanceID       *int64          `json:"idSubstance,omitempty"`
	SubstanceClass    string          `json:"substanceClass,omitempty"`
	Dose              *float64        `json:"dose,omitempty"`
	DoseConv          *float64        `json:"doseConv,omitempty"`
	Frequency         *float64        `json:"frequency,omitempty"`
	MeasureUnit       string          `json:"measureUnit,omitempty"`
	Route             string          `json:"route,omitempty"`
	Interval          string          `json:"interval,omitempty"`
	Source            Source          `json:"source"`
	Tube              bool            `json:"tube"`
	Allergy           string          `json:"allergy,omitempty"`
	SuspendedAt       *time.Time      `json:"suspendedAt,omitempty"`
	Period            *float64        `json:"period,omitempty"`
	ExpireDate        *time.Time      `json:"expireDate,omitempty"`
	UnitConvertFactor *float64        `json:"unitConvertFactor,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Attributes        *DrugAttributes `json:"attributes,omitempty"`
	FrequencyRow      *Frequency      `json:"frequencyRow,omitempty"`
}

// Suspended reports whether the item was suspended
func (i *Item) Suspended() bool { return i.SuspendedAt != nil }

// SubstanceKey returns the substance id as a string, or "" when unset
func (i *Item) SubstanceKey() string {
	if i.SubstanceID == nil {
		return ""
	}
	return strconv.FormatInt(*i.SubstanceID, 10)
}

// DrugKey returns the drug id as a string
func (i *Item) DrugKey() string { return strconv.FormatInt(i.DrugID, 10) }

// Filter returns the items whose source is one of sources and that are not
// suspended, preserving order.
func Filter(items []*Item, sources ...Source) []*Item {
	out := make([]*Item, 0, len(items))
	for _, it := range items {
		if it == nil || it.Suspended() {
			continue
		}
		for _, s := range sources {
			if it.Source == s {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

// AlertSources are the item sources checked by the deterministic alert engine
var AlertSources = []Source{SourceDrug, SourceSolution, SourceProcedure}

// ProtocolSources are the item sources visible to protocol rules
var ProtocolSources = []Source{SourceDrug, SourceSolution, SourceProcedure, SourceDiet}

// Float returns a pointer to v, for building optional values.
func Float(v float64) *float64 { return &v }

// Value dereferences an optional float, yielding 0 when nil
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
