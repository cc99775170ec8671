package alert

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxguard/internal/clinical/exam"
	"github.com/drfirst/go-rxguard/internal/domain/prescription"
)

// EffectiveFrequency is the daily multiplier for a raw frequency value.
// Reserved PRN codes count as a single administration; nil counts as zero.
func EffectiveFrequency(freq *float64) float64 {
	if freq == nil {
		return 0
	}
	if prescription.IsPRN(*freq) {
		return 1
	}
	return *freq
}

// ResolveDose converts one administration of an item. When the drug has a
// division factor the raw dose is converted with unitConvertFactor (1 when
// nil), otherwise the pipeline's pre-converted dose is used.
func ResolveDose(it *prescription.Item, attrs *prescription.DrugAttributes, unitConvertFactor *float64) float64 {
	if attrs != nil && attrs.Division != nil {
		factor := 1.0
		if unitConvertFactor != nil {
			factor = *unitConvertFactor
		}
		return prescription.Value(it.Dose) * factor
	}
	return prescription.Value(it.DoseConv)
}

// ResolveDailyDose is the converted dose times the effective frequency
func ResolveDailyDose(it *prescription.Item, attrs *prescription.DrugAttributes, unitConvertFactor *float64) float64 {
	return ResolveDose(it, attrs, unitConvertFactor) * EffectiveFrequency(it.Frequency)
}

// SingleDose resolves one administration with the item's own attributes
func SingleDose(it *prescription.Item) float64 {
	return ResolveDose(it, it.Attributes, it.UnitConvertFactor)
}

// DailyDose resolves the item's daily dose with its own attributes and factor
func DailyDose(it *prescription.Item) float64 {
	return ResolveDailyDose(it, it.Attributes, it.UnitConvertFactor)
}

// DailyTotal is a running sum of daily doses
type DailyTotal struct {
	Value float64
	Count int
}

// Aggregates holds per drug and expiry-day totals, plus weight-normalised
// totals under the same key suffixed with "kg".
type Aggregates map[string]*DailyTotal

// AggregateKey groups items by drug and the day of month of their expiry.
// Only the day is used, so different months share a key.
func AggregateKey(it *prescription.Item) string {
	day := 0
	if it.ExpireDate != nil {
		day = it.ExpireDate.Day()
	}
	return fmt.Sprintf("%d_%d", it.DrugID, day)
}

// WeightKey is the weight-normalised series key for an aggregate key
func WeightKey(key string) string { return key + "kg" }

// Aggregate sums daily doses per AggregateKey. Stat doses (frequency 66) are
// left out of both series. The per-kg series divides by max(weight, 1).
func Aggregate(items []*prescription.Item, weight float64) Aggregates {
	weight = math.Max(weight, 1)
	aggs := make(Aggregates)
	for _, it := range items {
		if it.Frequency != nil && *it.Frequency == prescription.FrequencyNow {
			continue
		}
		dose := DailyDose(it)
		key := AggregateKey(it)
		aggs.add(key, dose)
		aggs.add(WeightKey(key), round2(dose/weight))
	}
	return aggs
}

// Get returns the total for key, zero when absent
func (a Aggregates) Get(key string) DailyTotal {
	if t, ok := a[key]; ok {
		return *t
	}
	return DailyTotal{}
}

func (a Aggregates) add(key string, v float64) {
	t, ok := a[key]
	if !ok {
		t = &DailyTotal{}
		a[key] = t
	}
	t.Value += v
	t.Count++
}

// NormalizedWeight returns the patient weight for per-kg arithmetic. Missing
// or non-positive weights resolve to 1 so absent data never raises an alert.
func NormalizedWeight(exams exam.Snapshot) float64 {
	w, ok := exams.Value(exam.Weight)
	if !ok || w <= 0 {
		return 1
	}
	return w
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
