package alert

import (
	"fmt"
	"strings"

	"github.com/drfirst/go-rxguard/internal/clinical/exam"
	"github.com/drfirst/go-rxguard/internal/domain/prescription"
)

const (
	elderlyAge   = 60
	pediatricAge = 17
	// iraThreshold bounds daily vancomycin dose / eGFR / weight
	iraThreshold = 0.6219
)

// Input is everything one deterministic evaluation reads
type Input struct {
	Items            []*prescription.Item
	Exams            exam.Snapshot
	Dialysis         prescription.Dialysis
	Pregnant         bool
	Lactating        bool
	FastingIntervals []string
}

// Result is the output of Evaluate
type Result struct {
	Alerts map[int64][]Alert `json:"alerts"`
	Stats  Stats             `json:"stats"`
}

// Evaluate runs every deterministic check over the drug, solution and
// procedure items that are not suspended. Missing attributes or exams skip
// the affected check only.
func Evaluate(in Input) Result {
	items := prescription.Filter(in.Items, prescription.AlertSources...)
	weight := NormalizedWeight(in.Exams)

	ev := &evaluation{
		in:       in,
		weight:   weight,
		aggs:     Aggregate(items, weight),
		fasting:  make(map[string]struct{}, len(in.FastingIntervals)),
		result:   Result{Alerts: make(map[int64][]Alert)},
		dialysis: in.Dialysis,
	}
	for _, code := range in.FastingIntervals {
		ev.fasting[code] = struct{}{}
	}

	for _, it := range items {
		ev.item(it)
	}
	return ev.result
}

type evaluation struct {
	in       Input
	weight   float64
	aggs     Aggregates
	fasting  map[string]struct{}
	result   Result
	dialysis prescription.Dialysis
}

type check func(ev *evaluation, it *prescription.Item, dose float64) (Level, string, bool)

// checks is indexed by Kind so each kind fires at most once per item
var checks = [numKinds]check{
	KindKidney:      checkKidney,
	KindLiver:       checkLiver,
	KindPlatelets:   checkPlatelets,
	KindElderly:     checkElderly,
	KindTube:        checkTube,
	KindAllergy:     checkAllergy,
	KindMaxTime:     checkMaxTime,
	KindMaxDose:     checkMaxDose,
	KindMaxDosePlus: checkMaxDosePlus,
	KindPregnant:    checkPregnant,
	KindLactating:   checkLactating,
	KindFasting:     checkFasting,
	KindIRA:         checkIRA,
}

func (ev *evaluation) item(it *prescription.Item) {
	dose := DailyDose(it)
	for k, fn := range checks {
		level, text, ok := fn(ev, it, dose)
		if !ok {
			continue
		}
		a := Alert{
			ItemID: it.ID,
			Key:    fmt.Sprintf("%s_%d", Kind(k), it.ID),
			Kind:   Kind(k),
			Level:  level,
			Text:   text,
		}
		ev.result.Alerts[it.ID] = append(ev.result.Alerts[it.ID], a)
		ev.result.Stats.add(a)
	}
}

var dialysisText = map[prescription.Dialysis]string{
	prescription.DialysisContinuous:   "continuous dialysis",
	prescription.DialysisExtended:     "extended dialysis",
	prescription.DialysisIntermittent: "intermittent dialysis",
	prescription.DialysisPeritoneal:   "peritoneal dialysis",
}

func checkKidney(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	attrs := it.Attributes
	if attrs == nil || attrs.Kidney == nil {
		return 0, "", false
	}
	threshold := *attrs.Kidney

	if ev.dialysis.Active() {
		mode, ok := dialysisText[ev.dialysis]
		if !ok {
			mode = "dialysis"
		}
		return LevelMedium, fmt.Sprintf(
			"Patient on %s: dose adjustment or contraindication must be reviewed for drugs limited to renal function of %s mL/min.",
			mode, formatNumber(threshold)), true
	}

	age, ok := ev.in.Exams.Value(exam.Age)
	if !ok {
		return 0, "", false
	}

	if age > pediatricAge {
		ckd, ok := ev.in.Exams.Value(exam.CKD)
		if ok && ckd < threshold {
			return LevelMedium, fmt.Sprintf(
				"Dose adjustment or contraindication: renal function (%s mL/min) is below %s mL/min.",
				formatNumber(ckd), formatNumber(threshold)), true
		}
		return 0, "", false
	}

	for _, t := range []exam.Type{exam.Schwartz2, exam.Schwartz1} {
		v, ok := ev.in.Exams.Value(t)
		if !ok {
			continue
		}
		if v < threshold {
			return LevelMedium, fmt.Sprintf(
				"Dose adjustment or contraindication: pediatric renal function (%s, %s mL/min/1.73m²) is below %s mL/min.",
				t, formatNumber(v), formatNumber(threshold)), true
		}
		return 0, "", false
	}
	return 0, "", false
}

func checkLiver(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	attrs := it.Attributes
	if attrs == nil || attrs.Liver == nil {
		return 0, "", false
	}
	for _, t := range []exam.Type{exam.TGP, exam.TGO} {
		if v, ok := ev.in.Exams.Value(t); ok && v > *attrs.Liver {
			return LevelMedium, fmt.Sprintf(
				"Hepatic function: %s (%s U/L) is above %s U/L, review dose or contraindication.",
				strings.ToUpper(string(t)), formatNumber(v), formatNumber(*attrs.Liver)), true
		}
	}
	return 0, "", false
}

func checkPlatelets(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	attrs := it.Attributes
	if attrs == nil || attrs.Platelets == nil {
		return 0, "", false
	}
	v, ok := ev.in.Exams.Value(exam.Platelets)
	if !ok || v >= *attrs.Platelets {
		return 0, "", false
	}
	return LevelHigh, fmt.Sprintf(
		"Platelet count (%s /µL) is below %s /µL.",
		formatNumber(v), formatNumber(*attrs.Platelets)), true
}

func checkElderly(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	if it.Attributes == nil || !it.Attributes.Elderly {
		return 0, "", false
	}
	age, ok := ev.in.Exams.Value(exam.Age)
	if !ok || age <= elderlyAge {
		return 0, "", false
	}
	return LevelLow, fmt.Sprintf(
		"Potentially inappropriate drug for patients over %d years (patient is %s).",
		elderlyAge, formatNumber(age)), true
}

func checkTube(_ *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	if it.Attributes == nil || !it.Attributes.Tube || !it.Tube || it.Suspended() {
		return 0, "", false
	}
	return LevelHigh, "Drug is contraindicated for administration via feeding tube.", true
}

func checkAllergy(_ *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	if it.Allergy != prescription.AllergyConfirmed {
		return 0, "", false
	}
	return LevelHigh, "Patient is allergic to this drug.", true
}

func checkMaxTime(_ *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	attrs := it.Attributes
	if attrs == nil || attrs.MaxTime == nil || it.Period == nil {
		return 0, "", false
	}
	if *it.Period <= *attrs.MaxTime {
		return 0, "", false
	}
	return LevelLow, fmt.Sprintf(
		"Treatment time (%s days) exceeds the maximum of %s days.",
		formatNumber(*it.Period), formatNumber(*attrs.MaxTime)), true
}

func checkMaxDose(ev *evaluation, it *prescription.Item, dose float64) (Level, string, bool) {
	attrs := it.Attributes
	if attrs == nil || attrs.MaxDose == nil {
		return 0, "", false
	}
	maxDose := *attrs.MaxDose
	unit := it.MeasureUnit

	// per-kg limits apply to a single administration
	if attrs.UseWeight {
		perKg := round2(SingleDose(it) / ev.weight)
		if perKg <= maxDose {
			return 0, "", false
		}
		if w, ok := ev.in.Exams.Value(exam.Weight); ok && w == 0 {
			return LevelHigh, fmt.Sprintf(
				"Patient weight is missing: dose of %s %s is above the maximum of %s %s/kg assuming 1 kg.",
				formatNumber(perKg), unit, formatNumber(maxDose), unit), true
		}
		return LevelHigh, fmt.Sprintf(
			"Dose of %s %s/kg is above the maximum of %s %s/kg.",
			formatNumber(perKg), unit, formatNumber(maxDose), unit), true
	}

	if dose <= maxDose {
		return 0, "", false
	}
	return LevelHigh, fmt.Sprintf(
		"Daily dose of %s %s is above the maximum of %s %s.",
		formatNumber(dose), unit, formatNumber(maxDose), unit), true
}

func checkMaxDosePlus(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	attrs := it.Attributes
	if attrs == nil || attrs.MaxDose == nil {
		return 0, "", false
	}
	if it.Frequency != nil && *it.Frequency == prescription.FrequencyNow {
		return 0, "", false
	}
	key := AggregateKey(it)
	suffix := ""
	if attrs.UseWeight {
		key = WeightKey(key)
		suffix = "/kg"
	}
	total := ev.aggs.Get(key)
	if total.Count <= 1 || total.Value <= *attrs.MaxDose {
		return 0, "", false
	}
	return LevelHigh, fmt.Sprintf(
		"Sum of daily doses across %d entries (%s %s%s) is above the maximum of %s %s%s.",
		total.Count, formatNumber(total.Value), it.MeasureUnit, suffix,
		formatNumber(*attrs.MaxDose), it.MeasureUnit, suffix), true
}

func checkPregnant(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	if !ev.in.Pregnant || it.Attributes == nil {
		return 0, "", false
	}
	switch strings.ToUpper(it.Attributes.Pregnant) {
	case "X":
		return LevelHigh, "Pregnancy risk category X: contraindicated during pregnancy.", true
	case "D":
		return LevelMedium, "Pregnancy risk category D: evidence of fetal risk.", true
	}
	return 0, "", false
}

func checkLactating(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	if !ev.in.Lactating || it.Attributes == nil || it.Attributes.Lactating != "3" {
		return 0, "", false
	}
	return LevelMedium, "Lactation risk 3: high risk, avoid during breastfeeding.", true
}

func checkFasting(ev *evaluation, it *prescription.Item, _ float64) (Level, string, bool) {
	if it.Attributes == nil || !it.Attributes.Fasting {
		return 0, "", false
	}
	if it.FrequencyRow == nil || it.FrequencyRow.Fasting {
		return 0, "", false
	}
	if _, ok := ev.fasting[it.Interval]; ok {
		return 0, "", false
	}
	return LevelLow, "Drug should be administered while fasting; schedule does not reflect it.", true
}

func checkIRA(ev *evaluation, it *prescription.Item, dose float64) (Level, string, bool) {
	if ev.dialysis.Active() {
		return 0, "", false
	}
	if !strings.Contains(strings.ToLower(it.DrugName), "vanco") {
		return 0, "", false
	}
	ckd, ok := ev.in.Exams.Value(exam.CKD)
	if !ok || ckd <= 0 {
		return 0, "", false
	}
	weight, ok := ev.in.Exams.Value(exam.Weight)
	if !ok || weight <= 0 {
		return 0, "", false
	}
	score := dose / ckd / weight
	if score <= iraThreshold {
		return 0, "", false
	}
	return LevelHigh, fmt.Sprintf(
		"Acute kidney injury risk: vancomycin dose/eGFR/weight ratio %s is above %s.",
		formatNumber(round2(score)), formatNumber(iraThreshold)), true
}

func formatNumber(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
