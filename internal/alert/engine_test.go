package alert

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/drfirst/go-rxguard/internal/clinical/exam"
	"github.com/drfirst/go-rxguard/internal/domain/prescription"
)

func adultExams() exam.Snapshot {
	now := time.Date(2024, 5, 14, 8, 0, 0, 0, time.UTC)
	return exam.Snapshot{
		exam.Age:    {Value: 45, Date: now},
		exam.Weight: {Value: 70, Date: now},
		exam.CKD:    {Value: 90, Date: now},
	}
}

func drugItem(id int64, attrs *prescription.DrugAttributes) *prescription.Item {
	return &prescription.Item{
		ID:          id,
		DrugID:      100,
		DrugName:    "Drug",
		Source:      prescription.SourceDrug,
		DoseConv:    f(1),
		Frequency:   f(1),
		MeasureUnit: "mg",
		Attributes:  attrs,
	}
}

func kindsFor(res Result, itemID int64) []Kind {
	var out []Kind
	for _, a := range res.Alerts[itemID] {
		out = append(out, a.Kind)
	}
	return out
}

func TestEvaluate_EmptyStatsZeroFilled(t *testing.T) {
	res := Evaluate(Input{})

	counts := res.Stats.Counts()
	if len(counts) != len(Kinds()) {
		t.Fatalf("expected %d kinds, got %d", len(Kinds()), len(counts))
	}
	for _, k := range Kinds() {
		if c, ok := counts[k.String()]; !ok || c != 0 {
			t.Errorf("kind %s: count %d present=%v", k, c, ok)
		}
	}
	if res.Stats.Level() != LevelLow {
		t.Errorf("expected low level, got %s", res.Stats.Level())
	}
	if len(res.Alerts) != 0 {
		t.Errorf("expected no alerts, got %v", res.Alerts)
	}
}

func TestEvaluate_MaxDose(t *testing.T) {
	it := drugItem(1, &prescription.DrugAttributes{MaxDose: f(10)})
	it.DoseConv = f(20)

	res := Evaluate(Input{Items: []*prescription.Item{it}, Exams: adultExams()})

	alerts := res.Alerts[1]
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].Kind != KindMaxDose || alerts[0].Level != LevelHigh {
		t.Errorf("unexpected alert %+v", alerts[0])
	}
	if res.Stats.Count(KindMaxDose) != 1 || res.Stats.Level() != LevelHigh {
		t.Errorf("unexpected stats %+v", res.Stats.Counts())
	}
}

func TestEvaluate_MaxDosePlus(t *testing.T) {
	attrs := &prescription.DrugAttributes{MaxDose: f(10)}
	a := drugItem(1, attrs)
	a.DoseConv = f(10)
	b := drugItem(2, attrs)
	b.DoseConv = f(10)

	res := Evaluate(Input{Items: []*prescription.Item{a, b}, Exams: adultExams()})

	for _, id := range []int64{1, 2} {
		got := kindsFor(res, id)
		if !reflect.DeepEqual(got, []Kind{KindMaxDosePlus}) {
			t.Errorf("item %d: kinds %v, want [maxDosePlus]", id, got)
		}
	}
	if res.Stats.Count(KindMaxDosePlus) != 2 {
		t.Errorf("maxDosePlus = %d, want 2", res.Stats.Count(KindMaxDosePlus))
	}
	if res.Stats.Count(KindMaxDose) != 0 {
		t.Errorf("maxDose = %d, want 0", res.Stats.Count(KindMaxDose))
	}
}

func TestEvaluate_MaxDosePlusSingleEntry(t *testing.T) {
	it := drugItem(1, &prescription.DrugAttributes{MaxDose: f(10)})
	it.DoseConv = f(50)

	res := Evaluate(Input{Items: []*prescription.Item{it}, Exams: adultExams()})

	if res.Stats.Count(KindMaxDosePlus) != 0 {
		t.Error("maxDosePlus must not fire for a single contributing entry")
	}
}

func TestEvaluate_MaxDosePlusIgnoresStatDose(t *testing.T) {
	attrs := &prescription.DrugAttributes{MaxDose: f(10)}
	a := drugItem(1, attrs)
	a.DoseConv = f(8)
	stat := drugItem(2, attrs)
	stat.DoseConv = f(8)
	stat.Frequency = f(66)

	res := Evaluate(Input{Items: []*prescription.Item{a, stat}, Exams: adultExams()})

	if res.Stats.Count(KindMaxDosePlus) != 0 {
		t.Errorf("stat doses must not contribute to aggregates: %v", res.Alerts)
	}
}

func TestEvaluate_MaxDoseByWeight(t *testing.T) {
	attrs := &prescription.DrugAttributes{MaxDose: f(1), UseWeight: true}

	t.Run("above per kg limit", func(t *testing.T) {
		it := drugItem(1, attrs)
		it.DoseConv = f(140)
		res := Evaluate(Input{Items: []*prescription.Item{it}, Exams: adultExams()})
		if res.Stats.Count(KindMaxDose) != 1 {
			t.Errorf("expected maxDose alert, got %v", res.Alerts)
		}
	})

	t.Run("within per kg limit", func(t *testing.T) {
		it := drugItem(1, attrs)
		it.DoseConv = f(70)
		res := Evaluate(Input{Items: []*prescription.Item{it}, Exams: adultExams()})
		if res.Stats.Count(KindMaxDose) != 0 {
			t.Errorf("unexpected alert %v", res.Alerts)
		}
	})

	t.Run("per kg limit is per administration", func(t *testing.T) {
		it := drugItem(1, attrs)
		it.Dose = f(70)
		it.DoseConv = f(70)
		it.Frequency = f(3)
		res := Evaluate(Input{Items: []*prescription.Item{it}, Exams: adultExams()})
		if res.Stats.Count(KindMaxDose) != 0 {
			t.Errorf("70 mg for 70 kg three times a day is within 1 mg/kg, got %v", res.Alerts)
		}

		it.DoseConv = f(77)
		res = Evaluate(Input{Items: []*prescription.Item{it}, Exams: adultExams()})
		alerts := res.Alerts[1]
		if len(alerts) != 1 || alerts[0].Kind != KindMaxDose || alerts[0].Text != "Dose of 1.1 mg/kg is above the maximum of 1 mg/kg." {
			t.Errorf("alerts = %+v", alerts)
		}
	})

	t.Run("zero weight uses distinct text", func(t *testing.T) {
		it := drugItem(1, attrs)
		it.DoseConv = f(5)
		exams := adultExams()
		exams[exam.Weight] = exam.Result{Value: 0}
		res := Evaluate(Input{Items: []*prescription.Item{it}, Exams: exams})
		alerts := res.Alerts[1]
		if len(alerts) != 1 {
			t.Fatalf("expected one alert, got %v", alerts)
		}
		other := Evaluate(Input{Items: []*prescription.Item{it}, Exams: exam.Snapshot{}})
		if len(other.Alerts[1]) != 1 {
			t.Fatalf("expected alert with missing weight, got %v", other.Alerts)
		}
		if alerts[0].Text == other.Alerts[1][0].Text {
			t.Error("zero weight should produce the weight-missing text")
		}
	})
}

func TestEvaluate_Kidney(t *testing.T) {
	attrs := &prescription.DrugAttributes{Kidney: f(30)}

	tests := []struct {
		name     string
		exams    exam.Snapshot
		dialysis prescription.Dialysis
		want     bool
	}{
		{"adult above threshold", exam.Snapshot{exam.Age: {Value: 40}, exam.CKD: {Value: 60}}, "", false},
		{"adult below threshold", exam.Snapshot{exam.Age: {Value: 40}, exam.CKD: {Value: 20}}, "", true},
		{"adult without ckd", exam.Snapshot{exam.Age: {Value: 40}}, "", false},
		{"continuous dialysis fires regardless", exam.Snapshot{exam.Age: {Value: 40}, exam.CKD: {Value: 120}}, prescription.DialysisContinuous, true},
		{"peritoneal dialysis without exams", nil, prescription.DialysisPeritoneal, true},
		{"child uses schwartz 2", exam.Snapshot{exam.Age: {Value: 10}, exam.Schwartz2: {Value: 20}, exam.Schwartz1: {Value: 90}}, "", true},
		{"child falls back to schwartz 1", exam.Snapshot{exam.Age: {Value: 10}, exam.Schwartz1: {Value: 20}}, "", true},
		{"child ignores ckd", exam.Snapshot{exam.Age: {Value: 10}, exam.CKD: {Value: 10}}, "", false},
		{"missing age", exam.Snapshot{exam.CKD: {Value: 10}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(Input{
				Items:    []*prescription.Item{drugItem(1, attrs)},
				Exams:    tt.exams,
				Dialysis: tt.dialysis,
			})
			if got := res.Stats.Count(KindKidney) == 1; got != tt.want {
				t.Errorf("kidney fired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_OrganAndPatientChecks(t *testing.T) {
	exams := exam.Snapshot{
		exam.Age:       {Value: 72},
		exam.Weight:    {Value: 60},
		exam.TGO:       {Value: 150},
		exam.Platelets: {Value: 40000},
	}

	tests := []struct {
		name  string
		attrs *prescription.DrugAttributes
		mod   func(*prescription.Item, *Input)
		kind  Kind
		level Level
	}{
		{"liver", &prescription.DrugAttributes{Liver: f(100)}, nil, KindLiver, LevelMedium},
		{"platelets", &prescription.DrugAttributes{Platelets: f(50000)}, nil, KindPlatelets, LevelHigh},
		{"elderly", &prescription.DrugAttributes{Elderly: true}, nil, KindElderly, LevelLow},
		{"tube", &prescription.DrugAttributes{Tube: true}, func(it *prescription.Item, _ *Input) { it.Tube = true }, KindTube, LevelHigh},
		{"allergy", nil, func(it *prescription.Item, _ *Input) { it.Allergy = "S" }, KindAllergy, LevelHigh},
		{"max time", &prescription.DrugAttributes{MaxTime: f(7)}, func(it *prescription.Item, _ *Input) { it.Period = f(10) }, KindMaxTime, LevelLow},
		{"pregnant X", &prescription.DrugAttributes{Pregnant: "X"}, func(_ *prescription.Item, in *Input) { in.Pregnant = true }, KindPregnant, LevelHigh},
		{"pregnant D", &prescription.DrugAttributes{Pregnant: "D"}, func(_ *prescription.Item, in *Input) { in.Pregnant = true }, KindPregnant, LevelMedium},
		{"lactating", &prescription.DrugAttributes{Lactating: "3"}, func(_ *prescription.Item, in *Input) { in.Lactating = true }, KindLactating, LevelMedium},
		{"fasting", &prescription.DrugAttributes{Fasting: true}, func(it *prescription.Item, in *Input) {
			it.FrequencyRow = &prescription.Frequency{ID: "8/8"}
			it.Interval = "8"
			in.FastingIntervals = []string{"6"}
		}, KindFasting, LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := drugItem(1, tt.attrs)
			in := Input{Exams: exams}
			if tt.mod != nil {
				tt.mod(it, &in)
			}
			in.Items = []*prescription.Item{it}

			res := Evaluate(in)
			alerts := res.Alerts[1]
			if len(alerts) != 1 {
				t.Fatalf("expected exactly one alert, got %+v", alerts)
			}
			if alerts[0].Kind != tt.kind || alerts[0].Level != tt.level {
				t.Errorf("got %s/%s, want %s/%s", alerts[0].Kind, alerts[0].Level, tt.kind, tt.level)
			}
		})
	}
}

func TestEvaluate_NegativeCases(t *testing.T) {
	exams := exam.Snapshot{exam.Age: {Value: 30}, exam.TGO: {Value: 20}, exam.Platelets: {Value: 300000}}

	tests := []struct {
		name  string
		attrs *prescription.DrugAttributes
		mod   func(*prescription.Item, *Input)
	}{
		{"liver normal", &prescription.DrugAttributes{Liver: f(100)}, nil},
		{"platelets normal", &prescription.DrugAttributes{Platelets: f(50000)}, nil},
		{"not elderly", &prescription.DrugAttributes{Elderly: true}, nil},
		{"item not on tube", &prescription.DrugAttributes{Tube: true}, nil},
		{"pregnancy category C", &prescription.DrugAttributes{Pregnant: "C"}, func(_ *prescription.Item, in *Input) { in.Pregnant = true }},
		{"category X without pregnancy", &prescription.DrugAttributes{Pregnant: "X"}, nil},
		{"lactation risk 2", &prescription.DrugAttributes{Lactating: "2"}, func(_ *prescription.Item, in *Input) { in.Lactating = true }},
		{"fasting frequency row", &prescription.DrugAttributes{Fasting: true}, func(it *prescription.Item, _ *Input) {
			it.FrequencyRow = &prescription.Frequency{Fasting: true}
		}},
		{"fasting compatible interval", &prescription.DrugAttributes{Fasting: true}, func(it *prescription.Item, in *Input) {
			it.FrequencyRow = &prescription.Frequency{}
			it.Interval = "6"
			in.FastingIntervals = []string{"6"}
		}},
		{"fasting without frequency row", &prescription.DrugAttributes{Fasting: true}, nil},
		{"max time without period", &prescription.DrugAttributes{MaxTime: f(7)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := drugItem(1, tt.attrs)
			in := Input{Exams: exams}
			if tt.mod != nil {
				tt.mod(it, &in)
			}
			in.Items = []*prescription.Item{it}
			if res := Evaluate(in); res.Stats.Total() != 0 {
				t.Errorf("expected no alerts, got %+v", res.Alerts)
			}
		})
	}
}

func TestEvaluate_IRA(t *testing.T) {
	exams := exam.Snapshot{
		exam.Age:    {Value: 50},
		exam.CKD:    {Value: 40},
		exam.Weight: {Value: 70},
	}
	vanco := &prescription.Item{
		ID:        9,
		DrugName:  "Vancomicina 500mg",
		Source:    prescription.SourceSolution,
		DoseConv:  f(3000),
		Frequency: f(1),
	}

	res := Evaluate(Input{Items: []*prescription.Item{vanco}, Exams: exams})
	if res.Stats.Count(KindIRA) != 1 {
		t.Fatalf("expected ira alert, got %+v", res.Alerts)
	}

	res = Evaluate(Input{Items: []*prescription.Item{vanco}, Exams: exams, Dialysis: prescription.DialysisContinuous})
	if res.Stats.Count(KindIRA) != 0 {
		t.Error("ira must be suppressed under dialysis")
	}

	low := *vanco
	low.DoseConv = f(1000)
	res = Evaluate(Input{Items: []*prescription.Item{&low}, Exams: exams})
	if res.Stats.Count(KindIRA) != 0 {
		t.Error("1000/40/70 is below the ira threshold")
	}
}

func TestEvaluate_FiltersSourcesAndSuspended(t *testing.T) {
	suspendedAt := time.Now()
	diet := &prescription.Item{ID: 1, Source: prescription.SourceDiet, Allergy: "S"}
	suspended := &prescription.Item{ID: 2, Source: prescription.SourceDrug, Allergy: "S", SuspendedAt: &suspendedAt}
	procedure := &prescription.Item{ID: 3, Source: prescription.SourceProcedure, Allergy: "S"}

	res := Evaluate(Input{Items: []*prescription.Item{diet, suspended, procedure}})

	if res.Stats.Count(KindAllergy) != 1 || len(res.Alerts[3]) != 1 {
		t.Errorf("only the procedure should alert: %+v", res.Alerts)
	}
}

func TestEvaluate_OneAlertPerKindAndIdempotent(t *testing.T) {
	attrs := &prescription.DrugAttributes{
		MaxDose: f(1), Kidney: f(200), Liver: f(1), Platelets: f(1e9),
		Elderly: true, Tube: true, MaxTime: f(1), Pregnant: "X", Lactating: "3", Fasting: true,
	}
	exams := exam.Snapshot{
		exam.Age: {Value: 80}, exam.Weight: {Value: 50}, exam.CKD: {Value: 10},
		exam.TGO: {Value: 90}, exam.TGP: {Value: 95}, exam.Platelets: {Value: 1000},
	}
	items := []*prescription.Item{drugItem(1, attrs), drugItem(2, attrs)}
	for _, it := range items {
		it.DrugName = "vancomycin"
		it.DoseConv = f(2000)
		it.Tube = true
		it.Allergy = "S"
		it.Period = f(30)
		it.FrequencyRow = &prescription.Frequency{}
	}
	in := Input{Items: items, Exams: exams, Pregnant: true, Lactating: true}

	first := Evaluate(in)
	for id, alerts := range first.Alerts {
		seen := make(map[Kind]bool)
		for _, a := range alerts {
			if seen[a.Kind] {
				t.Errorf("item %d has duplicate %s alert", id, a.Kind)
			}
			seen[a.Kind] = true
		}
		if len(alerts) != len(Kinds()) {
			t.Errorf("item %d: expected every kind to fire, got %d", id, len(alerts))
		}
	}

	second := Evaluate(in)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Error("evaluation is not idempotent")
	}
}

func TestStats_JSONRoundTrip(t *testing.T) {
	it := drugItem(1, nil)
	it.Allergy = "S"
	res := Evaluate(Input{Items: []*prescription.Item{it}})

	data, err := json.Marshal(res.Stats)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Stats
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != res.Stats {
		t.Errorf("round trip mismatch: %s", data)
	}
}
