package prescription

import "time"

// Dialysis is the patient's dialysis modality
type Dialysis string

const (
	DialysisNone         Dialysis = ""
	DialysisContinuous   Dialysis = "c"
	DialysisExtended     Dialysis = "x"
	DialysisIntermittent Dialysis = "v"
	DialysisPeritoneal   Dialysis = "p"
)

// Active reports whether any dialysis modality is set
func (d Dialysis) Active() bool { return d != DialysisNone }

// Header is the owning prescription record
type Header struct {
	ID              int64      `json:"id"`
	AdmissionNumber int64      `json:"admissionNumber,omitempty"`
	DepartmentID    string     `json:"idDepartment,omitempty"`
	SegmentID       string     `json:"idSegment,omitempty"`
	AdmissionDate   *time.Time `json:"admissionDate,omitempty"`
	DischargeReason string     `json:"dischargeReason,omitempty"`
	ConciliaStatus  string     `json:"stConcilia,omitempty"`
	Aggregated      bool       `json:"agg"`
	CPOE            bool       `json:"cpoe"`
	Date            time.Time  `json:"date"`
}

// GroupsByDate reports whether protocols must be evaluated once per expiry
// date group. Aggregated records assembled outside CPOE span several days.
func (h *Header) GroupsByDate() bool {
	return h != nil && h.Aggregated && !h.CPOE
}

// Patient carries the patient state the engines read
type Patient struct {
	Age       *float64 `json:"age,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
	ICD       string   `json:"idIcd,omitempty"`
	Dialysis  Dialysis `json:"dialysis,omitempty"`
	Pregnant  bool     `json:"pregnant"`
	Lactating bool     `json:"lactating"`
}

// GroupByExpireDate partitions items by the calendar date of their expiry.
// Items without an expiry share the "" group. Group order follows first
// appearance.
func GroupByExpireDate(items []*Item) ([]string, map[string][]*Item) {
	groups := make(map[string][]*Item)
	var keys []string
	for _, it := range items {
		key := ""
		if it.ExpireDate != nil {
			key = it.ExpireDate.Format(time.DateOnly)
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], it)
	}
	return keys, groups
}
