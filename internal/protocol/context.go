package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/go-rxguard/internal/clinical/exam"
	"github.com/drfirst/go-rxguard/internal/domain/prescription"
)

// ContextInput is the raw material of one evaluation pass
type ContextInput struct {
	Items     []*prescription.Item
	Exams     exam.Snapshot
	Header    *prescription.Header
	Patient   *prescription.Patient
	NoteStats map[string]float64
	Now       time.Time
}

// Context resolves fields for one evaluation pass. The related item
// accumulator is shared by every protocol evaluated against it.
type Context struct {
	in ContextInput

	items      []*prescription.Item
	substances []string
	classes    []string
	drugs      []string
	routes     []string

	related     []int64
	relatedSeen map[int64]struct{}
}

// NewContext keeps the drug, solution, procedure and diet items that are not
// suspended and precomputes their lists.
func NewContext(in ContextInput) *Context {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	c := &Context{
		in:          in,
		items:       prescription.Filter(in.Items, prescription.ProtocolSources...),
		relatedSeen: make(map[int64]struct{}),
	}
	for _, it := range c.items {
		if s := it.SubstanceKey(); s != "" {
			c.substances = append(c.substances, s)
		}
		if it.SubstanceClass != "" {
			c.classes = append(c.classes, it.SubstanceClass)
		}
		c.drugs = append(c.drugs, it.DrugKey())
		if it.Route != "" {
			c.routes = append(c.routes, it.Route)
		}
	}
	return c
}

// Items returns the items visible to protocols
func (c *Context) Items() []*prescription.Item { return c.items }

// RelatedItems returns the ids of items that satisfied a combination, in
// first-match order
func (c *Context) RelatedItems() []int64 {
	out := make([]int64, len(c.related))
	copy(out, c.related)
	return out
}

func (c *Context) relate(id int64) {
	if _, ok := c.relatedSeen[id]; ok {
		return
	}
	c.relatedSeen[id] = struct{}{}
	c.related = append(c.related, id)
}

// Resolve evaluates a compiled field against the context
func (c *Context) Resolve(f Field) (bool, error) {
	switch v := f.(type) {
	case ListField:
		return c.resolveList(v)
	case ExamField:
		return c.resolveExam(v), nil
	case ScalarField:
		return c.resolveScalar(v)
	case DischargeReasonField:
		return c.resolveDischargeReason(v), nil
	case CombinationField:
		return c.resolveCombination(v), nil
	}
	return false, configErr(ReasonField, "field %T is not supported", f)
}

func (c *Context) resolveList(f ListField) (bool, error) {
	var have []string
	switch f.List {
	case ListSubstance:
		have = c.substances
	case ListClass:
		have = c.classes
	case ListDrug:
		have = c.drugs
	case ListRoute:
		have = c.routes
	case ListDepartment:
		have = singleton(c.header().DepartmentID)
	case ListSegment:
		have = singleton(c.header().SegmentID)
	case ListICD:
		have = singleton(c.patient().ICD)
	default:
		return false, configErr(ReasonField, "list %q is not supported", f.List)
	}
	return f.Operator.member(have, f.Values), nil
}

func (c *Context) resolveExam(f ExamField) bool {
	r, ok := c.in.Exams.Get(f.Type)
	if !ok {
		return false
	}
	if f.PeriodDays != nil && c.in.Exams.OlderThan(f.Type, *f.PeriodDays, c.in.Now) {
		return false
	}
	return f.Operator.compare(r.Value, f.Value)
}

func (c *Context) resolveScalar(f ScalarField) (bool, error) {
	switch f.Scalar {
	case ScalarAge:
		return c.compareNumber(c.age(), f)
	case ScalarWeight:
		return c.compareNumber(c.weight(), f)
	case ScalarAdmissionTime:
		h := c.admissionHours()
		return c.compareNumber(h, f)
	case ScalarNoteStats:
		v, ok := c.in.NoteStats[f.Key]
		if !ok {
			return false, nil
		}
		return c.compareNumber(&v, f)
	case ScalarConcilia:
		status := c.header().ConciliaStatus
		if status == "" {
			return false, nil
		}
		return compareScalar(f.Operator, status, f.Value), nil
	}
	return false, configErr(ReasonField, "scalar %q is not supported", f.Scalar)
}

func (c *Context) compareNumber(have *float64, f ScalarField) (bool, error) {
	if have == nil {
		return false, nil
	}
	want, err := strconv.ParseFloat(f.Value, 64)
	if err != nil {
		return false, configErr(ReasonValue, "%s value %q is not numeric", f.Scalar, f.Value)
	}
	return f.Operator.compare(*have, want), nil
}

// compareScalar compares numerically when both sides are numbers and by
// case-insensitive equality otherwise
func compareScalar(op Operator, have, want string) bool {
	a, errA := strconv.ParseFloat(have, 64)
	b, errB := strconv.ParseFloat(want, 64)
	if errA == nil && errB == nil {
		return op.compare(a, b)
	}
	eq := strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want))
	switch op {
	case OpEqual:
		return eq
	case OpNotEqual:
		return !eq
	}
	return false
}

func (c *Context) resolveDischargeReason(f DischargeReasonField) bool {
	reason := strings.ToLower(c.header().DischargeReason)
	if reason == "" {
		return false
	}
	for _, v := range f.Values {
		if v != "" && strings.Contains(reason, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func (c *Context) resolveCombination(f CombinationField) bool {
	matched := false
	for _, it := range c.items {
		if !combinationMatches(f, it) {
			continue
		}
		matched = true
		c.relate(it.ID)
	}
	return matched
}

func combinationMatches(f CombinationField, it *prescription.Item) bool {
	if len(f.Substances) > 0 && !intersects(singleton(it.SubstanceKey()), f.Substances) {
		return false
	}
	if len(f.Drugs) > 0 && !intersects(singleton(it.DrugKey()), f.Drugs) {
		return false
	}
	if len(f.Classes) > 0 && !intersects(singleton(it.SubstanceClass), f.Classes) {
		return false
	}
	if len(f.Routes) > 0 && !intersects(singleton(it.Route), f.Routes) {
		return false
	}
	if !numericMatches(f.Dose, it.Dose) {
		return false
	}
	if !numericMatches(f.Frequency, it.Frequency) {
		return false
	}
	if !numericMatches(f.Period, it.Period) {
		return false
	}
	if f.Notes != "" && !strings.Contains(strings.ToLower(it.Notes), strings.ToLower(f.Notes)) {
		return false
	}
	return true
}

func numericMatches(cond *NumericCondition, v *float64) bool {
	if cond == nil {
		return true
	}
	if v == nil {
		return false
	}
	return cond.Operator.compare(*v, cond.Value)
}

func (c *Context) header() *prescription.Header {
	if c.in.Header == nil {
		return &prescription.Header{}
	}
	return c.in.Header
}

func (c *Context) patient() *prescription.Patient {
	if c.in.Patient == nil {
		return &prescription.Patient{}
	}
	return c.in.Patient
}

func (c *Context) age() *float64 {
	if p := c.patient(); p.Age != nil {
		return p.Age
	}
	if v, ok := c.in.Exams.Value(exam.Age); ok {
		return &v
	}
	return nil
}

func (c *Context) weight() *float64 {
	if p := c.patient(); p.Weight != nil {
		return p.Weight
	}
	if v, ok := c.in.Exams.Value(exam.Weight); ok {
		return &v
	}
	return nil
}

func (c *Context) admissionHours() *float64 {
	admitted := c.header().AdmissionDate
	if admitted == nil {
		return nil
	}
	h := c.in.Now.Sub(*admitted).Hours()
	return &h
}

func singleton(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

