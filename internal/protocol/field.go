package protocol

import (
	"strconv"
	"strings"

	"github.com/drfirst/go-rxguard/internal/clinical/exam"
)

// Operator compares a context value with a configured value
type Operator string

const (
	OpIn           Operator = "IN"
	OpNotIn        Operator = "NOTIN"
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
)

func parseSetOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "", "IN":
		return OpIn, nil
	case "NOTIN":
		return OpNotIn, nil
	}
	return "", configErr(ReasonOperator, "operator %q is not IN or NOTIN", s)
}

func parseCompareOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case ">":
		return OpGreater, nil
	case ">=":
		return OpGreaterEqual, nil
	case "<":
		return OpLess, nil
	case "<=":
		return OpLessEqual, nil
	case "", "=", "==":
		return OpEqual, nil
	case "!=", "<>":
		return OpNotEqual, nil
	}
	return "", configErr(ReasonOperator, "comparison operator %q is not supported", s)
}

// compare applies op to a and b
func (op Operator) compare(a, b float64) bool {
	switch op {
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	}
	return false
}

// member applies IN or NOTIN to the intersection of have and want
func (op Operator) member(have, want []string) bool {
	hit := intersects(have, want)
	if op == OpNotIn {
		return !hit
	}
	return hit
}

func intersects(have, want []string) bool {
	if len(have) == 0 || len(want) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(want))
	for _, w := range want {
		set[w] = struct{}{}
	}
	for _, h := range have {
		if _, ok := set[h]; ok {
			return true
		}
	}
	return false
}

// Field is a compiled variable condition. The set of variants is closed:
// ListField, ExamField, ScalarField, DischargeReasonField and
// CombinationField.
type Field interface {
	isField()
}

// ListKind names the per-context list a ListField reads
type ListKind string

const (
	ListSubstance  ListKind = "substance"
	ListClass      ListKind = "class"
	ListDrug       ListKind = "idDrug"
	ListRoute      ListKind = "route"
	ListDepartment ListKind = "idDepartment"
	ListSegment    ListKind = "idSegment"
	ListICD        ListKind = "idIcd"
)

// ListField tests membership of a context list against configured values
type ListField struct {
	List     ListKind
	Operator Operator
	Values   []string
}

// ExamField compares an exam value, optionally rejecting stale results
type ExamField struct {
	Type       exam.Type
	PeriodDays *int
	Operator   Operator
	Value      float64
}

// ScalarKind names the context scalar a ScalarField reads
type ScalarKind string

const (
	ScalarAge           ScalarKind = "age"
	ScalarWeight        ScalarKind = "weight"
	ScalarAdmissionTime ScalarKind = "admissionTime"
	ScalarConcilia      ScalarKind = "stConcilia"
	ScalarNoteStats     ScalarKind = "cn_stats"
)

// ScalarField compares a single context scalar. Key selects the note stats
// entry for ScalarNoteStats.
type ScalarField struct {
	Scalar   ScalarKind
	Key      string
	Operator Operator
	Value    string
}

// DischargeReasonField matches when any value is a case-insensitive
// substring of the discharge reason
type DischargeReasonField struct {
	Values []string
}

// NumericCondition is an optional numeric comparison inside a combination
type NumericCondition struct {
	Operator Operator
	Value    float64
}

// CombinationField matches items satisfying every supplied sub-condition
type CombinationField struct {
	Substances []string
	Drugs      []string
	Classes    []string
	Routes     []string
	Dose       *NumericCondition
	Frequency  *NumericCondition
	Period     *NumericCondition
	Notes      string
}

func (ListField) isField()            {}
func (ExamField) isField()            {}
func (ScalarField) isField()          {}
func (DischargeReasonField) isField() {}
func (CombinationField) isField()     {}

const noteStatsPrefix = "cn_stats."

// compileField turns a variable definition into its Field variant
func compileField(def VariableDefinition) (Field, error) {
	switch kind := def.Field; {
	case kind == string(ListSubstance), kind == string(ListClass), kind == string(ListDrug),
		kind == string(ListRoute), kind == string(ListDepartment), kind == string(ListSegment),
		kind == string(ListICD):
		op, err := parseSetOperator(def.Operator)
		if err != nil {
			return nil, err
		}
		values, err := toStrings(def.Value)
		if err != nil {
			return nil, configErr(ReasonValue, "%v", err)
		}
		return ListField{List: ListKind(kind), Operator: op, Values: values}, nil

	case kind == "exam":
		if def.ExamType == "" {
			return nil, configErr(ReasonValue, "exam variable without examType")
		}
		op, err := parseCompareOperator(def.Operator)
		if err != nil {
			return nil, err
		}
		v, ok := toFloat(def.Value)
		if !ok {
			return nil, configErr(ReasonValue, "exam value %v is not numeric", def.Value)
		}
		return ExamField{Type: exam.ParseType(def.ExamType), PeriodDays: def.ExamPeriod, Operator: op, Value: v}, nil

	case kind == string(ScalarAge), kind == string(ScalarWeight), kind == string(ScalarAdmissionTime):
		op, err := parseCompareOperator(def.Operator)
		if err != nil {
			return nil, err
		}
		v, ok := toFloat(def.Value)
		if !ok {
			return nil, configErr(ReasonValue, "%s value %v is not numeric", kind, def.Value)
		}
		return ScalarField{Scalar: ScalarKind(kind), Operator: op, Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil

	case kind == string(ScalarConcilia), strings.HasPrefix(kind, noteStatsPrefix):
		op, err := parseCompareOperator(def.Operator)
		if err != nil {
			return nil, err
		}
		v, err := toString(def.Value)
		if err != nil {
			return nil, configErr(ReasonValue, "%v", err)
		}
		if kind == string(ScalarConcilia) {
			return ScalarField{Scalar: ScalarConcilia, Operator: op, Value: v}, nil
		}
		key := strings.TrimPrefix(kind, noteStatsPrefix)
		if key == "" {
			return nil, configErr(ReasonField, "cn_stats field without a stats type")
		}
		return ScalarField{Scalar: ScalarNoteStats, Key: key, Operator: op, Value: v}, nil

	case kind == "dischargeReason":
		values, err := toStrings(def.Value)
		if err != nil {
			return nil, configErr(ReasonValue, "%v", err)
		}
		return DischargeReasonField{Values: values}, nil

	case kind == "combination":
		return compileCombination(def)
	}
	return nil, configErr(ReasonField, "field %q is not supported", def.Field)
}

func compileCombination(def VariableDefinition) (Field, error) {
	c := CombinationField{
		Substances: def.Substance,
		Drugs:      def.Drug,
		Classes:    def.Class,
		Routes:     def.Route,
		Notes:      def.Notes,
	}
	var err error
	if c.Dose, err = numericCondition(def.Dose, def.DoseOperator); err != nil {
		return nil, err
	}
	if c.Frequency, err = numericCondition(def.Frequency, def.FrequencyOperator); err != nil {
		return nil, err
	}
	if c.Period, err = numericCondition(def.Period, def.PeriodOperator); err != nil {
		return nil, err
	}
	return c, nil
}

func numericCondition(v *float64, op string) (*NumericCondition, error) {
	if v == nil {
		return nil, nil
	}
	parsed, err := parseCompareOperator(op)
	if err != nil {
		return nil, err
	}
	return &NumericCondition{Operator: parsed, Value: *v}, nil
}
