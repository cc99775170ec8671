// Package protocol evaluates data-driven clinical protocols: named variables
// resolved against a prescription context and combined by a boolean trigger.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Definition is a protocol as stored by the configuration service
type Definition struct {
	ID        int64                  `json:"id" yaml:"id"`
	Name      string                 `json:"name" yaml:"name"`
	Variables []VariableDefinition   `json:"variables" yaml:"variables"`
	Trigger   string                 `json:"trigger" yaml:"trigger"`
	Result    map[string]interface{} `json:"result,omitempty" yaml:"result,omitempty"`

	// DecodeErr is set by sources that could not read the stored document;
	// Compile reports it as a configuration error
	DecodeErr error `json:"-" yaml:"-"`
}

// VariableDefinition is one named condition of a protocol
type VariableDefinition struct {
	Name     string      `json:"name" yaml:"name"`
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	ExamType   string `json:"examType,omitempty" yaml:"examType,omitempty"`
	ExamPeriod *int   `json:"examPeriod,omitempty" yaml:"examPeriod,omitempty"`

	// combination sub-conditions; only the supplied ones apply
	Substance         StringList `json:"substance,omitempty" yaml:"substance,omitempty"`
	Drug              StringList `json:"drug,omitempty" yaml:"drug,omitempty"`
	Class             StringList `json:"class,omitempty" yaml:"class,omitempty"`
	Route             StringList `json:"route,omitempty" yaml:"route,omitempty"`
	Dose              *float64   `json:"dose,omitempty" yaml:"dose,omitempty"`
	DoseOperator      string     `json:"doseOperator,omitempty" yaml:"doseOperator,omitempty"`
	Frequency         *float64   `json:"frequencyday,omitempty" yaml:"frequencyday,omitempty"`
	FrequencyOperator string     `json:"frequencydayOperator,omitempty" yaml:"frequencydayOperator,omitempty"`
	Period            *float64   `json:"period,omitempty" yaml:"period,omitempty"`
	PeriodOperator    string     `json:"periodOperator,omitempty" yaml:"periodOperator,omitempty"`
	Notes             string     `json:"notes,omitempty" yaml:"notes,omitempty"`

	Message *MessageDefinition `json:"message,omitempty" yaml:"message,omitempty"`
}

// MessageDefinition emits Value when the variable resolves to If
type MessageDefinition struct {
	If    bool   `json:"if" yaml:"if"`
	Value string `json:"value" yaml:"value"`
}

// StringList decodes a scalar or a list of strings or numbers into strings
type StringList []string

// UnmarshalJSON accepts "a", 1, ["a", 1]
func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := toStrings(raw)
	if err != nil {
		return err
	}
	*l = out
	return nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out, err := toStrings(raw)
	if err != nil {
		return err
	}
	*l = out
	return nil
}

func toStrings(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, err := toString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return t, nil
	default:
		s, err := toString(t)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported list element %T", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []interface{}:
		if len(t) == 1 {
			return toFloat(t[0])
		}
	}
	return 0, false
}
