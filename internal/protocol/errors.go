package protocol

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError via errors.Is
var ErrConfiguration = errors.New("protocol configuration error")

// Reason classifies a configuration error
type Reason string

const (
	ReasonField    Reason = "unsupported_field"
	ReasonOperator Reason = "unsupported_operator"
	ReasonValue    Reason = "invalid_value"
	ReasonTrigger  Reason = "invalid_trigger"
	ReasonDecode   Reason = "undecodable_definition"
)

// ConfigurationError reports a protocol definition that cannot be evaluated.
// It aborts the evaluation of that protocol only.
type ConfigurationError struct {
	Protocol string
	Variable string
	Reason   Reason
	Detail   string
}

func (e *ConfigurationError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("protocol %q variable %q: %s: %s", e.Protocol, e.Variable, e.Reason, e.Detail)
	}
	return fmt.Sprintf("protocol %q: %s: %s", e.Protocol, e.Reason, e.Detail)
}

// Unwrap makes errors.Is(err, ErrConfiguration) hold
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErr(reason Reason, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason of a configuration error, or "" for other errors
func ReasonOf(err error) Reason {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Reason
	}
	return ""
}
