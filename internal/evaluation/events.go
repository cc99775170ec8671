package evaluation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names an evaluation event
type EventType string

const (
	EventEvaluationCompleted EventType = "EvaluationCompleted"
	EventEvaluationFailed    EventType = "EvaluationFailed"
)

// Event is the envelope published for every processed request
type Event struct {
	ID             string          `json:"id"`
	EventType      EventType       `json:"event_type"`
	PrescriptionID int64           `json:"prescription_id,omitempty"`
	EventData      json.RawMessage `json:"event_data,omitempty"`
	Error          string          `json:"error,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
}

// NewCompletedEvent wraps a response
func NewCompletedEvent(resp *Response, correlationID string) (*Event, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:             uuid.New().String(),
		EventType:      EventEvaluationCompleted,
		PrescriptionID: resp.PrescriptionID,
		EventData:      data,
		Timestamp:      time.Now().UTC(),
		CorrelationID:  correlationID,
	}, nil
}

// NewFailedEvent reports a request that could not be evaluated
func NewFailedEvent(prescriptionID int64, cause error, correlationID string) *Event {
	return &Event{
		ID:             uuid.New().String(),
		EventType:      EventEvaluationFailed,
		PrescriptionID: prescriptionID,
		Error:          cause.Error(),
		Timestamp:      time.Now().UTC(),
		CorrelationID:  correlationID,
	}
}
