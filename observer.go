package persistunit

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventSource is the CloudEvents source of every pipeline event.
const EventSource = "persistunit/pipeline"

// EventType constants for pipeline events, in reverse domain notation.
const (
	EventTypeTestStarted      = "com.persistunit.test.started"
	EventTypeTestPassed       = "com.persistunit.test.passed"
	EventTypeTestFailed       = "com.persistunit.test.failed"
	EventTypeDecoratorEntered = "com.persistunit.decorator.entered"
	EventTypeDecoratorExited  = "com.persistunit.decorator.exited"
	EventTypeTeardownFailed   = "com.persistunit.teardown.failed"
	EventTypeFixtureBefore    = "com.persistunit.fixture.before"
	EventTypeFixtureAfter     = "com.persistunit.fixture.after"
)

// Observer is notified of pipeline events. Observers are called synchronously
// on the test goroutine and should return quickly.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

func (o *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return o.handler(ctx, event)
}

func (o *FunctionalObserver) ObserverID() string { return o.id }

// EventData is the payload of pipeline events.
type EventData struct {
	ExecutionID string  `json:"executionId,omitempty"`
	Class       string  `json:"class,omitempty"`
	Method      string  `json:"method,omitempty"`
	Decorator   string  `json:"decorator,omitempty"`
	Priority    int     `json:"priority,omitempty"`
	Error       string  `json:"error,omitempty"`
	DurationMS  float64 `json:"durationMs,omitempty"`
}

// NewCloudEvent creates a CloudEvent with a time-ordered ID.
func NewCloudEvent(eventType string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(EventSource)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// DecodeEventData extracts the EventData payload of a pipeline event.
func DecodeEventData(event cloudevents.Event) (EventData, error) {
	var data EventData
	if err := event.DataAs(&data); err != nil {
		return EventData{}, fmt.Errorf("decoding event %s: %w", event.ID(), err)
	}
	return data, nil
}

func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
