package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle event of a reconciliation run, delivered to
// subscribers such as the run-history store.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id,omitempty"`

	// Collection and Name identify the entity for operation events.
	Collection string `json:"collection,omitempty"`
	Name       string `json:"name,omitempty"`

	Message string `json:"message"`
	Level   string `json:"level"`
}

// Event types.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeOperationApplied = "operation.applied"
	EventTypeOperationFailed  = "operation.failed"
	EventTypeOperationSkipped = "operation.skipped"
	EventTypeDriftDetected    = "drift.detected"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles one delivered event.
type EventSubscriber func(event Event)

// EventPublisher fans events out to subscribers synchronously, in
// subscription order. Subscribers must not block.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []EventSubscriber
}

// NewEventPublisher creates an empty publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Subscribe registers a subscriber for all future events.
func (ep *EventPublisher) Subscribe(s EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, s)
}

// Publish stamps and delivers one event.
func (ep *EventPublisher) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	subscribers := ep.subscribers
	ep.mu.RUnlock()
	for _, s := range subscribers {
		s(event)
	}
}

// PublishRunStarted emits a run start event.
func (ep *EventPublisher) PublishRunStarted(runID string, dryRun bool) {
	mode := "apply"
	if dryRun {
		mode = "dry-run"
	}
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s started (%s)", runID, mode),
		Level:   EventLevelInfo,
	})
}

// PublishRunCompleted emits a run completion event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) {
	level := EventLevelInfo
	eventType := EventTypeRunCompleted
	if status == "failed" {
		level = EventLevelError
		eventType = EventTypeRunFailed
	}
	ep.Publish(Event{
		Type:    eventType,
		RunID:   runID,
		Message: fmt.Sprintf("run %s finished with status %s in %s", runID, status, duration.Round(time.Millisecond)),
		Level:   level,
	})
}

// PublishOperation emits one operation outcome event.
func (ep *EventPublisher) PublishOperation(runID, collection, name, kind, status, detail string) {
	eventType := EventTypeOperationApplied
	level := EventLevelInfo
	switch status {
	case "failed":
		eventType = EventTypeOperationFailed
		level = EventLevelError
	case "skipped":
		eventType = EventTypeOperationSkipped
		level = EventLevelWarning
	}
	msg := fmt.Sprintf("%s %s/%s %s", kind, collection, name, status)
	if detail != "" {
		msg += ": " + detail
	}
	ep.Publish(Event{
		Type:       eventType,
		RunID:      runID,
		Collection: collection,
		Name:       name,
		Message:    msg,
		Level:      level,
	})
}

// PublishDriftDetected emits a drift event from watch mode.
func (ep *EventPublisher) PublishDriftDetected(creates, updates, deletes int) {
	ep.Publish(Event{
		Type:    EventTypeDriftDetected,
		Message: fmt.Sprintf("drift detected: %d to create, %d to update, %d to delete", creates, updates, deletes),
		Level:   EventLevelWarning,
	})
}
