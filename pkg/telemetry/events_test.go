package telemetry

import (
	"testing"
	"time"
)

func TestPublishStampsAndDelivers(t *testing.T) {
	ep := NewEventPublisher()
	var got []Event
	ep.Subscribe(func(ev Event) { got = append(got, ev) })

	ep.Publish(Event{Type: EventTypeRunStarted, Message: "x"})
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].ID == "" {
		t.Error("event id not stamped")
	}
	if got[0].Timestamp.IsZero() {
		t.Error("event timestamp not stamped")
	}
}

func TestSubscribersReceiveInOrder(t *testing.T) {
	ep := NewEventPublisher()
	var order []string
	ep.Subscribe(func(Event) { order = append(order, "first") })
	ep.Subscribe(func(Event) { order = append(order, "second") })

	ep.Publish(Event{Type: EventTypeDriftDetected})
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v", order)
	}
}

func TestPublishOperationClassifiesLevels(t *testing.T) {
	cases := []struct {
		status    string
		eventType string
		level     string
	}{
		{"succeeded", EventTypeOperationApplied, EventLevelInfo},
		{"failed", EventTypeOperationFailed, EventLevelError},
		{"skipped", EventTypeOperationSkipped, EventLevelWarning},
	}
	for _, tc := range cases {
		ep := NewEventPublisher()
		var got Event
		ep.Subscribe(func(ev Event) { got = ev })

		ep.PublishOperation("run-1", "network", "corp", "create", tc.status, "")
		if got.Type != tc.eventType {
			t.Errorf("%s: type = %s, want %s", tc.status, got.Type, tc.eventType)
		}
		if got.Level != tc.level {
			t.Errorf("%s: level = %s, want %s", tc.status, got.Level, tc.level)
		}
		if got.Collection != "network" || got.Name != "corp" {
			t.Errorf("%s: target = %s/%s", tc.status, got.Collection, got.Name)
		}
	}
}

func TestRunCompletedFailureBecomesRunFailed(t *testing.T) {
	ep := NewEventPublisher()
	var got Event
	ep.Subscribe(func(ev Event) { got = ev })

	ep.PublishRunCompleted("run-1", "failed", 2*time.Second)
	if got.Type != EventTypeRunFailed {
		t.Errorf("type = %s, want %s", got.Type, EventTypeRunFailed)
	}
	if got.Level != EventLevelError {
		t.Errorf("level = %s, want error", got.Level)
	}
}
