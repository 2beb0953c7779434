// Package notify is the outbound alert surface. Critical exceptions
// and failed ERP posts raise an event; everything else stays in the
// queue and the logs.
package notify

import (
	"context"
	"time"

	"ap-reconciliation-engine/pkg/logger"
)

// Kind classifies a notification event
type Kind string

const (
	KindCriticalException Kind = "critical_exception"
	KindFailedPost        Kind = "failed_post"
)

// Event is one outbound notification
type Event struct {
	OrganizationID string    `json:"organization_id"`
	Kind           Kind      `json:"kind"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	Subject        string    `json:"subject"`
	Detail         string    `json:"detail,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier delivers events to an external channel. Delivery is
// best-effort; a failed notification never fails the operation that
// raised it.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event *Event) error { return nil }

// LogNotifier writes events to the structured log. It is the default
// channel when no external integration is configured.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.WithComponent("notify")}
}

// Notify logs the event at warning level
func (n *LogNotifier) Notify(ctx context.Context, event *Event) error {
	n.log.WithFields(logger.Fields{
		"organization_id": event.OrganizationID,
		"kind":            string(event.Kind),
		"entity_type":     event.EntityType,
		"entity_id":       event.EntityID,
	}).Warn(event.Subject)
	return nil
}
