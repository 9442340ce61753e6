package alert

import (
	"context"
	"errors"
	"fmt"
)

// Notification is the data sent to report destinations. It covers
// refresh completion reports and data-quality notices.
type Notification struct {
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	SnapshotID uint64  `json:"snapshot_id,omitempty"`
	Samples    int64   `json:"samples,omitempty"`
	Violations int     `json:"violations,omitempty"`
	Entities   int     `json:"entities,omitempty"`
	Duration   float64 `json:"duration_seconds,omitempty"`
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
