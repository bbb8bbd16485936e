// Package notify publishes event notifications. Failures are logged by
// callers and never affect detection correctness or batch success.
package notify

import (
	"context"
	"log"
)

// Notifier publishes a subject/body message to a notification channel.
type Notifier interface {
	Publish(ctx context.Context, subject, body string) error
}

// LogNotifier writes notifications to the process log. Used when no
// topic is configured and during backlog reprocessing, where
// re-notifying on historical events would be noise.
type LogNotifier struct {
	Logger *log.Logger
}

// Publish logs the notification.
func (n *LogNotifier) Publish(ctx context.Context, subject, body string) error {
	n.Logger.Printf("notification: %s\n%s", subject, body)
	return nil
}

// Discard swallows notifications entirely.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(ctx context.Context, subject, body string) error { return nil }
