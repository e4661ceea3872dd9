// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	notificationModel "github.com/carebridge/consent-api/internal/notification/model"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Notification is one call recorded by RecordingNotifier.
type Notification struct {
	RecipientID string
	Type        notificationModel.Type
	RequestID   string
	Title       string
	Message     string
}

// RecordingNotifier records notifications and can be told to fail.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
	Err   *serviceerror.ServiceError
}

// Notify records the call and returns Err.
func (n *RecordingNotifier) Notify(_ context.Context, recipientID string, notificationType notificationModel.Type,
	requestID, title, message string) *serviceerror.ServiceError {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notification{
		RecipientID: recipientID,
		Type:        notificationType,
		RequestID:   requestID,
		Title:       title,
		Message:     message,
	})
	return n.Err
}

// Calls returns a copy of the recorded calls.
func (n *RecordingNotifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.calls))
	copy(out, n.calls)
	return out
}

// Reset clears the recorded calls.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}
