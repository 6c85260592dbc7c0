/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notifier sends out-of-band alerts when a chat session waits for
// the user to approve tool calls.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("notifier")

// Notification describes one pending approval request.
type Notification struct {
	SessionID string    `json:"sessionId"`
	RequestID string    `json:"requestId"`
	Tools     []string  `json:"tools"`
	Message   string    `json:"message,omitempty"`
	Cluster   string    `json:"cluster,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is a one-line description used as the message title.
func (n Notification) Summary() string {
	return fmt.Sprintf("Approval required: %s", strings.Join(n.Tools, ", "))
}

// Notifier is the interface for sending approval alerts
type Notifier interface {
	// Name returns the notifier identifier
	Name() string
	// Send dispatches a notification
	Send(ctx context.Context, notification Notification) error
}

// Target types.
const (
	TypeWebhook = "webhook"
	TypeSlack   = "slack"
	TypeTeams   = "teams"
)

// Target configures one alert destination.
type Target struct {
	Type string `json:"type" koanf:"type"`
	URL  string `json:"url" koanf:"url"`
}

// Validate checks the type and URL shape. Address resolution is checked at
// send time.
func (t Target) Validate() error {
	switch t.Type {
	case TypeWebhook, TypeSlack, TypeTeams:
	default:
		return fmt.Errorf("unknown notifier type %q", t.Type)
	}
	return checkURL(t.URL)
}

// New builds a notifier for t.
func New(t Target, allowPrivate bool) (Notifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	c := newPoster(t.URL, allowPrivate)
	switch t.Type {
	case TypeSlack:
		return &SlackNotifier{poster: c}, nil
	case TypeTeams:
		return &TeamsNotifier{poster: c}, nil
	default:
		return &WebhookNotifier{poster: c}, nil
	}
}

// Registry manages multiple notifiers
type Registry struct {
	notifiers []Notifier
	timeout   time.Duration
}

// NewRegistry builds a registry from targets.
func NewRegistry(targets []Target, allowPrivate bool) (*Registry, error) {
	r := &Registry{timeout: 10 * time.Second}
	var errs []error
	for i, t := range targets {
		n, err := New(t, allowPrivate)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %d: %w", i, err))
			continue
		}
		r.Register(n)
	}
	return r, errors.Join(errs...)
}

// Register adds a notifier
func (r *Registry) Register(n Notifier) {
	r.notifiers = append(r.notifiers, n)
}

// Len returns the number of registered notifiers
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.notifiers)
}

// NotifyAll sends a notification through all registered notifiers.
// Errors are logged but do not stop other notifiers from firing.
func (r *Registry) NotifyAll(ctx context.Context, notification Notification) error {
	var firstErr error
	for _, n := range r.notifiers {
		if err := n.Send(ctx, notification); err != nil {
			log.Error(err, "notifier failed", "notifier", n.Name(), "requestId", notification.RequestID)
			recordSent(n.Name(), false)
			if firstErr == nil {
				firstErr = fmt.Errorf("notifier %s: %w", n.Name(), err)
			}
			continue
		}
		recordSent(n.Name(), true)
	}
	return firstErr
}

// Go sends notification in the background. It never blocks the caller.
func (r *Registry) Go(notification Notification) {
	if r.Len() == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_ = r.NotifyAll(ctx, notification)
	}()
}
