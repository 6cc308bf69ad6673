// Package events carries domain notifications to realtime clients, the
// Kafka log and outbound webhooks. Delivery is best effort; callers log
// failures and never roll back the write that produced the event.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	TypeVisitUpdate      = "visit-update"
	TypeEmergencyAlert   = "emergency-alert"
	TypeAlertAcknowledge = "alert-acknowledged"
	TypeAlertResolved    = "alert-resolved"
	TypePatientCreated   = "patient-registered"
)

// Message is one event. Rooms names the realtime rooms that receive it;
// Key is the partition key for ordered sinks.
type Message struct {
	Type      string      `json:"type"`
	Key       string      `json:"-"`
	Rooms     []string    `json:"-"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher delivers a message to one sink.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// SupervisorRoom is the room supervisors of a district join.
func SupervisorRoom(district string) string { return "supervisor-" + district }

// WorkerRoom is the room ASHA workers of a block join.
func WorkerRoom(block string) string { return "health-workers-" + block }

// Noop discards every message.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }

// Multi fans a message out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter forwards only the listed message types to Next.
type Filter struct {
	Types []string
	Next  Publisher
}

func (f Filter) Publish(ctx context.Context, msg Message) error {
	for _, t := range f.Types {
		if t == msg.Type {
			return f.Next.Publish(ctx, msg)
		}
	}
	return nil
}

// Recorder keeps published messages in memory. Tests use it as a sink.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
	return r.Err
}

// OfType returns the recorded messages with the given type.
func (r *Recorder) OfType(t string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.Messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
