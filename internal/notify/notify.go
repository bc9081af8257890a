// Package notify carries notification events from the attendance core to the
// delivery worker. Delivery itself (mail, push) belongs to the worker's
// Deliverer.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campusattend/internal/queue"
)

// MessageType tags queue messages that carry an Event.
const MessageType = "notification"

// Kind names what happened.
type Kind string

const (
	KindLateArrival       Kind = "late_arrival"
	KindCorrectionOutcome Kind = "correction_outcome"
	KindUpcomingClasses   Kind = "upcoming_classes"
)

// Event is a structured notification for the delivery collaborator.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	FacultyID string    `json:"faculty_id,omitempty"`
	StudentID string    `json:"student_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent stamps a fresh event id.
func NewEvent(kind Kind, facultyID, studentID, message string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		FacultyID: facultyID,
		StudentID: studentID,
		Message:   message,
		CreatedAt: at.UTC(),
	}
}

// QueueDispatcher publishes events onto a queue.
type QueueDispatcher struct {
	q queue.Queue
}

func NewQueueDispatcher(q queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{q: q}
}

// Dispatch enqueues evt for the worker.
func (d *QueueDispatcher) Dispatch(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return d.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Deliverer performs the final delivery of an event.
type Deliverer interface {
	Deliver(ctx context.Context, evt Event) error
}

// LogDeliverer records events in the log instead of sending them.
type LogDeliverer struct {
	log *zap.Logger
}

func NewLogDeliverer(log *zap.Logger) *LogDeliverer {
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) Deliver(_ context.Context, evt Event) error {
	d.log.Info("notification delivered",
		zap.String("event_id", evt.ID),
		zap.String("kind", string(evt.Kind)),
		zap.String("faculty_id", evt.FacultyID),
		zap.String("student_id", evt.StudentID),
		zap.String("message", evt.Message),
	)
	return nil
}

// Run consumes q until ctx ends or the queue closes, delivering every
// notification message. Delivery failures are logged and skipped.
func Run(ctx context.Context, q queue.Queue, d Deliverer, log *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		var evt Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Warn("dropping undecodable event", zap.Error(err))
			continue
		}
		if err := d.Deliver(ctx, evt); err != nil {
			log.Error("delivery failed", zap.String("event_id", evt.ID), zap.Error(err))
		}
	}
	return nil
}
