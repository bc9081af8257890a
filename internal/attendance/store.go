package attendance

import (
	"context"
	"errors"
	"time"

	"campusattend/internal/notify"
)

// Errors returned by Store implementations.
var (
	ErrNotFound      = errors.New("not found")
	ErrNoOpenSession = errors.New("no open session")
	ErrDuplicate     = errors.New("duplicate")
	ErrNotPending    = errors.New("correction already decided")
)

// UserStore reads and creates users.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (User, error)
	// FacultyInDepartment returns the faculty member with the lowest user id
	// in department, or nil when there is none.
	FacultyInDepartment(ctx context.Context, department string) (*User, error)
	CreateUser(ctx context.Context, u User) (User, error)
}

// SlotStore persists timetable slots.
type SlotStore interface {
	SlotsForDay(ctx context.Context, userID string, day time.Weekday) ([]TimeSlot, error)
	SlotsForUser(ctx context.Context, userID string) ([]TimeSlot, error)
	// UpsertSlot inserts s or replaces the slot with the same user, day and
	// period.
	UpsertSlot(ctx context.Context, s TimeSlot) (TimeSlot, error)
}

// RecordStore persists attendance records.
type RecordStore interface {
	// InsertCheckIn writes rec and, when n is non-nil, the notification in a
	// single transaction.
	InsertCheckIn(ctx context.Context, rec Record, n *Notification) (Record, error)
	// CloseLatestOpen atomically closes the most recent open record of
	// userID. It returns ErrNoOpenSession when nothing is open, including
	// when a concurrent caller closed it first.
	CloseLatestOpen(ctx context.Context, userID string, now time.Time) (Record, error)
	GetRecord(ctx context.Context, id int64) (Record, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (Record, error)
	// ListRecords pages a user's records newest first and returns the total.
	ListRecords(ctx context.Context, userID string, limit, offset int) ([]Record, int, error)
}

// CorrectionStore persists correction requests.
type CorrectionStore interface {
	// InsertCorrection returns ErrDuplicate when the record already has one.
	InsertCorrection(ctx context.Context, c Correction) (Correction, error)
	ListCorrections(ctx context.Context, status CorrectionStatus) ([]Correction, error)
	// ResolveCorrection moves a pending request to status and, when
	// recordStatus is set, rewrites the disputed record in the same
	// transaction.
	ResolveCorrection(ctx context.Context, id int64, status CorrectionStatus, recordStatus *Status, at time.Time) (Correction, error)
}

// NotificationStore reads and acknowledges faculty notifications.
type NotificationStore interface {
	ListNotifications(ctx context.Context, facultyID string, unreadOnly bool) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, facultyID string) error
}

// Store is the full persistence contract of this package.
type Store interface {
	UserStore
	SlotStore
	RecordStore
	CorrectionStore
	NotificationStore
}

// Dispatcher hands events to the external delivery collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt notify.Event) error
}
