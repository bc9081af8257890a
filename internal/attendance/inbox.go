package attendance

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
)

// Inbox exposes the notifications addressed to a faculty member.
type Inbox struct {
	store Store
	log   *zap.Logger
}

func NewInbox(store Store, log *zap.Logger) *Inbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbox{store: store, log: log}
}

// Unread returns actor's unread notifications, newest first.
func (i *Inbox) Unread(ctx context.Context, actor string) ([]Notification, error) {
	if _, err := RequireFaculty(ctx, i.store, actor); err != nil {
		return nil, err
	}
	list, err := i.store.ListNotifications(ctx, actor, true)
	if err != nil {
		return nil, storageFailure(i.log, "notifications", err)
	}
	if list == nil {
		list = []Notification{}
	}
	return list, nil
}

// MarkRead acknowledges one of actor's notifications.
func (i *Inbox) MarkRead(ctx context.Context, actor string, id int64) error {
	if _, err := RequireFaculty(ctx, i.store, actor); err != nil {
		return err
	}
	err := i.store.MarkNotificationRead(ctx, id, actor)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("notification %d not found", id)
	}
	if err != nil {
		return storageFailure(i.log, "mark_read", err)
	}
	return nil
}
