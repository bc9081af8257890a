package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/metrics"
	"campusattend/internal/notify"
)

// CorrectionInput is a student's dispute of one of their records.
type CorrectionInput struct {
	AttendanceID int64  `json:"attendance_id" validate:"required,gt=0"`
	Reason       string `json:"reason" validate:"required,max=256"`
}

// Corrections runs the pending → approved/rejected workflow.
type Corrections struct {
	store    Store
	dispatch Dispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewCorrections(store Store, dispatch Dispatcher, m *metrics.Metrics, log *zap.Logger) *Corrections {
	if log == nil {
		log = zap.NewNop()
	}
	return &Corrections{store: store, dispatch: dispatch, metrics: m, log: log}
}

// Submit files a pending request. The record must belong to userID and may
// carry only one request.
func (c *Corrections) Submit(ctx context.Context, userID string, in CorrectionInput, now time.Time) (Correction, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validateRequest(in); err != nil {
		return Correction{}, err
	}

	rec, err := c.store.GetRecord(ctx, in.AttendanceID)
	if errors.Is(err, ErrNotFound) {
		return Correction{}, apperr.NotFound("attendance record %d not found", in.AttendanceID)
	}
	if err != nil {
		return Correction{}, storageFailure(c.log, "submit_correction.record", err)
	}
	if rec.UserID != userID {
		return Correction{}, apperr.Forbidden("attendance record %d belongs to another user", in.AttendanceID)
	}

	saved, err := c.store.InsertCorrection(ctx, Correction{
		UserID:       userID,
		AttendanceID: in.AttendanceID,
		Reason:       in.Reason,
		Status:       CorrectionPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, ErrDuplicate) {
		return Correction{}, apperr.Validation("a correction was already requested for record %d", in.AttendanceID)
	}
	if err != nil {
		return Correction{}, storageFailure(c.log, "submit_correction", err)
	}
	c.metrics.Correction("submitted")
	return saved, nil
}

// Pending lists requests awaiting a decision.
func (c *Corrections) Pending(ctx context.Context, actor string) ([]Correction, error) {
	if _, err := RequireFaculty(ctx, c.store, actor); err != nil {
		return nil, err
	}
	list, err := c.store.ListCorrections(ctx, CorrectionPending)
	if err != nil {
		return nil, storageFailure(c.log, "pending_corrections", err)
	}
	if list == nil {
		list = []Correction{}
	}
	return list, nil
}

// Decide approves or rejects a pending request. Approval marks the disputed
// record present.
func (c *Corrections) Decide(ctx context.Context, actor string, id int64, approve bool, now time.Time) (Correction, error) {
	if _, err := RequireFaculty(ctx, c.store, actor); err != nil {
		return Correction{}, err
	}

	status := CorrectionRejected
	var recordStatus *Status
	if approve {
		status = CorrectionApproved
		present := StatusPresent
		recordStatus = &present
	}

	decided, err := c.store.ResolveCorrection(ctx, id, status, recordStatus, now)
	switch {
	case errors.Is(err, ErrNotFound):
		return Correction{}, apperr.NotFound("correction request %d not found", id)
	case errors.Is(err, ErrNotPending):
		return Correction{}, apperr.Validation("correction request %d is no longer pending", id)
	case err != nil:
		return Correction{}, storageFailure(c.log, "decide_correction", err)
	}
	c.metrics.Correction(string(status))

	msg := fmt.Sprintf("Your correction request for attendance record %d was %s.", decided.AttendanceID, status)
	handOff(ctx, c.dispatch, notify.NewEvent(notify.KindCorrectionOutcome, actor, decided.UserID, msg, now), c.metrics, c.log)
	return decided, nil
}
