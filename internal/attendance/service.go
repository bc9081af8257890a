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

// CheckInRequest carries the network evidence of a check-in.
type CheckInRequest struct {
	WifiName  string `json:"wifi_name" validate:"required"`
	BlockName string `json:"block_name" validate:"required"`
}

// Page is one page of a user's attendance history.
type Page struct {
	Records    []Record `json:"data"`
	Page       int      `json:"page"`
	PerPage    int      `json:"per_page"`
	TotalPages int      `json:"total_pages"`
	TotalItems int      `json:"total_items"`
}

// Service manages attendance sessions: check-in, checkout and overrides.
type Service struct {
	store    Store
	resolver *Resolver
	dispatch Dispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewService wires the session manager. dispatch may be nil when no delivery
// collaborator is configured.
func NewService(store Store, resolver *Resolver, dispatch Dispatcher, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, resolver: resolver, dispatch: dispatch, metrics: m, log: log}
}

// CheckIn opens a session for userID at now. A late arrival also stores a
// notification for a faculty member of the student's department; both rows
// are written together.
func (s *Service) CheckIn(ctx context.Context, userID string, req CheckInRequest, now time.Time) (Record, error) {
	req.WifiName = strings.TrimSpace(req.WifiName)
	req.BlockName = strings.TrimSpace(req.BlockName)
	if err := validateRequest(req); err != nil {
		return Record{}, err
	}

	student, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Record{}, apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return Record{}, storageFailure(s.log, "check_in.user", err)
	}

	res, err := s.resolver.Resolve(ctx, userID, now)
	if err != nil {
		return Record{}, storageFailure(s.log, "check_in.resolve", err)
	}

	rec := Record{
		UserID:    userID,
		CheckIn:   now,
		BlockName: req.BlockName,
		Period:    res.Period,
		WifiName:  req.WifiName,
		Status:    StatusPresent,
	}
	var note *Notification
	if res.IsLate {
		rec.Status = StatusLate
		note, err = s.lateNotice(ctx, student, res.Period, now)
		if err != nil {
			return Record{}, storageFailure(s.log, "check_in.faculty", err)
		}
	}

	saved, err := s.store.InsertCheckIn(ctx, rec, note)
	if err != nil {
		return Record{}, storageFailure(s.log, "check_in.insert", err)
	}
	s.metrics.CheckIn(string(saved.Status))

	if note != nil {
		s.log.Info("late arrival",
			zap.String("student_id", userID),
			zap.String("faculty_id", note.FacultyID),
			zap.String("period", res.Period),
		)
		s.hand(ctx, notify.NewEvent(notify.KindLateArrival, note.FacultyID, userID, note.Message, now))
	}
	return saved, nil
}

// lateNotice finds the faculty to alert. Students are matched on their
// department, or on their branch when no department is recorded.
func (s *Service) lateNotice(ctx context.Context, student User, period string, now time.Time) (*Notification, error) {
	dept := student.Department
	if dept == "" {
		dept = student.Branch
	}
	if dept == "" {
		return nil, nil
	}
	faculty, err := s.store.FacultyInDepartment(ctx, dept)
	if err != nil || faculty == nil {
		return nil, err
	}
	return &Notification{
		FacultyID: faculty.UserID,
		StudentID: student.UserID,
		Message:   fmt.Sprintf("Student %s is late for %s class.", student.Name, period),
		CreatedAt: now,
	}, nil
}

// CheckOut closes the most recent open session of userID. The closed record
// is always marked present.
func (s *Service) CheckOut(ctx context.Context, userID string, now time.Time) (Record, error) {
	rec, err := s.store.CloseLatestOpen(ctx, userID, now)
	if errors.Is(err, ErrNoOpenSession) {
		s.metrics.CheckOut("no_session")
		return Record{}, apperr.NoActiveSession()
	}
	if err != nil {
		return Record{}, storageFailure(s.log, "check_out", err)
	}
	s.metrics.CheckOut("closed")
	return rec, nil
}

// OverrideStatus lets faculty set any stored status on a record.
func (s *Service) OverrideStatus(ctx context.Context, actor string, attendanceID int64, status string) (Record, error) {
	if _, err := RequireFaculty(ctx, s.store, actor); err != nil {
		return Record{}, err
	}
	newStatus := Status(strings.ToLower(strings.TrimSpace(status)))
	if !newStatus.Valid() {
		return Record{}, apperr.Validation("invalid status %q: want present, absent or late", status)
	}
	rec, err := s.store.UpdateStatus(ctx, attendanceID, newStatus)
	if errors.Is(err, ErrNotFound) {
		return Record{}, apperr.NotFound("attendance record %d not found", attendanceID)
	}
	if err != nil {
		return Record{}, storageFailure(s.log, "override_status", err)
	}
	return rec, nil
}

// History pages userID's records, newest first.
func (s *Service) History(ctx context.Context, userID string, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}
	records, total, err := s.store.ListRecords(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, storageFailure(s.log, "history", err)
	}
	if records == nil {
		records = []Record{}
	}
	return Page{
		Records:    records,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
		TotalItems: total,
	}, nil
}

// hand passes evt to the delivery collaborator. Failures never reach the
// caller.
func (s *Service) hand(ctx context.Context, evt notify.Event) {
	handOff(ctx, s.dispatch, evt, s.metrics, s.log)
}

func handOff(ctx context.Context, d Dispatcher, evt notify.Event, m *metrics.Metrics, log *zap.Logger) {
	if d == nil {
		return
	}
	if err := d.Dispatch(ctx, evt); err != nil {
		m.Notification(string(evt.Kind), "failed")
		log.Warn("notification dispatch failed",
			zap.String("event_id", evt.ID),
			zap.String("kind", string(evt.Kind)),
			zap.Error(err),
		)
		return
	}
	m.Notification(string(evt.Kind), "dispatched")
}
