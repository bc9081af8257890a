package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/memstore"
	"campusattend/internal/notify"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, evt notify.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, evt)
	return nil
}

func (d *recordingDispatcher) sent() []notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Event(nil), d.events...)
}

type fixture struct {
	store    *memstore.Store
	dispatch *recordingDispatcher
	svc      *attendance.Service
}

// 2024-03-04 is a Monday.
func at(h, m, s int) time.Time {
	return time.Date(2024, 3, 4, h, m, s, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	users := []attendance.User{
		{UserID: "FAC001", Name: "Dr. Smith", Role: attendance.RoleFaculty, Email: "smith@college.edu", Department: "CSE"},
		{UserID: "FAC000", Name: "Dr. Jones", Role: attendance.RoleFaculty, Email: "jones@college.edu", Department: "ECE"},
		{UserID: "STU001", Name: "John Doe", Role: attendance.RoleStudent, Email: "john@college.edu", Year: "3", Branch: "CSE"},
		{UserID: "STU002", Name: "Jane Roe", Role: attendance.RoleStudent, Email: "jane@college.edu", Year: "3", Branch: "MECH"},
	}
	for _, u := range users {
		_, err := store.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	for _, uid := range []string{"STU001", "STU002"} {
		_, err := store.UpsertSlot(ctx, attendance.TimeSlot{
			UserID: uid, FacultyID: "FAC001", Day: time.Monday, Period: "1",
			Start: 9 * 3600, End: 10 * 3600, BlockName: "Block-A", WifiName: "Campus-Wifi",
		})
		require.NoError(t, err)
	}

	d := &recordingDispatcher{}
	resolver := attendance.NewResolver(store, time.UTC, 0)
	return &fixture{
		store:    store,
		dispatch: d,
		svc:      attendance.NewService(store, resolver, d, nil, zap.NewNop()),
	}
}

var wifi = attendance.CheckInRequest{WifiName: "Campus-Wifi", BlockName: "Block-A"}

func TestCheckInOnTime(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 0, 0))
	require.NoError(t, err)

	assert.NotZero(t, rec.ID)
	assert.Equal(t, "1", rec.Period)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.True(t, rec.Open())
	assert.Nil(t, rec.Duration)
	assert.Empty(t, f.store.Notifications())
	assert.Empty(t, f.dispatch.sent())
}

func TestCheckInLateNotifiesDepartmentFaculty(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 5, 0))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, rec.Status)

	notes := f.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "FAC001", notes[0].FacultyID)
	assert.Equal(t, "STU001", notes[0].StudentID)
	assert.Equal(t, "Student John Doe is late for 1 class.", notes[0].Message)
	assert.False(t, notes[0].IsRead)

	events := f.dispatch.sent()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindLateArrival, events[0].Kind)
	assert.Equal(t, "FAC001", events[0].FacultyID)
}

func TestCheckInLateWithoutFacultyStillSucceeds(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.CheckIn(context.Background(), "STU002", wifi, at(9, 30, 0))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, rec.Status)
	assert.Empty(t, f.store.Notifications())
	assert.Empty(t, f.dispatch.sent())
}

func TestCheckInDispatchFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.dispatch.err = errors.New("queue down")
	rec, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 5, 0))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, rec.Status)
	assert.Len(t, f.store.Notifications(), 1)
}

func TestCheckInFreePeriod(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(11, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, attendance.FreePeriod, rec.Period)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
}

func TestCheckInValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckIn(context.Background(), "STU001", attendance.CheckInRequest{BlockName: "Block-A", WifiName: "  "}, at(9, 0, 0))
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "required", apperr.As(err).Details["wifi_name"])

	_, err = f.svc.CheckIn(context.Background(), "nobody", wifi, at(9, 0, 0))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckOutDuration(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 0, 0))
	require.NoError(t, err)

	rec, err := f.svc.CheckOut(context.Background(), "STU001", at(10, 29, 59))
	require.NoError(t, err)
	require.NotNil(t, rec.Duration)
	assert.Equal(t, 89, *rec.Duration)
	require.NotNil(t, rec.CheckOut)
	assert.True(t, rec.CheckOut.Equal(at(10, 29, 59)))
}

func TestCheckOutNormalisesLateToPresent(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 5, 0))
	require.NoError(t, err)
	require.Equal(t, attendance.StatusLate, rec.Status)

	closed, err := f.svc.CheckOut(context.Background(), "STU001", at(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, closed.Status)
	assert.Equal(t, 55, *closed.Duration)
}

func TestCheckOutWithoutCheckIn(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckOut(context.Background(), "STU001", at(10, 0, 0))
	require.ErrorIs(t, err, apperr.ErrNoActiveSession)
	assert.Equal(t, "no active check-in found", err.Error())
}

func TestCheckOutClosesMostRecent(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 0, 0))
	require.NoError(t, err)
	second, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(11, 0, 0))
	require.NoError(t, err)

	closed, err := f.svc.CheckOut(context.Background(), "STU001", at(12, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, second.ID, closed.ID)

	closed, err = f.svc.CheckOut(context.Background(), "STU001", at(12, 5, 0))
	require.NoError(t, err)
	assert.Equal(t, first.ID, closed.ID)

	_, err = f.svc.CheckOut(context.Background(), "STU001", at(12, 10, 0))
	assert.ErrorIs(t, err, apperr.ErrNoActiveSession)
}

func TestCheckOutBeforeCheckInClampsDuration(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 0, 0))
	require.NoError(t, err)

	rec, err := f.svc.CheckOut(context.Background(), "STU001", at(8, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, *rec.Duration)
	assert.True(t, rec.CheckOut.Equal(rec.CheckIn))
}

func TestConcurrentCheckOutClosesOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CheckIn(context.Background(), "STU001", wifi, at(9, 0, 0))
	require.NoError(t, err)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		closed    int
		noSession int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckOut(context.Background(), "STU001", at(10, 0, 0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				closed++
			case errors.Is(err, apperr.ErrNoActiveSession):
				noSession++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, closed)
	assert.Equal(t, callers-1, noSession)
}

func TestOverrideStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.CheckIn(ctx, "STU001", wifi, at(9, 0, 0))
	require.NoError(t, err)

	_, err = f.svc.OverrideStatus(ctx, "STU002", rec.ID, "absent")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.svc.OverrideStatus(ctx, "FAC001", rec.ID, "excused")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.OverrideStatus(ctx, "FAC001", 999, "absent")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	updated, err := f.svc.OverrideStatus(ctx, "FAC001", rec.ID, "Absent")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusAbsent, updated.Status)
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CheckIn(ctx, "STU001", wifi, at(9+i, 0, 0))
		require.NoError(t, err)
	}

	page, err := f.svc.History(ctx, "STU001", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 2)
	assert.True(t, page.Records[0].CheckIn.Equal(at(11, 0, 0)))

	page, err = f.svc.History(ctx, "STU001", 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PerPage)
	assert.Len(t, page.Records, 3)

	page, err = f.svc.History(ctx, "STU002", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Records)
	assert.Empty(t, page.Records)
	assert.Equal(t, 0, page.TotalPages)
}
