//go:build integration

package attendance_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusattend/internal/analytics"
	"campusattend/internal/attendance"
	"campusattend/internal/store"
)

func openRepo(t *testing.T) (*attendance.Repository, *analytics.Repository) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.Client.ExecContext(ctx,
		`TRUNCATE correction_request, notification, attendance, time_table, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return attendance.NewRepository(db.Client), analytics.NewRepository(db.Client)
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo, stats := openRepo(t)
	ctx := context.Background()

	_, err := repo.CreateUser(ctx, attendance.User{UserID: "FAC001", Name: "Dr. Smith", Role: attendance.RoleFaculty, Email: "smith@college.edu", Department: "CSE"})
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, attendance.User{UserID: "STU001", Name: "John Doe", Role: attendance.RoleStudent, Email: "john@college.edu", Year: "3", Branch: "CSE"})
	require.NoError(t, err)
	_, err = repo.CreateUser(ctx, attendance.User{UserID: "STU001", Name: "Dup", Role: attendance.RoleStudent, Email: "dup@college.edu"})
	assert.ErrorIs(t, err, attendance.ErrDuplicate)

	fac, err := repo.FacultyInDepartment(ctx, "CSE")
	require.NoError(t, err)
	require.NotNil(t, fac)
	assert.Equal(t, "FAC001", fac.UserID)

	slot, err := repo.UpsertSlot(ctx, attendance.TimeSlot{
		UserID: "STU001", FacultyID: "FAC001", Day: time.Monday, Period: "1",
		Start: 9 * 3600, End: 10 * 3600, BlockName: "Block-A", WifiName: "Campus-Wifi",
	})
	require.NoError(t, err)
	slots, err := repo.SlotsForDay(ctx, "STU001", time.Monday)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, slot.ID, slots[0].ID)
	assert.Equal(t, attendance.ClockTime(9*3600), slots[0].Start)

	in := time.Date(2024, 3, 4, 9, 5, 0, 0, time.UTC)
	rec, err := repo.InsertCheckIn(ctx, attendance.Record{
		UserID: "STU001", CheckIn: in, Period: "1", BlockName: "Block-A", WifiName: "Campus-Wifi", Status: attendance.StatusLate,
	}, &attendance.Notification{FacultyID: "FAC001", StudentID: "STU001", Message: "late", CreatedAt: in})
	require.NoError(t, err)

	notes, err := repo.ListNotifications(ctx, "FAC001", true)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CloseLatestOpen(ctx, "STU001", in.Add(89*time.Minute+59*time.Second))
			if err == nil {
				mu.Lock()
				closed++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, attendance.ErrNoOpenSession), err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, closed)

	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, got.Status)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 89, *got.Duration)

	tally, err := stats.StudentTally(ctx, "STU001")
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Total)
	assert.Equal(t, 1, tally.Attended)

	periods, err := stats.PeriodStats(ctx, "FAC001")
	require.NoError(t, err)
	assert.Equal(t, []analytics.PeriodStat{{Period: "1", TotalStudents: 1, PresentCount: 1}}, periods)

	days, err := stats.DailyCounts(ctx, "", in.AddDate(0, 0, -1), time.UTC)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.True(t, days[0].Date.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))

	c, err := repo.InsertCorrection(ctx, attendance.Correction{
		UserID: "STU001", AttendanceID: rec.ID, Reason: "bus", Status: attendance.CorrectionPending, CreatedAt: in, UpdatedAt: in,
	})
	require.NoError(t, err)
	_, err = repo.InsertCorrection(ctx, attendance.Correction{
		UserID: "STU001", AttendanceID: rec.ID, Reason: "again", Status: attendance.CorrectionPending, CreatedAt: in, UpdatedAt: in,
	})
	assert.ErrorIs(t, err, attendance.ErrDuplicate)

	absent := attendance.StatusAbsent
	_, err = repo.ResolveCorrection(ctx, c.ID, attendance.CorrectionRejected, &absent, in)
	require.NoError(t, err)
	_, err = repo.ResolveCorrection(ctx, c.ID, attendance.CorrectionApproved, nil, in)
	assert.ErrorIs(t, err, attendance.ErrNotPending)
}
