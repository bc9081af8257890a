// Package seed loads the demo faculty, students and timetable.
package seed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
)

// FacultyID owns every demo timetable slot.
const FacultyID = "FAC001"

var demoUsers = []attendance.UserInput{
	{UserID: FacultyID, Name: "Dr. Smith", Role: "faculty", Email: "smith@college.edu", Department: "CSE"},
	{UserID: "STU001", Name: "John Doe", Role: "student", Email: "john@college.edu", Year: "3", Branch: "CSE"},
	{UserID: "STU002", Name: "Jane Roe", Role: "student", Email: "jane@college.edu", Year: "3", Branch: "CSE"},
	{UserID: "STU003", Name: "Sam Lee", Role: "student", Email: "sam@college.edu", Year: "3", Branch: "CSE"},
}

// Demo registers the demo users and schedules each student into monday's
// first period. Running it twice is harmless.
func Demo(ctx context.Context, dir *attendance.Directory, tt *attendance.Timetable, log *zap.Logger) error {
	for _, in := range demoUsers {
		_, err := dir.Register(ctx, in)
		if errors.Is(err, apperr.ErrValidation) {
			log.Debug("demo user exists", zap.String("user_id", in.UserID))
			continue
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", in.UserID, err)
		}
	}

	for _, in := range demoUsers {
		if in.Role != string(attendance.RoleStudent) {
			continue
		}
		if _, err := tt.CreateSlot(ctx, FacultyID, attendance.SlotInput{
			UserID:    in.UserID,
			Day:       "monday",
			Period:    "1",
			StartTime: "09:00",
			EndTime:   "10:00",
			BlockName: "Block-A",
			WifiName:  "Campus-Wifi",
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", in.UserID, err)
		}
	}
	log.Info("demo data seeded", zap.Int("users", len(demoUsers)))
	return nil
}
