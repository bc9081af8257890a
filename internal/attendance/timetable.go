package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/metrics"
	"campusattend/internal/notify"
)

// SlotInput is a faculty request to schedule a user into a weekly period.
type SlotInput struct {
	UserID    string `json:"timetable_user_id" validate:"required"`
	Day       string `json:"day" validate:"required"`
	Period    string `json:"period" validate:"required,max=20"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	BlockName string `json:"block_name" validate:"max=64"`
	WifiName  string `json:"wifi_name" validate:"required,max=64"`
}

// Timetable manages weekly slots.
type Timetable struct {
	store    Store
	loc      *time.Location
	dispatch Dispatcher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewTimetable(store Store, loc *time.Location, dispatch Dispatcher, m *metrics.Metrics, log *zap.Logger) *Timetable {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Timetable{store: store, loc: loc, dispatch: dispatch, metrics: m, log: log}
}

// CreateSlot schedules in.UserID. An existing slot for the same user, day
// and period is replaced.
func (t *Timetable) CreateSlot(ctx context.Context, actor string, in SlotInput) (TimeSlot, error) {
	if _, err := RequireFaculty(ctx, t.store, actor); err != nil {
		return TimeSlot{}, err
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.Period = strings.TrimSpace(in.Period)
	in.WifiName = strings.TrimSpace(in.WifiName)
	in.BlockName = strings.TrimSpace(in.BlockName)
	if err := validateRequest(in); err != nil {
		return TimeSlot{}, err
	}

	details := map[string]string{}
	day, err := ParseDay(in.Day)
	if err != nil {
		details["day"] = "weekday"
	}
	start, err := ParseClock(in.StartTime)
	if err != nil {
		details["start_time"] = "HH:MM"
	}
	end, err := ParseClock(in.EndTime)
	if err != nil {
		details["end_time"] = "HH:MM"
	}
	if len(details) > 0 {
		return TimeSlot{}, apperr.Invalid("invalid timetable entry", details)
	}
	if start >= end {
		return TimeSlot{}, apperr.Validation("start_time must be before end_time")
	}

	if _, err := t.store.GetUser(ctx, in.UserID); errors.Is(err, ErrNotFound) {
		return TimeSlot{}, apperr.NotFound("user %s not found", in.UserID)
	} else if err != nil {
		return TimeSlot{}, storageFailure(t.log, "create_slot.user", err)
	}

	slot, err := t.store.UpsertSlot(ctx, TimeSlot{
		UserID:    in.UserID,
		FacultyID: actor,
		Day:       day,
		Period:    in.Period,
		Start:     start,
		End:       end,
		BlockName: in.BlockName,
		WifiName:  in.WifiName,
	})
	if err != nil {
		return TimeSlot{}, storageFailure(t.log, "create_slot", err)
	}
	return slot, nil
}

// ForUser returns userID's week, monday first and by start time.
func (t *Timetable) ForUser(ctx context.Context, userID string) ([]TimeSlot, error) {
	slots, err := t.store.SlotsForUser(ctx, userID)
	if err != nil {
		return nil, storageFailure(t.log, "timetable", err)
	}
	if len(slots) == 0 {
		return nil, apperr.NotFound("no timetable found for this user")
	}
	sort.SliceStable(slots, func(i, j int) bool {
		di, dj := DayOrder(slots[i].Day), DayOrder(slots[j].Day)
		if di != dj {
			return di < dj
		}
		return slots[i].Start < slots[j].Start
	})
	return slots, nil
}

// Upcoming returns the classes userID has on the day after now and, when
// there are any, sends the student a reminder.
func (t *Timetable) Upcoming(ctx context.Context, userID string, now time.Time) ([]TimeSlot, error) {
	tomorrow := now.In(t.loc).AddDate(0, 0, 1).Weekday()
	slots, err := t.store.SlotsForDay(ctx, userID, tomorrow)
	if err != nil {
		return nil, storageFailure(t.log, "upcoming", err)
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
	if len(slots) == 0 {
		return []TimeSlot{}, nil
	}
	handOff(ctx, t.dispatch, notify.NewEvent(notify.KindUpcomingClasses, "", userID, reminderText(slots), now), t.metrics, t.log)
	return slots, nil
}

func reminderText(slots []TimeSlot) string {
	lines := make([]string, 0, len(slots))
	for _, s := range slots {
		lines = append(lines, fmt.Sprintf("%s at %s in %s", s.Period, s.Start, s.BlockName))
	}
	return fmt.Sprintf("You have %d classes tomorrow:\n%s", len(slots), strings.Join(lines, "\n"))
}
