package attendance

import (
	"context"
	"sort"
	"time"
)

// Resolution is the outcome of matching an instant against a timetable.
type Resolution struct {
	Period string
	Slot   *TimeSlot
	IsLate bool
}

// Resolver finds the timetable period active at an instant.
type Resolver struct {
	slots SlotStore
	loc   *time.Location
	grace time.Duration
}

// NewResolver builds a resolver evaluating weekdays and times of day in loc.
// An arrival counts as late once it is more than grace past the slot start.
func NewResolver(slots SlotStore, loc *time.Location, grace time.Duration) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if grace < 0 {
		grace = 0
	}
	return &Resolver{slots: slots, loc: loc, grace: grace}
}

// Location is the zone used for weekday and time-of-day evaluation.
func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve returns the slot covering at for userID, or FreePeriod.
func (r *Resolver) Resolve(ctx context.Context, userID string, at time.Time) (Resolution, error) {
	local := at.In(r.loc)
	slots, err := r.slots.SlotsForDay(ctx, userID, local.Weekday())
	if err != nil {
		return Resolution{}, err
	}
	tod := SinceMidnight(local)
	slot, ok := pickSlot(slots, tod)
	if !ok {
		return Resolution{Period: FreePeriod}, nil
	}
	return Resolution{
		Period: slot.Period,
		Slot:   &slot,
		IsLate: r.isLate(slot, tod),
	}, nil
}

func (r *Resolver) isLate(slot TimeSlot, tod time.Duration) bool {
	return tod > slot.Start.Duration()+r.grace
}

// pickSlot chooses among overlapping slots: earliest start wins, then the
// lowest id.
func pickSlot(slots []TimeSlot, tod time.Duration) (TimeSlot, bool) {
	var matches []TimeSlot
	for _, s := range slots {
		if s.Covers(tod) {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return TimeSlot{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true
}
