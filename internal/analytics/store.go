package analytics

import (
	"context"
	"time"
)

// Tally is one student's record counts.
type Tally struct {
	UserID   string
	Name     string
	Total    int
	Attended int
}

// Percentage is the zero-guarded attendance rate of t.
func (t Tally) Percentage() float64 { return Percentage(t.Attended, t.Total) }

// Filter narrows StudentTallies. From is inclusive, Until exclusive; nil
// bounds are open.
type Filter struct {
	NameContains string
	From         *time.Time
	Until        *time.Time
}

// PeriodStat summarises one period of a faculty member's timetable.
type PeriodStat struct {
	Period        string `json:"period"`
	TotalStudents int    `json:"total_students"`
	PresentCount  int    `json:"present_count"`
}

// DayCount holds one calendar day's record counts. Date is midnight in the
// location the counts were bucketed in.
type DayCount struct {
	Date    time.Time
	Total   int
	Present int
}

// Totals are institution-wide counts taken in one query.
type Totals struct {
	Students int
	Classes  int
	Present  int
}

// Store reads the committed attendance state. Each method runs a single
// query so its counts are mutually consistent.
type Store interface {
	// StudentTallies returns every student matching f, including those with
	// no records.
	StudentTallies(ctx context.Context, f Filter) ([]Tally, error)
	// StudentTally returns attendance.ErrNotFound for an unknown user.
	StudentTally(ctx context.Context, userID string) (Tally, error)
	PeriodStats(ctx context.Context, facultyID string) ([]PeriodStat, error)
	// DailyCounts buckets student records checked in at or after since by
	// calendar day in loc, oldest first. An empty userID covers all students.
	DailyCounts(ctx context.Context, userID string, since time.Time, loc *time.Location) ([]DayCount, error)
	Totals(ctx context.Context) (Totals, error)
}
