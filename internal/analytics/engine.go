package analytics

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
)

// Summary is one student's overall attendance.
type Summary struct {
	UserID     string  `json:"user_id"`
	Total      int     `json:"total"`
	Attended   int     `json:"attended"`
	Percentage float64 `json:"percentage"`
	Zone       Zone    `json:"zone"`
}

// StudentRow is one line of a student listing.
type StudentRow struct {
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	TotalClasses    int     `json:"total_classes"`
	AttendedClasses int     `json:"attended_classes"`
	Percentage      float64 `json:"attendance_percentage"`
	Zone            Zone    `json:"zone"`
}

// RankedPage is one page of the ranked student list.
type RankedPage struct {
	Students      []StudentRow `json:"data"`
	Page          int          `json:"page"`
	PerPage       int          `json:"per_page"`
	TotalPages    int          `json:"total_pages"`
	TotalStudents int          `json:"total_students"`
}

// Sort keys and orders accepted by RankedStudents.
const (
	SortByPercentage = "attendance_percentage"
	SortByName       = "name"
	SortByUserID     = "user_id"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ListQuery selects and orders the ranked student list. From and To are
// calendar dates in the engine's location, both inclusive.
type ListQuery struct {
	Page    int
	PerPage int
	SortBy  string
	Order   string
	Name    string
	From    *time.Time
	To      *time.Time
}

// TrendPoint is the attendance rate of one day.
type TrendPoint struct {
	Date    string  `json:"date"`
	Total   int     `json:"total"`
	Present int     `json:"present"`
	Rate    float64 `json:"rate"`
}

// WeekReport is one ISO week of a student's attendance.
type WeekReport struct {
	WeekStart  string  `json:"week_start"`
	Total      int     `json:"total_periods"`
	Attended   int     `json:"attended_periods"`
	Percentage float64 `json:"percentage"`
}

// Overview is the institution-wide summary.
type Overview struct {
	TotalStudents     int     `json:"total_students"`
	TotalClasses      int     `json:"total_classes"`
	TotalPresent      int     `json:"total_present"`
	AverageAttendance float64 `json:"average_attendance"`
}

// Engine computes attendance statistics on demand.
type Engine struct {
	store Store
	users attendance.UserStore
	loc   *time.Location
	log   *zap.Logger
}

// NewEngine builds an engine bucketing days in loc.
func NewEngine(store Store, users attendance.UserStore, loc *time.Location, log *zap.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, users: users, loc: loc, log: log}
}

// StudentSummary reports studentID's totals and zone. Students may only read
// their own summary.
func (e *Engine) StudentSummary(ctx context.Context, actor, studentID string) (Summary, error) {
	if actor != studentID {
		if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
			return Summary{}, err
		}
	}
	t, err := e.store.StudentTally(ctx, studentID)
	if errors.Is(err, attendance.ErrNotFound) {
		return Summary{}, apperr.NotFound("student %s not found", studentID)
	}
	if err != nil {
		return Summary{}, e.fail("student_summary", err)
	}
	p := t.Percentage()
	return Summary{
		UserID:     studentID,
		Total:      t.Total,
		Attended:   t.Attended,
		Percentage: round2(p),
		Zone:       ZoneFor(p),
	}, nil
}

// RankedStudents lists students ordered by q. Equal sort keys fall back to
// user id ascending.
func (e *Engine) RankedStudents(ctx context.Context, actor string, q ListQuery) (RankedPage, error) {
	if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
		return RankedPage{}, err
	}
	q, err := normaliseQuery(q)
	if err != nil {
		return RankedPage{}, err
	}

	f := Filter{NameContains: q.Name}
	if q.From != nil {
		from := startOfDay(*q.From, e.loc)
		f.From = &from
	}
	if q.To != nil {
		until := startOfDay(*q.To, e.loc).AddDate(0, 0, 1)
		f.Until = &until
	}
	tallies, err := e.store.StudentTallies(ctx, f)
	if err != nil {
		return RankedPage{}, e.fail("ranked_students", err)
	}

	sortTallies(tallies, q.SortBy, q.Order == OrderDesc)

	total := len(tallies)
	start := (q.Page - 1) * q.PerPage
	if start > total {
		start = total
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}
	rows := make([]StudentRow, 0, end-start)
	for _, t := range tallies[start:end] {
		rows = append(rows, toRow(t))
	}
	return RankedPage{
		Students:      rows,
		Page:          q.Page,
		PerPage:       q.PerPage,
		TotalPages:    (total + q.PerPage - 1) / q.PerPage,
		TotalStudents: total,
	}, nil
}

func normaliseQuery(q ListQuery) (ListQuery, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 100 {
		q.PerPage = 10
	}
	q.SortBy = strings.ToLower(strings.TrimSpace(q.SortBy))
	switch q.SortBy {
	case "":
		q.SortBy = SortByPercentage
	case SortByPercentage, SortByName, SortByUserID:
	default:
		return q, apperr.Invalid("invalid sort_by", map[string]string{"sort_by": "oneof attendance_percentage name user_id"})
	}
	q.Order = strings.ToLower(strings.TrimSpace(q.Order))
	switch q.Order {
	case "":
		q.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return q, apperr.Invalid("invalid order", map[string]string{"order": "oneof asc desc"})
	}
	q.Name = strings.TrimSpace(q.Name)
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return q, apperr.Validation("date range end precedes its start")
	}
	return q, nil
}

// sortTallies orders by key in the requested direction, breaking ties by
// ascending user id regardless of direction.
func sortTallies(ts []Tally, key string, desc bool) {
	cmp := func(a, b Tally) int {
		switch key {
		case SortByName:
			return strings.Compare(a.Name, b.Name)
		case SortByUserID:
			return strings.Compare(a.UserID, b.UserID)
		default:
			pa, pb := a.Percentage(), b.Percentage()
			switch {
			case pa < pb:
				return -1
			case pa > pb:
				return 1
			}
			return 0
		}
	}
	sort.SliceStable(ts, func(i, j int) bool {
		c := cmp(ts[i], ts[j])
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return ts[i].UserID < ts[j].UserID
	})
}

func toRow(t Tally) StudentRow {
	p := t.Percentage()
	return StudentRow{
		UserID:          t.UserID,
		Name:            t.Name,
		TotalClasses:    t.Total,
		AttendedClasses: t.Attended,
		Percentage:      round2(p),
		Zone:            ZoneFor(p),
	}
}

// BelowThreshold lists students with at least one record whose percentage is
// at or below threshold.
func (e *Engine) BelowThreshold(ctx context.Context, actor string, threshold float64) ([]StudentRow, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 100 {
		return nil, apperr.Invalid("invalid percentage", map[string]string{"percentage": "0..100"})
	}
	return e.selectStudents(ctx, actor, "below_threshold", func(p float64) bool { return p <= threshold })
}

// Detained lists students with at least one record strictly under the
// detention threshold.
func (e *Engine) Detained(ctx context.Context, actor string) ([]StudentRow, error) {
	return e.selectStudents(ctx, actor, "detained", func(p float64) bool { return p < DetentionThreshold })
}

func (e *Engine) selectStudents(ctx context.Context, actor, op string, keep func(float64) bool) ([]StudentRow, error) {
	if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
		return nil, err
	}
	tallies, err := e.store.StudentTallies(ctx, Filter{})
	if err != nil {
		return nil, e.fail(op, err)
	}
	sortTallies(tallies, SortByPercentage, false)
	rows := []StudentRow{}
	for _, t := range tallies {
		if t.Total == 0 || !keep(t.Percentage()) {
			continue
		}
		rows = append(rows, toRow(t))
	}
	return rows, nil
}

// PeriodStatistics reports, per period of actor's timetable entries, how
// many distinct students are scheduled and how many present records they
// have in that period.
func (e *Engine) PeriodStatistics(ctx context.Context, actor string) ([]PeriodStat, error) {
	if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
		return nil, err
	}
	stats, err := e.store.PeriodStats(ctx, actor)
	if err != nil {
		return nil, e.fail("period_statistics", err)
	}
	if stats == nil {
		stats = []PeriodStat{}
	}
	return stats, nil
}

// Trend returns the daily attendance rate over the windowDays calendar days
// ending with now's day. Days without records are omitted.
func (e *Engine) Trend(ctx context.Context, actor string, windowDays int, now time.Time) ([]TrendPoint, error) {
	if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
		return nil, err
	}
	if windowDays < 1 || windowDays > 366 {
		return nil, apperr.Invalid("invalid window", map[string]string{"days": "1..366"})
	}
	since := startOfDay(now, e.loc).AddDate(0, 0, -(windowDays - 1))
	days, err := e.store.DailyCounts(ctx, "", since, e.loc)
	if err != nil {
		return nil, e.fail("trend", err)
	}
	points := make([]TrendPoint, 0, len(days))
	for _, d := range days {
		points = append(points, TrendPoint{
			Date:    d.Date.Format("2006-01-02"),
			Total:   d.Total,
			Present: d.Present,
			Rate:    round2(Percentage(d.Present, d.Total)),
		})
	}
	return points, nil
}

// WeeklyReport returns up to weeks ISO weeks of studentID's attendance,
// newest first, counting back from now's week. Weeks without records are
// omitted.
func (e *Engine) WeeklyReport(ctx context.Context, actor, studentID string, weeks int, now time.Time) ([]WeekReport, error) {
	if actor != studentID {
		if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
			return nil, err
		}
	}
	if weeks < 1 || weeks > 52 {
		weeks = 4
	}
	since := weekStart(now, e.loc).AddDate(0, 0, -7*(weeks-1))
	days, err := e.store.DailyCounts(ctx, studentID, since, e.loc)
	if err != nil {
		return nil, e.fail("weekly_report", err)
	}

	byWeek := map[time.Time]*WeekReport{}
	var order []time.Time
	for _, d := range days {
		ws := weekStart(d.Date, e.loc)
		w, ok := byWeek[ws]
		if !ok {
			w = &WeekReport{WeekStart: ws.Format("2006-01-02")}
			byWeek[ws] = w
			order = append(order, ws)
		}
		w.Total += d.Total
		w.Attended += d.Present
	}
	sort.Slice(order, func(i, j int) bool { return order[i].After(order[j]) })

	out := make([]WeekReport, 0, len(order))
	for _, ws := range order {
		w := byWeek[ws]
		w.Percentage = round2(Percentage(w.Attended, w.Total))
		out = append(out, *w)
	}
	return out, nil
}

// Overview summarises every student's records.
func (e *Engine) Overview(ctx context.Context, actor string) (Overview, error) {
	if _, err := attendance.RequireFaculty(ctx, e.users, actor); err != nil {
		return Overview{}, err
	}
	t, err := e.store.Totals(ctx)
	if err != nil {
		return Overview{}, e.fail("overview", err)
	}
	return Overview{
		TotalStudents:     t.Students,
		TotalClasses:      t.Classes,
		TotalPresent:      t.Present,
		AverageAttendance: round2(Percentage(t.Present, t.Classes)),
	}, nil
}

func (e *Engine) fail(op string, err error) error {
	e.log.Error("analytics query failed", zap.String("op", op), zap.Error(err))
	return apperr.Persistence(err)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// weekStart is the Monday starting t's ISO week.
func weekStart(t time.Time, loc *time.Location) time.Time {
	day := startOfDay(t, loc)
	return day.AddDate(0, 0, -attendance.DayOrder(day.Weekday()))
}
