package analytics

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"campusattend/internal/attendance"
)

// Repository runs the aggregate queries against Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// StudentTallies counts every matching student's records in the window.
func (r *Repository) StudentTallies(ctx context.Context, f Filter) ([]Tally, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.user_id, u.name,
			COUNT(a.id),
			COUNT(a.id) FILTER (WHERE a.status = 'present')
		FROM users u
		LEFT JOIN attendance a ON a.user_id = u.user_id
			AND ($2::timestamptz IS NULL OR a.check_in_time >= $2)
			AND ($3::timestamptz IS NULL OR a.check_in_time < $3)
		WHERE u.role = 'student'
			AND ($1 = '' OR u.name ILIKE '%' || $1 || '%')
		GROUP BY u.user_id, u.name
		ORDER BY u.user_id
	`, likeEscaper.Replace(f.NameContains), nullTime(f.From), nullTime(f.Until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Tally
	for rows.Next() {
		var t Tally
		if err := rows.Scan(&t.UserID, &t.Name, &t.Total, &t.Attended); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// StudentTally counts one user's records.
func (r *Repository) StudentTally(ctx context.Context, userID string) (Tally, error) {
	var t Tally
	err := r.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.name,
			COUNT(a.id),
			COUNT(a.id) FILTER (WHERE a.status = 'present')
		FROM users u
		LEFT JOIN attendance a ON a.user_id = u.user_id
		WHERE u.user_id = $1
		GROUP BY u.user_id, u.name
	`, userID).Scan(&t.UserID, &t.Name, &t.Total, &t.Attended)
	if errors.Is(err, sql.ErrNoRows) {
		return Tally{}, attendance.ErrNotFound
	}
	return t, err
}

// PeriodStats joins the faculty's scheduled (student, period) pairs with the
// students' records in those periods.
func (r *Repository) PeriodStats(ctx context.Context, facultyID string) ([]PeriodStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH scheduled AS (
			SELECT DISTINCT user_id, period FROM time_table WHERE faculty_id = $1
		)
		SELECT s.period,
			COUNT(DISTINCT s.user_id),
			COUNT(a.id) FILTER (WHERE a.status = 'present')
		FROM scheduled s
		LEFT JOIN attendance a ON a.user_id = s.user_id AND a.period = s.period
		GROUP BY s.period
		ORDER BY s.period
	`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PeriodStat
	for rows.Next() {
		var p PeriodStat
		if err := rows.Scan(&p.Period, &p.TotalStudents, &p.PresentCount); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DailyCounts buckets student records by local calendar day.
func (r *Repository) DailyCounts(ctx context.Context, userID string, since time.Time, loc *time.Location) ([]DayCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT to_char(a.check_in_time AT TIME ZONE $1, 'YYYY-MM-DD') AS day,
			COUNT(*),
			COUNT(*) FILTER (WHERE a.status = 'present')
		FROM attendance a
		JOIN users u ON u.user_id = a.user_id AND u.role = 'student'
		WHERE a.check_in_time >= $2
			AND ($3 = '' OR a.user_id = $3)
		GROUP BY day
		ORDER BY day
	`, loc.String(), since, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DayCount
	for rows.Next() {
		var (
			day string
			d   DayCount
		)
		if err := rows.Scan(&day, &d.Total, &d.Present); err != nil {
			return nil, err
		}
		if d.Date, err = time.ParseInLocation("2006-01-02", day, loc); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// Totals counts students, their records and present records in one
// statement.
func (r *Repository) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE role = 'student'),
			COUNT(a.id),
			COUNT(a.id) FILTER (WHERE a.status = 'present')
		FROM attendance a
		JOIN users u ON u.user_id = a.user_id AND u.role = 'student'
	`).Scan(&t.Students, &t.Classes, &t.Present)
	return t, err
}
