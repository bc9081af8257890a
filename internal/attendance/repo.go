package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userColumns = `id, user_id, name, role, email,
	COALESCE(year, ''), COALESCE(branch, ''), COALESCE(department, '')`

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.UserID, &u.Name, &u.Role, &u.Email, &u.Year, &u.Branch, &u.Department)
	return u, err
}

// GetUser returns a user by external id.
func (r *Repository) GetUser(ctx context.Context, userID string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// FacultyInDepartment returns the first faculty member of department.
func (r *Repository) FacultyInDepartment(ctx context.Context, department string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = 'faculty' AND department = $1
		ORDER BY user_id
		LIMIT 1
	`, department))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user; user id and email are unique.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (user_id, name, role, email, year, branch, department)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		RETURNING id
	`, u.UserID, u.Name, u.Role, u.Email, u.Year, u.Branch, u.Department).Scan(&u.ID)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	return u, err
}

const slotColumns = `id, user_id, COALESCE(faculty_id, ''), day, period, start_time, end_time,
	COALESCE(block_name, ''), wifi_name`

func scanSlot(row scanner) (TimeSlot, error) {
	var (
		s          TimeSlot
		day        string
		start, end string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.FacultyID, &day, &s.Period, &start, &end, &s.BlockName, &s.WifiName); err != nil {
		return TimeSlot{}, err
	}
	var err error
	if s.Day, err = ParseDay(day); err != nil {
		return TimeSlot{}, fmt.Errorf("time_table %d: %w", s.ID, err)
	}
	if s.Start, err = ParseClock(start); err != nil {
		return TimeSlot{}, fmt.Errorf("time_table %d: %w", s.ID, err)
	}
	if s.End, err = ParseClock(end); err != nil {
		return TimeSlot{}, fmt.Errorf("time_table %d: %w", s.ID, err)
	}
	return s, nil
}

func (r *Repository) querySlots(ctx context.Context, query string, args ...any) ([]TimeSlot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SlotsForDay returns userID's slots on day.
func (r *Repository) SlotsForDay(ctx context.Context, userID string, day time.Weekday) ([]TimeSlot, error) {
	return r.querySlots(ctx, `SELECT `+slotColumns+` FROM time_table WHERE user_id = $1 AND day = $2 ORDER BY id`,
		userID, DayName(day))
}

// SlotsForUser returns every slot of userID.
func (r *Repository) SlotsForUser(ctx context.Context, userID string) ([]TimeSlot, error) {
	return r.querySlots(ctx, `SELECT `+slotColumns+` FROM time_table WHERE user_id = $1 ORDER BY id`, userID)
}

// UpsertSlot writes s, replacing any slot with the same user, day and period.
func (r *Repository) UpsertSlot(ctx context.Context, s TimeSlot) (TimeSlot, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO time_table (user_id, faculty_id, day, period, start_time, end_time, block_name, wifi_name)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, day, period) DO UPDATE SET
			faculty_id = EXCLUDED.faculty_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			block_name = EXCLUDED.block_name,
			wifi_name = EXCLUDED.wifi_name
		RETURNING id
	`, s.UserID, s.FacultyID, DayName(s.Day), s.Period, s.Start.String(), s.End.String(), s.BlockName, s.WifiName).Scan(&s.ID)
	return s, err
}

const recordColumns = `id, user_id, check_in_time, check_out_time, COALESCE(block_name, ''),
	COALESCE(period, ''), COALESCE(wifi_name, ''), duration, status`

func scanRecord(row scanner) (Record, error) {
	var (
		rec      Record
		checkOut sql.NullTime
		duration sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.CheckIn, &checkOut, &rec.BlockName, &rec.Period, &rec.WifiName, &duration, &rec.Status); err != nil {
		return Record{}, err
	}
	if checkOut.Valid {
		t := checkOut.Time
		rec.CheckOut = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.Duration = &d
	}
	return rec, nil
}

// InsertCheckIn writes a new record and its optional notification together.
func (r *Repository) InsertCheckIn(ctx context.Context, rec Record, n *Notification) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO attendance (user_id, check_in_time, block_name, period, wifi_name, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, rec.UserID, rec.CheckIn, rec.BlockName, rec.Period, rec.WifiName, rec.Status).Scan(&rec.ID)
	if err != nil {
		return Record{}, err
	}

	if n != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notification (faculty_id, student_id, message, created_at)
			VALUES ($1, $2, $3, $4)
		`, n.FacultyID, n.StudentID, n.Message, n.CreatedAt); err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CloseLatestOpen locks the newest open record of userID and closes it. A
// caller blocked behind a concurrent close finds the row no longer open.
func (r *Repository) CloseLatestOpen(ctx context.Context, userID string, now time.Time) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	var (
		id      int64
		checkIn time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, check_in_time FROM attendance
		WHERE user_id = $1 AND check_out_time IS NULL
		ORDER BY check_in_time DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, userID).Scan(&id, &checkIn)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoOpenSession
	}
	if err != nil {
		return Record{}, err
	}

	out := CloseAt(checkIn, now)
	rec, err := scanRecord(tx.QueryRowContext(ctx, `
		UPDATE attendance
		SET check_out_time = $2, duration = $3, status = 'present'
		WHERE id = $1 AND check_out_time IS NULL
		RETURNING `+recordColumns,
		id, out, SessionMinutes(checkIn, out)))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoOpenSession
	}
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns a single record by id.
func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// UpdateStatus overwrites a record's status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		UPDATE attendance SET status = $2 WHERE id = $1
		RETURNING `+recordColumns, id, status))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// ListRecords pages userID's records newest first.
func (r *Repository) ListRecords(ctx context.Context, userID string, limit, offset int) ([]Record, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance
		WHERE user_id = $1
		ORDER BY check_in_time DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, rec)
	}
	return res, total, rows.Err()
}

const correctionColumns = `id, user_id, attendance_id, reason, status, created_at, updated_at`

func scanCorrection(row scanner) (Correction, error) {
	var c Correction
	err := row.Scan(&c.ID, &c.UserID, &c.AttendanceID, &c.Reason, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// InsertCorrection files a request; one per attendance record.
func (r *Repository) InsertCorrection(ctx context.Context, c Correction) (Correction, error) {
	saved, err := scanCorrection(r.db.QueryRowContext(ctx, `
		INSERT INTO correction_request (user_id, attendance_id, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+correctionColumns,
		c.UserID, c.AttendanceID, c.Reason, c.Status, c.CreatedAt, c.UpdatedAt))
	if isUniqueViolation(err) {
		return Correction{}, ErrDuplicate
	}
	return saved, err
}

// ListCorrections returns requests in status, oldest first.
func (r *Repository) ListCorrections(ctx context.Context, status CorrectionStatus) ([]Correction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+correctionColumns+` FROM correction_request
		WHERE status = $1
		ORDER BY created_at, id
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ResolveCorrection decides a pending request and optionally rewrites the
// disputed record, in one transaction.
func (r *Repository) ResolveCorrection(ctx context.Context, id int64, status CorrectionStatus, recordStatus *Status, at time.Time) (Correction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Correction{}, err
	}
	defer tx.Rollback()

	var current CorrectionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM correction_request WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Correction{}, ErrNotFound
	}
	if err != nil {
		return Correction{}, err
	}
	if current != CorrectionPending {
		return Correction{}, ErrNotPending
	}

	c, err := scanCorrection(tx.QueryRowContext(ctx, `
		UPDATE correction_request SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+correctionColumns, id, status, at))
	if err != nil {
		return Correction{}, err
	}
	if recordStatus != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE attendance SET status = $2 WHERE id = $1`, c.AttendanceID, *recordStatus); err != nil {
			return Correction{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Correction{}, err
	}
	return c, nil
}

// ListNotifications returns facultyID's notifications newest first.
func (r *Repository) ListNotifications(ctx context.Context, facultyID string, unreadOnly bool) ([]Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, faculty_id, student_id, message, is_read, created_at
		FROM notification
		WHERE faculty_id = $1 AND (NOT $2 OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
	`, facultyID, unreadOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.FacultyID, &n.StudentID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flags a notification owned by facultyID as read.
func (r *Repository) MarkNotificationRead(ctx context.Context, id int64, facultyID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notification SET is_read = TRUE WHERE id = $1 AND faculty_id = $2`, id, facultyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
