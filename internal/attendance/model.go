package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the attendance outcome stored on a record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is one of the three stored values.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// FreePeriod is the period recorded when a check-in matches no slot.
const FreePeriod = "free_period"

// Role of a user. Fixed at registration.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
)

// User is a student or faculty identity.
type User struct {
	ID         int64  `json:"-"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	Email      string `json:"email"`
	Year       string `json:"year,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Department string `json:"department,omitempty"`
}

// IsFaculty reports whether u may call faculty operations.
func (u User) IsFaculty() bool { return u.Role == RoleFaculty }

// TimeSlot binds a user to a recurring weekly period.
type TimeSlot struct {
	ID        int64        `json:"id"`
	UserID    string       `json:"user_id"`
	FacultyID string       `json:"faculty_id,omitempty"`
	Day       time.Weekday `json:"-"`
	Period    string       `json:"period"`
	Start     ClockTime    `json:"start_time"`
	End       ClockTime    `json:"end_time"`
	BlockName string       `json:"block_name"`
	WifiName  string       `json:"wifi_name"`
}

// MarshalJSON renders the weekday by its lowercase name.
func (s TimeSlot) MarshalJSON() ([]byte, error) {
	type plain TimeSlot
	return json.Marshal(struct {
		plain
		Day string `json:"day"`
	}{plain(s), DayName(s.Day)})
}

// Covers reports whether the time of day tod lies inside the slot, both
// ends inclusive.
func (s TimeSlot) Covers(tod time.Duration) bool {
	return s.Start.Duration() <= tod && tod <= s.End.Duration()
}

// Record is one check-in attempt.
type Record struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	CheckIn   time.Time  `json:"check_in_time"`
	CheckOut  *time.Time `json:"check_out_time"`
	BlockName string     `json:"block_name"`
	Period    string     `json:"period"`
	WifiName  string     `json:"wifi_name"`
	Duration  *int       `json:"duration"`
	Status    Status     `json:"status"`
}

// Open reports whether the record still awaits checkout.
func (r Record) Open() bool { return r.CheckOut == nil }

// SessionMinutes returns whole minutes between check-in and check-out,
// rounded down. A check-out before check-in counts as zero.
func SessionMinutes(checkIn, checkOut time.Time) int {
	d := checkOut.Sub(checkIn)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// CloseAt returns the checkout instant to persist for a session opened at
// checkIn, never earlier than checkIn.
func CloseAt(checkIn, now time.Time) time.Time {
	if now.Before(checkIn) {
		return checkIn
	}
	return now
}

// Notification is a message addressed to a faculty member about a student.
type Notification struct {
	ID        int64     `json:"id"`
	FacultyID string    `json:"faculty_id"`
	StudentID string    `json:"student_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// CorrectionStatus tracks a correction request's lifecycle.
type CorrectionStatus string

const (
	CorrectionPending  CorrectionStatus = "pending"
	CorrectionApproved CorrectionStatus = "approved"
	CorrectionRejected CorrectionStatus = "rejected"
)

// Correction is a student's appeal against an attendance record.
type Correction struct {
	ID           int64            `json:"id"`
	UserID       string           `json:"user_id"`
	AttendanceID int64            `json:"attendance_id"`
	Reason       string           `json:"reason"`
	Status       CorrectionStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ClockTime is a wall-clock time of day in seconds since midnight.
type ClockTime int

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (ClockTime, error) {
	var h, m, sec int
	var err error
	switch strings.Count(s, ":") {
	case 1:
		_, err = fmt.Sscanf(s, "%d:%d", &h, &m)
	case 2:
		_, err = fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	default:
		err = fmt.Errorf("want HH:MM")
	}
	if err != nil || h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return ClockTime(h*3600 + m*60 + sec), nil
}

// SinceMidnight is the full-precision time of day of t in t's location.
func SinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// Duration converts c to an offset from midnight.
func (c ClockTime) Duration() time.Duration { return time.Duration(c) * time.Second }

func (c ClockTime) String() string {
	h, m, s := int(c)/3600, int(c)%3600/60, int(c)%60
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDay parses a weekday name case-insensitively.
func ParseDay(s string) (time.Weekday, error) {
	d, ok := dayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid day %q", s)
	}
	return d, nil
}

// DayName is the persisted lowercase weekday name.
func DayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// DayOrder ranks monday first and sunday last.
func DayOrder(d time.Weekday) int {
	return (int(d) + 6) % 7
}
