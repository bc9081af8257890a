// Package memstore keeps attendance state in process memory. It backs local
// runs without Postgres and the handler tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"campusattend/internal/analytics"
	"campusattend/internal/attendance"
)

type slotKey struct {
	userID string
	day    time.Weekday
	period string
}

// Store implements attendance.Store and analytics.Store behind one mutex.
type Store struct {
	mu sync.Mutex

	users         map[string]attendance.User
	slots         map[slotKey]attendance.TimeSlot
	records       []attendance.Record
	corrections   []attendance.Correction
	notifications []attendance.Notification

	nextUser, nextSlot, nextRecord, nextCorrection, nextNotification int64
}

func New() *Store {
	return &Store{
		users: make(map[string]attendance.User),
		slots: make(map[slotKey]attendance.TimeSlot),
	}
}

var (
	_ attendance.Store = (*Store)(nil)
	_ analytics.Store  = (*Store)(nil)
)

func (s *Store) GetUser(_ context.Context, userID string) (attendance.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return attendance.User{}, attendance.ErrNotFound
	}
	return u, nil
}

func (s *Store) FacultyInDepartment(_ context.Context, department string) (*attendance.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *attendance.User
	for _, u := range s.users {
		if u.Role != attendance.RoleFaculty || u.Department != department {
			continue
		}
		if best == nil || u.UserID < best.UserID {
			u := u
			best = &u
		}
	}
	return best, nil
}

func (s *Store) CreateUser(_ context.Context, u attendance.User) (attendance.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.UserID]; ok {
		return attendance.User{}, attendance.ErrDuplicate
	}
	for _, other := range s.users {
		if u.Email != "" && strings.EqualFold(other.Email, u.Email) {
			return attendance.User{}, attendance.ErrDuplicate
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	s.users[u.UserID] = u
	return u, nil
}

func (s *Store) slotsWhere(keep func(attendance.TimeSlot) bool) []attendance.TimeSlot {
	var res []attendance.TimeSlot
	for _, slot := range s.slots {
		if keep(slot) {
			res = append(res, slot)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *Store) SlotsForDay(_ context.Context, userID string, day time.Weekday) ([]attendance.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotsWhere(func(t attendance.TimeSlot) bool {
		return t.UserID == userID && t.Day == day
	}), nil
}

func (s *Store) SlotsForUser(_ context.Context, userID string) ([]attendance.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotsWhere(func(t attendance.TimeSlot) bool { return t.UserID == userID }), nil
}

func (s *Store) UpsertSlot(_ context.Context, slot attendance.TimeSlot) (attendance.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey{slot.UserID, slot.Day, slot.Period}
	if old, ok := s.slots[key]; ok {
		slot.ID = old.ID
	} else {
		s.nextSlot++
		slot.ID = s.nextSlot
	}
	s.slots[key] = slot
	return slot, nil
}

func (s *Store) InsertCheckIn(_ context.Context, rec attendance.Record, n *attendance.Notification) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecord++
	rec.ID = s.nextRecord
	s.records = append(s.records, cloneRecord(rec))
	if n != nil {
		s.nextNotification++
		nn := *n
		nn.ID = s.nextNotification
		s.notifications = append(s.notifications, nn)
	}
	return rec, nil
}

func (s *Store) CloseLatestOpen(_ context.Context, userID string, now time.Time) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, rec := range s.records {
		if rec.UserID != userID || !rec.Open() {
			continue
		}
		if idx < 0 || newer(rec, s.records[idx]) {
			idx = i
		}
	}
	if idx < 0 {
		return attendance.Record{}, attendance.ErrNoOpenSession
	}
	rec := &s.records[idx]
	out := attendance.CloseAt(rec.CheckIn, now)
	minutes := attendance.SessionMinutes(rec.CheckIn, out)
	rec.CheckOut = &out
	rec.Duration = &minutes
	rec.Status = attendance.StatusPresent
	return cloneRecord(*rec), nil
}

// cloneRecord detaches the optional fields so callers never alias stored
// state.
func cloneRecord(r attendance.Record) attendance.Record {
	if r.CheckOut != nil {
		out := *r.CheckOut
		r.CheckOut = &out
	}
	if r.Duration != nil {
		d := *r.Duration
		r.Duration = &d
	}
	return r
}

func newer(a, b attendance.Record) bool {
	if !a.CheckIn.Equal(b.CheckIn) {
		return a.CheckIn.After(b.CheckIn)
	}
	return a.ID > b.ID
}

func (s *Store) recordIndex(id int64) int {
	for i, rec := range s.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) GetRecord(_ context.Context, id int64) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.recordIndex(id)
	if i < 0 {
		return attendance.Record{}, attendance.ErrNotFound
	}
	return cloneRecord(s.records[i]), nil
}

func (s *Store) UpdateStatus(_ context.Context, id int64, status attendance.Status) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.recordIndex(id)
	if i < 0 {
		return attendance.Record{}, attendance.ErrNotFound
	}
	s.records[i].Status = status
	return cloneRecord(s.records[i]), nil
}

func (s *Store) ListRecords(_ context.Context, userID string, limit, offset int) ([]attendance.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []attendance.Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			mine = append(mine, cloneRecord(rec))
		}
	}
	sort.Slice(mine, func(i, j int) bool { return newer(mine[i], mine[j]) })
	total := len(mine)
	if offset >= total {
		return []attendance.Record{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return mine[offset:end], total, nil
}

func (s *Store) InsertCorrection(_ context.Context, c attendance.Correction) (attendance.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.corrections {
		if existing.AttendanceID == c.AttendanceID {
			return attendance.Correction{}, attendance.ErrDuplicate
		}
	}
	s.nextCorrection++
	c.ID = s.nextCorrection
	s.corrections = append(s.corrections, c)
	return c, nil
}

func (s *Store) ListCorrections(_ context.Context, status attendance.CorrectionStatus) ([]attendance.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []attendance.Correction
	for _, c := range s.corrections {
		if c.Status == status {
			res = append(res, c)
		}
	}
	return res, nil
}

func (s *Store) ResolveCorrection(_ context.Context, id int64, status attendance.CorrectionStatus, recordStatus *attendance.Status, at time.Time) (attendance.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.corrections {
		c := &s.corrections[i]
		if c.ID != id {
			continue
		}
		if c.Status != attendance.CorrectionPending {
			return attendance.Correction{}, attendance.ErrNotPending
		}
		if recordStatus != nil {
			ri := s.recordIndex(c.AttendanceID)
			if ri < 0 {
				return attendance.Correction{}, attendance.ErrNotFound
			}
			s.records[ri].Status = *recordStatus
		}
		c.Status = status
		c.UpdatedAt = at
		return *c, nil
	}
	return attendance.Correction{}, attendance.ErrNotFound
}

func (s *Store) ListNotifications(_ context.Context, facultyID string, unreadOnly bool) ([]attendance.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []attendance.Notification
	for _, n := range s.notifications {
		if n.FacultyID == facultyID && !(unreadOnly && n.IsRead) {
			res = append(res, n)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id int64, facultyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].FacultyID == facultyID {
			s.notifications[i].IsRead = true
			return nil
		}
	}
	return attendance.ErrNotFound
}

// Notifications returns a copy of every stored notification.
func (s *Store) Notifications() []attendance.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]attendance.Notification(nil), s.notifications...)
}

func (s *Store) tally(u attendance.User, f analytics.Filter) analytics.Tally {
	t := analytics.Tally{UserID: u.UserID, Name: u.Name}
	for _, rec := range s.records {
		if rec.UserID != u.UserID {
			continue
		}
		if f.From != nil && rec.CheckIn.Before(*f.From) {
			continue
		}
		if f.Until != nil && !rec.CheckIn.Before(*f.Until) {
			continue
		}
		t.Total++
		if rec.Status == attendance.StatusPresent {
			t.Attended++
		}
	}
	return t
}

func (s *Store) StudentTallies(_ context.Context, f analytics.Filter) ([]analytics.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(f.NameContains)
	var res []analytics.Tally
	for _, u := range s.users {
		if u.Role != attendance.RoleStudent || !strings.Contains(strings.ToLower(u.Name), needle) {
			continue
		}
		res = append(res, s.tally(u, f))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

func (s *Store) StudentTally(_ context.Context, userID string) (analytics.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return analytics.Tally{}, attendance.ErrNotFound
	}
	return s.tally(u, analytics.Filter{}), nil
}

func (s *Store) PeriodStats(_ context.Context, facultyID string) ([]analytics.PeriodStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct{ userID, period string }
	scheduled := make(map[pair]bool)
	for _, slot := range s.slots {
		if slot.FacultyID == facultyID {
			scheduled[pair{slot.UserID, slot.Period}] = true
		}
	}
	byPeriod := make(map[string]*analytics.PeriodStat)
	for p := range scheduled {
		st, ok := byPeriod[p.period]
		if !ok {
			st = &analytics.PeriodStat{Period: p.period}
			byPeriod[p.period] = st
		}
		st.TotalStudents++
	}
	for _, rec := range s.records {
		if rec.Status == attendance.StatusPresent && scheduled[pair{rec.UserID, rec.Period}] {
			byPeriod[rec.Period].PresentCount++
		}
	}
	res := make([]analytics.PeriodStat, 0, len(byPeriod))
	for _, st := range byPeriod {
		res = append(res, *st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Period < res[j].Period })
	return res, nil
}

func (s *Store) DailyCounts(_ context.Context, userID string, since time.Time, loc *time.Location) ([]analytics.DayCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay := make(map[time.Time]*analytics.DayCount)
	for _, rec := range s.records {
		if userID != "" && rec.UserID != userID {
			continue
		}
		if s.users[rec.UserID].Role != attendance.RoleStudent || rec.CheckIn.Before(since) {
			continue
		}
		local := rec.CheckIn.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		dc, ok := byDay[day]
		if !ok {
			dc = &analytics.DayCount{Date: day}
			byDay[day] = dc
		}
		dc.Total++
		if rec.Status == attendance.StatusPresent {
			dc.Present++
		}
	}
	res := make([]analytics.DayCount, 0, len(byDay))
	for _, dc := range byDay {
		res = append(res, *dc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

func (s *Store) Totals(_ context.Context) (analytics.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t analytics.Totals
	for _, u := range s.users {
		if u.Role == attendance.RoleStudent {
			t.Students++
		}
	}
	for _, rec := range s.records {
		if s.users[rec.UserID].Role != attendance.RoleStudent {
			continue
		}
		t.Classes++
		if rec.Status == attendance.StatusPresent {
			t.Present++
		}
	}
	return t, nil
}
