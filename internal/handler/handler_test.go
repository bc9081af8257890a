package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/memstore"
	"campusattend/internal/metrics"
)

type testServer struct {
	router *gin.Engine
	signer *auth.Signer
	store  *memstore.Store
	now    time.Time
}

type envelope struct {
	Status  string            `json:"status"`
	Data    json.RawMessage   `json:"data"`
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store := memstore.New()
	log := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	dir := attendance.NewDirectory(store, log)
	for _, in := range []attendance.UserInput{
		{UserID: "FAC001", Name: "Dr. Smith", Role: "faculty", Email: "smith@college.edu", Department: "CSE"},
		{UserID: "STU001", Name: "John Doe", Role: "student", Email: "john@college.edu", Year: "3", Branch: "CSE"},
	} {
		_, err := dir.Register(ctx, in)
		require.NoError(t, err)
	}
	tt := attendance.NewTimetable(store, time.UTC, nil, m, log)
	_, err := tt.CreateSlot(ctx, "FAC001", attendance.SlotInput{
		UserID: "STU001", Day: "monday", Period: "1", StartTime: "09:00", EndTime: "10:00",
		BlockName: "Block-A", WifiName: "Campus-Wifi",
	})
	require.NoError(t, err)

	ts := &testServer{
		signer: auth.NewSigner("test-signing-key-123", "campusattend", time.Hour),
		store:  store,
		// 2024-03-04 is a Monday.
		now: time.Date(2024, 3, 4, 9, 5, 0, 0, time.UTC),
	}
	h := New(Deps{
		Sessions:    attendance.NewService(store, attendance.NewResolver(store, time.UTC, 0), nil, m, log),
		Timetable:   tt,
		Corrections: attendance.NewCorrections(store, nil, m, log),
		Inbox:       attendance.NewInbox(store, log),
		Directory:   dir,
		Analytics:   analytics.NewEngine(store, store, time.UTC, log),
		Signer:      ts.signer,
		Location:    time.UTC,
		Log:         log,
		Now:         func() time.Time { return ts.now },
	})

	r := gin.New()
	r.Use(RequestLog(log), Observe(m))
	h.Register(r.Group("/v1", auth.UserAuth(ts.signer)), nil)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, user, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := ts.signer.Issue(user, "", time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestCheckInAndOut(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, "STU001", http.MethodPost, "/v1/student/check-in",
		map[string]string{"wifi_name": "Campus-Wifi", "block_name": "Block-A"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "success", env.Status)
	var rec attendance.Record
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, attendance.StatusLate, rec.Status)
	assert.Equal(t, "1", rec.Period)

	ts.now = ts.now.Add(89*time.Minute + 59*time.Second)
	code, env = ts.do(t, "STU001", http.MethodPost, "/v1/student/check-out", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.Equal(t, 89, *rec.Duration)

	code, env = ts.do(t, "STU001", http.MethodPost, "/v1/student/check-out", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, string(apperr.KindNoActiveSession), env.Kind)
}

func TestCheckInValidationDetails(t *testing.T) {
	ts := newTestServer(t)
	code, env := ts.do(t, "STU001", http.MethodPost, "/v1/student/check-in", map[string]string{"block_name": "Block-A"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(apperr.KindValidation), env.Kind)
	assert.Equal(t, "required", env.Details["wifi_name"])

	code, _ = ts.do(t, "", http.MethodPost, "/v1/student/check-in", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestFacultyOnlyRoutes(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{
		"/v1/faculty/students",
		"/v1/faculty/students/detained",
		"/v1/faculty/periods",
		"/v1/faculty/overview",
		"/v1/faculty/notifications",
		"/v1/faculty/corrections",
	} {
		code, env := ts.do(t, "STU001", http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, code, path)
		assert.Equal(t, string(apperr.KindAuthorization), env.Kind, path)
	}
}

func TestLateArrivalReachesInbox(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, "STU001", http.MethodPost, "/v1/student/check-in",
		map[string]string{"wifi_name": "Campus-Wifi", "block_name": "Block-A"})
	require.Equal(t, http.StatusCreated, code)

	code, env := ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	var notes []attendance.Notification
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "Student John Doe is late for 1 class.", notes[0].Message)

	code, _ = ts.do(t, "FAC001", http.MethodPost, "/v1/faculty/notifications/1/read", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestCorrectionFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "STU001", http.MethodPost, "/v1/student/check-in",
		map[string]string{"wifi_name": "Campus-Wifi", "block_name": "Block-A"})

	code, env := ts.do(t, "STU001", http.MethodPost, "/v1/student/corrections",
		map[string]any{"attendance_id": 1, "reason": "bus was late"})
	require.Equal(t, http.StatusCreated, code)
	var req attendance.Correction
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, attendance.CorrectionPending, req.Status)

	code, env = ts.do(t, "FAC001", http.MethodPost, "/v1/faculty/corrections/1/decision", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "required", env.Details["approve"])

	code, env = ts.do(t, "FAC001", http.MethodPost, "/v1/faculty/corrections/1/decision", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, attendance.CorrectionApproved, req.Status)

	code, env = ts.do(t, "STU001", http.MethodGet, "/v1/student/summary", nil)
	require.Equal(t, http.StatusOK, code)
	var sum analytics.Summary
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, 100.0, sum.Percentage)
	assert.Equal(t, analytics.ZoneGreen, sum.Zone)
}

func TestFacultyAnalytics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "STU001", http.MethodPost, "/v1/student/check-in",
		map[string]string{"wifi_name": "Campus-Wifi", "block_name": "Block-A"})

	code, env := ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/students?sort_by=name&order=asc", nil)
	require.Equal(t, http.StatusOK, code)
	var page analytics.RankedPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.TotalStudents)
	assert.Equal(t, analytics.ZoneRed, page.Students[0].Zone)

	code, env = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/students?from=2024-13-01", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "YYYY-MM-DD", env.Details["from"])

	code, env = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/students/below?percentage=50", nil)
	require.Equal(t, http.StatusOK, code)
	var rows []analytics.StudentRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)

	code, _ = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/students/below", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/students/STU001/summary", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/periods", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"period":"1","total_students":1,"present_count":0}]`, string(env.Data))

	code, env = ts.do(t, "FAC001", http.MethodGet, "/v1/faculty/trend?days=7", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"date":"2024-03-04","total":1,"present":0,"rate":0}]`, string(env.Data))
}

func TestTimetableRoutes(t *testing.T) {
	ts := newTestServer(t)
	code, env := ts.do(t, "FAC001", http.MethodPost, "/v1/faculty/timetable", map[string]string{
		"timetable_user_id": "STU001", "day": "tuesday", "period": "2",
		"start_time": "10:00", "end_time": "11:00", "block_name": "Block-B", "wifi_name": "Campus-Wifi",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Contains(t, string(env.Data), `"day":"tuesday"`)

	code, env = ts.do(t, "STU001", http.MethodGet, "/v1/student/timetable", nil)
	require.Equal(t, http.StatusOK, code)
	var slots []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &slots))
	assert.Len(t, slots, 2)

	code, env = ts.do(t, "FAC001", http.MethodGet, "/v1/student/timetable", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no timetable found for this user", env.Message)
}

func TestOverrideAndHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "STU001", http.MethodPost, "/v1/student/check-in",
		map[string]string{"wifi_name": "Campus-Wifi", "block_name": "Block-A"})

	code, _ := ts.do(t, "FAC001", http.MethodPost, "/v1/faculty/attendance/abc/status", map[string]string{"status": "absent"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, "FAC001", http.MethodPost, "/v1/faculty/attendance/1/status", map[string]string{"status": "absent"})
	require.Equal(t, http.StatusOK, code)

	code, env := ts.do(t, "STU001", http.MethodGet, "/v1/student/history?page=1&per_page=5", nil)
	require.Equal(t, http.StatusOK, code)
	var page attendance.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, attendance.StatusAbsent, page.Records[0].Status)
	assert.Equal(t, 5, page.PerPage)
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)
	ts.now = time.Now()
	code, env := ts.do(t, "FAC001", http.MethodPost, "/v1/auth/refresh", nil)
	require.Equal(t, http.StatusOK, code)
	var tok auth.Token
	require.NoError(t, json.Unmarshal(env.Data, &tok))

	claims, err := ts.signer.Parse(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "faculty", claims.Role)

	code, _ = ts.do(t, "GHOST", http.MethodPost, "/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFailHidesStorageCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		fail(c, apperr.Persistence(errors.New(`pq: relation "attendance" does not exist`)))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "relation")
	assert.Contains(t, w.Body.String(), "internal storage failure")
}

func TestRequestLogTagsErrorKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestLog(zap.New(core)))
	r.GET("/missing", func(c *gin.Context) { fail(c, apperr.NotFound("record not found")) })
	r.GET("/broken", func(c *gin.Context) { fail(c, errors.New("connection reset")) })
	r.GET("/fine", func(c *gin.Context) { ok(c, http.StatusOK, nil) })

	for _, path := range []string{"/missing", "/broken", "/fine"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, string(apperr.KindNotFound), entries[0].ContextMap()["kind"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, string(apperr.KindPersistence), entries[1].ContextMap()["kind"])
	assert.NotContains(t, entries[2].ContextMap(), "kind")
	assert.NotEmpty(t, entries[2].ContextMap()["request_id"])
}
