// Package handler exposes the attendance operations over HTTP.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/auth"
)

// Deps are the services the handlers delegate to.
type Deps struct {
	Sessions    *attendance.Service
	Timetable   *attendance.Timetable
	Corrections *attendance.Corrections
	Inbox       *attendance.Inbox
	Directory   *attendance.Directory
	Analytics   *analytics.Engine
	Signer      *auth.Signer
	Location    *time.Location
	Log         *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{Deps: d}
}

// Register mounts every route on v1, which must already carry
// authentication. refreshLimit guards the token refresh route.
func (h *Handler) Register(v1 *gin.RouterGroup, refreshLimit gin.HandlerFunc) {
	if refreshLimit == nil {
		refreshLimit = func(c *gin.Context) { c.Next() }
	}
	v1.POST("/auth/refresh", refreshLimit, h.refresh)

	student := v1.Group("/student")
	student.POST("/check-in", h.checkIn)
	student.POST("/check-out", h.checkOut)
	student.GET("/summary", h.ownSummary)
	student.GET("/weekly", h.weekly)
	student.GET("/history", h.history)
	student.GET("/timetable", h.timetable)
	student.POST("/upcoming", h.upcoming)
	student.POST("/corrections", h.submitCorrection)

	faculty := v1.Group("/faculty")
	faculty.POST("/timetable", h.createSlot)
	faculty.POST("/attendance/:id/status", h.overrideStatus)
	faculty.GET("/corrections", h.pendingCorrections)
	faculty.POST("/corrections/:id/decision", h.decideCorrection)
	faculty.GET("/students", h.rankedStudents)
	faculty.GET("/students/below", h.belowThreshold)
	faculty.GET("/students/detained", h.detained)
	faculty.GET("/students/:id/summary", h.studentSummary)
	faculty.GET("/periods", h.periods)
	faculty.GET("/trend", h.trend)
	faculty.GET("/overview", h.overview)
	faculty.GET("/notifications", h.notifications)
	faculty.POST("/notifications/:id/read", h.markRead)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperr.Validation("malformed request body"))
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, apperr.Invalid("invalid id", map[string]string{"id": "positive integer"}))
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fail(c, apperr.Invalid("invalid query parameter", map[string]string{name: "integer"}))
		return 0, false
	}
	return v, true
}

func (h *Handler) queryDate(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	d, err := time.ParseInLocation("2006-01-02", raw, h.Location)
	if err != nil {
		fail(c, apperr.Invalid("invalid query parameter", map[string]string{name: "YYYY-MM-DD"}))
		return nil, false
	}
	return &d, true
}

func (h *Handler) refresh(c *gin.Context) {
	u, err := h.Directory.Get(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	tok, err := h.Signer.Issue(u.UserID, string(u.Role), h.Now())
	if err != nil {
		h.Log.Error("token issue failed", zap.Error(err))
		fail(c, apperr.Persistence(err))
		return
	}
	ok(c, http.StatusOK, tok)
}

func (h *Handler) checkIn(c *gin.Context) {
	var req attendance.CheckInRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.Sessions.CheckIn(c.Request.Context(), auth.CurrentUserID(c), req, h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, rec)
}

func (h *Handler) checkOut(c *gin.Context) {
	rec, err := h.Sessions.CheckOut(c.Request.Context(), auth.CurrentUserID(c), h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

func (h *Handler) ownSummary(c *gin.Context) {
	uid := auth.CurrentUserID(c)
	sum, err := h.Analytics.StudentSummary(c.Request.Context(), uid, uid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

func (h *Handler) weekly(c *gin.Context) {
	weeks, valid := queryInt(c, "weeks", 4)
	if !valid {
		return
	}
	uid := auth.CurrentUserID(c)
	report, err := h.Analytics.WeeklyReport(c.Request.Context(), uid, uid, weeks, h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

func (h *Handler) history(c *gin.Context) {
	page, valid := queryInt(c, "page", 1)
	if !valid {
		return
	}
	perPage, valid := queryInt(c, "per_page", 10)
	if !valid {
		return
	}
	res, err := h.Sessions.History(c.Request.Context(), auth.CurrentUserID(c), page, perPage)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

func (h *Handler) timetable(c *gin.Context) {
	slots, err := h.Timetable.ForUser(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, slots)
}

func (h *Handler) upcoming(c *gin.Context) {
	slots, err := h.Timetable.Upcoming(c.Request.Context(), auth.CurrentUserID(c), h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, slots)
}

func (h *Handler) submitCorrection(c *gin.Context) {
	var in attendance.CorrectionInput
	if !bindJSON(c, &in) {
		return
	}
	req, err := h.Corrections.Submit(c.Request.Context(), auth.CurrentUserID(c), in, h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, req)
}

func (h *Handler) createSlot(c *gin.Context) {
	var in attendance.SlotInput
	if !bindJSON(c, &in) {
		return
	}
	slot, err := h.Timetable.CreateSlot(c.Request.Context(), auth.CurrentUserID(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, slot)
}

func (h *Handler) overrideStatus(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !bindJSON(c, &body) {
		return
	}
	rec, err := h.Sessions.OverrideStatus(c.Request.Context(), auth.CurrentUserID(c), id, body.Status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

func (h *Handler) pendingCorrections(c *gin.Context) {
	list, err := h.Corrections.Pending(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (h *Handler) decideCorrection(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var body struct {
		Approve *bool `json:"approve"`
	}
	if !bindJSON(c, &body) {
		return
	}
	if body.Approve == nil {
		fail(c, apperr.Invalid("invalid request", map[string]string{"approve": "required"}))
		return
	}
	decided, err := h.Corrections.Decide(c.Request.Context(), auth.CurrentUserID(c), id, *body.Approve, h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, decided)
}

func (h *Handler) rankedStudents(c *gin.Context) {
	var (
		q     analytics.ListQuery
		valid bool
	)
	if q.Page, valid = queryInt(c, "page", 1); !valid {
		return
	}
	if q.PerPage, valid = queryInt(c, "per_page", 10); !valid {
		return
	}
	if q.From, valid = h.queryDate(c, "from"); !valid {
		return
	}
	if q.To, valid = h.queryDate(c, "to"); !valid {
		return
	}
	q.SortBy = c.Query("sort_by")
	q.Order = c.Query("order")
	q.Name = c.Query("name")

	page, err := h.Analytics.RankedStudents(c.Request.Context(), auth.CurrentUserID(c), q)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, page)
}

func (h *Handler) studentSummary(c *gin.Context) {
	sum, err := h.Analytics.StudentSummary(c.Request.Context(), auth.CurrentUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}

func (h *Handler) belowThreshold(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("percentage"))
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fail(c, apperr.Invalid("invalid query parameter", map[string]string{"percentage": "number"}))
		return
	}
	rows, err := h.Analytics.BelowThreshold(c.Request.Context(), auth.CurrentUserID(c), threshold)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rows)
}

func (h *Handler) detained(c *gin.Context) {
	rows, err := h.Analytics.Detained(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rows)
}

func (h *Handler) periods(c *gin.Context) {
	stats, err := h.Analytics.PeriodStatistics(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

func (h *Handler) trend(c *gin.Context) {
	days, valid := queryInt(c, "days", 7)
	if !valid {
		return
	}
	points, err := h.Analytics.Trend(c.Request.Context(), auth.CurrentUserID(c), days, h.Now())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, points)
}

func (h *Handler) overview(c *gin.Context) {
	ov, err := h.Analytics.Overview(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ov)
}

func (h *Handler) notifications(c *gin.Context) {
	list, err := h.Inbox.Unread(c.Request.Context(), auth.CurrentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (h *Handler) markRead(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.Inbox.MarkRead(c.Request.Context(), auth.CurrentUserID(c), id); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id, "is_read": true})
}
