package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"campusattend/internal/apperr"
	"campusattend/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestLog tags every request with an id and logs its outcome.
func RequestLog(log *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()
		c.Next()

		if skipped[c.Request.URL.Path] {
			return
		}
		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) == 0 {
			log.Info("request", fields...)
			return
		}
		last := c.Errors.Last()
		kind := apperr.KindOf(last.Err)
		fields = append(fields, zap.String("kind", string(kind)), zap.Error(last.Err))
		if kind == apperr.KindPersistence {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// Observe counts requests per matched route and status code.
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Request(route, strconv.Itoa(c.Writer.Status()))
	}
}
