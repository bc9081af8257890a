package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campusattend/internal/apperr"
)

type errorBody struct {
	Status  string            `json:"status"`
	Kind    apperr.Kind       `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"status": "success", "data": data})
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNoActiveSession:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Persistence failures only ever expose the generic
// message.
func fail(c *gin.Context, err error) {
	e := apperr.As(err)
	body := errorBody{Status: "error", Kind: e.Kind, Message: e.Message, Details: e.Details}
	if e.Kind == apperr.KindPersistence {
		body.Message = apperr.Persistence(nil).Message
		body.Details = nil
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(e.Kind), body)
}
