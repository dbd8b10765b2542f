package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/service"
	"task-reward-engine/internal/store"
)

// respondError maps a service error onto a status code and writes the envelope.
func respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp := NewErrorResponse(http.StatusBadRequest, verr.Error())
		if len(verr.Skipped) > 0 {
			resp.Data = gin.H{"skipped": verr.Skipped}
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "Internal server error"
	}
	c.JSON(status, NewErrorResponse(status, message))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrStopPointNotFound),
		errors.Is(err, store.ErrRechargeNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRechargeProcessed),
		errors.Is(err, service.ErrStopPointTriggered),
		errors.Is(err, store.ErrDuplicateStop):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSelfReferral),
		errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
