// Package handlers implements the HTTP handlers for the engine API.
// Every response is wrapped in the status envelope: successes carry
// {"status":"success","data":...}, failures {"status":"error","error":
// {"kind":...,"message":...}} with the HTTP status derived from the
// error kind.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/middleware"
)

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		middleware.RecordError(c, err)
	}
	c.JSON(status, gin.H{
		"status": "error",
		"error": gin.H{
			"kind":    apperrors.KindOf(err),
			"message": errorMessage(err),
		},
	})
}

// respondBindError classifies a gin binding failure as a validation
// error.
func respondBindError(c *gin.Context, err error) {
	respondError(c, apperrors.Validation("invalid request body: %v", err))
}

// errorMessage strips the kind prefix that Error() prepends so the
// envelope does not repeat the kind field.
func errorMessage(err error) string {
	var e *apperrors.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
