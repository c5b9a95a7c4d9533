package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quitcoach/internal/apperr"
	"quitcoach/internal/auth"
)

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindOutOfRange, apperr.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err in the error envelope. Errors outside the apperr
// taxonomy become a 500 and are attached to the context for the access log.
func writeError(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if msg == "" {
			msg = string(ae.Kind)
		}
		body := gin.H{"message": msg}
		if len(ae.Details) > 0 {
			body["details"] = ae.Details
		}
		c.JSON(statusFor(ae.Kind), gin.H{"error": body})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "Internal server error"}})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": msg}})
}

// currentActor returns the authenticated caller or writes a 401.
func currentActor(c *gin.Context) (auth.Actor, bool) {
	a, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Not authenticated"}})
	}
	return a, ok
}

// paramID parses a positive numeric path parameter or writes a 400.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
