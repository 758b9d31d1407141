// Package handlers exposes the back office and client portal over gin.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"deskledger/billing"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

var Billing *billing.Service

func SetBilling(s *billing.Service) {
	Billing = s
}

var errForbidden = errors.New("unauthorized: record does not belong to the caller's client")

// respondError maps billing errors onto HTTP statuses. Anything unrecognised is a 500
// with a generic message.
func respondError(c *gin.Context, span trace.Span, err error, fallback string) {
	tracing.SetError(span, err)

	var te *billing.TransitionError
	switch {
	case errors.Is(err, errForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &te), errors.Is(err, billing.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseID(c *gin.Context, span trace.Span, name, label string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		tracing.SetError(span, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + label + " ID"})
		return 0, false
	}
	return uint(id), true
}

func bindJSON(c *gin.Context, span trace.Span, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		tracing.SetError(span, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// scopedClientID is the caller's own client, or the optional client_id query parameter
// for staff. Zero means every client.
func scopedClientID(c *gin.Context, span trace.Span) (uint, bool) {
	if !c.GetBool("callerIsStaff") {
		return uint(c.GetUint64("callerClientID")), true
	}
	raw := c.Query("client_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		tracing.SetError(span, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client ID"})
		return 0, false
	}
	return uint(id), true
}
