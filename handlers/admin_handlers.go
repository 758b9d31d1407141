package handlers

import (
	"net/http"

	"deskledger/database"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// ClearDatabase drops and re-migrates every table, users included. Development only.
func ClearDatabase(c *gin.Context) {
	_, span := tracing.StartSpan(c.Request.Context(), "ClearDatabase")
	defer span.End()

	callerID := c.GetUint64("callerUserID")
	span.SetAttributes(attribute.Int64("caller_user_id", int64(callerID)))

	if err := database.ClearDBAndMigrate(); err != nil {
		respondError(c, span, err, "Failed to clear and migrate database")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Database cleared and migrated successfully",
		"cleared_by": callerID,
	})
}
