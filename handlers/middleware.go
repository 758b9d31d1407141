package handlers

import (
	"net/http"
	"strconv"

	"deskledger/database"
	"deskledger/models"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware resolves caller_user_id to a staff member or a client portal user.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerUserIDStr := c.Query("caller_user_id")

		callerUserID, err := strconv.ParseUint(callerUserIDStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid caller user ID"})
			c.Abort()
			return
		}

		var callerUser models.User
		if err := database.DB.First(&callerUser, callerUserID).Error; err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized: Caller user not found"})
			c.Abort()
			return
		}
		if !callerUser.IsStaff && callerUser.ClientID == nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized: Caller user is not linked to a client"})
			c.Abort()
			return
		}

		c.Set("callerUserID", callerUserID)
		c.Set("callerIsStaff", callerUser.IsStaff)
		if callerUser.ClientID != nil {
			c.Set("callerClientID", uint64(*callerUser.ClientID))
		}

		c.Next()
	}
}

// StaffOnly rejects client portal users. It runs after AuthMiddleware.
func StaffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("callerIsStaff") {
			c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized: staff only"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// canAccessClient reports whether the caller may read or act on clientID's records.
func canAccessClient(c *gin.Context, clientID uint) bool {
	if c.GetBool("callerIsStaff") {
		return true
	}
	return uint(c.GetUint64("callerClientID")) == clientID
}
