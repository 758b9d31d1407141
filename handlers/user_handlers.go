package handlers

import (
	"errors"
	"net/http"

	"deskledger/database"
	"deskledger/models"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	// ClientID links a portal login to its client; staff accounts leave it empty.
	ClientID *uint `json:"client_id"`
	IsStaff  bool  `json:"is_staff"`
}

func CreateUser(c *gin.Context) {
	_, span := tracing.StartSpan(c.Request.Context(), "CreateUser")
	defer span.End()
	var req CreateUserRequest
	if !bindJSON(c, span, &req) {
		return
	}
	span.SetAttributes(attribute.String("username", req.Username), attribute.Bool("is_staff", req.IsStaff))

	if req.IsStaff == (req.ClientID != nil) {
		err := errors.New("a user is either staff or linked to exactly one client")
		tracing.SetError(span, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ClientID != nil {
		var client models.Client
		if err := database.DB.First(&client, *req.ClientID).Error; err != nil {
			tracing.SetError(span, err)
			c.JSON(http.StatusNotFound, gin.H{"error": "Target client not found"})
			return
		}
	}

	var existingUser models.User
	if err := database.DB.Where("username = ? OR email = ?", req.Username, req.Email).First(&existingUser).Error; err == nil {
		err = errors.New("username or email address already in use")
		tracing.SetError(span, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.SetError(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check for existing user"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		tracing.SetError(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user := models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		IsStaff:      req.IsStaff,
		ClientID:     req.ClientID,
	}

	if err := database.DB.Create(&user).Error; err != nil {
		tracing.SetError(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully", "user_id": user.ID})
}

// GetUserSubscriptions lists the subscriptions of the user's client.
func GetUserSubscriptions(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetUserSubscriptions")
	defer span.End()

	userID, ok := parseID(c, span, "id", "user")
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("user_id", int64(userID)))

	callerUserID := c.GetUint64("callerUserID")
	if uint64(userID) != callerUserID && !c.GetBool("callerIsStaff") {
		err := errors.New("unauthorized: you can only view your own subscriptions")
		tracing.SetError(span, err)
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := database.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		tracing.SetError(span, err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return
	}
	if user.ClientID == nil {
		c.JSON(http.StatusOK, []models.Subscription{})
		return
	}

	subscriptions, err := Billing.ListSubscriptions(ctx, *user.ClientID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve subscriptions for user's client")
		return
	}

	c.JSON(http.StatusOK, subscriptions)
}
