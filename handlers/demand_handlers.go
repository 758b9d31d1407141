package handlers

import (
	"context"
	"net/http"
	"strconv"

	"deskledger/billing"
	"deskledger/models"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type CreateDemandRequest struct {
	DomainID    uint            `json:"domain_id" binding:"required"`
	TicketID    *uint           `json:"ticket_id"`
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
	Value       decimal.Decimal `json:"value"`
}

func CreateDemand(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "CreateDemand")
	defer span.End()

	var req CreateDemandRequest
	if !bindJSON(c, span, &req) {
		return
	}
	span.SetAttributes(attribute.Int64("domain_id", int64(req.DomainID)), attribute.String("hours", req.Hours.String()))

	demand, err := Billing.CreateDemand(ctx, billing.CreateDemandInput{
		DomainID:    req.DomainID,
		TicketID:    req.TicketID,
		Title:       req.Title,
		Description: req.Description,
		Hours:       req.Hours,
		Value:       req.Value,
	})
	if err != nil {
		respondError(c, span, err, "Failed to create demand")
		return
	}

	c.JSON(http.StatusCreated, demand)
}

type UpdateDemandHoursRequest struct {
	Hours decimal.Decimal `json:"hours"`
}

func UpdateDemandHours(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "UpdateDemandHours")
	defer span.End()

	demandID, ok := parseID(c, span, "id", "demand")
	if !ok {
		return
	}
	var req UpdateDemandHoursRequest
	if !bindJSON(c, span, &req) {
		return
	}

	demand, err := Billing.UpdateDemandHours(ctx, demandID, req.Hours)
	if err != nil {
		respondError(c, span, err, "Failed to update demand hours")
		return
	}

	c.JSON(http.StatusOK, demand)
}

type UpdateDemandStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func UpdateDemandStatus(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "UpdateDemandStatus")
	defer span.End()

	demandID, ok := parseID(c, span, "id", "demand")
	if !ok {
		return
	}
	var req UpdateDemandStatusRequest
	if !bindJSON(c, span, &req) {
		return
	}
	span.SetAttributes(attribute.String("status", req.Status))

	demand, err := Billing.UpdateStatus(ctx, demandID, models.DemandStatus(req.Status))
	if err != nil {
		respondError(c, span, err, "Failed to update demand status")
		return
	}

	c.JSON(http.StatusOK, demand)
}

var demandActions = map[string]func(*billing.Service, context.Context, uint) (models.Demand, error){
	"approve":  (*billing.Service).Approve,
	"submit":   (*billing.Service).SubmitForApproval,
	"complete": (*billing.Service).Complete,
	"cancel":   (*billing.Service).Cancel,
}

// DemandAction runs one of the named demand transitions from the URL.
func DemandAction(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "DemandAction")
	defer span.End()

	demandID, ok := parseID(c, span, "id", "demand")
	if !ok {
		return
	}
	action := c.Param("action")
	span.SetAttributes(attribute.String("action", action))

	run, ok := demandActions[action]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown demand action " + strconv.Quote(action)})
		return
	}

	demand, err := run(Billing, ctx, demandID)
	if err != nil {
		respondError(c, span, err, "Failed to "+action+" demand")
		return
	}

	c.JSON(http.StatusOK, demand)
}

func DeleteDemand(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "DeleteDemand")
	defer span.End()

	demandID, ok := parseID(c, span, "id", "demand")
	if !ok {
		return
	}

	if err := Billing.DeleteDemand(ctx, demandID); err != nil {
		respondError(c, span, err, "Failed to delete demand")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Demand deleted"})
}

func GetDemand(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetDemand")
	defer span.End()

	demandID, ok := parseID(c, span, "id", "demand")
	if !ok {
		return
	}

	demand, err := Billing.GetDemand(ctx, demandID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve demand")
		return
	}
	if !canAccessClient(c, demand.Domain.ClientID) {
		respondError(c, span, errForbidden, "")
		return
	}

	c.JSON(http.StatusOK, demand)
}

func ListDemands(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ListDemands")
	defer span.End()

	clientID, ok := scopedClientID(c, span)
	if !ok {
		return
	}
	filter := billing.DemandFilter{
		ClientID: clientID,
		Status:   models.DemandStatus(c.Query("status")),
	}
	if raw := c.Query("ticket_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			tracing.SetError(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket ID"})
			return
		}
		filter.TicketID = uint(id)
	}

	demands, err := Billing.ListDemands(ctx, filter)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve demands")
		return
	}
	c.JSON(http.StatusOK, demands)
}
