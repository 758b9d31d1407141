package handlers

import (
	"context"
	"net/http"
	"strconv"

	"deskledger/billing"
	"deskledger/models"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type OpenTicketRequest struct {
	// ClientID is required from staff; portal users always open tickets for their own client.
	ClientID uint   `json:"client_id"`
	DomainID *uint  `json:"domain_id"`
	Subject  string `json:"subject" binding:"required"`
	Message  string `json:"message"`
}

func OpenTicket(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "OpenTicket")
	defer span.End()

	var req OpenTicketRequest
	if !bindJSON(c, span, &req) {
		return
	}
	if !c.GetBool("callerIsStaff") {
		req.ClientID = uint(c.GetUint64("callerClientID"))
	}
	span.SetAttributes(attribute.Int64("client_id", int64(req.ClientID)))

	ticket, err := Billing.OpenTicket(ctx, billing.OpenTicketInput{
		ClientID: req.ClientID,
		DomainID: req.DomainID,
		Subject:  req.Subject,
		Message:  req.Message,
	})
	if err != nil {
		respondError(c, span, err, "Failed to open ticket")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Ticket opened", "ticket_id": ticket.ID})
}

func GetTicket(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetTicket")
	defer span.End()

	ticketID, ok := parseID(c, span, "id", "ticket")
	if !ok {
		return
	}

	ticket, err := Billing.GetTicket(ctx, ticketID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve ticket")
		return
	}
	if !canAccessClient(c, ticket.ClientID) {
		respondError(c, span, errForbidden, "")
		return
	}

	c.JSON(http.StatusOK, ticket)
}

func ListTickets(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ListTickets")
	defer span.End()

	clientID, ok := scopedClientID(c, span)
	if !ok {
		return
	}

	tickets, err := Billing.ListTickets(ctx, clientID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve tickets")
		return
	}
	c.JSON(http.StatusOK, tickets)
}

var ticketActions = map[string]func(*billing.Service, context.Context, uint) (models.Ticket, error){
	"start":    (*billing.Service).StartTicket,
	"complete": (*billing.Service).CompleteTicket,
	"cancel":   (*billing.Service).CancelTicket,
}

func TicketAction(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "TicketAction")
	defer span.End()

	ticketID, ok := parseID(c, span, "id", "ticket")
	if !ok {
		return
	}
	action := c.Param("action")
	span.SetAttributes(attribute.String("action", action))

	run, ok := ticketActions[action]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown ticket action " + strconv.Quote(action)})
		return
	}

	ticket, err := run(Billing, ctx, ticketID)
	if err != nil {
		respondError(c, span, err, "Failed to "+action+" ticket")
		return
	}

	c.JSON(http.StatusOK, ticket)
}

func DeleteTicket(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "DeleteTicket")
	defer span.End()

	ticketID, ok := parseID(c, span, "id", "ticket")
	if !ok {
		return
	}

	if err := Billing.DeleteTicket(ctx, ticketID); err != nil {
		respondError(c, span, err, "Failed to delete ticket")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Ticket deleted"})
}
