package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"deskledger/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketLifecycleOverHTTP(t *testing.T) {
	env := setupTestEnv(t)

	// portal users cannot open tickets for another client
	w := env.do(t, http.MethodPost, "/tickets", &env.portal, gin.H{"client_id": 999, "subject": "Site is down"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opened struct {
		TicketID uint `json:"ticket_id"`
	}
	decode(t, w, &opened)

	w = env.do(t, http.MethodPost, "/demands", &env.staff, gin.H{
		"domain_id": env.domain.ID, "ticket_id": opened.TicketID, "title": "Restart workers", "hours": "1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d models.Demand
	decode(t, w, &d)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/tickets/%d", opened.TicketID), &env.staff, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/demands/%d/complete", d.ID), &env.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/tickets/%d", opened.TicketID), &env.portal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ticket models.Ticket
	decode(t, w, &ticket)
	assert.Equal(t, env.client.ID, ticket.ClientID)
	assert.Equal(t, models.TicketCompleted, ticket.Status)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/start", opened.TicketID), &env.staff, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTicketActions(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPost, "/tickets", &env.staff, gin.H{"subject": "No client"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/tickets", &env.staff, gin.H{"client_id": env.client.ID, "subject": "Renew TLS"})
	require.Equal(t, http.StatusCreated, w.Code)
	var opened struct {
		TicketID uint `json:"ticket_id"`
	}
	decode(t, w, &opened)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/start", opened.TicketID), &env.portal, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/reopen", opened.TicketID), &env.staff, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/start", opened.TicketID), &env.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.TicketInProgress))

	w = env.do(t, http.MethodGet, "/tickets", &env.portal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tickets []models.Ticket
	decode(t, w, &tickets)
	assert.Len(t, tickets, 1)

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/tickets/%d", opened.TicketID), &env.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/tickets/%d", opened.TicketID), &env.staff, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
