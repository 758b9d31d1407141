package handlers

import (
	"errors"
	"net/http"

	"deskledger/database"
	"deskledger/models"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type CreateClientRequest struct {
	Name         string `json:"name" binding:"required"`
	BillingEmail string `json:"billing_email" binding:"required,email"`
	Document     string `json:"document"`
}

func CreateClient(c *gin.Context) {
	_, span := tracing.StartSpan(c.Request.Context(), "CreateClient")
	defer span.End()

	var req CreateClientRequest
	if !bindJSON(c, span, &req) {
		return
	}

	client := models.Client{
		Name:         req.Name,
		BillingEmail: req.BillingEmail,
		Document:     req.Document,
	}
	if err := database.DB.Create(&client).Error; err != nil {
		tracing.SetError(span, err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Client with this name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create client"})
		return
	}

	c.JSON(http.StatusCreated, client)
}

type CreateDomainRequest struct {
	Host string `json:"host" binding:"required,hostname_rfc1123"`
}

func CreateDomain(c *gin.Context) {
	_, span := tracing.StartSpan(c.Request.Context(), "CreateDomain")
	defer span.End()

	clientID, ok := parseID(c, span, "id", "client")
	if !ok {
		return
	}
	var req CreateDomainRequest
	if !bindJSON(c, span, &req) {
		return
	}
	span.SetAttributes(attribute.String("host", req.Host))

	var client models.Client
	if err := database.DB.First(&client, clientID).Error; err != nil {
		tracing.SetError(span, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}

	domain := models.Domain{ClientID: client.ID, Host: req.Host}
	if err := database.DB.Create(&domain).Error; err != nil {
		tracing.SetError(span, err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "Domain is already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create domain"})
		return
	}

	c.JSON(http.StatusCreated, domain)
}

type ClientSummaryResponse struct {
	ClientName          string                `json:"client_name"`
	BillingEmail        string                `json:"billing_email"`
	Domains             []models.Domain       `json:"domains"`
	ActiveSubscriptions []models.Subscription `json:"active_subscriptions"`
	OpenDemands         int64                 `json:"open_demands"`
	TotalInvoices       int64                 `json:"total_invoices"`
	TotalInvoiced       decimal.Decimal       `json:"total_invoiced"`
	OutstandingValue    decimal.Decimal       `json:"outstanding_value"`
	LatestInvoices      []models.Invoice      `json:"latest_invoices"`
	RecentPayments      []models.Payment      `json:"recent_payments"`
}

func GetClientSummary(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetClientSummary")
	defer span.End()

	clientID, ok := parseID(c, span, "id", "client")
	if !ok {
		return
	}
	if !canAccessClient(c, clientID) {
		respondError(c, span, errForbidden, "")
		return
	}

	db := database.DB.WithContext(ctx)
	var client models.Client
	if err := db.Preload("Domains").First(&client, clientID).Error; err != nil {
		tracing.SetError(span, err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve client"})
		return
	}

	var subscriptions []models.Subscription
	db.Preload("Plan").Where("client_id = ? AND status = ?", clientID, models.SubscriptionActive).Find(&subscriptions)

	var openDemands int64
	db.Model(&models.Demand{}).
		Joins("JOIN domains ON domains.id = demands.domain_id").
		Where("domains.client_id = ? AND demands.status IN ?", clientID, models.OpenDemandStatuses).
		Count(&openDemands)

	var invoices []models.Invoice
	db.Where("client_id = ?", clientID).Find(&invoices)

	totalInvoiced, outstanding := decimal.Zero, decimal.Zero
	for _, invoice := range invoices {
		if invoice.Status == models.InvoiceCancelled {
			continue
		}
		totalInvoiced = totalInvoiced.Add(invoice.Value)
		if invoice.Status != models.InvoicePaid {
			outstanding = outstanding.Add(invoice.Value)
		}
	}

	var latestInvoices []models.Invoice
	db.Where("client_id = ?", clientID).Order("created_at desc").Limit(5).Find(&latestInvoices)

	var recentPayments []models.Payment
	db.Joins("JOIN invoices ON payments.invoice_id = invoices.id").Where("invoices.client_id = ?", clientID).Order("payments.payment_date desc").Limit(5).Find(&recentPayments)

	c.JSON(http.StatusOK, ClientSummaryResponse{
		ClientName:          client.Name,
		BillingEmail:        client.BillingEmail,
		Domains:             client.Domains,
		ActiveSubscriptions: subscriptions,
		OpenDemands:         openDemands,
		TotalInvoices:       int64(len(invoices)),
		TotalInvoiced:       totalInvoiced,
		OutstandingValue:    outstanding,
		LatestInvoices:      latestInvoices,
		RecentPayments:      recentPayments,
	})
}
