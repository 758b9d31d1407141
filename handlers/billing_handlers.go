package handlers

import (
	"errors"
	"net/http"
	"time"

	"deskledger/billing"
	"deskledger/models"
	"deskledger/tracing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type PlanRequest struct {
	Name          string           `json:"name" binding:"required"`
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	IncludedHours int              `json:"included_hours" binding:"gte=0"`
	OverageRate   *decimal.Decimal `json:"overage_rate"`
	Status        string           `json:"status"`
}

func (r PlanRequest) input() billing.PlanInput {
	return billing.PlanInput{
		Name:          r.Name,
		Description:   r.Description,
		Price:         r.Price,
		IncludedHours: r.IncludedHours,
		OverageRate:   r.OverageRate,
		Status:        models.PlanStatus(r.Status),
	}
}

func CreatePlan(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "CreatePlan")
	defer span.End()

	var req PlanRequest
	if !bindJSON(c, span, &req) {
		return
	}

	plan, err := Billing.CreatePlan(ctx, req.input())
	if err != nil {
		respondError(c, span, err, "Failed to create plan")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Plan created successfully", "plan_id": plan.ID})
}

func UpdatePlan(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "UpdatePlan")
	defer span.End()

	planID, ok := parseID(c, span, "id", "plan")
	if !ok {
		return
	}
	var req PlanRequest
	if !bindJSON(c, span, &req) {
		return
	}

	plan, err := Billing.UpdatePlan(ctx, planID, req.input())
	if err != nil {
		respondError(c, span, err, "Failed to update plan")
		return
	}

	c.JSON(http.StatusOK, plan)
}

func ListPlans(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ListPlans")
	defer span.End()

	// portal users only see plans they can subscribe to
	plans, err := Billing.ListPlans(ctx, !c.GetBool("callerIsStaff"))
	if err != nil {
		respondError(c, span, err, "Failed to retrieve plans")
		return
	}
	c.JSON(http.StatusOK, plans)
}

func GetPlan(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetPlan")
	defer span.End()

	planID, ok := parseID(c, span, "id", "plan")
	if !ok {
		return
	}

	plan, err := Billing.GetPlan(ctx, planID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve plan")
		return
	}
	c.JSON(http.StatusOK, plan)
}

type SubscribeRequest struct {
	ClientID  uint       `json:"client_id" binding:"required"`
	DomainID  uint       `json:"domain_id" binding:"required"`
	PlanID    uint       `json:"plan_id" binding:"required"`
	StartDate *time.Time `json:"start_date"`
}

func Subscribe(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "Subscribe")
	defer span.End()

	var req SubscribeRequest
	if !bindJSON(c, span, &req) {
		return
	}
	span.SetAttributes(
		attribute.Int64("client_id", int64(req.ClientID)),
		attribute.Int64("domain_id", int64(req.DomainID)),
		attribute.Int64("plan_id", int64(req.PlanID)),
	)

	subscription, err := Billing.CreateSubscription(ctx, billing.CreateSubscriptionInput{
		ClientID:  req.ClientID,
		DomainID:  req.DomainID,
		PlanID:    req.PlanID,
		StartDate: req.StartDate,
	})
	if err != nil {
		respondError(c, span, err, "Failed to create subscription")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":         "Subscription created successfully",
		"subscription_id": subscription.ID,
		"hours_remaining": subscription.HoursRemaining,
	})
}

type ChangePlanRequest struct {
	PlanID uint `json:"plan_id" binding:"required"`
}

func ChangePlan(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ChangePlan")
	defer span.End()

	subscriptionID, ok := parseID(c, span, "id", "subscription")
	if !ok {
		return
	}
	var req ChangePlanRequest
	if !bindJSON(c, span, &req) {
		return
	}

	subscription, err := Billing.ChangePlan(ctx, subscriptionID, req.PlanID)
	if err != nil {
		respondError(c, span, err, "Failed to change plan")
		return
	}

	c.JSON(http.StatusOK, subscription)
}

func ResetSubscriptionHours(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ResetSubscriptionHours")
	defer span.End()

	subscriptionID, ok := parseID(c, span, "id", "subscription")
	if !ok {
		return
	}

	subscription, err := Billing.ResetHours(ctx, subscriptionID)
	if err != nil {
		respondError(c, span, err, "Failed to reset subscription hours")
		return
	}

	c.JSON(http.StatusOK, subscription)
}

func CancelSubscription(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "CancelSubscription")
	defer span.End()

	subscriptionID, ok := parseID(c, span, "id", "subscription")
	if !ok {
		return
	}

	subscription, err := Billing.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		respondError(c, span, err, "Failed to cancel subscription")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription cancelled", "subscription_id": subscription.ID})
}

func GetSubscription(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetSubscription")
	defer span.End()

	subscriptionID, ok := parseID(c, span, "id", "subscription")
	if !ok {
		return
	}

	subscription, err := Billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve subscription")
		return
	}
	if !canAccessClient(c, subscription.ClientID) {
		respondError(c, span, errForbidden, "")
		return
	}

	c.JSON(http.StatusOK, subscription)
}

func GetInvoice(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "GetInvoice")
	defer span.End()

	invoiceID, ok := parseID(c, span, "id", "invoice")
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("invoice_id", int64(invoiceID)))

	invoice, err := Billing.GetInvoice(ctx, invoiceID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve invoice")
		return
	}

	if !canAccessClient(c, invoice.ClientID) {
		respondError(c, span, errForbidden, "")
		return
	}

	c.JSON(http.StatusOK, invoice)
}

// ListInvoices returns the caller's invoices; staff may pass client_id to pick a client.
func ListInvoices(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ListInvoices")
	defer span.End()

	clientID, ok := scopedClientID(c, span)
	if !ok {
		return
	}

	invoices, err := Billing.ListInvoices(ctx, clientID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve invoices")
		return
	}
	c.JSON(http.StatusOK, invoices)
}

type CreateInvoiceRequest struct {
	ClientID       uint            `json:"client_id" binding:"required"`
	SubscriptionID *uint           `json:"subscription_id"`
	Description    string          `json:"description" binding:"required"`
	Value          decimal.Decimal `json:"value"`
	BillingPeriod  string          `json:"billing_period"`
	DueDate        *time.Time      `json:"due_date"`
}

func CreateInvoice(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "CreateInvoice")
	defer span.End()

	var req CreateInvoiceRequest
	if !bindJSON(c, span, &req) {
		return
	}

	invoice, err := Billing.CreateInvoice(ctx, billing.CreateInvoiceInput{
		ClientID:       req.ClientID,
		SubscriptionID: req.SubscriptionID,
		Description:    req.Description,
		Value:          req.Value,
		BillingPeriod:  req.BillingPeriod,
		DueDate:        req.DueDate,
	})
	if err != nil {
		respondError(c, span, err, "Failed to create invoice")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Invoice created successfully", "invoice_id": invoice.ID, "number": invoice.Number})
}

// ReportPayment lets a client flag an invoice as paid; staff confirm it later.
func ReportPayment(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ReportPayment")
	defer span.End()

	invoiceID, ok := parseID(c, span, "id", "invoice")
	if !ok {
		return
	}

	invoice, err := Billing.GetInvoice(ctx, invoiceID)
	if err != nil {
		respondError(c, span, err, "Failed to retrieve invoice")
		return
	}
	if !canAccessClient(c, invoice.ClientID) {
		respondError(c, span, errForbidden, "")
		return
	}

	invoice, err = Billing.ReportPayment(ctx, invoiceID)
	if err != nil {
		respondError(c, span, err, "Failed to report payment")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Payment reported, awaiting confirmation", "status": invoice.Status})
}

type ConfirmPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	PaymentMethod string          `json:"payment_method" binding:"required"`
	PaymentDate   *time.Time      `json:"payment_date"`
}

func ConfirmPayment(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "ConfirmPayment")
	defer span.End()

	invoiceID, ok := parseID(c, span, "id", "invoice")
	if !ok {
		return
	}
	var req ConfirmPaymentRequest
	if !bindJSON(c, span, &req) {
		return
	}
	span.SetAttributes(
		attribute.Int64("invoice_id", int64(invoiceID)),
		attribute.String("amount", req.Amount.String()),
	)

	invoice, err := Billing.ConfirmPayment(ctx, invoiceID, billing.ConfirmPaymentInput{
		UserID:        uint(c.GetUint64("callerUserID")),
		TransactionID: req.TransactionID,
		PaymentMethod: req.PaymentMethod,
		Amount:        req.Amount,
		PaymentDate:   req.PaymentDate,
	})
	if err != nil {
		respondError(c, span, err, "Failed to confirm payment")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Invoice paid successfully", "paid_at": invoice.PaidAt})
}

func RejectPayment(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "RejectPayment")
	defer span.End()

	invoiceID, ok := parseID(c, span, "id", "invoice")
	if !ok {
		return
	}

	invoice, err := Billing.RejectPayment(ctx, invoiceID)
	if err != nil {
		respondError(c, span, err, "Failed to reject payment")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Payment rejected", "status": invoice.Status})
}

func CancelInvoice(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "CancelInvoice")
	defer span.End()

	invoiceID, ok := parseID(c, span, "id", "invoice")
	if !ok {
		return
	}

	invoice, err := Billing.CancelInvoice(ctx, invoiceID)
	if err != nil {
		respondError(c, span, err, "Failed to cancel invoice")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Invoice cancelled", "status": invoice.Status})
}

type RunBillingRequest struct {
	Period   string `json:"period" binding:"required"`
	ClientID uint   `json:"client_id"`
}

// RunBilling generates the monthly invoice for one client, or for every client when
// client_id is omitted. Nothing to bill is reported as a success.
func RunBilling(c *gin.Context) {
	ctx, span := tracing.StartSpan(c.Request.Context(), "RunBilling")
	defer span.End()

	var req RunBillingRequest
	if !bindJSON(c, span, &req) {
		return
	}
	period, err := billing.ParsePeriod(req.Period)
	if err != nil {
		respondError(c, span, err, "")
		return
	}
	span.SetAttributes(attribute.String("period", period.String()), attribute.Int64("client_id", int64(req.ClientID)))

	if req.ClientID == 0 {
		summary, err := Billing.GenerateAll(ctx, period)
		if err != nil {
			respondError(c, span, err, "Billing run finished with failures")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"period":          summary.Period,
			"invoices":        len(summary.Invoices),
			"nothing_to_bill": summary.NothingToBill,
			"locked":          summary.Locked,
		})
		return
	}

	invoice, err := Billing.GenerateMonthlyInvoice(ctx, req.ClientID, period)
	if errors.Is(err, billing.ErrNothingToBill) {
		c.JSON(http.StatusOK, gin.H{"message": "nothing to bill"})
		return
	}
	if err != nil {
		respondError(c, span, err, "Failed to generate invoice")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Invoice generated successfully",
		"invoice_id": invoice.ID,
		"number":     invoice.Number,
		"value":      invoice.Value,
		"demands":    len(invoice.Demands),
	})
}
