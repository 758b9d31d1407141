package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deskledger/models"
	"deskledger/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func invoiceNumber(p Period) string {
	return fmt.Sprintf("INV-%04d%02d-%s", p.Year, int(p.Month), strings.ToUpper(uuid.NewString()[:8]))
}

// GenerateMonthlyInvoice bills every completed, unbilled demand the client's domains
// created during period. The invoice row and the billed flags commit together or not
// at all; ErrNothingToBill is returned when no demand qualifies.
func (s *Service) GenerateMonthlyInvoice(ctx context.Context, clientID uint, period Period) (models.Invoice, error) {
	start, end := period.Bounds(s.loc)
	var invoice models.Invoice
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		var client models.Client
		if err := tx.First(&client, clientID).Error; err != nil {
			return notFound("client", err)
		}

		var demands []models.Demand
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "demands"}}).
			Joins("JOIN domains ON domains.id = demands.domain_id").
			Where("domains.client_id = ?", client.ID).
			Where("demands.billed = ? AND demands.status = ?", false, models.DemandCompleted).
			Where("demands.created_at >= ? AND demands.created_at < ?", start.UTC(), end.UTC()).
			Order("demands.id").
			Find(&demands).Error; err != nil {
			return err
		}
		if len(demands) == 0 {
			return ErrNothingToBill
		}

		total := decimal.Zero
		ids := make([]uint, 0, len(demands))
		for _, d := range demands {
			total = total.Add(d.Total())
			ids = append(ids, d.ID)
		}

		invoice = models.Invoice{
			Number:        invoiceNumber(period),
			ClientID:      client.ID,
			Description:   fmt.Sprintf("Services rendered in %s", period),
			Value:         money(total),
			Status:        models.InvoiceOpen,
			BillingPeriod: period.String(),
			DueDate:       period.LastDay(s.loc).AddDate(0, 0, s.dueDays),
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Demand{}).
			Where("id IN ? AND billed = ?", ids, false).
			Updates(map[string]interface{}{"billed": true, "invoice_id": invoice.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return ErrAlreadyBilled
		}
		for i := range demands {
			demands[i].Billed = true
			demands[i].InvoiceID = &invoice.ID
		}
		invoice.Demands = demands

		out.add(notify.NewEvent(notify.InvoiceGenerated, client.ID, map[string]interface{}{
			"invoice_id": invoice.ID,
			"number":     invoice.Number,
			"period":     invoice.BillingPeriod,
			"value":      invoice.Value.StringFixed(2),
			"due_date":   invoice.DueDate.Format("2006-01-02"),
		}))
		return nil
	})
	fields := logrus.Fields{"client_id": clientID, "period": period.String()}
	if errors.Is(err, ErrNothingToBill) {
		s.metrics.ObserveEmptyRun()
		s.log.WithFields(fields).Info("nothing to bill")
		return models.Invoice{}, err
	}
	if err != nil {
		return models.Invoice{}, err
	}
	s.metrics.ObserveInvoice(invoice.Value)
	fields["invoice"] = invoice.Number
	fields["value"] = invoice.Value
	fields["demands"] = len(invoice.Demands)
	s.log.WithFields(fields).Info("invoice generated")
	return invoice, nil
}

// RunSummary reports a billing run over every client.
type RunSummary struct {
	Period        string
	Invoices      []models.Invoice
	NothingToBill []uint
	Locked        []uint
	Failed        map[uint]error
}

// GenerateAll runs GenerateMonthlyInvoice for every client. A failing client does not
// stop the run; failures are collected and joined into the returned error.
func (s *Service) GenerateAll(ctx context.Context, period Period) (RunSummary, error) {
	summary := RunSummary{Period: period.String(), Failed: map[uint]error{}}
	var clientIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.Client{}).Order("id").Pluck("id", &clientIDs).Error; err != nil {
		return summary, err
	}

	var errs []error
	for _, id := range clientIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		invoice, err := s.generateLocked(ctx, id, period)
		switch {
		case errors.Is(err, errLeaseHeld):
			summary.Locked = append(summary.Locked, id)
		case errors.Is(err, ErrNothingToBill):
			summary.NothingToBill = append(summary.NothingToBill, id)
		case err != nil:
			summary.Failed[id] = err
			errs = append(errs, fmt.Errorf("client %d: %w", id, err))
		default:
			summary.Invoices = append(summary.Invoices, invoice)
		}
	}
	s.log.WithFields(logrus.Fields{
		"period":   summary.Period,
		"invoices": len(summary.Invoices),
		"empty":    len(summary.NothingToBill),
		"locked":   len(summary.Locked),
		"failed":   len(summary.Failed),
	}).Info("billing run finished")
	return summary, errors.Join(errs...)
}

var errLeaseHeld = errors.New("billing lease held elsewhere")

func (s *Service) generateLocked(ctx context.Context, clientID uint, period Period) (models.Invoice, error) {
	if s.locker == nil {
		return s.GenerateMonthlyInvoice(ctx, clientID, period)
	}
	key := fmt.Sprintf("billing:%s:client:%d", period, clientID)
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("skipping client, billing lease not acquired")
		return models.Invoice{}, fmt.Errorf("%w: %v", errLeaseHeld, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("failed to release billing lease")
		}
	}()
	return s.GenerateMonthlyInvoice(ctx, clientID, period)
}

type CreateInvoiceInput struct {
	ClientID       uint
	SubscriptionID *uint
	Description    string
	Value          decimal.Decimal
	BillingPeriod  string
	DueDate        *time.Time
}

// CreateInvoice issues a manual invoice outside the monthly run.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (models.Invoice, error) {
	if !in.Value.IsPositive() {
		return models.Invoice{}, validationf("invoice value must be positive")
	}
	period := PeriodOf(s.now(), s.loc)
	if in.BillingPeriod != "" {
		p, err := ParsePeriod(in.BillingPeriod)
		if err != nil {
			return models.Invoice{}, err
		}
		period = p
	}
	due := period.LastDay(s.loc).AddDate(0, 0, s.dueDays)
	if in.DueDate != nil {
		due = *in.DueDate
	}

	invoice := models.Invoice{
		Number:         invoiceNumber(period),
		ClientID:       in.ClientID,
		SubscriptionID: in.SubscriptionID,
		Description:    in.Description,
		Value:          money(in.Value),
		Status:         models.InvoiceOpen,
		BillingPeriod:  period.String(),
		DueDate:        due,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client models.Client
		if err := tx.First(&client, in.ClientID).Error; err != nil {
			return notFound("client", err)
		}
		if in.SubscriptionID != nil {
			var sub models.Subscription
			if err := tx.Unscoped().First(&sub, *in.SubscriptionID).Error; err != nil {
				return notFound("subscription", err)
			}
			if sub.ClientID != client.ID {
				return validationf("subscription %d belongs to another client", sub.ID)
			}
		}
		return tx.Create(&invoice).Error
	})
	if err != nil {
		return models.Invoice{}, err
	}
	s.log.WithFields(logrus.Fields{"invoice": invoice.Number, "value": invoice.Value}).Info("manual invoice created")
	return invoice, nil
}

// ReportPayment records the client's claim that an invoice was paid. Staff confirm it.
func (s *Service) ReportPayment(ctx context.Context, invoiceID uint) (models.Invoice, error) {
	return s.fireInvoice(ctx, invoiceID, EventReport, nil)
}

func (s *Service) RejectPayment(ctx context.Context, invoiceID uint) (models.Invoice, error) {
	return s.fireInvoice(ctx, invoiceID, EventReject, nil)
}

// CancelInvoice voids an invoice. Its demands stay billed.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID uint) (models.Invoice, error) {
	return s.fireInvoice(ctx, invoiceID, EventCancel, nil)
}

type ConfirmPaymentInput struct {
	UserID        uint
	TransactionID string
	PaymentMethod string
	// Amount defaults to the invoice value. Partial payments are refused.
	Amount      decimal.Decimal
	PaymentDate *time.Time
}

// ConfirmPayment marks an invoice paid and records the payment.
func (s *Service) ConfirmPayment(ctx context.Context, invoiceID uint, in ConfirmPaymentInput) (models.Invoice, error) {
	if in.Amount.IsNegative() {
		return models.Invoice{}, validationf("payment amount must not be negative")
	}
	invoice, err := s.fireInvoice(ctx, invoiceID, EventConfirm, func(tx *gorm.DB, inv *models.Invoice, out *outbox) error {
		amount := in.Amount
		if amount.IsZero() {
			amount = inv.Value
		}
		if !amount.Equal(inv.Value) {
			return validationf("payment of %s does not settle invoice value %s", amount.StringFixed(2), inv.Value.StringFixed(2))
		}
		paidAt := s.now()
		if in.PaymentDate != nil {
			paidAt = *in.PaymentDate
		}
		txID := strings.TrimSpace(in.TransactionID)
		if txID == "" {
			txID = uuid.NewString()
		}
		payment := models.Payment{
			InvoiceID:     inv.ID,
			UserID:        in.UserID,
			Amount:        money(amount),
			PaymentDate:   paidAt,
			TransactionID: txID,
			PaymentMethod: in.PaymentMethod,
		}
		if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: transaction %s already recorded", ErrConflict, txID)
			}
			return err
		}
		inv.PaidAt = &paidAt
		inv.Payments = append(inv.Payments, payment)
		out.add(notify.NewEvent(notify.PaymentConfirmed, inv.ClientID, map[string]interface{}{
			"invoice_id":     inv.ID,
			"number":         inv.Number,
			"amount":         payment.Amount.StringFixed(2),
			"transaction_id": payment.TransactionID,
		}))
		return row(tx, inv).Update("paid_at", paidAt).Error
	})
	if err != nil {
		return models.Invoice{}, err
	}
	s.log.WithFields(logrus.Fields{"invoice": invoice.Number, "user_id": in.UserID}).Info("payment confirmed")
	return invoice, nil
}

func (s *Service) fireInvoice(ctx context.Context, invoiceID uint, event Event, onEnter func(tx *gorm.DB, inv *models.Invoice, out *outbox) error) (models.Invoice, error) {
	var invoice models.Invoice
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		if err := forUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
			return notFound("invoice", err)
		}
		next, err := invoiceTransitions.next("invoice", invoice.Status, event)
		if err != nil {
			return err
		}
		if err := row(tx, &invoice).Update("status", next).Error; err != nil {
			return err
		}
		invoice.Status = next
		if onEnter != nil {
			return onEnter(tx, &invoice, out)
		}
		return nil
	})
	return invoice, err
}

func (s *Service) GetInvoice(ctx context.Context, id uint) (models.Invoice, error) {
	var invoice models.Invoice
	if err := s.db.WithContext(ctx).Preload("Demands").Preload("Payments").First(&invoice, id).Error; err != nil {
		return models.Invoice{}, notFound("invoice", err)
	}
	return invoice, nil
}

// ListInvoices returns the client's invoices, newest first. A zero clientID lists all.
func (s *Service) ListInvoices(ctx context.Context, clientID uint) ([]models.Invoice, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if clientID != 0 {
		q = q.Where("client_id = ?", clientID)
	}
	var invoices []models.Invoice
	err := q.Find(&invoices).Error
	return invoices, err
}
