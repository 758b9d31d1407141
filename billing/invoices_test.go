package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"deskledger/models"
	"deskledger/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march = Period{Year: 2024, Month: time.March}

func (f *fixture) completedDemand(t *testing.T, hours, value string) models.Demand {
	t.Helper()
	d, err := f.svc.CreateDemand(context.Background(), CreateDemandInput{
		DomainID: f.domain.ID, Title: "Work", Hours: dec(hours), Value: dec(value),
	})
	require.NoError(t, err)
	d, err = f.svc.Complete(context.Background(), d.ID)
	require.NoError(t, err)
	return d
}

func TestGenerateMonthlyInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscribe(t, f.plan(t, "Small", 2, "50"))

	fixed := f.completedDemand(t, "1", "100")
	overage := f.completedDemand(t, "2", "0")
	assertDecimal(t, "50", overage.ExcessValue)

	alreadyBilled := f.completedDemand(t, "1", "0")
	require.NoError(t, f.db.Model(&models.Demand{}).Where("id = ?", alreadyBilled.ID).Update("billed", true).Error)
	pending := f.demand(t, "1")

	f.now = time.Date(2024, time.February, 20, 9, 0, 0, 0, time.UTC)
	february := f.completedDemand(t, "1", "0")

	invoice, err := f.svc.GenerateMonthlyInvoice(ctx, f.client.ID, march)
	require.NoError(t, err)

	assertDecimal(t, "150", invoice.Value)
	assert.Equal(t, models.InvoiceOpen, invoice.Status)
	assert.Equal(t, "2024-03", invoice.BillingPeriod)
	assert.Equal(t, time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC), invoice.DueDate)
	assert.Nil(t, invoice.SubscriptionID)
	assert.True(t, strings.HasPrefix(invoice.Number, "INV-202403-"))
	require.Len(t, invoice.Demands, 2)

	for _, d := range []models.Demand{fixed, overage} {
		stored := f.reload(t, d)
		assert.True(t, stored.Billed)
		require.NotNil(t, stored.InvoiceID)
		assert.Equal(t, invoice.ID, *stored.InvoiceID)
	}
	assert.Nil(t, f.reload(t, alreadyBilled).InvoiceID)
	assert.False(t, f.reload(t, pending).Billed)
	assert.False(t, f.reload(t, february).Billed)

	assert.Contains(t, f.sink.Names(), notify.InvoiceGenerated)
}

func TestGenerateMonthlyInvoiceNothingToBill(t *testing.T) {
	f := newFixture(t)
	f.demand(t, "1")

	_, err := f.svc.GenerateMonthlyInvoice(context.Background(), f.client.ID, march)
	assert.ErrorIs(t, err, ErrNothingToBill)

	var count int64
	f.db.Model(&models.Invoice{}).Count(&count)
	assert.Zero(t, count)
	assert.NotContains(t, f.sink.Names(), notify.InvoiceGenerated)
}

func TestGenerateMonthlyInvoiceBillsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.completedDemand(t, "1", "0")

	first, err := f.svc.GenerateMonthlyInvoice(ctx, f.client.ID, march)
	require.NoError(t, err)
	assertDecimal(t, "150", first.Value)

	_, err = f.svc.GenerateMonthlyInvoice(ctx, f.client.ID, march)
	assert.ErrorIs(t, err, ErrNothingToBill)

	late := f.completedDemand(t, "0.5", "0")
	second, err := f.svc.GenerateMonthlyInvoice(ctx, f.client.ID, march)
	require.NoError(t, err)
	require.Len(t, second.Demands, 1)
	assert.Equal(t, late.ID, second.Demands[0].ID)
	assertDecimal(t, "75", second.Value)
}

func TestGenerateMonthlyInvoiceUsesConfiguredTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) { o.Location = loc })

	// 22:00 on March 31 in São Paulo
	f.now = time.Date(2024, time.April, 1, 1, 0, 0, 0, time.UTC)
	d := f.completedDemand(t, "1", "0")

	invoice, err := f.svc.GenerateMonthlyInvoice(context.Background(), f.client.ID, march)
	require.NoError(t, err)
	require.Len(t, invoice.Demands, 1)
	assert.Equal(t, d.ID, invoice.Demands[0].ID)
	assert.Equal(t, time.Date(2024, time.April, 10, 0, 0, 0, 0, loc), invoice.DueDate)

	_, err = f.svc.GenerateMonthlyInvoice(context.Background(), f.client.ID, Period{Year: 2024, Month: time.April})
	assert.ErrorIs(t, err, ErrNothingToBill)
}

func TestInvoicePaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.completedDemand(t, "2", "0")
	invoice, err := f.svc.GenerateMonthlyInvoice(ctx, f.client.ID, march)
	require.NoError(t, err)

	reported, err := f.svc.ReportPayment(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceAwaitingConfirmation, reported.Status)

	rejected, err := f.svc.RejectPayment(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceOpen, rejected.Status)

	_, err = f.svc.ConfirmPayment(ctx, invoice.ID, ConfirmPaymentInput{UserID: 1, Amount: dec("100")})
	assert.ErrorIs(t, err, ErrValidation)
	current, err := f.svc.GetInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceOpen, current.Status)

	paid, err := f.svc.ConfirmPayment(ctx, invoice.ID, ConfirmPaymentInput{UserID: 1, TransactionID: "pix-123", PaymentMethod: "pix"})
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, f.now, *paid.PaidAt)

	stored, err := f.svc.GetInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, stored.Payments, 1)
	assertDecimal(t, "300", stored.Payments[0].Amount)
	assert.Equal(t, "pix-123", stored.Payments[0].TransactionID)
	assert.Contains(t, f.sink.Names(), notify.PaymentConfirmed)

	_, err = f.svc.CancelInvoice(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.ReportPayment(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelInvoiceKeepsDemandsBilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.completedDemand(t, "1", "0")
	invoice, err := f.svc.GenerateMonthlyInvoice(ctx, f.client.ID, march)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceCancelled, cancelled.Status)
	assert.True(t, f.reload(t, d).Billed)

	_, err = f.svc.RejectPayment(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCreateInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.subscribe(t, f.plan(t, "Basic", 10, "50"))

	invoice, err := f.svc.CreateInvoice(ctx, CreateInvoiceInput{
		ClientID:       f.client.ID,
		SubscriptionID: &sub.ID,
		Description:    "Monthly plan fee",
		Value:          dec("500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03", invoice.BillingPeriod)
	assert.Equal(t, time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC), invoice.DueDate)
	require.NotNil(t, invoice.SubscriptionID)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{ClientID: f.client.ID, Value: dec("0")})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceInput{ClientID: f.client.ID, Value: dec("10"), BillingPeriod: "March"})
	assert.ErrorIs(t, err, ErrValidation)

	invoices, err := f.svc.ListInvoices(ctx, f.client.ID)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

type fakeLocker struct {
	held map[string]bool
	keys []string
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.keys = append(l.keys, key)
	if l.held[key] {
		return nil, errors.New("held")
	}
	return func(context.Context) error { return nil }, nil
}

func TestGenerateAll(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	f := newFixture(t, func(o *Options) { o.Locker = locker })
	ctx := context.Background()
	f.completedDemand(t, "1", "0")

	idle := models.Client{Name: "Idle", BillingEmail: "idle@test"}
	require.NoError(t, f.db.Create(&idle).Error)
	busy := models.Client{Name: "Busy", BillingEmail: "busy@test"}
	require.NoError(t, f.db.Create(&busy).Error)
	locker.held[fmt.Sprintf("billing:2024-03:client:%d", busy.ID)] = true

	summary, err := f.svc.GenerateAll(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, "2024-03", summary.Period)
	require.Len(t, summary.Invoices, 1)
	assert.Equal(t, f.client.ID, summary.Invoices[0].ClientID)
	assert.Equal(t, []uint{idle.ID}, summary.NothingToBill)
	assert.Equal(t, []uint{busy.ID}, summary.Locked)
	assert.Empty(t, summary.Failed)
	assert.Len(t, locker.keys, 3)
}
