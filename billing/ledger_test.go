package billing

import (
	"context"
	"testing"

	"deskledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSubscription(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "Basic", 10, "50")

	sub := f.subscribe(t, plan)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assertDecimal(t, "10", sub.HoursRemaining)
	assert.Equal(t, f.now, sub.StartDate)
	assertDecimal(t, "10", f.balance(t, sub.ID))
}

func TestCreateSubscriptionRejectsSecondActiveOnDomain(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "Basic", 10, "50")
	f.subscribe(t, plan)

	_, err := f.svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID: f.client.ID, DomainID: f.domain.ID, PlanID: plan.ID,
	})
	assert.ErrorIs(t, err, ErrDomainSubscribed)
	assert.ErrorIs(t, err, ErrConflict)

	var count int64
	f.db.Model(&models.Subscription{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "Basic", 10, "50")
	other := models.Client{Name: "Other", BillingEmail: "o@other.test"}
	require.NoError(t, f.db.Create(&other).Error)

	_, err := f.svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID: other.ID, DomainID: f.domain.ID, PlanID: plan.ID,
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID: f.client.ID, DomainID: f.domain.ID, PlanID: 999,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	inactive, err := f.svc.CreatePlan(context.Background(), PlanInput{Name: "Legacy", Price: dec("10"), Status: models.PlanInactive})
	require.NoError(t, err)
	_, err = f.svc.CreateSubscription(context.Background(), CreateSubscriptionInput{
		ClientID: f.client.ID, DomainID: f.domain.ID, PlanID: inactive.ID,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCancelledSubscriptionFreesTheDomain(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "Basic", 10, "50")
	first := f.subscribe(t, plan)

	cancelled, err := f.svc.CancelSubscription(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndDate)

	_, err = f.svc.CancelSubscription(context.Background(), first.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	second := f.subscribe(t, plan)
	assert.NotEqual(t, first.ID, second.ID)

	subs, err := f.svc.ListSubscriptions(context.Background(), f.client.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, second.ID, subs[0].ID)
}

func TestChangePlanResetsBalance(t *testing.T) {
	f := newFixture(t)
	basic := f.plan(t, "Basic", 10, "50")
	pro := f.plan(t, "Pro", 20, "40")
	sub := f.subscribe(t, basic)
	f.demand(t, "4")
	assertDecimal(t, "6", f.balance(t, sub.ID))

	changed, err := f.svc.ChangePlan(context.Background(), sub.ID, pro.ID)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, changed.PlanID)
	assertDecimal(t, "20", changed.HoursRemaining)
	assertDecimal(t, "20", f.balance(t, sub.ID))

	var stored models.Subscription
	require.NoError(t, f.db.First(&stored, sub.ID).Error)
	assert.Equal(t, pro.ID, stored.PlanID)

	_, err = f.svc.ChangePlan(context.Background(), sub.ID, pro.ID)
	assert.ErrorIs(t, err, ErrValidation)

	// later resets and costing follow the new plan
	f.demand(t, "5")
	reset, err := f.svc.ResetHours(context.Background(), sub.ID)
	require.NoError(t, err)
	assertDecimal(t, "20", reset.HoursRemaining)

	over := f.demand(t, "21")
	assertDecimal(t, "20", over.CoveredHours)
	assertDecimal(t, "40", over.ExcessValue)
}

func TestResetHoursAndRenewAll(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, "Basic", 8, "50")
	sub := f.subscribe(t, plan)
	f.demand(t, "5")
	assertDecimal(t, "3", f.balance(t, sub.ID))

	reset, err := f.svc.ResetHours(context.Background(), sub.ID)
	require.NoError(t, err)
	assertDecimal(t, "8", reset.HoursRemaining)

	f.demand(t, "1.5")
	n, err := f.svc.RenewAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertDecimal(t, "8", f.balance(t, sub.ID))

	_, err = f.svc.CancelSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	_, err = f.svc.ResetHours(context.Background(), sub.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyDelta(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, f.plan(t, "Basic", 4, "50"))

	updated, err := f.svc.ApplyDelta(context.Background(), sub.ID, dec("-1.5"))
	require.NoError(t, err)
	assertDecimal(t, "2.5", updated.HoursRemaining)

	updated, err = f.svc.ApplyDelta(context.Background(), sub.ID, dec("0.5"))
	require.NoError(t, err)
	assertDecimal(t, "3", updated.HoursRemaining)
	assertDecimal(t, "3", f.balance(t, sub.ID))

	_, err = f.svc.ApplyDelta(context.Background(), 999, dec("1"))
	assert.ErrorIs(t, err, ErrNotFound)
}
