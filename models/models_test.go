package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPlanRateFallsBack(t *testing.T) {
	fallback := decimal.RequireFromString("150")

	plan := Plan{}
	assert.True(t, plan.Rate(fallback).Equal(fallback))

	plan.OverageRate = decimal.NewNullDecimal(decimal.RequireFromString("50"))
	assert.Equal(t, "50", plan.Rate(fallback).String())
}

func TestDemandTotal(t *testing.T) {
	d := Demand{Value: decimal.RequireFromString("100"), ExcessValue: decimal.RequireFromString("25.50")}
	assert.Equal(t, "125.5", d.Total().String())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, DemandCompleted.Terminal())
	assert.True(t, DemandCancelled.Terminal())
	for _, s := range OpenDemandStatuses {
		assert.False(t, s.Terminal(), s)
	}
	assert.False(t, DemandStatus("done").Valid())

	assert.True(t, TicketCancelled.Terminal())
	assert.False(t, TicketInProgress.Terminal())
	assert.True(t, InvoiceAwaitingConfirmation.Valid())
	assert.False(t, PlanStatus("archived").Valid())
}
