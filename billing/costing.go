package billing

import (
	"github.com/shopspring/decimal"
)

var (
	// MinDemandHours is the smallest billable demand; hours are counted in halves.
	MinDemandHours = decimal.RequireFromString("0.5")
	hourStep       = decimal.RequireFromString("0.5")
)

// Quote is the costing engine's split of a demand's hours.
type Quote struct {
	Covered     decimal.Decimal
	Overage     decimal.Decimal
	PlanValue   decimal.Decimal
	ExcessValue decimal.Decimal
}

func ValidateHours(hours decimal.Decimal) error {
	if hours.LessThan(MinDemandHours) {
		return validationf("hours must be at least %s, got %s", MinDemandHours, hours)
	}
	if !hours.Mod(hourStep).IsZero() {
		return validationf("hours must be a multiple of %s, got %s", hourStep, hours)
	}
	return nil
}

// QuoteAdhoc prices a demand with no subscription: everything is overage.
func QuoteAdhoc(hours, rate decimal.Decimal) Quote {
	return Quote{
		Covered:     decimal.Zero,
		Overage:     hours,
		PlanValue:   decimal.Zero,
		ExcessValue: money(hours.Mul(rate)),
	}
}

// QuoteSubscription covers as much as the balance allows and prices the rest at rate.
// Covered hours carry no marginal value; the plan's monthly price already pays for them.
// A negative balance covers nothing.
func QuoteSubscription(hours, available, rate decimal.Decimal) Quote {
	covered := decimal.Min(hours, decimal.Max(available, decimal.Zero))
	overage := hours.Sub(covered)
	return Quote{
		Covered:     covered,
		Overage:     overage,
		PlanValue:   decimal.Zero,
		ExcessValue: money(overage.Mul(rate)),
	}
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
