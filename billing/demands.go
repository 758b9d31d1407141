package billing

import (
	"context"
	"errors"
	"strings"

	"deskledger/models"
	"deskledger/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CreateDemandInput struct {
	DomainID    uint
	TicketID    *uint
	Title       string
	Description string
	Hours       decimal.Decimal
	// Value is an optional fixed charge set by staff on top of the hours.
	Value decimal.Decimal
}

// CreateDemand records a demand and prices its hours against the domain's active
// subscription, or entirely as overage when the domain has none.
func (s *Service) CreateDemand(ctx context.Context, in CreateDemandInput) (models.Demand, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Demand{}, validationf("demand title is required")
	}
	if err := ValidateHours(in.Hours); err != nil {
		return models.Demand{}, err
	}
	if in.Value.IsNegative() {
		return models.Demand{}, validationf("demand value must not be negative")
	}

	var demand models.Demand
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		var domain models.Domain
		if err := tx.First(&domain, in.DomainID).Error; err != nil {
			return notFound("domain", err)
		}
		if in.TicketID != nil {
			var ticket models.Ticket
			if err := tx.First(&ticket, *in.TicketID).Error; err != nil {
				return notFound("ticket", err)
			}
			if ticket.ClientID != domain.ClientID {
				return validationf("ticket %d belongs to another client", ticket.ID)
			}
			if ticket.Status.Terminal() {
				return &TransitionError{Entity: "ticket", From: string(ticket.Status), Event: "add a demand to"}
			}
		}

		demand = models.Demand{
			DomainID:    domain.ID,
			TicketID:    in.TicketID,
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			Hours:       in.Hours,
			Value:       money(in.Value),
			Status:      models.DemandPending,
		}
		demand.CreatedAt = s.now()

		var active models.Subscription
		err := tx.Where("domain_id = ? AND status = ?", domain.ID, models.SubscriptionActive).First(&active).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.applyQuote(&demand, QuoteAdhoc(in.Hours, s.fallbackRate), true)
		case err != nil:
			return err
		default:
			sub, err := lockSubscription(tx, active.ID)
			if err != nil {
				return err
			}
			quote := QuoteSubscription(in.Hours, sub.HoursRemaining, sub.Plan.Rate(s.fallbackRate))
			if _, err := applyDelta(tx, sub.ID, quote.Covered.Neg()); err != nil {
				return err
			}
			demand.SubscriptionID = &sub.ID
			s.applyQuote(&demand, quote, false)
		}

		if err := tx.Create(&demand).Error; err != nil {
			return err
		}
		out.add(notify.NewEvent(notify.DemandCreated, domain.ClientID, map[string]interface{}{
			"demand_id":    demand.ID,
			"title":        demand.Title,
			"hours":        demand.Hours.String(),
			"excess_value": demand.ExcessValue.StringFixed(2),
		}))
		return nil
	})
	if err != nil {
		return models.Demand{}, err
	}
	s.log.WithFields(logrus.Fields{
		"demand_id": demand.ID,
		"hours":     demand.Hours,
		"covered":   demand.CoveredHours,
		"excess":    demand.ExcessValue,
	}).Info("demand costed")
	return demand, nil
}

func (s *Service) applyQuote(d *models.Demand, q Quote, adhoc bool) {
	d.CoveredHours = q.Covered
	d.ExcessValue = q.ExcessValue
	s.metrics.ObserveCosting(adhoc, q.Covered, q.Overage)
}

// UpdateDemandHours re-prices a demand after its hours change. The hours covered by
// the previous costing are credited back first so the balance is never charged twice.
func (s *Service) UpdateDemandHours(ctx context.Context, demandID uint, hours decimal.Decimal) (models.Demand, error) {
	if err := ValidateHours(hours); err != nil {
		return models.Demand{}, err
	}
	var demand models.Demand
	err := s.transaction(ctx, func(tx *gorm.DB, _ *outbox) error {
		var err error
		demand, err = lockDemand(tx, demandID)
		if err != nil {
			return err
		}
		if demand.Billed {
			return ErrAlreadyBilled
		}
		if demand.Status.Terminal() {
			return &TransitionError{Entity: "demand", From: string(demand.Status), Event: string(EventEdit)}
		}

		if demand.SubscriptionID == nil {
			s.applyQuote(&demand, QuoteAdhoc(hours, s.fallbackRate), true)
		} else {
			sub, err := lockSubscription(tx, *demand.SubscriptionID)
			if err != nil {
				return err
			}
			// a cancelled subscription only takes refunds
			if sub.DeletedAt.Valid || sub.Status == models.SubscriptionCancelled {
				return &TransitionError{Entity: "subscription", From: string(models.SubscriptionCancelled), Event: "re-cost a demand against"}
			}
			available := sub.HoursRemaining.Add(demand.CoveredHours)
			quote := QuoteSubscription(hours, available, sub.Plan.Rate(s.fallbackRate))
			if _, err := applyDelta(tx, sub.ID, demand.CoveredHours.Sub(quote.Covered)); err != nil {
				return err
			}
			s.applyQuote(&demand, quote, false)
		}
		demand.Hours = hours

		return row(tx, &demand).Updates(map[string]interface{}{
			"hours":         demand.Hours,
			"covered_hours": demand.CoveredHours,
			"excess_value":  demand.ExcessValue,
		}).Error
	})
	if err != nil {
		return models.Demand{}, err
	}
	s.log.WithFields(logrus.Fields{"demand_id": demand.ID, "hours": hours, "covered": demand.CoveredHours}).Info("demand re-costed")
	return demand, nil
}

func (s *Service) Approve(ctx context.Context, demandID uint) (models.Demand, error) {
	return s.fireDemand(ctx, demandID, EventApprove)
}

func (s *Service) SubmitForApproval(ctx context.Context, demandID uint) (models.Demand, error) {
	return s.fireDemand(ctx, demandID, EventSubmit)
}

func (s *Service) Complete(ctx context.Context, demandID uint) (models.Demand, error) {
	return s.fireDemand(ctx, demandID, EventComplete)
}

// Cancel cancels a demand. Hours go back to the subscription only when the demand
// carries no charge at all; overage or a fixed value keeps the demand unrefunded.
func (s *Service) Cancel(ctx context.Context, demandID uint) (models.Demand, error) {
	return s.fireDemand(ctx, demandID, EventCancel)
}

// UpdateStatus moves a demand directly to target, if the transition table allows it.
func (s *Service) UpdateStatus(ctx context.Context, demandID uint, target models.DemandStatus) (models.Demand, error) {
	if !target.Valid() {
		return models.Demand{}, validationf("unknown demand status %q", target)
	}
	var demand models.Demand
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		var err error
		demand, err = lockDemand(tx, demandID)
		if err != nil {
			return err
		}
		event, ok := demandTransitions.eventTo(demand.Status, target)
		if !ok {
			return &TransitionError{Entity: "demand", From: string(demand.Status), Event: "set status " + string(target) + " on"}
		}
		return s.applyDemandEvent(ctx, tx, &demand, event, out)
	})
	return demand, err
}

func (s *Service) fireDemand(ctx context.Context, demandID uint, event Event) (models.Demand, error) {
	var demand models.Demand
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		var err error
		demand, err = lockDemand(tx, demandID)
		if err != nil {
			return err
		}
		return s.applyDemandEvent(ctx, tx, &demand, event, out)
	})
	return demand, err
}

func (s *Service) applyDemandEvent(ctx context.Context, tx *gorm.DB, d *models.Demand, event Event, out *outbox) error {
	next, err := demandTransitions.next("demand", d.Status, event)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"status": next}

	switch next {
	case models.DemandCancelled:
		if d.SubscriptionID != nil && d.Value.IsZero() && d.ExcessValue.IsZero() && d.CoveredHours.IsPositive() {
			if _, err := applyDelta(tx, *d.SubscriptionID, d.CoveredHours); err != nil {
				return err
			}
			s.metrics.ObserveRefund(d.CoveredHours)
			s.log.WithFields(logrus.Fields{"demand_id": d.ID, "hours": d.CoveredHours}).Info("demand hours refunded")
			d.CoveredHours = decimal.Zero
			updates["covered_hours"] = d.CoveredHours
		}
	case models.DemandCompleted:
		now := s.now()
		d.CompletedAt = &now
		updates["completed_at"] = now
	}

	if err := row(tx, d).Updates(updates).Error; err != nil {
		return err
	}
	d.Status = next

	if next == models.DemandCompleted {
		return s.publishDemandCompleted(ctx, tx, DemandCompleted{
			DemandID:    d.ID,
			TicketID:    d.TicketID,
			ClientID:    d.Domain.ClientID,
			CompletedAt: *d.CompletedAt,
		}, out)
	}
	return nil
}

// DeleteDemand soft-deletes a demand. Open demands are cancelled first so their hours
// follow the cancellation refund rule; billed demands cannot be deleted.
func (s *Service) DeleteDemand(ctx context.Context, demandID uint) error {
	return s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		demand, err := lockDemand(tx, demandID)
		if err != nil {
			return err
		}
		if demand.Billed {
			return ErrAlreadyBilled
		}
		if !demand.Status.Terminal() {
			if err := s.applyDemandEvent(ctx, tx, &demand, EventCancel, out); err != nil {
				return err
			}
		}
		return tx.Delete(&demand).Error
	})
}

func (s *Service) GetDemand(ctx context.Context, id uint) (models.Demand, error) {
	var d models.Demand
	if err := s.db.WithContext(ctx).Preload("Domain").First(&d, id).Error; err != nil {
		return models.Demand{}, notFound("demand", err)
	}
	return d, nil
}

type DemandFilter struct {
	ClientID uint
	DomainID uint
	TicketID uint
	Status   models.DemandStatus
}

func (s *Service) ListDemands(ctx context.Context, f DemandFilter) ([]models.Demand, error) {
	q := s.db.WithContext(ctx).Model(&models.Demand{})
	if f.ClientID != 0 {
		q = q.Joins("JOIN domains ON domains.id = demands.domain_id").Where("domains.client_id = ?", f.ClientID)
	}
	if f.DomainID != 0 {
		q = q.Where("demands.domain_id = ?", f.DomainID)
	}
	if f.TicketID != 0 {
		q = q.Where("demands.ticket_id = ?", f.TicketID)
	}
	if f.Status != "" {
		q = q.Where("demands.status = ?", f.Status)
	}
	var demands []models.Demand
	err := q.Order("demands.id").Find(&demands).Error
	return demands, err
}

// lockDemand loads a demand with its row locked and its domain attached.
func lockDemand(tx *gorm.DB, id uint) (models.Demand, error) {
	var d models.Demand
	if err := forUpdate(tx).First(&d, id).Error; err != nil {
		return models.Demand{}, notFound("demand", err)
	}
	if err := tx.Unscoped().First(&d.Domain, d.DomainID).Error; err != nil {
		return models.Demand{}, notFound("domain", err)
	}
	return d, nil
}
