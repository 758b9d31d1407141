package billing

import (
	"context"
	"errors"
	"time"

	"deskledger/models"
	"deskledger/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CreateSubscriptionInput struct {
	ClientID  uint
	DomainID  uint
	PlanID    uint
	StartDate *time.Time
}

// CreateSubscription binds a client's domain to a plan with a full hour balance.
func (s *Service) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (models.Subscription, error) {
	var sub models.Subscription
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		var client models.Client
		if err := tx.First(&client, in.ClientID).Error; err != nil {
			return notFound("client", err)
		}
		var domain models.Domain
		if err := tx.First(&domain, in.DomainID).Error; err != nil {
			return notFound("domain", err)
		}
		if domain.ClientID != client.ID {
			return validationf("domain %d does not belong to client %d", domain.ID, client.ID)
		}
		var plan models.Plan
		if err := tx.First(&plan, in.PlanID).Error; err != nil {
			return notFound("plan", err)
		}
		if plan.Status != models.PlanActive {
			return validationf("plan %q is %s", plan.Name, plan.Status)
		}

		var active int64
		if err := tx.Model(&models.Subscription{}).
			Where("domain_id = ? AND status = ?", domain.ID, models.SubscriptionActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrDomainSubscribed
		}

		start := s.now()
		if in.StartDate != nil {
			start = *in.StartDate
		}
		sub = models.Subscription{
			ClientID:       client.ID,
			DomainID:       domain.ID,
			PlanID:         plan.ID,
			HoursRemaining: decimal.NewFromInt(int64(plan.IncludedHours)),
			Status:         models.SubscriptionActive,
			StartDate:      start,
		}
		if err := tx.Create(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDomainSubscribed
			}
			return err
		}
		sub.Plan = plan

		out.add(notify.NewEvent(notify.SubscriptionCreated, client.ID, map[string]interface{}{
			"subscription_id": sub.ID,
			"domain":          domain.Host,
			"plan":            plan.Name,
			"hours":           sub.HoursRemaining.String(),
		}))
		return nil
	})
	if err != nil {
		return models.Subscription{}, err
	}
	s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "hours": sub.HoursRemaining}).Info("subscription created")
	return sub, nil
}

// ChangePlan moves a subscription to another plan and resets the balance to the new
// allotment. Unused hours are discarded, not pro-rated.
func (s *Service) ChangePlan(ctx context.Context, subscriptionID, planID uint) (models.Subscription, error) {
	var sub models.Subscription
	err := s.transaction(ctx, func(tx *gorm.DB, _ *outbox) error {
		var err error
		sub, err = lockSubscription(tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != models.SubscriptionActive {
			return &TransitionError{Entity: "subscription", From: string(sub.Status), Event: "change plan of"}
		}
		if sub.PlanID == planID {
			return validationf("subscription is already on plan %d", planID)
		}
		var plan models.Plan
		if err := tx.First(&plan, planID).Error; err != nil {
			return notFound("plan", err)
		}
		if plan.Status != models.PlanActive {
			return validationf("plan %q is %s", plan.Name, plan.Status)
		}
		hours := decimal.NewFromInt(int64(plan.IncludedHours))
		if err := row(tx, &sub).Updates(map[string]interface{}{
			"plan_id":         plan.ID,
			"hours_remaining": hours,
		}).Error; err != nil {
			return err
		}
		sub.PlanID, sub.Plan, sub.HoursRemaining = plan.ID, plan, hours
		return nil
	})
	if err != nil {
		return models.Subscription{}, err
	}
	s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "plan_id": planID}).Info("subscription plan changed")
	return sub, nil
}

// ResetHours restores the balance to the plan allotment, as on monthly renewal.
func (s *Service) ResetHours(ctx context.Context, subscriptionID uint) (models.Subscription, error) {
	var sub models.Subscription
	err := s.transaction(ctx, func(tx *gorm.DB, _ *outbox) error {
		var err error
		sub, err = lockSubscription(tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.DeletedAt.Valid || sub.Status == models.SubscriptionCancelled {
			return &TransitionError{Entity: "subscription", From: string(models.SubscriptionCancelled), Event: "reset hours of"}
		}
		return s.resetLocked(tx, &sub)
	})
	if err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}

func (s *Service) resetLocked(tx *gorm.DB, sub *models.Subscription) error {
	hours := decimal.NewFromInt(int64(sub.Plan.IncludedHours))
	if err := row(tx, sub).Update("hours_remaining", hours).Error; err != nil {
		return err
	}
	sub.HoursRemaining = hours
	s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "hours": hours}).Info("subscription hours reset")
	return nil
}

// RenewAll resets every active subscription and returns how many were reset.
func (s *Service) RenewAll(ctx context.Context) (int, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("status = ?", models.SubscriptionActive).
		Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	for i, id := range ids {
		if _, err := s.ResetHours(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// ApplyDelta adds delta hours to a subscription balance under a row lock.
func (s *Service) ApplyDelta(ctx context.Context, subscriptionID uint, delta decimal.Decimal) (models.Subscription, error) {
	var sub models.Subscription
	err := s.transaction(ctx, func(tx *gorm.DB, _ *outbox) error {
		var err error
		sub, err = applyDelta(tx, subscriptionID, delta)
		return err
	})
	return sub, err
}

// applyDelta is the single read-modify-write of hours_remaining. The balance is not
// floored: costing never takes it below zero and refunds only add.
func applyDelta(tx *gorm.DB, subscriptionID uint, delta decimal.Decimal) (models.Subscription, error) {
	sub, err := lockSubscription(tx, subscriptionID)
	if err != nil {
		return models.Subscription{}, err
	}
	if delta.IsZero() {
		return sub, nil
	}
	balance := sub.HoursRemaining.Add(delta)
	if err := row(tx.Unscoped(), &sub).Update("hours_remaining", balance).Error; err != nil {
		return models.Subscription{}, err
	}
	sub.HoursRemaining = balance
	return sub, nil
}

// lockSubscription loads a subscription and its plan with the subscription row locked.
// Cancelled subscriptions are included so refunds on their demands still balance.
func lockSubscription(tx *gorm.DB, id uint) (models.Subscription, error) {
	var sub models.Subscription
	if err := forUpdate(tx).Unscoped().First(&sub, id).Error; err != nil {
		return models.Subscription{}, notFound("subscription", err)
	}
	if err := tx.Unscoped().First(&sub.Plan, sub.PlanID).Error; err != nil {
		return models.Subscription{}, notFound("plan", err)
	}
	return sub, nil
}

// CancelSubscription ends a subscription and soft-deletes it; its billing history stays.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID uint) (models.Subscription, error) {
	var sub models.Subscription
	err := s.transaction(ctx, func(tx *gorm.DB, _ *outbox) error {
		var err error
		sub, err = lockSubscription(tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.DeletedAt.Valid || sub.Status == models.SubscriptionCancelled {
			return &TransitionError{Entity: "subscription", From: string(models.SubscriptionCancelled), Event: string(EventCancel)}
		}
		end := s.now()
		if err := row(tx, &sub).Updates(map[string]interface{}{
			"status":   models.SubscriptionCancelled,
			"end_date": end,
		}).Error; err != nil {
			return err
		}
		sub.Status, sub.EndDate = models.SubscriptionCancelled, &end
		return tx.Delete(&sub).Error
	})
	if err != nil {
		return models.Subscription{}, err
	}
	s.log.WithField("subscription_id", sub.ID).Info("subscription cancelled")
	return sub, nil
}

func (s *Service) GetSubscription(ctx context.Context, id uint) (models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Preload("Plan").Preload("Domain").First(&sub, id).Error; err != nil {
		return models.Subscription{}, notFound("subscription", err)
	}
	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, clientID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).Preload("Plan").Preload("Domain").
		Where("client_id = ?", clientID).Order("id").Find(&subs).Error
	return subs, err
}
