package billing

import (
	"context"
	"errors"
	"strings"

	"deskledger/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PlanInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	IncludedHours int
	OverageRate   *decimal.Decimal
	Status        models.PlanStatus
}

func (in PlanInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationf("plan name is required")
	}
	if in.Price.IsNegative() {
		return validationf("plan price must not be negative")
	}
	if in.IncludedHours < 0 {
		return validationf("included hours must not be negative")
	}
	if in.OverageRate != nil && in.OverageRate.IsNegative() {
		return validationf("overage rate must not be negative")
	}
	if in.Status != "" && !in.Status.Valid() {
		return validationf("unknown plan status %q", in.Status)
	}
	return nil
}

func (in PlanInput) apply(plan *models.Plan) {
	plan.Name = strings.TrimSpace(in.Name)
	plan.Description = in.Description
	plan.Price = money(in.Price)
	plan.IncludedHours = in.IncludedHours
	plan.OverageRate = decimal.NullDecimal{}
	if in.OverageRate != nil {
		plan.OverageRate = decimal.NewNullDecimal(money(*in.OverageRate))
	}
	plan.Status = in.Status
	if plan.Status == "" {
		plan.Status = models.PlanActive
	}
}

func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (models.Plan, error) {
	if err := in.validate(); err != nil {
		return models.Plan{}, err
	}
	var plan models.Plan
	in.apply(&plan)
	if err := s.db.WithContext(ctx).Create(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.Plan{}, validationf("a plan named %q already exists", plan.Name)
		}
		return models.Plan{}, err
	}
	return plan, nil
}

// UpdatePlan edits a plan in place. Issued invoices keep their values and existing
// subscription balances are untouched until their next reset.
func (s *Service) UpdatePlan(ctx context.Context, id uint, in PlanInput) (models.Plan, error) {
	if err := in.validate(); err != nil {
		return models.Plan{}, err
	}
	var plan models.Plan
	if err := s.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return models.Plan{}, notFound("plan", err)
	}
	in.apply(&plan)
	if err := s.db.WithContext(ctx).Save(&plan).Error; err != nil {
		return models.Plan{}, err
	}
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, id uint) (models.Plan, error) {
	var plan models.Plan
	if err := s.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return models.Plan{}, notFound("plan", err)
	}
	return plan, nil
}

// ListPlans returns every plan, or only active ones when activeOnly is set.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error) {
	q := s.db.WithContext(ctx).Order("id")
	if activeOnly {
		q = q.Where("status = ?", models.PlanActive)
	}
	var plans []models.Plan
	err := q.Find(&plans).Error
	return plans, err
}

// UpsertPlan creates the plan or updates the one with the same name.
func (s *Service) UpsertPlan(ctx context.Context, in PlanInput) (models.Plan, error) {
	var existing models.Plan
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(in.Name)).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.CreatePlan(ctx, in)
	}
	if err != nil {
		return models.Plan{}, err
	}
	return s.UpdatePlan(ctx, existing.ID, in)
}
