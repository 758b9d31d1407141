// Package catalog seeds the plan table from a YAML file at startup.
package catalog

import (
	"context"
	"fmt"
	"os"

	"deskledger/billing"
	"deskledger/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout:
//
//	plans:
//	  - name: Basic
//	    price: "490.00"
//	    included_hours: 10
//	    overage_rate: "120.00"
type File struct {
	Plans []Plan `yaml:"plans"`
}

type Plan struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Price         string `yaml:"price"`
	IncludedHours int    `yaml:"included_hours"`
	OverageRate   string `yaml:"overage_rate"`
	Status        string `yaml:"status"`
}

func (p Plan) input() (billing.PlanInput, error) {
	in := billing.PlanInput{
		Name:          p.Name,
		Description:   p.Description,
		IncludedHours: p.IncludedHours,
		Status:        models.PlanStatus(p.Status),
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return in, fmt.Errorf("plan %q: invalid price %q: %w", p.Name, p.Price, err)
	}
	in.Price = price
	if p.OverageRate != "" {
		rate, err := decimal.NewFromString(p.OverageRate)
		if err != nil {
			return in, fmt.Errorf("plan %q: invalid overage_rate %q: %w", p.Name, p.OverageRate, err)
		}
		in.OverageRate = &rate
	}
	return in, nil
}

func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing plan catalog: %w", err)
	}
	return f, nil
}

// Upserter is the part of billing.Service the seed needs.
type Upserter interface {
	UpsertPlan(ctx context.Context, in billing.PlanInput) (models.Plan, error)
}

// Seed upserts every plan of the catalog by name and returns how many were written.
func Seed(ctx context.Context, svc Upserter, f File, log *logrus.Logger) (int, error) {
	for i, p := range f.Plans {
		in, err := p.input()
		if err != nil {
			return i, err
		}
		plan, err := svc.UpsertPlan(ctx, in)
		if err != nil {
			return i, fmt.Errorf("plan %q: %w", p.Name, err)
		}
		log.WithFields(logrus.Fields{"plan_id": plan.ID, "plan": plan.Name}).Debug("plan seeded")
	}
	return len(f.Plans), nil
}

// SeedFile reads path and seeds it. An empty path is a no-op.
func SeedFile(ctx context.Context, svc Upserter, path string, log *logrus.Logger) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	f, err := Parse(data)
	if err != nil {
		return 0, err
	}
	n, err := Seed(ctx, svc, f, log)
	if err != nil {
		return n, err
	}
	log.WithFields(logrus.Fields{"file": path, "plans": n}).Info("plan catalog loaded")
	return n, nil
}
