package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var ErrParsingConfig = errors.New("failed to parse environment variables into config")

type Configuration struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8081"`

	DBDriver      string `env:"DB_DRIVER" envDefault:"postgres"` // postgres or sqlite
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"host=localhost user=deskledger dbname=deskledger port=5432 sslmode=disable"`
	DBAutoMigrate bool   `env:"DB_AUTOMIGRATE" envDefault:"true"`
	DBLogQueries  bool   `env:"DB_LOG_QUERIES" envDefault:"false"`

	Timezone           string `env:"TIMEZONE" envDefault:"America/Sao_Paulo"`
	DefaultOverageRate string `env:"DEFAULT_OVERAGE_RATE" envDefault:"150.00"`
	InvoiceDueDays     int    `env:"INVOICE_DUE_DAYS" envDefault:"10"`
	PlanCatalogFile    string `env:"PLAN_CATALOG_FILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTelEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"deskledger"`

	RedisURL        string `env:"REDIS_URL"`
	BillingSchedule string `env:"BILLING_SCHEDULE" envDefault:"15 0 1 * *"`
	BillingResetHrs bool   `env:"BILLING_RESET_HOURS" envDefault:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Configuration, error) {
	// the .env file is optional
	_ = godotenv.Load()

	var c Configuration
	if err := env.Parse(&c); err != nil {
		return Configuration{}, errors.Join(ErrParsingConfig, err)
	}
	if _, err := c.Location(); err != nil {
		return Configuration{}, err
	}
	if _, err := c.OverageRate(); err != nil {
		return Configuration{}, err
	}
	if c.InvoiceDueDays < 0 {
		return Configuration{}, fmt.Errorf("INVOICE_DUE_DAYS must not be negative, got %d", c.InvoiceDueDays)
	}
	return c, nil
}

// Location is the timezone month boundaries are computed in.
func (c Configuration) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// OverageRate is the hourly rate used when a plan has none or a demand has no subscription.
func (c Configuration) OverageRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.DefaultOverageRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid DEFAULT_OVERAGE_RATE %q: %w", c.DefaultOverageRate, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("DEFAULT_OVERAGE_RATE must not be negative, got %s", rate)
	}
	return rate, nil
}
