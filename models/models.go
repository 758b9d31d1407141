package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User is either a staff member (ClientID nil) or a client portal login.
type User struct {
	gorm.Model
	Username     string `gorm:"unique;not null"`
	Email        string `gorm:"unique;not null"`
	PasswordHash string `gorm:"not null" json:"-"`
	IsStaff      bool   `gorm:"not null;default:false"`
	ClientID     *uint
	Client       *Client
}

type Client struct {
	gorm.Model
	Name          string `gorm:"unique;not null"`
	BillingEmail  string `gorm:"not null"`
	Document      string
	Users         []User
	Domains       []Domain
	Subscriptions []Subscription
	Invoices      []Invoice
}

type Domain struct {
	gorm.Model
	ClientID uint   `gorm:"not null;index"`
	Client   Client
	Host     string `gorm:"unique;not null"`
}

type Plan struct {
	gorm.Model
	Name          string          `gorm:"unique;not null"`
	Description   string
	Price         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	IncludedHours int             `gorm:"not null;default:0"`
	// OverageRate is nullable; callers fall back to the configured default rate.
	OverageRate decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Status      PlanStatus          `gorm:"type:varchar(20);not null;default:'active'"`
}

// Rate returns the plan's overage hourly rate or fallback when it is unset.
func (p Plan) Rate(fallback decimal.Decimal) decimal.Decimal {
	if p.OverageRate.Valid {
		return p.OverageRate.Decimal
	}
	return fallback
}

type Subscription struct {
	gorm.Model
	ClientID uint `gorm:"not null;index"`
	Client   Client
	DomainID uint `gorm:"not null;uniqueIndex:idx_subscriptions_active_domain,where:status = 'active' AND deleted_at IS NULL"`
	Domain   Domain
	PlanID   uint `gorm:"not null"`
	Plan     Plan
	// HoursRemaining is the ledger balance. Only the billing package mutates it.
	HoursRemaining decimal.Decimal    `gorm:"type:numeric(10,2);not null;default:0"`
	Status         SubscriptionStatus `gorm:"type:varchar(20);not null;default:'active'"`
	StartDate      time.Time          `gorm:"not null"`
	EndDate        *time.Time
}

type Ticket struct {
	gorm.Model
	ClientID uint         `gorm:"not null;index"`
	Client   Client
	DomainID *uint
	Domain   *Domain
	Subject  string       `gorm:"not null"`
	Message  string       `gorm:"type:text"`
	Status   TicketStatus `gorm:"type:varchar(20);not null;default:'open'"`
	Demands  []Demand
}

type Demand struct {
	gorm.Model
	DomainID       uint            `gorm:"not null;index"`
	Domain         Domain
	SubscriptionID *uint           `gorm:"index"`
	TicketID       *uint           `gorm:"index"`
	Title          string          `gorm:"not null"`
	Description    string          `gorm:"type:text"`
	Hours          decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	// CoveredHours is what was deducted from the subscription balance by the last costing.
	CoveredHours decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Value        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	ExcessValue  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	Status       DemandStatus    `gorm:"type:varchar(20);not null;default:'pending';index"`
	Billed       bool            `gorm:"not null;default:false;index"`
	InvoiceID    *uint           `gorm:"index"`
	CompletedAt  *time.Time
}

// Total is what the demand contributes to an invoice.
func (d Demand) Total() decimal.Decimal {
	return d.Value.Add(d.ExcessValue)
}

type Invoice struct {
	gorm.Model
	Number         string          `gorm:"unique;not null"`
	ClientID       uint            `gorm:"not null;index"`
	Client         Client
	SubscriptionID *uint
	Subscription   *Subscription
	Description    string
	Value          decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status         InvoiceStatus   `gorm:"type:varchar(30);not null;default:'open'"`
	BillingPeriod  string          `gorm:"type:varchar(7);index"` // YYYY-MM
	DueDate        time.Time       `gorm:"not null"`
	PaidAt         *time.Time
	Demands        []Demand
	Payments       []Payment
}

type Payment struct {
	gorm.Model
	InvoiceID     uint            `gorm:"not null;index"`
	UserID        uint            // staff member who confirmed the payment
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PaymentDate   time.Time       `gorm:"not null"`
	TransactionID string          `gorm:"unique;not null"`
	PaymentMethod string
}

type Notification struct {
	ID        uint   `gorm:"primarykey"`
	EventID   string `gorm:"unique;not null"`
	Event     string `gorm:"not null;index"`
	ClientID  *uint  `gorm:"index"`
	Payload   datatypes.JSON
	CreatedAt time.Time
	ReadAt    *time.Time
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Client{},
		&Domain{},
		&Plan{},
		&Subscription{},
		&Ticket{},
		&Invoice{},
		&Demand{},
		&Payment{},
		&Notification{},
	}
}
