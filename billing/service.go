// Package billing owns the hours ledger, demand costing, the demand/ticket/invoice
// state machines and monthly invoice assembly.
package billing

import (
	"context"
	"io"
	"time"

	"deskledger/metrics"
	"deskledger/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Options struct {
	// FallbackRate prices overage when a plan has no rate and ad-hoc demands.
	FallbackRate   decimal.Decimal
	Location       *time.Location
	InvoiceDueDays int
	Sink           notify.Sink
	Metrics        *metrics.Metrics
	Logger         *logrus.Logger
	Now            func() time.Time
	// Locker, when set, keeps two billing runs off the same client and period.
	Locker Locker
}

// Locker grants an exclusive lease on key. A non-nil error means the lease was not taken.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

type Service struct {
	db           *gorm.DB
	log          *logrus.Logger
	sink         notify.Sink
	metrics      *metrics.Metrics
	fallbackRate decimal.Decimal
	loc          *time.Location
	dueDays      int
	now          func() time.Time
	locker       Locker

	onDemandCompleted []DemandCompletedHandler
}

func NewService(db *gorm.DB, opts Options) *Service {
	s := &Service{
		db:           db,
		log:          opts.Logger,
		sink:         opts.Sink,
		metrics:      opts.Metrics,
		fallbackRate: opts.FallbackRate,
		loc:          opts.Location,
		dueDays:      opts.InvoiceDueDays,
		now:          opts.Now,
		locker:       opts.Locker,
	}
	if s.log == nil {
		s.log = logrus.New()
		s.log.SetOutput(io.Discard)
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.OnDemandCompleted(s.completeTicketOnLastDemand)
	return s
}

// outbox collects notifications raised inside a transaction; they are sent after commit.
type outbox []notify.Event

func (o *outbox) add(events ...notify.Event) {
	*o = append(*o, events...)
}

func (s *Service) transaction(ctx context.Context, fn func(tx *gorm.DB, out *outbox) error) error {
	var out outbox
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &out)
	})
	if err != nil {
		return err
	}
	s.flush(ctx, out)
	return nil
}

func (s *Service) flush(ctx context.Context, out outbox) {
	if s.sink == nil {
		return
	}
	for _, event := range out {
		if err := s.sink.Notify(ctx, event); err != nil {
			s.log.WithError(err).WithField("event", event.Name).Warn("notification delivery failed")
		}
	}
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// row scopes an update to v's own columns. Attached associations such as a
// subscription's Plan are never written back, so they cannot overwrite foreign keys.
func row(tx *gorm.DB, v interface{}) *gorm.DB {
	return tx.Model(v).Omit(clause.Associations)
}
