package billing

import (
	"context"
	"time"

	"deskledger/notify"

	"gorm.io/gorm"
)

// DemandCompleted is raised inside the transaction that completes a demand.
type DemandCompleted struct {
	DemandID    uint
	TicketID    *uint
	ClientID    uint
	CompletedAt time.Time
}

// DemandCompletedHandler reacts to a completed demand within the same transaction.
// Returned events are delivered after commit.
type DemandCompletedHandler func(ctx context.Context, tx *gorm.DB, event DemandCompleted) ([]notify.Event, error)

func (s *Service) OnDemandCompleted(h DemandCompletedHandler) {
	s.onDemandCompleted = append(s.onDemandCompleted, h)
}

func (s *Service) publishDemandCompleted(ctx context.Context, tx *gorm.DB, event DemandCompleted, out *outbox) error {
	for _, h := range s.onDemandCompleted {
		events, err := h(ctx, tx, event)
		if err != nil {
			return err
		}
		out.add(events...)
	}
	return nil
}
