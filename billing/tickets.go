package billing

import (
	"context"
	"strings"

	"deskledger/models"
	"deskledger/notify"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type OpenTicketInput struct {
	ClientID uint
	DomainID *uint
	Subject  string
	Message  string
}

func (s *Service) OpenTicket(ctx context.Context, in OpenTicketInput) (models.Ticket, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return models.Ticket{}, validationf("ticket subject is required")
	}
	ticket := models.Ticket{
		ClientID: in.ClientID,
		DomainID: in.DomainID,
		Subject:  strings.TrimSpace(in.Subject),
		Message:  in.Message,
		Status:   models.TicketOpen,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var client models.Client
		if err := tx.First(&client, in.ClientID).Error; err != nil {
			return notFound("client", err)
		}
		if in.DomainID != nil {
			var domain models.Domain
			if err := tx.First(&domain, *in.DomainID).Error; err != nil {
				return notFound("domain", err)
			}
			if domain.ClientID != client.ID {
				return validationf("domain %d does not belong to client %d", domain.ID, client.ID)
			}
		}
		return tx.Create(&ticket).Error
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Service) StartTicket(ctx context.Context, ticketID uint) (models.Ticket, error) {
	return s.fireTicket(ctx, ticketID, EventStart)
}

// CompleteTicket closes a ticket by hand. Open demands are left as they are.
func (s *Service) CompleteTicket(ctx context.Context, ticketID uint) (models.Ticket, error) {
	return s.fireTicket(ctx, ticketID, EventComplete)
}

func (s *Service) CancelTicket(ctx context.Context, ticketID uint) (models.Ticket, error) {
	return s.fireTicket(ctx, ticketID, EventCancel)
}

func (s *Service) fireTicket(ctx context.Context, ticketID uint, event Event) (models.Ticket, error) {
	var ticket models.Ticket
	err := s.transaction(ctx, func(tx *gorm.DB, out *outbox) error {
		var err error
		ticket, err = lockTicket(tx, ticketID)
		if err != nil {
			return err
		}
		next, err := ticketTransitions.next("ticket", ticket.Status, event)
		if err != nil {
			return err
		}
		if err := row(tx, &ticket).Update("status", next).Error; err != nil {
			return err
		}
		ticket.Status = next
		if next == models.TicketCompleted {
			out.add(ticketCompletedEvent(ticket, false))
		}
		return nil
	})
	return ticket, err
}

// DeleteTicket soft-deletes a ticket that has no demand left to work on.
func (s *Service) DeleteTicket(ctx context.Context, ticketID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket, err := lockTicket(tx, ticketID)
		if err != nil {
			return err
		}
		open, err := countOpenDemands(tx, ticket.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return ErrOpenDemands
		}
		return tx.Delete(&ticket).Error
	})
}

func (s *Service) GetTicket(ctx context.Context, id uint) (models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).Preload("Demands").First(&ticket, id).Error; err != nil {
		return models.Ticket{}, notFound("ticket", err)
	}
	return ticket, nil
}

func (s *Service) ListTickets(ctx context.Context, clientID uint) ([]models.Ticket, error) {
	q := s.db.WithContext(ctx).Order("id")
	if clientID != 0 {
		q = q.Where("client_id = ?", clientID)
	}
	var tickets []models.Ticket
	err := q.Find(&tickets).Error
	return tickets, err
}

// completeTicketOnLastDemand completes the demand's ticket once none of its demands
// is still pending, in progress or awaiting approval.
func (s *Service) completeTicketOnLastDemand(_ context.Context, tx *gorm.DB, ev DemandCompleted) ([]notify.Event, error) {
	if ev.TicketID == nil {
		return nil, nil
	}
	ticket, err := lockTicket(tx, *ev.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status.Terminal() {
		return nil, nil
	}
	open, err := countOpenDemands(tx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, nil
	}
	if err := row(tx, &ticket).Update("status", models.TicketCompleted).Error; err != nil {
		return nil, err
	}
	ticket.Status = models.TicketCompleted
	s.metrics.ObserveCascade()
	s.log.WithFields(logrus.Fields{"ticket_id": ticket.ID, "demand_id": ev.DemandID}).Info("ticket completed by its last demand")
	return []notify.Event{ticketCompletedEvent(ticket, true)}, nil
}

func ticketCompletedEvent(t models.Ticket, automatic bool) notify.Event {
	return notify.NewEvent(notify.TicketCompleted, t.ClientID, map[string]interface{}{
		"ticket_id": t.ID,
		"subject":   t.Subject,
		"automatic": automatic,
	})
}

func lockTicket(tx *gorm.DB, id uint) (models.Ticket, error) {
	var ticket models.Ticket
	if err := forUpdate(tx).First(&ticket, id).Error; err != nil {
		return models.Ticket{}, notFound("ticket", err)
	}
	return ticket, nil
}

func countOpenDemands(tx *gorm.DB, ticketID uint) (int64, error) {
	var n int64
	err := tx.Model(&models.Demand{}).
		Where("ticket_id = ? AND status IN ?", ticketID, models.OpenDemandStatuses).
		Count(&n).Error
	return n, err
}
