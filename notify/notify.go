package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"deskledger/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DemandCreated       = "demand.created"
	TicketCompleted     = "ticket.completed"
	SubscriptionCreated = "subscription.created"
	PaymentConfirmed    = "payment.confirmed"
	InvoiceGenerated    = "invoice.generated"
)

type Event struct {
	ID         string
	Name       string
	ClientID   uint
	Payload    map[string]interface{}
	OccurredAt time.Time
}

func NewEvent(name string, clientID uint, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		ClientID:   clientID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives notification events. Delivery and templating live elsewhere.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// Store persists events to the notifications table for the portals to read.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	row := models.Notification{
		EventID:   event.ID,
		Event:     event.Name,
		Payload:   datatypes.JSON(payload),
		CreatedAt: event.OccurredAt,
	}
	if event.ClientID != 0 {
		clientID := event.ClientID
		row.ClientID = &clientID
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

type LogSink struct {
	log *logrus.Logger
}

func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, event Event) error {
	s.log.WithFields(logrus.Fields{
		"event":     event.Name,
		"event_id":  event.ID,
		"client_id": event.ClientID,
	}).Info("notification emitted")
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	var names []string
	for _, e := range r.Events() {
		names = append(names, e.Name)
	}
	return names
}
