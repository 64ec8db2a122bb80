package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventPublisher defines the interface for publishing lending events
type EventPublisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// Catalog events
type BookCreatedEvent struct {
	BookID     int64     `json:"book_id"`
	Title      string    `json:"title"`
	ISBN       string    `json:"isbn"`
	Quantity   int       `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookUpdatedEvent struct {
	BookID     int64     `json:"book_id"`
	Title      string    `json:"title"`
	ISBN       string    `json:"isbn"`
	Quantity   int       `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookDeletedEvent struct {
	BookID     int64     `json:"book_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Loan events
type BookIssuedEvent struct {
	LoanID     int64     `json:"issue_id"`
	BookID     int64     `json:"book_id"`
	UserID     int64     `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookReturnedEvent struct {
	LoanID     int64     `json:"issue_id"`
	BookID     int64     `json:"book_id"`
	UserID     int64     `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// InMemoryEventPublisher keeps published events in process. Used when Kafka is
// disabled or unreachable, and by tests.
type InMemoryEventPublisher struct {
	mu     sync.Mutex
	logger *zap.Logger
	events []interface{}
}

func NewInMemoryEventPublisher(logger *zap.Logger) *InMemoryEventPublisher {
	return &InMemoryEventPublisher{
		logger: logger,
		events: make([]interface{}, 0),
	}
}

func (p *InMemoryEventPublisher) Publish(ctx context.Context, event interface{}) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()

	p.logger.Debug("Event published (in-memory)", zap.String("event-type", EventType(event)))
	return nil
}

// Events returns a copy of everything published so far
func (p *InMemoryEventPublisher) Events() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]interface{}, len(p.events))
	copy(out, p.events)
	return out
}

// EventType returns the event type as string
func EventType(event interface{}) string {
	switch event.(type) {
	case BookCreatedEvent:
		return "BookCreated"
	case BookUpdatedEvent:
		return "BookUpdated"
	case BookDeletedEvent:
		return "BookDeleted"
	case BookIssuedEvent:
		return "BookIssued"
	case BookReturnedEvent:
		return "BookReturned"
	default:
		return "Unknown"
	}
}
