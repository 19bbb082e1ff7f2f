// Package events publishes storefront audit events. Publishing is
// best-effort: callers log failures and never surface them to the user
// action that produced the event.
package events

import (
	"context"
	"time"
)

// Event envelope written to the stream.
type Event struct {
	EventID   string      `json:"eventId"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// GameAdded is emitted when staff add a catalog entry.
type GameAdded struct {
	GameID  string    `json:"gameId"`
	Name    string    `json:"name"`
	Genre   string    `json:"genre"`
	AddedAt time.Time `json:"addedAt"`
}

// GameRemoved is emitted when staff delete a catalog entry.
type GameRemoved struct {
	GameID    string    `json:"gameId"`
	RemovedAt time.Time `json:"removedAt"`
}

// GamePurchased is emitted when a customer buys a game.
type GamePurchased struct {
	GameID      string    `json:"gameId"`
	UserID      string    `json:"userId"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

// RefundDecided is emitted when staff approve or deny a refund request.
type RefundDecided struct {
	RequestID string    `json:"requestId"`
	UserID    string    `json:"userId"`
	GameID    string    `json:"gameId"`
	Status    string    `json:"status"`
	DecidedAt time.Time `json:"decidedAt"`
}

// ReviewAdded is emitted when a customer submits a review.
type ReviewAdded struct {
	GameID  string    `json:"gameId"`
	UserID  string    `json:"userId"`
	Rating  int       `json:"rating"`
	AddedAt time.Time `json:"addedAt"`
}

// Publisher emits one domain event to the stream.
type Publisher interface {
	Publish(ctx context.Context, data interface{}) error
}

// NopPublisher discards every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, data interface{}) error {
	return nil
}
