// Package userstate reads and writes per-user storefront state: wishlist,
// inventory, refund requests and reviews. Wishlist and inventory live as
// fields on the user's own document and are overwritten whole on save; the
// store applies whichever write lands last.
package userstate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/catalog"
	"github.com/xNova204/vaporshop/internal/events"
	"github.com/xNova204/vaporshop/internal/store"
)

// Refund request states. Approved and denied are terminal.
const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundDenied   = "denied"
)

// RefundRequest is a customer's request to reverse a purchase.
type RefundRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	GameID    string    `json:"gameId"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Review is a customer's rating and comment on a game. Username is
// denormalized at write time; reviews are never updated or deleted.
type Review struct {
	GameID    string    `json:"gameId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Review    string    `json:"review"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidationError reports a rejected submission before any write occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Service provides per-user state access over the document store.
type Service struct {
	store     store.DocumentStore
	publisher events.Publisher
	logger    *zap.Logger
}

func NewService(docs store.DocumentStore, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     docs,
		publisher: publisher,
		logger:    logger,
	}
}

// Wishlist returns the user's saved-for-later games. A missing user
// document or missing field reads as an empty wishlist.
func (s *Service) Wishlist(ctx context.Context, userID string) ([]catalog.Game, error) {
	return s.gameField(ctx, userID, "wishlist")
}

// SaveWishlist overwrites the wishlist field on the user document, leaving
// the other fields intact.
func (s *Service) SaveWishlist(ctx context.Context, userID string, games []catalog.Game) error {
	return s.saveGameField(ctx, userID, "wishlist", games)
}

// Inventory returns the user's owned games.
func (s *Service) Inventory(ctx context.Context, userID string) ([]catalog.Game, error) {
	return s.gameField(ctx, userID, "inventory")
}

// SaveInventory overwrites the inventory field on the user document.
func (s *Service) SaveInventory(ctx context.Context, userID string, games []catalog.Game) error {
	return s.saveGameField(ctx, userID, "inventory", games)
}

func (s *Service) gameField(ctx context.Context, userID, field string) ([]catalog.Game, error) {
	doc, err := s.store.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", field, err)
	}
	return decodeGames(doc.Fields[field]), nil
}

func (s *Service) saveGameField(ctx context.Context, userID, field string, games []catalog.Game) error {
	fields := map[string]interface{}{field: encodeGames(games)}
	if err := s.store.Set(ctx, store.CollectionUsers, userID, fields, true); err != nil {
		return fmt.Errorf("failed to save %s: %w", field, err)
	}
	return nil
}

// SubmitRefundRequest creates a pending request. Empty game id or reason is
// rejected before any write.
func (s *Service) SubmitRefundRequest(ctx context.Context, userID, gameID, reason string) (string, error) {
	if gameID == "" {
		return "", &ValidationError{Field: "gameId", Reason: "must not be empty"}
	}
	if reason == "" {
		return "", &ValidationError{Field: "reason", Reason: "must not be empty"}
	}

	fields := map[string]interface{}{
		"userId":    userID,
		"gameId":    gameID,
		"reason":    reason,
		"status":    RefundPending,
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	id, err := s.store.Add(ctx, store.CollectionRefunds, fields)
	if err != nil {
		return "", fmt.Errorf("failed to save refund request: %w", err)
	}
	return id, nil
}

// PendingRefundRequests returns every request still awaiting a decision,
// across all users, oldest first.
func (s *Service) PendingRefundRequests(ctx context.Context) ([]RefundRequest, error) {
	docs, err := s.store.Query(ctx, store.CollectionRefunds, "status", RefundPending)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending refund requests: %w", err)
	}

	requests := make([]RefundRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, refundFromDocument(doc))
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

// ApproveRefundRequest marks the request approved and removes the refunded
// game from the requester's inventory. Requests already decided are left
// untouched. The status write and the inventory write are not atomic; a
// failure in between leaves the request approved with the game still owned.
func (s *Service) ApproveRefundRequest(ctx context.Context, requestID, userID, gameID string) error {
	decided, err := s.transitionRefund(ctx, requestID, RefundApproved)
	if err != nil || !decided {
		return err
	}

	inventory, err := s.Inventory(ctx, userID)
	if err != nil {
		return err
	}
	kept := inventory[:0]
	for _, g := range inventory {
		if g.ID != gameID {
			kept = append(kept, g)
		}
	}
	if err := s.SaveInventory(ctx, userID, kept); err != nil {
		return err
	}

	s.publish(ctx, events.RefundDecided{
		RequestID: requestID,
		UserID:    userID,
		GameID:    gameID,
		Status:    RefundApproved,
		DecidedAt: time.Now().UTC(),
	})
	return nil
}

// DenyRefundRequest marks the request denied. Inventory is untouched.
func (s *Service) DenyRefundRequest(ctx context.Context, requestID string) error {
	doc, err := s.store.Get(ctx, store.CollectionRefunds, requestID)
	if err != nil {
		return fmt.Errorf("failed to fetch refund request: %w", err)
	}

	decided, err := s.transitionRefund(ctx, requestID, RefundDenied)
	if err != nil || !decided {
		return err
	}

	s.publish(ctx, events.RefundDecided{
		RequestID: requestID,
		UserID:    doc.String("userId"),
		GameID:    doc.String("gameId"),
		Status:    RefundDenied,
		DecidedAt: time.Now().UTC(),
	})
	return nil
}

// transitionRefund moves the request from pending to the given terminal
// status. Returns false without writing when the request is already
// terminal.
func (s *Service) transitionRefund(ctx context.Context, requestID, status string) (bool, error) {
	doc, err := s.store.Get(ctx, store.CollectionRefunds, requestID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch refund request: %w", err)
	}
	if doc.String("status") != RefundPending {
		s.logger.Info("refund request already decided",
			zap.String("requestId", requestID),
			zap.String("status", doc.String("status")),
		)
		return false, nil
	}

	fields := map[string]interface{}{"status": status}
	if err := s.store.Set(ctx, store.CollectionRefunds, requestID, fields, true); err != nil {
		return false, fmt.Errorf("failed to update refund request: %w", err)
	}
	return true, nil
}

// AddReview creates a review with the author's display name stored on the
// document, so fetching reviews needs no per-review profile lookup.
func (s *Service) AddReview(ctx context.Context, gameID, userID, username, text string, rating int) error {
	if text == "" {
		return &ValidationError{Field: "review", Reason: "must not be empty"}
	}
	if rating < 1 || rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}

	fields := map[string]interface{}{
		"gameId":    gameID,
		"userId":    userID,
		"username":  username,
		"review":    text,
		"rating":    rating,
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.store.Add(ctx, store.CollectionReviews, fields); err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}

	s.publish(ctx, events.ReviewAdded{
		GameID:  gameID,
		UserID:  userID,
		Rating:  rating,
		AddedAt: time.Now().UTC(),
	})
	return nil
}

// ReviewsForGame returns all reviews for a game, newest first. Reviews
// written before usernames were denormalized fall back to a profile lookup
// of the authoring user.
func (s *Service) ReviewsForGame(ctx context.Context, gameID string) ([]Review, error) {
	docs, err := s.store.Query(ctx, store.CollectionReviews, "gameId", gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviews: %w", err)
	}

	reviews := make([]Review, 0, len(docs))
	for _, doc := range docs {
		review := Review{
			GameID:    doc.String("gameId"),
			UserID:    doc.String("userId"),
			Username:  doc.String("username"),
			Review:    doc.String("review"),
			Rating:    doc.Int("rating"),
			CreatedAt: parseTime(doc.String("createdAt")),
		}
		if review.Username == "" {
			review.Username = s.lookupUsername(ctx, review.UserID)
		}
		reviews = append(reviews, review)
	}
	sort.Slice(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}

func (s *Service) lookupUsername(ctx context.Context, userID string) string {
	doc, err := s.store.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		s.logger.Warn("failed to resolve review author",
			zap.String("userId", userID),
			zap.Error(err),
		)
		return "User " + userID
	}
	if email := doc.String("email"); email != "" {
		return email
	}
	return "User " + userID
}

func (s *Service) publish(ctx context.Context, event interface{}) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish user event", zap.Error(err))
	}
}

func refundFromDocument(doc store.Document) RefundRequest {
	return RefundRequest{
		ID:        doc.ID,
		UserID:    doc.String("userId"),
		GameID:    doc.String("gameId"),
		Reason:    doc.String("reason"),
		Status:    doc.String("status"),
		CreatedAt: parseTime(doc.String("createdAt")),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeGames(games []catalog.Game) []interface{} {
	encoded := make([]interface{}, 0, len(games))
	for _, g := range games {
		fields := map[string]interface{}{
			"id":    g.ID,
			"name":  g.Name,
			"price": g.Price,
			"genre": g.Genre,
		}
		if g.ImageURL != "" {
			fields["imageUrl"] = g.ImageURL
		}
		encoded = append(encoded, fields)
	}
	return encoded
}

func decodeGames(value interface{}) []catalog.Game {
	entries, ok := value.([]interface{})
	if !ok {
		return nil
	}

	games := make([]catalog.Game, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		game := catalog.Game{}
		game.ID, _ = fields["id"].(string)
		game.Name, _ = fields["name"].(string)
		game.Price, _ = fields["price"].(string)
		game.Genre, _ = fields["genre"].(string)
		game.ImageURL, _ = fields["imageUrl"].(string)
		games = append(games, game)
	}
	return games
}
