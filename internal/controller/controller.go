// Package controller owns the in-memory snapshot of catalog, wishlist,
// inventory and pending refunds for one active session, and keeps it
// consistent with user actions and the remote store. Mutations apply
// optimistically to the local snapshot, then persist; a failed persist
// applies the compensating local transition before the error is returned.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/catalog"
	"github.com/xNova204/vaporshop/internal/events"
	"github.com/xNova204/vaporshop/internal/session"
	"github.com/xNova204/vaporshop/internal/userstate"
)

var (
	// ErrNoSession is returned for actions that need a signed-in user.
	ErrNoSession = errors.New("no active session")
	// ErrNotCustomer is returned for customer-only actions.
	ErrNotCustomer = errors.New("action requires a customer session")
	// ErrNotEmployee is returned for staff-only actions.
	ErrNotEmployee = errors.New("action requires an employee session")
)

// Controller orchestrates catalog and user state access for one client
// instance. All snapshot access goes through the mutex; remote calls are
// issued outside it, so two in-flight saves resolve last-writer-wins at the
// store just like the remote document store promises.
type Controller struct {
	catalog   *catalog.Service
	users     *userstate.Service
	publisher events.Publisher
	logger    *zap.Logger

	mu            sync.Mutex
	session       *session.Session
	games         []catalog.Game
	catalogLoaded bool

	wishlist       []catalog.Game
	inventory      []catalog.Game
	wishlistLoaded bool

	pending []userstate.RefundRequest

	// loadedFor guards the per-session fetch so repeated SetSession calls
	// with a stable (userId, role) pair do not re-fetch.
	loadedFor string

	selectedGenre string
	searchQuery   string
}

func New(cat *catalog.Service, users *userstate.Service, publisher events.Publisher, logger *zap.Logger) *Controller {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Controller{
		catalog:   cat,
		users:     users,
		publisher: publisher,
		logger:    logger,
	}
}

// Mount fetches the catalog once. Later catalog changes made by staff are
// not pushed to an already-mounted controller; the staleness window is
// accepted.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.catalogLoaded {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	games := c.catalog.Games(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.games = games
	c.catalogLoaded = true
}

// SetSession installs the resolved session and loads the role's state:
// wishlist and inventory for customers, pending refund requests for
// employees. Re-installing the same (userId, role) does not re-fetch.
func (c *Controller) SetSession(ctx context.Context, sess session.Session) error {
	key := sess.UserID + "/" + string(sess.Role)

	c.mu.Lock()
	if c.loadedFor == key {
		c.session = &sess
		c.mu.Unlock()
		return nil
	}
	c.session = &sess
	c.mu.Unlock()

	switch sess.Role {
	case session.RoleCustomer:
		wishlist, err := c.users.Wishlist(ctx, sess.UserID)
		if err != nil {
			return err
		}
		inventory, err := c.users.Inventory(ctx, sess.UserID)
		if err != nil {
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.wishlist = wishlist
		c.inventory = inventory
		c.wishlistLoaded = true
		c.loadedFor = key
		return nil

	case session.RoleEmployee:
		pending, err := c.users.PendingRefundRequests(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.pending = pending
		c.loadedFor = key
		return nil
	}

	return nil
}

// Logout drops the session and every per-user snapshot. The catalog stays.
func (c *Controller) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.wishlist = nil
	c.inventory = nil
	c.wishlistLoaded = false
	c.pending = nil
	c.loadedFor = ""
}

// Session returns the active session, if any.
func (c *Controller) Session() (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return session.Session{}, false
	}
	return *c.session, true
}

// Games returns the cached catalog snapshot.
func (c *Controller) Games() []catalog.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Game(nil), c.games...)
}

// Genres returns the cached catalog grouped by genre.
func (c *Controller) Genres() []catalog.Genre {
	return catalog.Genres(c.Games())
}

// SelectGenre sets the active genre filter. An empty name clears it.
func (c *Controller) SelectGenre(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedGenre = name
}

// SetSearch sets the search query.
func (c *Controller) SetSearch(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchQuery = query
}

// VisibleGames projects the catalog snapshot through the genre selection
// and search query. A non-empty query matches name by case-insensitive
// substring, scoped to the selected genre when one is selected and to the
// whole catalog otherwise. Purely local; no remote call.
func (c *Controller) VisibleGames() []catalog.Game {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope := c.games
	if c.selectedGenre != "" {
		scope = nil
		for _, g := range c.games {
			if g.Genre == c.selectedGenre {
				scope = append(scope, g)
			}
		}
	}

	if c.searchQuery == "" {
		if c.selectedGenre == "" {
			// Nothing selected and nothing searched: no listing.
			return nil
		}
		return append([]catalog.Game(nil), scope...)
	}

	query := strings.ToLower(c.searchQuery)
	var matched []catalog.Game
	for _, g := range scope {
		if strings.Contains(strings.ToLower(g.Name), query) {
			matched = append(matched, g)
		}
	}
	return matched
}

// Wishlist returns the local wishlist snapshot.
func (c *Controller) Wishlist() []catalog.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Game(nil), c.wishlist...)
}

// Inventory returns the local inventory snapshot.
func (c *Controller) Inventory() []catalog.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Game(nil), c.inventory...)
}

// PendingRefunds returns the local pending refund request snapshot.
func (c *Controller) PendingRefunds() []userstate.RefundRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]userstate.RefundRequest(nil), c.pending...)
}

// AddToWishlist appends the game to the wishlist unless a game with the
// same name is already present, then persists the whole wishlist. The save
// is skipped until the wishlist has been loaded once, so a save issued
// right after login cannot clobber previously persisted data.
func (c *Controller) AddToWishlist(ctx context.Context, game catalog.Game) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if sess.Role != session.RoleCustomer {
		c.mu.Unlock()
		return ErrNotCustomer
	}
	for _, g := range c.wishlist {
		if g.Name == game.Name {
			c.mu.Unlock()
			return nil
		}
	}
	c.wishlist = append(c.wishlist, game)
	userID, loaded, snapshot := sess.UserID, c.wishlistLoaded, append([]catalog.Game(nil), c.wishlist...)
	c.mu.Unlock()

	if !loaded {
		return nil
	}

	if err := c.users.SaveWishlist(ctx, userID, snapshot); err != nil {
		c.dropFromWishlist(game.Name)
		return err
	}
	return nil
}

// RemoveFromWishlist removes the named game and persists the wishlist.
func (c *Controller) RemoveFromWishlist(ctx context.Context, name string) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	var removed *catalog.Game
	kept := c.wishlist[:0]
	for _, g := range c.wishlist {
		if g.Name == name && removed == nil {
			removedCopy := g
			removed = &removedCopy
			continue
		}
		kept = append(kept, g)
	}
	c.wishlist = kept
	userID, loaded, snapshot := sess.UserID, c.wishlistLoaded, append([]catalog.Game(nil), c.wishlist...)
	c.mu.Unlock()

	if removed == nil || !loaded {
		return nil
	}

	if err := c.users.SaveWishlist(ctx, userID, snapshot); err != nil {
		c.mu.Lock()
		c.wishlist = append(c.wishlist, *removed)
		c.mu.Unlock()
		return err
	}
	return nil
}

// BuyGame adds the game to the inventory (once, by name), persists the
// inventory, then removes the game from the wishlist, which persists the
// wishlist in turn. The steps are sequenced but not atomic as a unit; the
// inventory write is authoritative for ownership, so a wishlist failure
// after it is logged rather than surfaced.
func (c *Controller) BuyGame(ctx context.Context, game catalog.Game) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if sess.Role != session.RoleCustomer {
		c.mu.Unlock()
		return ErrNotCustomer
	}

	owned := false
	for _, g := range c.inventory {
		if g.Name == game.Name {
			owned = true
			break
		}
	}
	if !owned {
		c.inventory = append(c.inventory, game)
	}
	userID, snapshot := sess.UserID, append([]catalog.Game(nil), c.inventory...)
	c.mu.Unlock()

	if !owned {
		if err := c.users.SaveInventory(ctx, userID, snapshot); err != nil {
			c.dropFromInventory(game.Name)
			return err
		}

		if err := c.publisher.Publish(ctx, events.GamePurchased{
			GameID:      game.ID,
			UserID:      userID,
			PurchasedAt: time.Now().UTC(),
		}); err != nil {
			c.logger.Warn("failed to publish purchase event", zap.Error(err))
		}
	}

	if err := c.RemoveFromWishlist(ctx, game.Name); err != nil {
		c.logger.Warn("purchased game left on wishlist",
			zap.String("game", game.Name),
			zap.Error(err),
		)
	}
	return nil
}

// RequestRefund submits a refund request for the signed-in customer.
func (c *Controller) RequestRefund(ctx context.Context, gameID, reason string) (string, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return "", ErrNoSession
	}
	if sess.Role != session.RoleCustomer {
		return "", ErrNotCustomer
	}
	return c.users.SubmitRefundRequest(ctx, sess.UserID, gameID, reason)
}

// ApproveRefund decides the request and, once the store confirms, drops it
// from the local pending list. There is no optimistic removal.
func (c *Controller) ApproveRefund(ctx context.Context, req userstate.RefundRequest) error {
	if err := c.requireEmployee(); err != nil {
		return err
	}
	if err := c.users.ApproveRefundRequest(ctx, req.ID, req.UserID, req.GameID); err != nil {
		return err
	}
	c.dropPending(req.ID)
	return nil
}

// DenyRefund decides the request and drops it from the local pending list
// once the store confirms.
func (c *Controller) DenyRefund(ctx context.Context, requestID string) error {
	if err := c.requireEmployee(); err != nil {
		return err
	}
	if err := c.users.DenyRefundRequest(ctx, requestID); err != nil {
		return err
	}
	c.dropPending(requestID)
	return nil
}

// SubmitReview writes a review as the signed-in customer, with the email as
// the denormalized display name.
func (c *Controller) SubmitReview(ctx context.Context, gameID, text string, rating int) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	if sess.Role != session.RoleCustomer {
		return ErrNotCustomer
	}
	return c.users.AddReview(ctx, gameID, sess.UserID, sess.Email, text, rating)
}

// ReviewsFor fetches the reviews for a game. Reviews are not cached; the
// detail view refetches after a submit.
func (c *Controller) ReviewsFor(ctx context.Context, gameID string) ([]userstate.Review, error) {
	return c.users.ReviewsForGame(ctx, gameID)
}

func (c *Controller) requireEmployee() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrNoSession
	}
	if c.session.Role != session.RoleEmployee {
		return ErrNotEmployee
	}
	return nil
}

func (c *Controller) dropPending(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, r := range c.pending {
		if r.ID != requestID {
			kept = append(kept, r)
		}
	}
	c.pending = kept
}

func (c *Controller) dropFromWishlist(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.wishlist[:0]
	for _, g := range c.wishlist {
		if g.Name != name {
			kept = append(kept, g)
		}
	}
	c.wishlist = kept
}

func (c *Controller) dropFromInventory(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.inventory[:0]
	for _, g := range c.inventory {
		if g.Name != name {
			kept = append(kept, g)
		}
	}
	c.inventory = kept
}
