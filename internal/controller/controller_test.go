package controller

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/blob"
	"github.com/xNova204/vaporshop/internal/catalog"
	"github.com/xNova204/vaporshop/internal/events"
	"github.com/xNova204/vaporshop/internal/session"
	"github.com/xNova204/vaporshop/internal/store"
	"github.com/xNova204/vaporshop/internal/userstate"
)

// trackingStore wraps the memory store with call counters and injectable
// per-collection failures.
type trackingStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	listCalls int
	getCalls  map[string]int
	failGet   map[string]error
	failSet   map[string]error
}

func newTrackingStore() *trackingStore {
	return &trackingStore{
		MemoryStore: store.NewMemoryStore(),
		getCalls:    make(map[string]int),
		failGet:     make(map[string]error),
		failSet:     make(map[string]error),
	}
}

func (s *trackingStore) List(ctx context.Context, collection string) ([]store.Document, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()
	return s.MemoryStore.List(ctx, collection)
}

func (s *trackingStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	s.mu.Lock()
	s.getCalls[collection]++
	err := s.failGet[collection]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, collection, id)
}

func (s *trackingStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	s.mu.Lock()
	err := s.failSet[collection]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, collection, id, fields, merge)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, data)
	return nil
}

func (p *recordingPublisher) purchases() []events.GamePurchased {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.GamePurchased
	for _, e := range p.events {
		if gp, ok := e.(events.GamePurchased); ok {
			out = append(out, gp)
		}
	}
	return out
}

type fixture struct {
	ctrl  *Controller
	docs  *trackingStore
	pub   *recordingPublisher
	users *userstate.Service

	godOfWar catalog.Game
	skyrim   catalog.Game
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := newTrackingStore()
	pub := &recordingPublisher{}
	logger := zap.NewNop()

	cat := catalog.NewService(docs, blob.NewMemoryUploader(), pub, logger)
	users := userstate.NewService(docs, pub, logger)

	ctx := context.Background()
	godOfWar, err := cat.AddGame(ctx, catalog.Game{Name: "God of War", Price: "$49.99", Genre: "Action"}, nil, "")
	require.NoError(t, err)
	skyrim, err := cat.AddGame(ctx, catalog.Game{Name: "Skyrim", Price: "$19.99", Genre: "RPG"}, nil, "")
	require.NoError(t, err)

	return &fixture{
		ctrl:     New(cat, users, pub, logger),
		docs:     docs,
		pub:      pub,
		users:    users,
		godOfWar: godOfWar,
		skyrim:   skyrim,
	}
}

func (f *fixture) loginCustomer(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.ctrl.SetSession(context.Background(), session.Session{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   session.RoleCustomer,
	}))
}

func (f *fixture) loginEmployee(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.SetSession(context.Background(), session.Session{
		UserID: "staff",
		Email:  "staff@example.com",
		Role:   session.RoleEmployee,
	}))
}

func wishlistNames(games []catalog.Game) map[string]bool {
	set := make(map[string]bool, len(games))
	for _, g := range games {
		set[g.Name] = true
	}
	return set
}

func TestMountFetchesCatalogOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.Mount(ctx)
	f.ctrl.Mount(ctx)

	assert.Equal(t, 1, f.docs.listCalls)
	assert.Len(t, f.ctrl.Games(), 2)
}

func TestSearchScopedToSelectedGenre(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Mount(context.Background())

	// No genre selected: search spans the whole catalog.
	f.ctrl.SetSearch("sky")
	visible := f.ctrl.VisibleGames()
	require.Len(t, visible, 1)
	assert.Equal(t, "Skyrim", visible[0].Name)

	// Genre selected: search is scoped to it.
	f.ctrl.SelectGenre("Action")
	assert.Empty(t, f.ctrl.VisibleGames())

	// Matching is case-insensitive substring.
	f.ctrl.SelectGenre("")
	f.ctrl.SetSearch("GOD")
	visible = f.ctrl.VisibleGames()
	require.Len(t, visible, 1)
	assert.Equal(t, "God of War", visible[0].Name)
}

func TestVisibleGamesWithoutSearchListsSelectedGenre(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Mount(context.Background())

	assert.Empty(t, f.ctrl.VisibleGames())

	f.ctrl.SelectGenre("RPG")
	visible := f.ctrl.VisibleGames()
	require.Len(t, visible, 1)
	assert.Equal(t, "Skyrim", visible[0].Name)
}

func TestCustomerStateLoadedOncePerSession(t *testing.T) {
	f := newFixture(t)

	f.loginCustomer(t, "u1")
	after := f.docs.getCalls[store.CollectionUsers]
	assert.Equal(t, 2, after) // wishlist + inventory

	// Re-installing the same session does not re-fetch.
	f.loginCustomer(t, "u1")
	assert.Equal(t, after, f.docs.getCalls[store.CollectionUsers])
}

func TestWishlistAddRemoveSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.godOfWar))
	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.skyrim))
	require.NoError(t, f.ctrl.RemoveFromWishlist(ctx, "God of War"))

	assert.Equal(t, map[string]bool{"Skyrim": true}, wishlistNames(f.ctrl.Wishlist()))

	// The store holds the same set.
	stored, err := f.users.Wishlist(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Skyrim": true}, wishlistNames(stored))
}

func TestWishlistDeduplicatesByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.godOfWar))
	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.godOfWar))

	assert.Len(t, f.ctrl.Wishlist(), 1)
}

func TestBuyGameMovesWishlistEntryToInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.skyrim))
	require.NoError(t, f.ctrl.BuyGame(ctx, f.skyrim))

	assert.Empty(t, f.ctrl.Wishlist())
	assert.Equal(t, map[string]bool{"Skyrim": true}, wishlistNames(f.ctrl.Inventory()))

	// Buying again is idempotent for inventory membership.
	require.NoError(t, f.ctrl.BuyGame(ctx, f.skyrim))
	assert.Len(t, f.ctrl.Inventory(), 1)
	assert.Len(t, f.pub.purchases(), 1)

	stored, err := f.users.Inventory(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestBuyGameRollsBackOnInventorySaveFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	f.docs.mu.Lock()
	f.docs.failSet[store.CollectionUsers] = errors.New("write denied")
	f.docs.mu.Unlock()

	require.Error(t, f.ctrl.BuyGame(ctx, f.skyrim))

	// The optimistic append was compensated.
	assert.Empty(t, f.ctrl.Inventory())
	assert.Empty(t, f.pub.purchases())
}

func TestAddToWishlistRollsBackOnSaveFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	f.docs.mu.Lock()
	f.docs.failSet[store.CollectionUsers] = errors.New("write denied")
	f.docs.mu.Unlock()

	require.Error(t, f.ctrl.AddToWishlist(ctx, f.godOfWar))
	assert.Empty(t, f.ctrl.Wishlist())
}

func TestWishlistSaveGatedUntilFirstLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The login-time load fails, so the wishlist is not marked loaded.
	f.docs.mu.Lock()
	f.docs.failGet[store.CollectionUsers] = errors.New("network unreachable")
	f.docs.mu.Unlock()

	sess := session.Session{UserID: "u1", Email: "u1@example.com", Role: session.RoleCustomer}
	require.Error(t, f.ctrl.SetSession(ctx, sess))

	// Local mutations apply, but nothing is persisted: a save now could
	// clobber the remotely stored wishlist with this partial one.
	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.godOfWar))
	assert.Len(t, f.ctrl.Wishlist(), 1)

	f.docs.mu.Lock()
	delete(f.docs.failGet, store.CollectionUsers)
	f.docs.mu.Unlock()

	stored, err := f.users.Wishlist(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	// A successful load replaces the local snapshot and opens the gate.
	require.NoError(t, f.ctrl.SetSession(ctx, sess))
	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.skyrim))

	stored, err = f.users.Wishlist(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Skyrim": true}, wishlistNames(stored))
}

func TestEmployeeLoadsAndDecidesPendingRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.users.SaveInventory(ctx, "u1", []catalog.Game{
		{ID: f.skyrim.ID, Name: f.skyrim.Name, Price: f.skyrim.Price, Genre: f.skyrim.Genre},
	}))
	reqID, err := f.users.SubmitRefundRequest(ctx, "u1", f.skyrim.ID, "does not run")
	require.NoError(t, err)

	f.loginEmployee(t)
	pending := f.ctrl.PendingRefunds()
	require.Len(t, pending, 1)

	require.NoError(t, f.ctrl.ApproveRefund(ctx, pending[0]))
	assert.Empty(t, f.ctrl.PendingRefunds())

	inventory, err := f.users.Inventory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, inventory)

	doc, err := f.docs.MemoryStore.Get(ctx, store.CollectionRefunds, reqID)
	require.NoError(t, err)
	assert.Equal(t, userstate.RefundApproved, doc.String("status"))
}

func TestDenyRemovesFromLocalPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.SubmitRefundRequest(ctx, "u1", f.skyrim.ID, "lag")
	require.NoError(t, err)

	f.loginEmployee(t)
	pending := f.ctrl.PendingRefunds()
	require.Len(t, pending, 1)

	require.NoError(t, f.ctrl.DenyRefund(ctx, pending[0].ID))
	assert.Empty(t, f.ctrl.PendingRefunds())
}

func TestNoOptimisticRemovalOnDecisionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.SubmitRefundRequest(ctx, "u1", f.skyrim.ID, "lag")
	require.NoError(t, err)

	f.loginEmployee(t)
	require.Len(t, f.ctrl.PendingRefunds(), 1)

	f.docs.mu.Lock()
	f.docs.failSet[store.CollectionRefunds] = errors.New("write denied")
	f.docs.mu.Unlock()

	pending := f.ctrl.PendingRefunds()
	require.Error(t, f.ctrl.ApproveRefund(ctx, pending[0]))

	// The request stays in the local pending list until the store confirms.
	assert.Len(t, f.ctrl.PendingRefunds(), 1)
}

func TestRoleGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.AddToWishlist(ctx, f.godOfWar), ErrNoSession)
	assert.ErrorIs(t, f.ctrl.ApproveRefund(ctx, userstate.RefundRequest{ID: "r1"}), ErrNoSession)

	f.loginEmployee(t)
	assert.ErrorIs(t, f.ctrl.AddToWishlist(ctx, f.godOfWar), ErrNotCustomer)
	assert.ErrorIs(t, f.ctrl.BuyGame(ctx, f.godOfWar), ErrNotCustomer)
	_, err := f.ctrl.RequestRefund(ctx, f.godOfWar.ID, "reason")
	assert.ErrorIs(t, err, ErrNotCustomer)

	f.loginCustomer(t, "u1")
	assert.ErrorIs(t, f.ctrl.ApproveRefund(ctx, userstate.RefundRequest{ID: "r1"}), ErrNotEmployee)
	assert.ErrorIs(t, f.ctrl.DenyRefund(ctx, "r1"), ErrNotEmployee)
}

func TestLogoutDropsUserStateButKeepsCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.Mount(ctx)
	f.loginCustomer(t, "u1")
	require.NoError(t, f.ctrl.AddToWishlist(ctx, f.godOfWar))

	f.ctrl.Logout()

	_, ok := f.ctrl.Session()
	assert.False(t, ok)
	assert.Empty(t, f.ctrl.Wishlist())
	assert.Empty(t, f.ctrl.Inventory())
	assert.Len(t, f.ctrl.Games(), 2)

	// Logging back in reloads from the store, not from the dropped snapshot.
	f.loginCustomer(t, "u1")
	assert.Equal(t, map[string]bool{"God of War": true}, wishlistNames(f.ctrl.Wishlist()))
}

func TestSubmitReviewUsesSessionIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	require.NoError(t, f.ctrl.SubmitReview(ctx, f.skyrim.ID, "still holds up", 5))

	reviews, err := f.ctrl.ReviewsFor(ctx, f.skyrim.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "u1@example.com", reviews[0].Username)
	assert.Equal(t, "u1", reviews[0].UserID)
}

func TestRequestRefundValidatesBeforeWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loginCustomer(t, "u1")

	_, err := f.ctrl.RequestRefund(ctx, f.skyrim.ID, "")
	var vErr *userstate.ValidationError
	require.ErrorAs(t, err, &vErr)

	pending, err := f.users.PendingRefundRequests(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
