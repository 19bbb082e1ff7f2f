// Package main is the storefront API service. It exposes the catalog,
// per-user state and refund workflow over HTTP, delegating authentication
// to the external identity provider and persistence to the configured
// document store.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/blob"
	"github.com/xNova204/vaporshop/internal/catalog"
	"github.com/xNova204/vaporshop/internal/config"
	"github.com/xNova204/vaporshop/internal/events"
	"github.com/xNova204/vaporshop/internal/session"
	"github.com/xNova204/vaporshop/internal/store"
	"github.com/xNova204/vaporshop/internal/userstate"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpLatencySeconds)
}

type server struct {
	catalog   *catalog.Service
	users     *userstate.Service
	sessions  *session.Manager
	publisher events.Publisher
	logger    *zap.Logger

	mu     sync.Mutex
	tokens map[string]session.Session
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	docs, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize document store", zap.Error(err))
	}
	defer closeStore()

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers, cfg.KafkaTopic, logger)
		defer kp.Close()
		publisher = kp
	}

	var uploader blob.Uploader = blob.NewMemoryUploader()
	if cfg.BlobBaseURL != "" {
		uploader = blob.NewHTTPUploader(cfg.BlobBaseURL)
	}

	var auth session.Authenticator
	if cfg.AuthBaseURL != "" {
		auth = session.NewHTTPAuthenticator(cfg.AuthBaseURL)
	} else {
		logger.Warn("no AUTH_BASE_URL configured, sign-in will fail")
		auth = unavailableAuthenticator{}
	}

	srv := &server{
		catalog:   catalog.NewService(docs, uploader, publisher, logger),
		users:     userstate.NewService(docs, publisher, logger),
		sessions:  session.NewManager(auth, docs, logger),
		publisher: publisher,
		logger:    logger,
		tokens:    make(map[string]session.Session),
	}

	r := chi.NewRouter()
	r.Use(srv.metricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/auth/signin", srv.handleSignIn)
	r.Post("/auth/signup", srv.handleSignUp)

	r.Get("/games", srv.handleListGames)
	r.Get("/games/{id}/reviews", srv.handleListReviews)

	r.Group(func(r chi.Router) {
		r.Use(srv.requireSession)

		r.With(srv.requireRole(session.RoleEmployee)).Post("/games", srv.handleAddGame)
		r.With(srv.requireRole(session.RoleEmployee)).Delete("/games/{id}", srv.handleRemoveGame)

		r.With(srv.requireRole(session.RoleCustomer)).Get("/wishlist", srv.handleGetWishlist)
		r.With(srv.requireRole(session.RoleCustomer)).Put("/wishlist", srv.handlePutWishlist)
		r.With(srv.requireRole(session.RoleCustomer)).Get("/inventory", srv.handleGetInventory)
		r.With(srv.requireRole(session.RoleCustomer)).Post("/purchase", srv.handlePurchase)
		r.With(srv.requireRole(session.RoleCustomer)).Post("/refunds", srv.handleSubmitRefund)
		r.With(srv.requireRole(session.RoleCustomer)).Post("/games/{id}/reviews", srv.handleAddReview)

		r.With(srv.requireRole(session.RoleEmployee)).Get("/refunds/pending", srv.handlePendingRefunds)
		r.With(srv.requireRole(session.RoleEmployee)).Post("/refunds/{id}/approve", srv.handleApproveRefund)
		r.With(srv.requireRole(session.RoleEmployee)).Post("/refunds/{id}/deny", srv.handleDenyRefund)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("Starting storefront API service", zap.String("port", cfg.ServicePort))
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (store.DocumentStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			return nil, nil, err
		}
		return store.Instrument(rs), func() { rs.Close() }, nil
	case config.BackendMSSQL:
		ms, err := store.NewMSSQLStore(cfg.MSSQLConn, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := ms.InitializeTables(); err != nil {
			ms.Close()
			return nil, nil, err
		}
		return store.Instrument(ms), func() { ms.Close() }, nil
	default:
		logger.Warn("using in-memory store, data will not survive restarts")
		return store.Instrument(store.NewMemoryStore()), func() {}, nil
	}
}

type unavailableAuthenticator struct{}

func (unavailableAuthenticator) SignIn(context.Context, string, string) (string, error) {
	return "", &session.AuthError{Code: session.AuthUnknown, Message: "no identity provider configured"}
}

func (unavailableAuthenticator) SignUp(context.Context, string, string) (string, error) {
	return "", &session.AuthError{Code: session.AuthUnknown, Message: "no identity provider configured"}
}

func (s *server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		httpLatencySeconds.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type sessionKey struct{}

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		sess, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *server) requireRole(role session.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := r.Context().Value(sessionKey{}).(session.Session)
			if sess.Role != role {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionFrom(r *http.Request) session.Session {
	sess, _ := r.Context().Value(sessionKey{}).(session.Session)
	return sess
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (s *server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.handleAuth(w, r, s.sessions.SignIn)
}

func (s *server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.handleAuth(w, r, s.sessions.SignUp)
}

func (s *server) handleAuth(w http.ResponseWriter, r *http.Request, resolve func(context.Context, string, string) (session.Session, error)) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess, err := resolve(r.Context(), req.Email, req.Password)
	if err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			status := http.StatusUnauthorized
			if authErr.Code == session.AuthEmailInUse {
				status = http.StatusConflict
			}
			http.Error(w, authErr.Message, status)
			return
		}
		s.logger.Error("failed to resolve session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = sess
	s.mu.Unlock()

	writeJSON(w, authResponse{
		Token:  token,
		UserID: sess.UserID,
		Email:  sess.Email,
		Role:   string(sess.Role),
	})
}

func (s *server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games := s.catalog.Games(r.Context())
	writeJSON(w, map[string]interface{}{
		"games":  games,
		"genres": catalog.Genres(games),
	})
}

type addGameRequest struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Genre       string `json:"genre"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageType   string `json:"imageType,omitempty"`
}

func (s *server) handleAddGame(w http.ResponseWriter, r *http.Request) {
	var req addGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var image []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			http.Error(w, "Invalid image encoding", http.StatusBadRequest)
			return
		}
		image = decoded
	}

	game, err := s.catalog.AddGame(r.Context(), catalog.Game{
		Name:  req.Name,
		Price: req.Price,
		Genre: req.Genre,
	}, image, req.ImageType)
	if err != nil {
		var vErr *catalog.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to add game", zap.Error(err))
		http.Error(w, "Failed to add game", http.StatusInternalServerError)
		return
	}
	writeJSON(w, game)
}

func (s *server) handleRemoveGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.catalog.RemoveGame(r.Context(), id); err != nil {
		// Delete failures are logged, not surfaced; the client's next fetch
		// reflects whatever the store holds.
		s.logger.Error("failed to remove game", zap.String("gameId", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	games, err := s.users.Wishlist(r.Context(), sess.UserID)
	if err != nil {
		s.logger.Error("failed to fetch wishlist", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"games": games})
}

type saveGamesRequest struct {
	Games []catalog.Game `json:"games"`
}

func (s *server) handlePutWishlist(w http.ResponseWriter, r *http.Request) {
	var req saveGamesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	if err := s.users.SaveWishlist(r.Context(), sess.UserID, dedupeByName(req.Games)); err != nil {
		s.logger.Error("failed to save wishlist", zap.Error(err))
		http.Error(w, "Failed to save wishlist", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	games, err := s.users.Inventory(r.Context(), sess.UserID)
	if err != nil {
		s.logger.Error("failed to fetch inventory", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"games": games})
}

type purchaseRequest struct {
	Game catalog.Game `json:"game"`
}

// handlePurchase applies the purchase sequence server-side: add to
// inventory once by name, then drop the game from the wishlist. The two
// saves are sequenced, not atomic; the inventory write is authoritative.
func (s *server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	ctx := r.Context()

	inventory, err := s.users.Inventory(ctx, sess.UserID)
	if err != nil {
		s.logger.Error("failed to fetch inventory", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	owned := false
	for _, g := range inventory {
		if g.Name == req.Game.Name {
			owned = true
			break
		}
	}
	if !owned {
		if err := s.users.SaveInventory(ctx, sess.UserID, append(inventory, req.Game)); err != nil {
			s.logger.Error("failed to save inventory", zap.Error(err))
			http.Error(w, "Failed to complete purchase", http.StatusInternalServerError)
			return
		}
		if err := s.publisher.Publish(ctx, events.GamePurchased{
			GameID:      req.Game.ID,
			UserID:      sess.UserID,
			PurchasedAt: time.Now().UTC(),
		}); err != nil {
			s.logger.Warn("failed to publish purchase event", zap.Error(err))
		}
	}

	wishlist, err := s.users.Wishlist(ctx, sess.UserID)
	if err == nil {
		kept := wishlist[:0]
		for _, g := range wishlist {
			if g.Name != req.Game.Name {
				kept = append(kept, g)
			}
		}
		if len(kept) != len(wishlist) {
			err = s.users.SaveWishlist(ctx, sess.UserID, kept)
		}
	}
	if err != nil {
		s.logger.Warn("purchased game left on wishlist",
			zap.String("game", req.Game.Name),
			zap.Error(err),
		)
	}

	w.WriteHeader(http.StatusNoContent)
}

type refundRequestBody struct {
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
}

func (s *server) handleSubmitRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	id, err := s.users.SubmitRefundRequest(r.Context(), sess.UserID, req.GameID, req.Reason)
	if err != nil {
		var vErr *userstate.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to submit refund request", zap.Error(err))
		http.Error(w, "Failed to submit refund request", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"id": id})
}

func (s *server) handlePendingRefunds(w http.ResponseWriter, r *http.Request) {
	requests, err := s.users.PendingRefundRequests(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch pending refund requests", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"requests": requests})
}

type refundDecisionBody struct {
	UserID string `json:"userId"`
	GameID string `json:"gameId"`
}

func (s *server) handleApproveRefund(w http.ResponseWriter, r *http.Request) {
	var req refundDecisionBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.users.ApproveRefundRequest(r.Context(), id, req.UserID, req.GameID); err != nil {
		s.logger.Error("failed to approve refund request", zap.String("requestId", id), zap.Error(err))
		http.Error(w, "Failed to approve refund request", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDenyRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.users.DenyRefundRequest(r.Context(), id); err != nil {
		s.logger.Error("failed to deny refund request", zap.String("requestId", id), zap.Error(err))
		http.Error(w, "Failed to deny refund request", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reviewRequest struct {
	Review string `json:"review"`
	Rating int    `json:"rating"`
}

func (s *server) handleAddReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	gameID := chi.URLParam(r, "id")
	if err := s.users.AddReview(r.Context(), gameID, sess.UserID, sess.Email, req.Review, req.Rating); err != nil {
		var vErr *userstate.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to add review", zap.Error(err))
		http.Error(w, "Failed to add review", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "id")
	reviews, err := s.users.ReviewsForGame(r.Context(), gameID)
	if err != nil {
		s.logger.Error("failed to fetch reviews", zap.String("gameId", gameID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"reviews": reviews})
}

func dedupeByName(games []catalog.Game) []catalog.Game {
	seen := make(map[string]bool, len(games))
	out := games[:0]
	for _, g := range games {
		if seen[g.Name] {
			continue
		}
		seen[g.Name] = true
		out = append(out, g)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out, nothing left to do.
		return
	}
}
