// Package session resolves authenticated principals to storefront sessions.
// Authentication itself is delegated to the external identity provider; this
// package only decides the role and provisions first-login profiles.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/store"
)

// Role of a resolved principal. Roles are derived from the stored profile,
// never chosen by the client.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleEmployee Role = "employee"
)

// Session is the resolved identity of the active user. It is transient;
// nothing beyond the identity provider's own session is persisted.
type Session struct {
	UserID string
	Email  string
	Role   Role
}

// AuthError codes.
const (
	AuthInvalidCredentials = "invalid_credentials"
	AuthEmailInUse         = "email_in_use"
	AuthUnknown            = "unknown"
)

// AuthError reports a failed sign-in or sign-up.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

// Authenticator verifies credentials against the identity provider and
// returns a stable user id. Sign-up and sign-in are distinct operations but
// resolve identically afterwards.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, email, password string) (string, error)
}

// Manager resolves authenticated users to sessions, provisioning a default
// customer profile on first sign-in.
type Manager struct {
	auth   Authenticator
	store  store.DocumentStore
	logger *zap.Logger
}

func NewManager(auth Authenticator, docs store.DocumentStore, logger *zap.Logger) *Manager {
	return &Manager{
		auth:   auth,
		store:  docs,
		logger: logger,
	}
}

// SignIn authenticates existing credentials and resolves the session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	userID, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return m.Resolve(ctx, userID, email)
}

// SignUp registers new credentials and resolves the session.
func (m *Manager) SignUp(ctx context.Context, email, password string) (Session, error) {
	userID, err := m.auth.SignUp(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return m.Resolve(ctx, userID, email)
}

// Resolve looks up the user's profile and derives the role:
// no profile -> create one with the customer role; profile without a role
// field -> backfill customer with a merge write; otherwise adopt the stored
// role.
func (m *Manager) Resolve(ctx context.Context, userID, email string) (Session, error) {
	doc, err := m.store.Get(ctx, store.CollectionUsers, userID)
	if err != nil {
		if !store.IsNotFound(err) {
			return Session{}, fmt.Errorf("failed to fetch user profile: %w", err)
		}

		fields := map[string]interface{}{
			"email":     email,
			"role":      string(RoleCustomer),
			"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := m.store.Set(ctx, store.CollectionUsers, userID, fields, false); err != nil {
			return Session{}, fmt.Errorf("failed to provision user profile: %w", err)
		}
		m.logger.Info("provisioned new customer profile", zap.String("userId", userID))
		return Session{UserID: userID, Email: email, Role: RoleCustomer}, nil
	}

	role := Role(doc.String("role"))
	switch role {
	case RoleCustomer, RoleEmployee:
		return Session{UserID: userID, Email: email, Role: role}, nil
	default:
		// Pre-role profile, backfill as customer.
		fields := map[string]interface{}{"role": string(RoleCustomer)}
		if err := m.store.Set(ctx, store.CollectionUsers, userID, fields, true); err != nil {
			return Session{}, fmt.Errorf("failed to backfill user role: %w", err)
		}
		m.logger.Info("backfilled customer role", zap.String("userId", userID))
		return Session{UserID: userID, Email: email, Role: RoleCustomer}, nil
	}
}
