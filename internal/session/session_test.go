package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xNova204/vaporshop/internal/store"
)

// fakeAuth resolves every known email to a fixed user id.
type fakeAuth struct {
	users map[string]string
}

func (f *fakeAuth) SignIn(_ context.Context, email, _ string) (string, error) {
	id, ok := f.users[email]
	if !ok {
		return "", &AuthError{Code: AuthInvalidCredentials, Message: "invalid email or password"}
	}
	return id, nil
}

func (f *fakeAuth) SignUp(_ context.Context, email, _ string) (string, error) {
	if _, ok := f.users[email]; ok {
		return "", &AuthError{Code: AuthEmailInUse, Message: "account exists"}
	}
	id := "user-" + email
	f.users[email] = id
	return id, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeAuth, *store.MemoryStore) {
	t.Helper()
	docs := store.NewMemoryStore()
	auth := &fakeAuth{users: make(map[string]string)}
	return NewManager(auth, docs, zap.NewNop()), auth, docs
}

func TestSignUpProvisionsCustomerProfile(t *testing.T) {
	ctx := context.Background()
	mgr, _, docs := newTestManager(t)

	sess, err := mgr.SignUp(ctx, "new@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, sess.Role)
	assert.Equal(t, "new@example.com", sess.Email)
	require.NotEmpty(t, sess.UserID)

	doc, err := docs.Get(ctx, store.CollectionUsers, sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, "customer", doc.String("role"))
	assert.Equal(t, "new@example.com", doc.String("email"))
	assert.NotEmpty(t, doc.String("createdAt"))
}

func TestSignInAdoptsStoredRole(t *testing.T) {
	ctx := context.Background()
	mgr, auth, docs := newTestManager(t)

	auth.users["staff@example.com"] = "u-staff"
	require.NoError(t, docs.Set(ctx, store.CollectionUsers, "u-staff", map[string]interface{}{
		"email": "staff@example.com",
		"role":  "employee",
	}, false))

	sess, err := mgr.SignIn(ctx, "staff@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, sess.Role)
	assert.Equal(t, "u-staff", sess.UserID)
}

func TestSignInBackfillsMissingRole(t *testing.T) {
	ctx := context.Background()
	mgr, auth, docs := newTestManager(t)

	auth.users["old@example.com"] = "u-old"
	require.NoError(t, docs.Set(ctx, store.CollectionUsers, "u-old", map[string]interface{}{
		"email":    "old@example.com",
		"wishlist": []interface{}{},
	}, false))

	sess, err := mgr.SignIn(ctx, "old@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, sess.Role)

	// The backfill merges, keeping the rest of the profile.
	doc, err := docs.Get(ctx, store.CollectionUsers, "u-old")
	require.NoError(t, err)
	assert.Equal(t, "customer", doc.String("role"))
	assert.Equal(t, "old@example.com", doc.String("email"))
}

func TestSignInPropagatesAuthError(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.SignIn(context.Background(), "nobody@example.com", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthInvalidCredentials, authErr.Code)
}

func TestSignUpConflict(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	_, err := mgr.SignUp(ctx, "dup@example.com", "hunter2")
	require.NoError(t, err)

	_, err = mgr.SignUp(ctx, "dup@example.com", "hunter2")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthEmailInUse, authErr.Code)
}

func TestResolveIsStableAcrossSignIns(t *testing.T) {
	ctx := context.Background()
	mgr, auth, _ := newTestManager(t)

	auth.users["a@example.com"] = "u1"

	first, err := mgr.SignIn(ctx, "a@example.com", "hunter2")
	require.NoError(t, err)
	second, err := mgr.SignIn(ctx, "a@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
