package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPAuthenticator speaks JSON to the identity provider's REST endpoints.
// The provider verifies credentials and returns a stable user id; its
// protocol is treated as opaque RPC.
type HTTPAuthenticator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthenticator(baseURL string) *HTTPAuthenticator {
	return &HTTPAuthenticator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPAuthenticator) SignIn(ctx context.Context, email, password string) (string, error) {
	return a.post(ctx, "/v1/signin", email, password)
}

func (a *HTTPAuthenticator) SignUp(ctx context.Context, email, password string) (string, error) {
	return a.post(ctx, "/v1/signup", email, password)
}

func (a *HTTPAuthenticator) post(ctx context.Context, path, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &AuthError{Code: AuthUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return "", &AuthError{Code: AuthInvalidCredentials, Message: "invalid email or password"}
	case http.StatusConflict:
		return "", &AuthError{Code: AuthEmailInUse, Message: "an account with this email already exists"}
	default:
		return "", &AuthError{Code: AuthUnknown, Message: fmt.Sprintf("identity provider returned %d", resp.StatusCode)}
	}

	var result struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &AuthError{Code: AuthUnknown, Message: "malformed identity provider response"}
	}
	if result.UserID == "" {
		return "", &AuthError{Code: AuthUnknown, Message: "identity provider returned no user id"}
	}
	return result.UserID, nil
}
