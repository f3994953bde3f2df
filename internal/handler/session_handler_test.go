package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"charted-server/internal/domain"
	"charted-server/pkg/bitfield"
)

// mockSessionManager はテスト用のモック。
type mockSessionManager struct {
	session     *domain.Session
	loginErr    error
	validateErr error
	currentErr  error
	refreshErr  error
	revokeErr   error
	revoked     []int64
}

func newMockSessionManager() *mockSessionManager {
	sessionID := uuid.New()
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	scopes := bitfield.New(0, domain.APIKeyScopes)
	_ = scopes.Add("user:access", "repo:access")
	return &mockSessionManager{
		session: &domain.Session{
			ID:      sessionID,
			OwnerID: 1,
			Access: &domain.Credential{
				ID: uuid.New(), Kind: domain.KindSessionAccess, OwnerID: 1, SessionID: sessionID,
				ScopeBits: scopes.Bits(), Token: "access-token", ExpiresAt: exp,
			},
			Refresh: &domain.Credential{
				ID: uuid.New(), Kind: domain.KindSessionRefresh, OwnerID: 1, SessionID: sessionID,
				ScopeBits: scopes.Bits(), Token: "refresh-token", ExpiresAt: exp.Add(24 * time.Hour),
			},
		},
	}
}

func (m *mockSessionManager) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	if username != "noel" || password != "noeliscutieuwu" {
		return nil, domain.ErrInvalidCredentials
	}
	return m.session, nil
}

func (m *mockSessionManager) Validate(ctx context.Context, accessToken string) (*domain.Credential, error) {
	if m.validateErr != nil {
		return nil, m.validateErr
	}
	if accessToken != m.session.Access.Token {
		return nil, domain.ErrCredentialMalformed
	}
	return m.session.Access, nil
}

func (m *mockSessionManager) Current(ctx context.Context, ownerID int64) (*domain.Session, error) {
	if m.currentErr != nil {
		return nil, m.currentErr
	}
	if ownerID != m.session.OwnerID {
		return nil, nil
	}
	return m.session, nil
}

func (m *mockSessionManager) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	if refreshToken != m.session.Refresh.Token {
		return nil, domain.ErrCredentialRevoked
	}
	return m.session, nil
}

func (m *mockSessionManager) Revoke(ctx context.Context, ownerID int64) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	m.revoked = append(m.revoked, ownerID)
	return nil
}

func setupSessionRouter(m *mockSessionManager) http.Handler {
	return NewRouter(NewSessionHandler(m), NewRegistryHandler(newMockRegistryAuthorizer(), "charted"), RouterOptions{})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	code, _ := resp["code"].(string)
	return code
}

func TestLogin_Success(t *testing.T) {
	m := newMockSessionManager()
	h := NewSessionHandler(m)

	body := strings.NewReader(`{"username":"noel","password":"noeliscutieuwu"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/users/login", body)
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d", rec.Code)
	}
	var resp SessionTokensResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.AccessToken != "access-token" || resp.RefreshToken != "refresh-token" {
		t.Errorf("unexpected tokens: %+v", resp)
	}
	if resp.SessionID != m.session.ID.String() {
		t.Errorf("want session_id %s, got %s", m.session.ID, resp.SessionID)
	}
	if resp.ExpiresAt != "2026-01-01T12:00:00Z" || resp.RefreshExpiresAt != "2026-01-02T12:00:00Z" {
		t.Errorf("unexpected expiry: %+v", resp)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		loginErr error
		status   int
		code     string
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing password", `{"username":"noel"}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"wrong password", `{"username":"noel","password":"nope"}`, nil, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"backend unavailable", `{"username":"noel","password":"noeliscutieuwu"}`, domain.ErrBackendUnavailable, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"database error", `{"username":"noel","password":"noeliscutieuwu"}`, errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockSessionManager()
			m.loginErr = tt.loginErr
			h := NewSessionHandler(m)

			req := httptest.NewRequest(http.MethodPost, "/v1/users/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)

			if rec.Code != tt.status {
				t.Errorf("want status %d, got %d", tt.status, rec.Code)
			}
			if code := decodeError(t, rec); code != tt.code {
				t.Errorf("want code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestGetSession_Success(t *testing.T) {
	m := newMockSessionManager()
	router := setupSessionRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/@me/sessions", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.UserID != 1 || resp.SessionID != m.session.ID.String() {
		t.Errorf("unexpected session: %+v", resp)
	}
	if len(resp.Scopes) != 2 {
		t.Errorf("want 2 scopes, got %v", resp.Scopes)
	}
}

func TestGetSession_Unauthorized(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		validateErr error
		code        string
	}{
		{"missing header", "", nil, "MISSING_CREDENTIALS"},
		{"basic scheme", "Basic bm9lbDpodW50ZXIy", nil, "MISSING_CREDENTIALS"},
		{"empty token", "Bearer ", nil, "MISSING_CREDENTIALS"},
		{"unknown token", "Bearer something-else", nil, "INVALID_CREDENTIAL"},
		{"expired", "Bearer access-token", domain.ErrCredentialExpired, "CREDENTIAL_EXPIRED"},
		{"revoked", "Bearer access-token", domain.ErrCredentialRevoked, "CREDENTIAL_REVOKED"},
		{"issuer mismatch", "Bearer access-token", domain.ErrIssuerMismatch, "INVALID_CREDENTIAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockSessionManager()
			m.validateErr = tt.validateErr
			router := setupSessionRouter(m)

			req := httptest.NewRequest(http.MethodGet, "/v1/users/@me/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("want status 401, got %d", rec.Code)
			}
			if code := decodeError(t, rec); code != tt.code {
				t.Errorf("want code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestGetSession_Replaced(t *testing.T) {
	m := newMockSessionManager()
	h := NewSessionHandler(m)

	// 別のセッションのアクセストークン
	stale := *m.session.Access
	stale.SessionID = uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/users/@me/sessions", nil)
	req = req.WithContext(WithCredential(req.Context(), &stale))
	rec := httptest.NewRecorder()
	h.GetSession(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("want status 401, got %d", rec.Code)
	}
}

func TestRefreshSession(t *testing.T) {
	m := newMockSessionManager()
	router := setupSessionRouter(m)

	req := httptest.NewRequest(http.MethodPost, "/v1/users/@me/sessions/refresh", nil)
	req.Header.Set("Authorization", "Bearer refresh-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d", rec.Code)
	}

	// アクセストークンでは再発行できない
	req = httptest.NewRequest(http.MethodPost, "/v1/users/@me/sessions/refresh", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("want status 401, got %d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	m := newMockSessionManager()
	router := setupSessionRouter(m)

	req := httptest.NewRequest(http.MethodDelete, "/v1/users/@me/sessions", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("want status 202, got %d", rec.Code)
	}
	if len(m.revoked) != 1 || m.revoked[0] != 1 {
		t.Errorf("want owner 1 revoked, got %v", m.revoked)
	}
}

func TestLogout_BackendUnavailable(t *testing.T) {
	m := newMockSessionManager()
	m.revokeErr = domain.ErrBackendUnavailable
	h := NewSessionHandler(m)

	req := httptest.NewRequest(http.MethodDelete, "/v1/users/@me/sessions", nil)
	req = req.WithContext(WithCredential(req.Context(), m.session.Access))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("want status 401, got %d", rec.Code)
	}
}
