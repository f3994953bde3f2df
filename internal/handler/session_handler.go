// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"charted-server/internal/domain"
	"charted-server/internal/middleware"
	"charted-server/pkg/httputil"
)

// SessionManager はSessionHandlerが利用するセッション操作。
type SessionManager interface {
	Login(ctx context.Context, username, password string) (*domain.Session, error)
	Validate(ctx context.Context, accessToken string) (*domain.Credential, error)
	Current(ctx context.Context, ownerID int64) (*domain.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.Session, error)
	Revoke(ctx context.Context, ownerID int64) error
}

// SessionHandler はユーザーセッションのHTTPハンドラを提供する。
type SessionHandler struct {
	sessions SessionManager
}

// NewSessionHandler は新しいSessionHandlerを生成する。
func NewSessionHandler(sessions SessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// LoginRequest はログインのリクエスト形式。
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionTokensResponse は発行したセッショントークンのレスポンス形式。
type SessionTokensResponse struct {
	SessionID        string `json:"session_id"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresAt        string `json:"expires_at"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

// SessionResponse は現在のセッションのレスポンス形式。
type SessionResponse struct {
	SessionID        string   `json:"session_id"`
	UserID           int64    `json:"user_id"`
	ExpiresAt        string   `json:"expires_at"`
	RefreshExpiresAt string   `json:"refresh_expires_at"`
	Scopes           []string `json:"scopes"`
}

func newSessionTokensResponse(s *domain.Session) SessionTokensResponse {
	return SessionTokensResponse{
		SessionID:        s.ID.String(),
		AccessToken:      s.Access.Token,
		RefreshToken:     s.Refresh.Token,
		ExpiresAt:        s.Access.ExpiresAt.Format(time.RFC3339),
		RefreshExpiresAt: s.Refresh.ExpiresAt.Format(time.RFC3339),
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	e := mapError(err)
	httputil.Error(w, e.status, e.code, e.message)
}

// Unauthorized はセッションAPI向けの認証失敗レスポンスを返す。
func (h *SessionHandler) Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	writeSessionError(w, err)
}

// Login はユーザー名とパスワードでセッションを発行する。
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "username and password are required")
		return
	}

	session, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LOGIN", 0, "", middleware.ResultFailed)
		if e := mapError(err); e.status == http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "login failed", "error", err)
		}
		writeSessionError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "LOGIN", session.OwnerID, session.ID.String(), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, newSessionTokensResponse(session))
}

// GetSession は現在のセッションを返す。
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeSessionError(w, errMissingBearer)
		return
	}

	session, err := h.sessions.Current(r.Context(), cred.OwnerID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if session == nil || session.Access == nil || session.Refresh == nil || session.ID != cred.SessionID {
		writeSessionError(w, domain.ErrCredentialRevoked)
		return
	}

	httputil.JSON(w, http.StatusOK, SessionResponse{
		SessionID:        session.ID.String(),
		UserID:           session.OwnerID,
		ExpiresAt:        session.Access.ExpiresAt.Format(time.RFC3339),
		RefreshExpiresAt: session.Refresh.ExpiresAt.Format(time.RFC3339),
		Scopes:           cred.Scopes().Enabled(),
	})
}

// RefreshSession はリフレッシュトークンでセッションを再発行する。
func (h *SessionHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	tok, err := bearerToken(r)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	session, err := h.sessions.Refresh(r.Context(), tok)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "REFRESH_SESSION", 0, "", middleware.ResultFailed)
		writeSessionError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REFRESH_SESSION", session.OwnerID, session.ID.String(), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, newSessionTokensResponse(session))
}

// Logout は現在のセッションを失効させる。
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeSessionError(w, errMissingBearer)
		return
	}

	if err := h.sessions.Revoke(r.Context(), cred.OwnerID); err != nil {
		middleware.WriteAuditLog(r.Context(), "LOGOUT", cred.OwnerID, cred.SessionID.String(), middleware.ResultFailed)
		writeSessionError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "LOGOUT", cred.OwnerID, cred.SessionID.String(), middleware.ResultSuccess)
	w.WriteHeader(http.StatusAccepted)
}
