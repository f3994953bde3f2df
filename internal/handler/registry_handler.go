package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"charted-server/internal/domain"
	"charted-server/internal/middleware"
	"charted-server/pkg/httputil"
)

// RegistryAuthorizer はRegistryHandlerが利用するレジストリ認可操作。
type RegistryAuthorizer interface {
	Authorize(ctx context.Context, header string) (*domain.Credential, error)
	Validate(ctx context.Context, registryToken string) (*domain.Credential, error)
	CheckAccess(ctx context.Context, cred *domain.Credential, repositoryID int64, action string) error
}

// RegistryHandler はOCIレジストリ認可のHTTPハンドラを提供する。
type RegistryHandler struct {
	auth    RegistryAuthorizer
	service string
	now     func() time.Time
}

// NewRegistryHandler は新しいRegistryHandlerを生成する。serviceはWWW-Authenticateのservice値。
func NewRegistryHandler(auth RegistryAuthorizer, service string) *RegistryHandler {
	return &RegistryHandler{auth: auth, service: service, now: time.Now}
}

// RegistryTokenResponse はDockerトークン認証のレスポンス形式。
type RegistryTokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	IssuedAt    string `json:"issued_at"`
}

// RegistryAccessResponse はリポジトリ操作の許可判定のレスポンス形式。
type RegistryAccessResponse struct {
	RepositoryID int64  `json:"repository_id"`
	Action       string `json:"action"`
	Allowed      bool   `json:"allowed"`
}

// realm はトークンエンドポイントのURLを返す。
func realm(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return fmt.Sprintf("%s://%s/v2/token", scheme, r.Host)
}

// Unauthorized はWWW-Authenticateヘッダー付きのOCI形式の401を返す。
func (h *RegistryHandler) Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q,service=%q`, realm(r), h.service))
	e := mapError(err)
	if e.status != http.StatusUnauthorized {
		h.writeError(w, e)
		return
	}
	httputil.RegistryError(w, http.StatusUnauthorized, httputil.RegistryUnauthorized, e.message)
}

func (h *RegistryHandler) writeError(w http.ResponseWriter, e apiError) {
	code := httputil.RegistryUnsupported
	switch e.status {
	case http.StatusUnauthorized:
		code = httputil.RegistryUnauthorized
	case http.StatusForbidden:
		code = httputil.RegistryDenied
	case http.StatusNotFound:
		code = httputil.RegistryNameUnknown
	}
	httputil.RegistryError(w, e.status, code, e.message)
}

// Token はBasic認証でレジストリトークンを発行する。
func (h *RegistryHandler) Token(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		h.Unauthorized(w, r, domain.ErrMalformedCredentials)
		return
	}

	cred, err := h.auth.Authorize(r.Context(), header)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "REGISTRY_TOKEN", 0, "", middleware.ResultFailed)
		e := mapError(err)
		if e.status == http.StatusUnauthorized {
			h.Unauthorized(w, r, err)
			return
		}
		slog.ErrorContext(r.Context(), "registry authorization failed", "error", err)
		h.writeError(w, e)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REGISTRY_TOKEN", cred.OwnerID, cred.ID.String(), middleware.ResultSuccess)
	expiresIn := int64(cred.ExpiresAt.Sub(h.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	httputil.JSON(w, http.StatusOK, RegistryTokenResponse{
		Token:       cred.Token,
		AccessToken: cred.Token,
		ExpiresIn:   expiresIn,
		IssuedAt:    cred.IssuedAt.Format(time.RFC3339),
	})
}

// Ping はレジストリAPIのバージョン確認に応答する。
func (h *RegistryHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	httputil.JSON(w, http.StatusOK, struct{}{})
}

// CheckAccess はトークンがリポジトリに対する操作を許可されているかを返す。
func (h *RegistryHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		h.Unauthorized(w, r, errMissingBearer)
		return
	}

	repositoryID, err := strconv.ParseInt(chi.URLParam(r, "repository_id"), 10, 64)
	if err != nil || repositoryID < 1 {
		httputil.RegistryError(w, http.StatusBadRequest, httputil.RegistryNameUnknown, "invalid repository id")
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		action = domain.RegistryScopePull
	}

	if err := h.auth.CheckAccess(r.Context(), cred, repositoryID, action); err != nil {
		middleware.WriteAuditLog(r.Context(), "CHECK_REGISTRY_ACCESS", cred.OwnerID, cred.ID.String(), middleware.ResultFailed)
		e := mapError(err)
		if e.status == http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "registry access check failed", "repository_id", repositoryID, "error", err)
		}
		h.writeError(w, e)
		return
	}

	middleware.WriteAuditLog(r.Context(), "CHECK_REGISTRY_ACCESS", cred.OwnerID, cred.ID.String(), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, RegistryAccessResponse{
		RepositoryID: repositoryID,
		Action:       action,
		Allowed:      true,
	})
}
