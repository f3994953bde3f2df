package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"charted-server/internal/domain"
)

type credentialKey struct{}

// ValidateFunc はベアラートークンを検証して資格情報を返す。
type ValidateFunc func(ctx context.Context, token string) (*domain.Credential, error)

// UnauthorizedFunc は認証失敗時のレスポンスを書き込む。
type UnauthorizedFunc func(w http.ResponseWriter, r *http.Request, err error)

var errMissingBearer = errors.New("missing bearer token")

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMissingBearer
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", errMissingBearer
	}
	return tok, nil
}

// RequireBearer はBearerトークンを検証し、資格情報をコンテキストに格納するミドルウェアを返す。
func RequireBearer(validate ValidateFunc, unauthorized UnauthorizedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := bearerToken(r)
			if err != nil {
				unauthorized(w, r, err)
				return
			}
			cred, err := validate(r.Context(), tok)
			if err != nil {
				unauthorized(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), credentialKey{}, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFromContext はRequireBearerが格納した資格情報を返す。
func CredentialFromContext(ctx context.Context) (*domain.Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(*domain.Credential)
	return cred, ok && cred != nil
}

// WithCredential は資格情報を格納したコンテキストを返す。
func WithCredential(ctx context.Context, cred *domain.Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}
