package handler

import (
	"errors"
	"net/http"

	"charted-server/internal/domain"
	"charted-server/pkg/bitfield"
)

// apiError はドメインエラーに対応するHTTPステータスとエラーコード。
type apiError struct {
	status  int
	code    string
	message string
}

// mapError はドメインエラーをHTTPレスポンスに変換する。バックエンドの詳細は返さない。
func mapError(err error) apiError {
	switch {
	case errors.Is(err, errMissingBearer):
		return apiError{http.StatusUnauthorized, "MISSING_CREDENTIALS", "bearer token is required"}
	case errors.Is(err, domain.ErrMalformedCredentials):
		return apiError{http.StatusUnauthorized, "MALFORMED_CREDENTIALS", "malformed authorization header"}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password"}
	case errors.Is(err, domain.ErrCredentialExpired):
		return apiError{http.StatusUnauthorized, "CREDENTIAL_EXPIRED", "credential has expired"}
	case errors.Is(err, domain.ErrCredentialRevoked):
		return apiError{http.StatusUnauthorized, "CREDENTIAL_REVOKED", "credential has been revoked"}
	case errors.Is(err, domain.ErrCredentialMalformed):
		return apiError{http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid credential"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return apiError{http.StatusUnauthorized, "UNAUTHENTICATED", "unable to authenticate"}
	case errors.Is(err, domain.ErrForbidden):
		return apiError{http.StatusForbidden, "FORBIDDEN", "missing required scope"}
	case errors.Is(err, domain.ErrRepositoryNotFound):
		return apiError{http.StatusNotFound, "REPOSITORY_NOT_FOUND", "repository not found"}
	case errors.Is(err, domain.ErrUserNotFound):
		return apiError{http.StatusNotFound, "USER_NOT_FOUND", "user not found"}
	case errors.Is(err, domain.ErrUnknownAction), errors.Is(err, bitfield.ErrUnknownScope):
		return apiError{http.StatusBadRequest, "INVALID_ACTION", "unknown registry action"}
	default:
		return apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"}
	}
}
