// Package httputil はHTTPレスポンス生成のユーティリティを提供する。
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse はエラーレスポンスの形式。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON はJSONレスポンスを返す。
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// ヘッダーは送信済みのためログのみ
			slog.Error("failed to encode response", "status", status, "error", err)
		}
	}
}

// Error はエラーレスポンスを返す。
func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// OCIレジストリのエラーコード。
const (
	RegistryUnauthorized   = "UNAUTHORIZED"
	RegistryDenied         = "DENIED"
	RegistryDigestInvalid  = "DIGEST_INVALID"
	RegistryNameUnknown    = "NAME_UNKNOWN"
	RegistryUnsupported    = "UNSUPPORTED"
	RegistryTooManyRequest = "TOOMANYREQUESTS"
)

// RegistryErrors はOCI Distribution仕様のエラーレスポンスの形式。
type RegistryErrors struct {
	Errors []ErrorResponse `json:"errors"`
}

// RegistryError はOCIレジストリ形式のエラーレスポンスを返す。
func RegistryError(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, RegistryErrors{
		Errors: []ErrorResponse{{Code: code, Message: message}},
	})
}
