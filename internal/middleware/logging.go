// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログの結果。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation    string `json:"operation"`
	OwnerID      int64  `json:"owner_id"`
	CredentialID string `json:"credential_id,omitempty"`
	Result       string `json:"result"`
	Timestamp    string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。
// 所有者が不明な場合ownerIDは0、資格情報が無い場合credentialIDは空文字。
func WriteAuditLog(ctx context.Context, operation string, ownerID int64, credentialID string, result string) {
	entry := AuditLog{
		Operation:    operation,
		OwnerID:      ownerID,
		CredentialID: credentialID,
		Result:       result,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	level := slog.LevelInfo
	if result != ResultSuccess {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "credential operation completed",
		"operation", entry.Operation,
		"owner_id", entry.OwnerID,
		"credential_id", entry.CredentialID,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}
