package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated は認証情報が無い、または無効な場合のエラー。
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrCredentialExpired は資格情報の有効期限が切れている場合のエラー。
	ErrCredentialExpired = fmt.Errorf("%w: credential expired", ErrUnauthenticated)

	// ErrCredentialMalformed はトークンの署名や形式が不正な場合のエラー。
	ErrCredentialMalformed = fmt.Errorf("%w: malformed credential", ErrUnauthenticated)

	// ErrIssuerMismatch はトークンの発行者が一致しない場合のエラー。
	ErrIssuerMismatch = fmt.Errorf("%w: issuer mismatch", ErrCredentialMalformed)

	// ErrCredentialRevoked は署名上は有効だが失効済みの資格情報のエラー。
	ErrCredentialRevoked = fmt.Errorf("%w: credential revoked", ErrUnauthenticated)

	// ErrBackendUnavailable は資格情報ストアに到達できない場合のエラー。未認証として扱う。
	ErrBackendUnavailable = fmt.Errorf("%w: credential backend unavailable", ErrUnauthenticated)

	// ErrInvalidCredentials はユーザー名またはパスワードが一致しない場合のエラー。
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)

	// ErrMalformedCredentials はBasic認証ヘッダーを解析できない場合のエラー。
	ErrMalformedCredentials = errors.New("malformed credentials")

	// ErrForbidden は有効な資格情報だがスコープが不足している場合のエラー。
	ErrForbidden = errors.New("forbidden")

	// ErrUserNotFound は指定されたユーザーが存在しない場合のエラー。
	ErrUserNotFound = errors.New("user not found")

	// ErrRepositoryNotFound は指定されたリポジトリが存在しない場合のエラー。
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrUnknownAction はレジストリ操作名が不正な場合のエラー。
	ErrUnknownAction = errors.New("unknown registry action")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
