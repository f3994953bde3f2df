// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"time"

	"github.com/google/uuid"

	"charted-server/pkg/bitfield"
)

// CredentialKind は資格情報の種別を表す。
type CredentialKind string

const (
	// KindSessionAccess は短命のセッションアクセストークンを表す。
	KindSessionAccess CredentialKind = "session_access"
	// KindSessionRefresh は長命のセッションリフレッシュトークンを表す。
	KindSessionRefresh CredentialKind = "session_refresh"
	// KindRegistry はOCIレジストリ認可トークンを表す。
	KindRegistry CredentialKind = "registry"
)

// ScopeTable は種別ごとのスコープ対応表を返す。
func (k CredentialKind) ScopeTable() bitfield.Table {
	if k == KindRegistry {
		return RegistryScopes
	}
	return APIKeyScopes
}

// Credential は発行済みのベアラー資格情報を表す。
// ExpiresAtは常にTokenに埋め込まれたexpと一致する。
type Credential struct {
	ID        uuid.UUID      `json:"id"`
	Kind      CredentialKind `json:"kind"`
	OwnerID   int64          `json:"owner_id"`
	SessionID uuid.UUID      `json:"session_id"`
	ScopeBits int64          `json:"scopes"`
	Token     string         `json:"token"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Scopes はスコープ集合を返す。返されたBitfieldを変更してもCredentialには影響しない。
func (c *Credential) Scopes() *bitfield.Bitfield {
	return bitfield.New(c.ScopeBits, c.Kind.ScopeTable())
}

// HasScope は指定されたスコープを持つかを返す。
func (c *Credential) HasScope(name string) bool {
	return c.Scopes().Has(name)
}

// HasPull はpullスコープを持つかを返す。
func (c *Credential) HasPull() bool {
	return c.HasScope(RegistryScopePull)
}

// HasPush はpushスコープを持つかを返す。
func (c *Credential) HasPush() bool {
	return c.HasScope(RegistryScopePush)
}

// ExpiredAt はnow時点で期限切れかを返す。
func (c *Credential) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Session はアクセストークンとリフレッシュトークンの組を表す。
type Session struct {
	ID      uuid.UUID
	OwnerID int64
	Access  *Credential
	Refresh *Credential
}

// StoredCredential はストアに保存された資格情報のエントリ。
// 復号できなかったレコードはCredentialがnilになる。
type StoredCredential struct {
	OwnerID    int64
	Credential *Credential
}
