package token

import (
	"errors"
	"slices"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// トークンの種別を区別するaudクレーム。
const (
	SessionAudience  = "charted:sessions"
	RegistryAudience = "charted:registry"
)

// SessionTokenKind はセッショントークンの用途を表す。
type SessionTokenKind string

const (
	SessionAccess  SessionTokenKind = "access"
	SessionRefresh SessionTokenKind = "refresh"
)

// SessionClaims はセッショントークンのクレーム。
// jtiは資格情報ID、subはユーザーIDを持つ。
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID    int64            `json:"user_id"`
	SessionID uuid.UUID        `json:"session_id"`
	Kind      SessionTokenKind `json:"kind"`
	Scopes    int64            `json:"scopes"`
}

// NewSessionClaims はセッショントークンのクレームを生成する。
func NewSessionClaims(credentialID, sessionID uuid.UUID, userID int64, kind SessionTokenKind, scopes int64) *SessionClaims {
	return &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       credentialID.String(),
			Subject:  strconv.FormatInt(userID, 10),
			Audience: jwt.ClaimStrings{SessionAudience},
		},
		UserID:    userID,
		SessionID: sessionID,
		Kind:      kind,
		Scopes:    scopes,
	}
}

func (c *SessionClaims) registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// Validate はjwtの検証時に呼ばれる。
func (c *SessionClaims) Validate() error {
	if !slices.Contains(c.Audience, SessionAudience) {
		return errors.New("not a session token")
	}
	if c.Kind != SessionAccess && c.Kind != SessionRefresh {
		return errors.New("unknown session token kind")
	}
	if c.SessionID == uuid.Nil {
		return errors.New("missing session_id")
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		return errors.New("invalid jti")
	}
	if c.Subject != strconv.FormatInt(c.UserID, 10) {
		return errors.New("subject does not match user_id")
	}
	return nil
}

// CredentialID はjtiを資格情報IDとして返す。
func (c *SessionClaims) CredentialID() uuid.UUID {
	id, _ := uuid.Parse(c.ID)
	return id
}

// RegistryClaims はレジストリ認可トークンのクレーム。
type RegistryClaims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
	Scopes int64 `json:"scopes"`
}

// NewRegistryClaims はレジストリトークンのクレームを生成する。
func NewRegistryClaims(credentialID uuid.UUID, userID int64, scopes int64) *RegistryClaims {
	return &RegistryClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       credentialID.String(),
			Subject:  strconv.FormatInt(userID, 10),
			Audience: jwt.ClaimStrings{RegistryAudience},
		},
		UserID: userID,
		Scopes: scopes,
	}
}

func (c *RegistryClaims) registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

// Validate はjwtの検証時に呼ばれる。
func (c *RegistryClaims) Validate() error {
	if !slices.Contains(c.Audience, RegistryAudience) {
		return errors.New("not a registry token")
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		return errors.New("invalid jti")
	}
	if c.Subject != strconv.FormatInt(c.UserID, 10) {
		return errors.New("subject does not match user_id")
	}
	return nil
}

// CredentialID はjtiを資格情報IDとして返す。
func (c *RegistryClaims) CredentialID() uuid.UUID {
	id, _ := uuid.Parse(c.ID)
	return id
}
