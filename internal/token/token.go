// Package token は署名付きトークンの発行と検証を提供する。
package token

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// DefaultIssuer は発行者クレームの既定値。
const DefaultIssuer = "Noelware/charted"

const (
	keySize = 64 // HS512
	keyInfo = "charted-server token signing key"
)

var (
	// ErrExpired はトークンの有効期限切れを表す。
	ErrExpired = errors.New("token expired")
	// ErrMalformed は署名不正や形式不正を表す。
	ErrMalformed = errors.New("malformed token")
	// ErrIssuerMismatch は発行者クレームの不一致を表す。
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	// ErrEmptySecret は署名用シークレットが空の場合のエラー。
	ErrEmptySecret = errors.New("signing secret is empty")
)

// Claims はCodecで署名できるクレームの型。
type Claims interface {
	jwt.Claims
	registered() *jwt.RegisteredClaims
}

// Codec はHS512によるトークンの署名と検証を行う。
type Codec struct {
	issuer string
	key    []byte
	parser *jwt.Parser
}

// DeriveKey は設定されたシークレットから署名鍵を導出する。
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}
	return key, nil
}

// NewCodec は新しいCodecを生成する。nowはexp検証に使う現在時刻。
func NewCodec(secret []byte, issuer string, now func() time.Time) (*Codec, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{
		issuer: issuer,
		key:    key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// Issuer は発行者クレームの値を返す。
func (c *Codec) Issuer() string {
	return c.issuer
}

// Sign は発行者と有効期限を埋め込んでトークンに署名する。
// expはJWTの精度に合わせて秒単位に切り捨てられるため、呼び出し側も同じ値を使うこと。
func (c *Codec) Sign(claims Claims, issuedAt, expiresAt time.Time) (string, error) {
	rc := claims.registered()
	rc.Issuer = c.issuer
	rc.IssuedAt = jwt.NewNumericDate(issuedAt)
	rc.ExpiresAt = jwt.NewNumericDate(expiresAt)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、claimsに内容を読み込む。
func (c *Codec) Verify(tokenString string, claims Claims) error {
	if tokenString == "" {
		return fmt.Errorf("%w: empty token", ErrMalformed)
	}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Truncate はtをトークンに埋め込まれる精度に切り捨てる。
func Truncate(t time.Time) time.Time {
	return t.Truncate(jwt.TimePrecision)
}
