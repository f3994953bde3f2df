package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// newTestCodec はテスト用のCodecを生成する。nowの値を書き換えると時刻を進められる。
func newTestCodec(t *testing.T, secret, issuer string, now *time.Time) *Codec {
	t.Helper()
	c, err := NewCodec([]byte(secret), issuer, func() time.Time { return *now })
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return c
}

func TestCodec_SignVerify_Session(t *testing.T) {
	now := testNow
	c := newTestCodec(t, "secret", "", &now)

	credID, sessionID := uuid.New(), uuid.New()
	signed, err := c.Sign(NewSessionClaims(credID, sessionID, 42, SessionAccess, 7), now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	var claims SessionClaims
	if err := c.Verify(signed, &claims); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.UserID != 42 || claims.SessionID != sessionID || claims.CredentialID() != credID {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Kind != SessionAccess || claims.Scopes != 7 {
		t.Errorf("unexpected kind/scopes: %s %d", claims.Kind, claims.Scopes)
	}
	if claims.Issuer != DefaultIssuer {
		t.Errorf("want issuer %q, got %q", DefaultIssuer, claims.Issuer)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(time.Hour)) {
		t.Errorf("want exp %v, got %v", now.Add(time.Hour), claims.ExpiresAt.Time)
	}
}

func TestCodec_Verify_Expired(t *testing.T) {
	now := testNow
	c := newTestCodec(t, "secret", "", &now)

	signed, err := c.Sign(NewRegistryClaims(uuid.New(), 1, 3), now, now.Add(30*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	now = testNow.Add(29 * time.Second)
	if err := c.Verify(signed, &RegistryClaims{}); err != nil {
		t.Fatalf("want valid before expiry, got %v", err)
	}

	now = testNow.Add(30 * time.Second)
	if err := c.Verify(signed, &RegistryClaims{}); !errors.Is(err, ErrExpired) {
		t.Errorf("want ErrExpired, got %v", err)
	}
}

func TestCodec_Verify_IssuerMismatch(t *testing.T) {
	now := testNow
	ours := newTestCodec(t, "secret", "Noelware/charted", &now)
	theirs := newTestCodec(t, "secret", "someone-else", &now)

	signed, err := theirs.Sign(NewRegistryClaims(uuid.New(), 1, 1), now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := ours.Verify(signed, &RegistryClaims{}); !errors.Is(err, ErrIssuerMismatch) {
		t.Errorf("want ErrIssuerMismatch, got %v", err)
	}
}

func TestCodec_Verify_Malformed(t *testing.T) {
	now := testNow
	c := newTestCodec(t, "secret", "", &now)
	other := newTestCodec(t, "another-secret", "", &now)

	signed, err := c.Sign(NewRegistryClaims(uuid.New(), 1, 1), now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	forged, err := other.Sign(NewRegistryClaims(uuid.New(), 1, 1), now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(signed, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, NewRegistryClaims(uuid.New(), 1, 1)).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": forged,
		"tampered":     tampered,
		"alg none":     none,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if err := c.Verify(tok, &RegistryClaims{}); !errors.Is(err, ErrMalformed) {
				t.Errorf("want ErrMalformed, got %v", err)
			}
		})
	}
}

func TestCodec_Verify_KindConfusion(t *testing.T) {
	now := testNow
	c := newTestCodec(t, "secret", "", &now)

	session, err := c.Sign(NewSessionClaims(uuid.New(), uuid.New(), 1, SessionAccess, 1), now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	registry, err := c.Sign(NewRegistryClaims(uuid.New(), 1, 1), now, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Verify(session, &RegistryClaims{}); !errors.Is(err, ErrMalformed) {
		t.Errorf("session as registry: want ErrMalformed, got %v", err)
	}
	if err := c.Verify(registry, &SessionClaims{}); !errors.Is(err, ErrMalformed) {
		t.Errorf("registry as session: want ErrMalformed, got %v", err)
	}
}

func TestCodec_Sign_TruncatesExpiry(t *testing.T) {
	now := testNow
	c := newTestCodec(t, "secret", "", &now)

	exp := now.Add(time.Hour + 750*time.Millisecond)
	signed, err := c.Sign(NewRegistryClaims(uuid.New(), 1, 1), now, exp)
	if err != nil {
		t.Fatal(err)
	}
	var claims RegistryClaims
	if err := c.Verify(signed, &claims); err != nil {
		t.Fatal(err)
	}
	if !claims.ExpiresAt.Time.Equal(Truncate(exp)) {
		t.Errorf("want %v, got %v", Truncate(exp), claims.ExpiresAt.Time)
	}
}

func TestDeriveKey(t *testing.T) {
	if _, err := DeriveKey(nil); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("want ErrEmptySecret, got %v", err)
	}
	a, _ := DeriveKey([]byte("a"))
	a2, _ := DeriveKey([]byte("a"))
	b, _ := DeriveKey([]byte("b"))
	if string(a) != string(a2) {
		t.Error("want deterministic key")
	}
	if string(a) == string(b) {
		t.Error("want distinct keys for distinct secrets")
	}
	if len(a) != keySize {
		t.Errorf("want %d bytes, got %d", keySize, len(a))
	}
}
