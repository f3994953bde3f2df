package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/keymutex"

	"charted-server/internal/domain"
	"charted-server/internal/scheduler"
	"charted-server/internal/token"
	"charted-server/pkg/bitfield"
)

// DefaultRegistryTokenTTL はレジストリトークンの既定の有効期間。
const DefaultRegistryTokenTTL = 2 * 24 * time.Hour

// RegistryAuthService はOCIレジストリ用の認可トークンを発行する。
// トークンはユーザーごとに1つだけ保持し、繰り返しのログインでは同じトークンを返す。
type RegistryAuthService struct {
	codec     *token.Codec
	ledger    *credentialLedger
	users     UserRepository
	passwords PasswordVerifier
	scheduler *scheduler.Scheduler
	locks     keymutex.KeyMutex
	logins    singleflight.Group
	opts      Options
	ttl       time.Duration
}

// NewRegistryAuthService は新しいRegistryAuthServiceを生成する。
func NewRegistryAuthService(codec *token.Codec, store CredentialStore, users UserRepository, passwords PasswordVerifier, sched *scheduler.Scheduler, ttl time.Duration, opts Options) *RegistryAuthService {
	opts = opts.withDefaults()
	if ttl <= 0 {
		ttl = DefaultRegistryTokenTTL
	}
	locks := keymutex.NewHashed(0)
	return &RegistryAuthService{
		codec:     codec,
		ledger:    newCredentialLedger(domain.KindRegistry, store, sched, locks, opts),
		users:     users,
		passwords: passwords,
		scheduler: sched,
		locks:     locks,
		opts:      opts,
		ttl:       ttl,
	}
}

func (s *RegistryAuthService) lock(ownerID int64) func() {
	key := ownerKey(ownerID)
	s.locks.LockKey(key)
	return func() { s.locks.UnlockKey(key) }
}

// ParseBasicAuth はBasic認証ヘッダーからユーザー名とパスワードを取り出す。
func ParseBasicAuth(header string) (username, password string, err error) {
	scheme, payload, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", fmt.Errorf("%w: expected Basic scheme", domain.ErrMalformedCredentials)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid base64 payload", domain.ErrMalformedCredentials)
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok || username == "" {
		return "", "", fmt.Errorf("%w: expected username:password", domain.ErrMalformedCredentials)
	}
	return username, password, nil
}

// Authorize はBasic認証ヘッダーを検証し、ユーザーのレジストリトークンを返す。
// 同じヘッダーによる同時リクエストは1回の照合にまとめる。
func (s *RegistryAuthService) Authorize(ctx context.Context, header string) (*domain.Credential, error) {
	username, password, err := ParseBasicAuth(header)
	if err != nil {
		return nil, err
	}

	v, err, _ := s.logins.Do(header, func() (any, error) {
		// 先頭の呼び出し元がキャンセルしても待っている他の呼び出し元には影響させない
		ctx := context.WithoutCancel(ctx)
		user, err := s.users.FindByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("finding user: %w", err)
		}
		if user == nil || !s.passwords.Verify(user, password) {
			return nil, domain.ErrInvalidCredentials
		}
		return s.Create(ctx, user.ID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Credential), nil
}

// Create はユーザーのレジストリトークンを発行する。有効なトークンが既にあればそれを返す。
// scopesを省略した場合は全てのスコープを付与する。
func (s *RegistryAuthService) Create(ctx context.Context, ownerID int64, scopes ...string) (*domain.Credential, error) {
	bits := bitfield.New(0, domain.RegistryScopes)
	if len(scopes) == 0 {
		bits.AddAll()
	} else if err := bits.Add(scopes...); err != nil {
		return nil, fmt.Errorf("building registry scopes: %w", err)
	}

	defer s.lock(ownerID)()

	existing, err := s.ledger.current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.mintLocked(ctx, ownerID, bits.Bits())
}

func (s *RegistryAuthService) mintLocked(ctx context.Context, ownerID int64, scopes int64) (*domain.Credential, error) {
	now := token.Truncate(s.opts.Clock.Now())
	cred := &domain.Credential{
		ID:        uuid.New(),
		Kind:      domain.KindRegistry,
		OwnerID:   ownerID,
		ScopeBits: scopes,
		IssuedAt:  now,
		ExpiresAt: token.Truncate(now.Add(s.ttl)),
	}
	signed, err := s.codec.Sign(token.NewRegistryClaims(cred.ID, ownerID, scopes), cred.IssuedAt, cred.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("signing registry token: %w", err)
	}
	cred.Token = signed

	if err := s.ledger.persist(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Validate はレジストリトークンを検証し、対応する資格情報を返す。
func (s *RegistryAuthService) Validate(ctx context.Context, registryToken string) (*domain.Credential, error) {
	var claims token.RegistryClaims
	if err := s.codec.Verify(registryToken, &claims); err != nil {
		return nil, verifyFailure(ctx, s.opts.Observer, domain.KindRegistry, err)
	}

	cred, err := s.ledger.confirm(ctx, claims.UserID, claims.CredentialID())
	if err != nil {
		return nil, revokedFailure(ctx, s.opts.Observer, domain.KindRegistry, err)
	}
	return cred, nil
}

// Revoke はユーザーのレジストリトークンを失効させる。トークンが無くても成功する。
func (s *RegistryAuthService) Revoke(ctx context.Context, ownerID int64) error {
	defer s.lock(ownerID)()

	return s.ledger.remove(ctx, ownerID, ReasonRevoked)
}

// Refresh は現在のトークンを失効させ、同じスコープで新しいトークンを発行する。
// トークンが無い場合は全てのスコープで発行する。
func (s *RegistryAuthService) Refresh(ctx context.Context, ownerID int64) (*domain.Credential, error) {
	defer s.lock(ownerID)()

	existing, err := s.ledger.current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	scopes := bitfield.New(0, domain.RegistryScopes).AddAll().Bits()
	if existing != nil {
		scopes = existing.ScopeBits
	}

	if err := s.ledger.remove(ctx, ownerID, ReasonRefreshed); err != nil {
		return nil, err
	}
	return s.mintLocked(ctx, ownerID, scopes)
}

// CheckAccess はトークンがリポジトリに対する操作を許可されているかを判定する。
// pullはスコープのみ、pushとdeleteはスコープに加えてリポジトリの所有者であることが必要。
func (s *RegistryAuthService) CheckAccess(ctx context.Context, cred *domain.Credential, repositoryID int64, action string) error {
	if _, ok := domain.RegistryScopes[action]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
	}
	if !cred.HasScope(action) {
		return fmt.Errorf("%w: missing %s scope", domain.ErrForbidden, action)
	}
	if action == domain.RegistryScopePull {
		return nil
	}

	owner, err := s.users.FindRepositoryOwner(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, domain.ErrRepositoryNotFound) {
			return err
		}
		return fmt.Errorf("finding repository owner: %w", err)
	}
	if owner != cred.OwnerID {
		return fmt.Errorf("%w: not the repository owner", domain.ErrForbidden)
	}
	return nil
}

// Recover はストアに残っているトークンの失効タイマーを登録し直す。
func (s *RegistryAuthService) Recover(ctx context.Context) error {
	n, err := s.ledger.recover(ctx)
	s.ledger.logRecovered(ctx, n)
	return err
}

// Close は登録中の失効タイマーを全て取り消す。
func (s *RegistryAuthService) Close() {
	s.scheduler.Close()
}
