package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"k8s.io/utils/keymutex"

	"charted-server/internal/domain"
	"charted-server/internal/scheduler"
	"charted-server/internal/token"
	"charted-server/pkg/bitfield"
)

// セッションの既定の有効期間。
const (
	DefaultAccessTTL  = 12 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// SessionStores はセッションのアクセストークンとリフレッシュトークンのストア。
type SessionStores struct {
	Access  CredentialStore
	Refresh CredentialStore
}

// SessionService はユーザーセッションの発行と検証を行う。
// 1ユーザーにつき有効なセッションは最大1つ。
type SessionService struct {
	codec      *token.Codec
	access     *credentialLedger
	refresh    *credentialLedger
	users      UserRepository
	passwords  PasswordVerifier
	scheduler  *scheduler.Scheduler
	locks      keymutex.KeyMutex
	opts       Options
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewSessionService は新しいSessionServiceを生成する。
func NewSessionService(codec *token.Codec, stores SessionStores, users UserRepository, passwords PasswordVerifier, sched *scheduler.Scheduler, accessTTL, refreshTTL time.Duration, opts Options) *SessionService {
	opts = opts.withDefaults()
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	locks := keymutex.NewHashed(0)
	return &SessionService{
		codec:      codec,
		access:     newCredentialLedger(domain.KindSessionAccess, stores.Access, sched, locks, opts),
		refresh:    newCredentialLedger(domain.KindSessionRefresh, stores.Refresh, sched, locks, opts),
		users:      users,
		passwords:  passwords,
		scheduler:  sched,
		locks:      locks,
		opts:       opts,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *SessionService) lock(ownerID int64) func() {
	key := ownerKey(ownerID)
	s.locks.LockKey(key)
	return func() { s.locks.UnlockKey(key) }
}

// Create はユーザーのセッションを発行する。有効なセッションが既にあればそれを返す。
func (s *SessionService) Create(ctx context.Context, ownerID int64) (*domain.Session, error) {
	defer s.lock(ownerID)()

	existing, err := s.sessionOf(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Access != nil && existing.Refresh != nil {
		return existing, nil
	}
	// 片方だけ残っている場合は作り直す
	if existing != nil {
		if err := s.removeLocked(ctx, ownerID, ""); err != nil {
			return nil, err
		}
	}
	return s.mintLocked(ctx, ownerID)
}

func (s *SessionService) sessionOf(ctx context.Context, ownerID int64) (*domain.Session, error) {
	access, err := s.access.current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.refresh.current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if access == nil && refresh == nil {
		return nil, nil
	}

	session := &domain.Session{OwnerID: ownerID, Access: access, Refresh: refresh}
	switch {
	case access != nil && refresh != nil && access.SessionID != refresh.SessionID:
		// 別セッションの組み合わせは不完全として扱う
		session.Access = nil
		session.ID = refresh.SessionID
	case refresh != nil:
		session.ID = refresh.SessionID
	default:
		session.ID = access.SessionID
	}
	return session, nil
}

func (s *SessionService) mintLocked(ctx context.Context, ownerID int64) (*domain.Session, error) {
	sessionID := uuid.New()
	now := token.Truncate(s.opts.Clock.Now())
	scopes := bitfield.New(0, domain.APIKeyScopes).AddAll().Bits()

	access, err := s.sign(ownerID, sessionID, token.SessionAccess, scopes, now, now.Add(s.accessTTL))
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(ownerID, sessionID, token.SessionRefresh, scopes, now, now.Add(s.refreshTTL))
	if err != nil {
		return nil, err
	}

	if err := s.access.persist(ctx, access); err != nil {
		return nil, err
	}
	if err := s.refresh.persist(ctx, refresh); err != nil {
		// アクセストークンだけが残らないようにする
		_ = s.access.remove(ctx, ownerID, "")
		return nil, err
	}

	return &domain.Session{
		ID:      sessionID,
		OwnerID: ownerID,
		Access:  access,
		Refresh: refresh,
	}, nil
}

func (s *SessionService) sign(ownerID int64, sessionID uuid.UUID, kind token.SessionTokenKind, scopes int64, issuedAt, expiresAt time.Time) (*domain.Credential, error) {
	credKind := domain.KindSessionAccess
	if kind == token.SessionRefresh {
		credKind = domain.KindSessionRefresh
	}

	cred := &domain.Credential{
		ID:        uuid.New(),
		Kind:      credKind,
		OwnerID:   ownerID,
		SessionID: sessionID,
		ScopeBits: scopes,
		IssuedAt:  issuedAt,
		ExpiresAt: token.Truncate(expiresAt),
	}
	signed, err := s.codec.Sign(token.NewSessionClaims(cred.ID, sessionID, ownerID, kind, scopes), cred.IssuedAt, cred.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("signing %s token: %w", kind, err)
	}
	cred.Token = signed
	return cred, nil
}

// Validate はアクセストークンを検証し、対応する資格情報を返す。
func (s *SessionService) Validate(ctx context.Context, accessToken string) (*domain.Credential, error) {
	var claims token.SessionClaims
	if err := s.codec.Verify(accessToken, &claims); err != nil {
		return nil, verifyFailure(ctx, s.opts.Observer, domain.KindSessionAccess, err)
	}
	if claims.Kind != token.SessionAccess {
		return nil, verifyFailure(ctx, s.opts.Observer, domain.KindSessionAccess,
			fmt.Errorf("%w: refresh token used as access token", token.ErrMalformed))
	}

	cred, err := s.access.confirm(ctx, claims.UserID, claims.CredentialID())
	if err != nil {
		return nil, revokedFailure(ctx, s.opts.Observer, domain.KindSessionAccess, err)
	}
	return cred, nil
}

// Refresh はリフレッシュトークンを検証し、セッションを失効させてから新しいセッションを発行する。
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	var claims token.SessionClaims
	if err := s.codec.Verify(refreshToken, &claims); err != nil {
		return nil, verifyFailure(ctx, s.opts.Observer, domain.KindSessionRefresh, err)
	}
	if claims.Kind != token.SessionRefresh {
		return nil, verifyFailure(ctx, s.opts.Observer, domain.KindSessionRefresh,
			fmt.Errorf("%w: access token used as refresh token", token.ErrMalformed))
	}

	defer s.lock(claims.UserID)()

	if _, err := s.refresh.lookup(ctx, claims.UserID, claims.CredentialID()); err != nil {
		return nil, revokedFailure(ctx, s.opts.Observer, domain.KindSessionRefresh, err)
	}
	if err := s.removeLocked(ctx, claims.UserID, ReasonRefreshed); err != nil {
		return nil, err
	}
	return s.mintLocked(ctx, claims.UserID)
}

// Revoke はユーザーのセッションを失効させる。セッションが無くても成功する。
func (s *SessionService) Revoke(ctx context.Context, ownerID int64) error {
	defer s.lock(ownerID)()

	return s.removeLocked(ctx, ownerID, ReasonRevoked)
}

func (s *SessionService) removeLocked(ctx context.Context, ownerID int64, reason string) error {
	var result *multierror.Error
	if err := s.access.remove(ctx, ownerID, reason); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.refresh.remove(ctx, ownerID, reason); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: revoking session: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// Login はユーザー名とパスワードを照合してセッションを発行する。
func (s *SessionService) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if user == nil || !s.passwords.Verify(user, password) {
		return nil, domain.ErrInvalidCredentials
	}
	return s.Create(ctx, user.ID)
}

// Current はユーザーの現在のセッションを返す。無ければnilを返す。
func (s *SessionService) Current(ctx context.Context, ownerID int64) (*domain.Session, error) {
	return s.sessionOf(ctx, ownerID)
}

// Recover はストアに残っているセッションの失効タイマーを登録し直す。
// ストアに到達できない場合もエラーを返すだけで、呼び出し側は起動を継続してよい。
func (s *SessionService) Recover(ctx context.Context) error {
	var result *multierror.Error
	for _, l := range []*credentialLedger{s.access, s.refresh} {
		n, err := l.recover(ctx)
		if err != nil {
			result = multierror.Append(result, err)
		}
		l.logRecovered(ctx, n)
	}
	return result.ErrorOrNil()
}

// Close は登録中の失効タイマーを全て取り消す。ストアのレコードは次回起動時に復旧される。
func (s *SessionService) Close() {
	s.scheduler.Close()
}
