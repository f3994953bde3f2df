package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	"charted-server/internal/domain"
	"charted-server/internal/repository"
	"charted-server/internal/scheduler"
	"charted-server/internal/token"
)

// DefaultStoreTimeout はストア操作1回あたりの上限時間の既定値。
const DefaultStoreTimeout = 5 * time.Second

// 失効理由。
const (
	ReasonExpired   = "expired"
	ReasonRevoked   = "revoked"
	ReasonRefreshed = "refreshed"
)

// CredentialStore は資格情報ストアのインターフェース。
type CredentialStore interface {
	Identity(ownerID int64) string
	Put(ctx context.Context, cred *domain.Credential, ttl time.Duration) error
	Get(ctx context.Context, ownerID int64) (*domain.Credential, error)
	Delete(ctx context.Context, ownerID int64) (bool, error)
	ListAll(ctx context.Context) ([]domain.StoredCredential, error)
	TTL(ctx context.Context, ownerID int64) (time.Duration, error)
}

// UserRepository はユーザーとリポジトリ参照のインターフェース。
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindRepositoryOwner(ctx context.Context, repositoryID int64) (int64, error)
}

// PasswordVerifier はパスワード照合のインターフェース。
type PasswordVerifier interface {
	Verify(user *domain.User, plaintext string) bool
}

// Observer は資格情報の発行や失効を観測する。
type Observer interface {
	CredentialIssued(kind domain.CredentialKind)
	CredentialRevoked(kind domain.CredentialKind, reason string)
	ValidationFailed(kind domain.CredentialKind, reason string)
}

type nopObserver struct{}

func (nopObserver) CredentialIssued(domain.CredentialKind)          {}
func (nopObserver) CredentialRevoked(domain.CredentialKind, string) {}
func (nopObserver) ValidationFailed(domain.CredentialKind, string)  {}

// Options はサービス共通の設定。
type Options struct {
	Clock        clock.PassiveClock
	Observer     Observer
	StoreTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	return o
}

// ownerKey はキー付きロックのキーを返す。
func ownerKey(ownerID int64) string {
	return strconv.FormatInt(ownerID, 10)
}

// credentialLedger は1種類の資格情報について、ストアと失効タイマーを一緒に扱う。
// 所有者単位のロックは呼び出し側が取得する。失効コールバックのみ自分でロックを取る。
type credentialLedger struct {
	kind      domain.CredentialKind
	store     CredentialStore
	scheduler *scheduler.Scheduler
	locks     keymutex.KeyMutex
	clock     clock.PassiveClock
	observer  Observer
	timeout   time.Duration
}

func newCredentialLedger(kind domain.CredentialKind, store CredentialStore, sched *scheduler.Scheduler, locks keymutex.KeyMutex, opts Options) *credentialLedger {
	return &credentialLedger{
		kind:      kind,
		store:     store,
		scheduler: sched,
		locks:     locks,
		clock:     opts.Clock,
		observer:  opts.Observer,
		timeout:   opts.StoreTimeout,
	}
}

func (l *credentialLedger) now() time.Time {
	return token.Truncate(l.clock.Now())
}

// unavailable はストアのエラーを利用者向けのエラーに変換する。
func (l *credentialLedger) unavailable(ctx context.Context, op string, ownerID int64, err error) error {
	slog.ErrorContext(ctx, "credential store unavailable",
		"operation", op,
		"kind", l.kind,
		"owner_id", ownerID,
		"error", err,
	)
	return fmt.Errorf("%w: %s", domain.ErrBackendUnavailable, op)
}

// current は所有者の有効な資格情報を返す。
// 期限切れのレコードと復号できないレコードは無いものとして扱い、非同期に削除する。
func (l *credentialLedger) current(ctx context.Context, ownerID int64) (*domain.Credential, error) {
	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cred, err := l.store.Get(sctx, ownerID)
	if errors.Is(err, repository.ErrCorrupt) {
		slog.WarnContext(ctx, "discarding undecodable credential",
			"kind", l.kind,
			"owner_id", ownerID,
			"error", err,
		)
		go l.expireFunc(ownerID, uuid.Nil)()
		return nil, nil
	}
	if err != nil {
		return nil, l.unavailable(ctx, "get", ownerID, err)
	}
	if cred == nil {
		return nil, nil
	}
	if cred.ExpiredAt(l.now()) {
		// 呼び出し側がロックを持っている場合があるため削除は別ゴルーチンで行う
		go l.expireFunc(ownerID, cred.ID)()
		return nil, nil
	}
	return cred, nil
}

// lookup はトークンが指す資格情報が現在のものかを確認する。
func (l *credentialLedger) lookup(ctx context.Context, ownerID int64, credentialID uuid.UUID) (*domain.Credential, error) {
	cred, err := l.current(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.ID != credentialID {
		return nil, domain.ErrCredentialRevoked
	}
	return cred, nil
}

// confirm はlookupに加え、失効タイマーが無ければ登録し直す。
func (l *credentialLedger) confirm(ctx context.Context, ownerID int64, credentialID uuid.UUID) (*domain.Credential, error) {
	cred, err := l.lookup(ctx, ownerID, credentialID)
	if err != nil {
		return nil, err
	}
	identity := l.store.Identity(ownerID)
	if l.scheduler.Has(identity) {
		return cred, nil
	}

	key := ownerKey(ownerID)
	l.locks.LockKey(key)
	defer l.locks.UnlockKey(key)

	// ロック取得までに入れ替わっていないか確認する
	cred, err = l.lookup(ctx, ownerID, credentialID)
	if err != nil {
		return nil, err
	}
	if !l.scheduler.Has(identity) {
		if remaining := cred.ExpiresAt.Sub(l.clock.Now()); remaining > 0 {
			l.scheduler.Schedule(identity, remaining, l.expireFunc(ownerID, cred.ID))
			slog.DebugContext(ctx, "re-armed credential expiration",
				"kind", l.kind,
				"owner_id", ownerID,
			)
		}
	}
	return cred, nil
}

// persist は資格情報を保存し、失効タイマーを登録する。
func (l *credentialLedger) persist(ctx context.Context, cred *domain.Credential) error {
	ttl := cred.ExpiresAt.Sub(l.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("persisting %s credential for owner %d: already expired", l.kind, cred.OwnerID)
	}

	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.Put(sctx, cred, ttl); err != nil {
		// TTLキーの無いレコードが有効な資格情報として読まれないようにする
		if _, delErr := l.store.Delete(sctx, cred.OwnerID); delErr != nil {
			slog.ErrorContext(ctx, "failed to roll back credential",
				"kind", l.kind,
				"owner_id", cred.OwnerID,
				"error", delErr,
			)
		}
		return l.unavailable(ctx, "put", cred.OwnerID, err)
	}
	l.scheduler.Schedule(l.store.Identity(cred.OwnerID), ttl, l.expireFunc(cred.OwnerID, cred.ID))
	l.observer.CredentialIssued(l.kind)
	return nil
}

// remove は失効タイマーを取り消してからストアから削除する。存在しなくても成功する。
// reasonが空でなければ、実際に削除した場合のみ失効として記録する。
func (l *credentialLedger) remove(ctx context.Context, ownerID int64, reason string) error {
	l.scheduler.Cancel(l.store.Identity(ownerID))

	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	deleted, err := l.store.Delete(sctx, ownerID)
	if err != nil {
		return l.unavailable(ctx, "delete", ownerID, err)
	}
	if deleted && reason != "" {
		l.observer.CredentialRevoked(l.kind, reason)
	}
	return nil
}

// expireFunc は失効タイマーから呼ばれる処理を返す。
// 発火時点のレコードが別の資格情報に置き換わっていれば何もしない。
// 復号できないレコードは常に削除する。credentialIDにはuuid.Nilを渡す。
func (l *credentialLedger) expireFunc(ownerID int64, credentialID uuid.UUID) func() {
	return func() {
		key := ownerKey(ownerID)
		l.locks.LockKey(key)
		defer l.locks.UnlockKey(key)

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()

		cred, err := l.store.Get(ctx, ownerID)
		switch {
		case errors.Is(err, repository.ErrCorrupt):
		case err != nil:
			slog.ErrorContext(ctx, "failed to expire credential",
				"kind", l.kind,
				"owner_id", ownerID,
				"error", err,
			)
			return
		case cred != nil && cred.ID != credentialID:
			return
		}

		deleted, err := l.store.Delete(ctx, ownerID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to expire credential",
				"kind", l.kind,
				"owner_id", ownerID,
				"error", err,
			)
			return
		}
		if !deleted {
			return
		}
		l.observer.CredentialRevoked(l.kind, ReasonExpired)
		slog.DebugContext(ctx, "credential expired",
			"kind", l.kind,
			"owner_id", ownerID,
		)
	}
}

// recover はストアの全レコードについて失効タイマーを登録し直す。
// 期限切れ、TTLキーが無い、期限の無いTTLキー、復号できないレコードはその場で削除する。
func (l *credentialLedger) recover(ctx context.Context) (int, error) {
	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	stored, err := l.store.ListAll(sctx)
	if err != nil {
		return 0, fmt.Errorf("listing %s credentials: %w", l.kind, err)
	}

	var result *multierror.Error
	now := l.clock.Now()
	entries := make([]scheduler.Entry, 0, len(stored))
	for _, s := range stored {
		var (
			remaining    time.Duration
			credentialID uuid.UUID
		)
		if s.Credential != nil {
			credentialID = s.Credential.ID
			ttl, err := l.ttl(ctx, s.OwnerID)
			switch {
			case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrNoTTL):
				slog.WarnContext(ctx, "credential has no ttl, treating as expired",
					"kind", l.kind,
					"owner_id", s.OwnerID,
					"error", err,
				)
			case err != nil:
				result = multierror.Append(result, fmt.Errorf("reading ttl for owner %d: %w", s.OwnerID, err))
				continue
			default:
				remaining = min(ttl, s.Credential.ExpiresAt.Sub(now))
			}
		}
		entries = append(entries, scheduler.Entry{
			Identity:  l.store.Identity(s.OwnerID),
			Remaining: remaining,
			OnExpire:  l.expireFunc(s.OwnerID, credentialID),
		})
	}

	l.scheduler.Recover(entries)
	return len(entries), result.ErrorOrNil()
}

func (l *credentialLedger) logRecovered(ctx context.Context, n int) {
	slog.InfoContext(ctx, "recovered credential expirations",
		"kind", l.kind,
		"count", n,
		"active_jobs", l.scheduler.Len(),
	)
}

func (l *credentialLedger) ttl(ctx context.Context, ownerID int64) (time.Duration, error) {
	sctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.TTL(sctx, ownerID)
}

// verifyFailure はトークン検証エラーをログに記録し、利用者向けのエラーに変換する。
func verifyFailure(ctx context.Context, observer Observer, kind domain.CredentialKind, err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		observer.ValidationFailed(kind, "expired")
		slog.DebugContext(ctx, "credential expired", "kind", kind)
		return domain.ErrCredentialExpired
	case errors.Is(err, token.ErrIssuerMismatch):
		observer.ValidationFailed(kind, "issuer_mismatch")
		slog.WarnContext(ctx, "credential issuer mismatch",
			"kind", kind,
			"security_event", true,
		)
		return domain.ErrIssuerMismatch
	default:
		observer.ValidationFailed(kind, "malformed")
		slog.WarnContext(ctx, "malformed credential",
			"kind", kind,
			"security_event", true,
			"error", err,
		)
		return domain.ErrCredentialMalformed
	}
}

// revokedFailure は失効済みやストア障害を観測してそのまま返す。
func revokedFailure(ctx context.Context, observer Observer, kind domain.CredentialKind, err error) error {
	if errors.Is(err, domain.ErrCredentialRevoked) {
		observer.ValidationFailed(kind, "revoked")
		slog.DebugContext(ctx, "credential revoked", "kind", kind)
	} else {
		observer.ValidationFailed(kind, "backend_unavailable")
	}
	return err
}
