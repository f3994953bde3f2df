package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"charted-server/internal/domain"
)

// Redis上のハッシュ名。
const (
	SessionAccessHash  = "charted:sessions:access"
	SessionRefreshHash = "charted:sessions:refresh"
	RegistryTokenHash  = "charted:registry_tokens"
)

// ttlMarker はTTLキーの値。値自体には意味が無い。
const ttlMarker = "1"

const scanCount = 100

var (
	// ErrNotFound はTTLキーが存在しない場合のエラー。
	ErrNotFound = errors.New("credential ttl key not found")
	// ErrNoTTL はTTLキーが存在するが有効期限を持たない場合のエラー。
	ErrNoTTL = errors.New("credential ttl key has no expiry")
	// ErrCorrupt はレコードを復号できない場合のエラー。
	ErrCorrupt = errors.New("credential record is corrupt")
)

// HashFor は資格情報の種別に対応するハッシュ名を返す。
func HashFor(kind domain.CredentialKind) string {
	switch kind {
	case domain.KindSessionRefresh:
		return SessionRefreshHash
	case domain.KindRegistry:
		return RegistryTokenHash
	default:
		return SessionAccessHash
	}
}

// CredentialRepository は資格情報をRedisのハッシュに保存する。
// フィールドキーは所有者ID、TTLは "<hash>:<owner>" のキーで管理する。
type CredentialRepository struct {
	client redis.UniversalClient
	hash   string
}

// NewCredentialRepository は新しいCredentialRepositoryを生成する。
func NewCredentialRepository(client redis.UniversalClient, hash string) *CredentialRepository {
	return &CredentialRepository{client: client, hash: hash}
}

// Identity は所有者に対応するTTLキー名を返す。
func (r *CredentialRepository) Identity(ownerID int64) string {
	return r.hash + ":" + field(ownerID)
}

func field(ownerID int64) string {
	return strconv.FormatInt(ownerID, 10)
}

// Put はレコードを書き込み、続けてTTLキーを書き込む。
// 2つの書き込みの間で停止した場合、TTLキーの無いレコードは次回の復旧で削除される。
func (r *CredentialRepository) Put(ctx context.Context, cred *domain.Credential, ttl time.Duration) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	if err := r.client.HSet(ctx, r.hash, field(cred.OwnerID), data).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to write credential",
			"operation", "put",
			"hash", r.hash,
			"owner_id", cred.OwnerID,
			"error", err,
		)
		return err
	}
	if err := r.client.Set(ctx, r.Identity(cred.OwnerID), ttlMarker, ttl).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to write credential ttl",
			"operation", "put",
			"hash", r.hash,
			"owner_id", cred.OwnerID,
			"error", err,
		)
		return err
	}
	return nil
}

// Get は所有者の資格情報を取得する。存在しない場合はnilを返す。
// 復号できない場合はErrCorruptを返す。
func (r *CredentialRepository) Get(ctx context.Context, ownerID int64) (*domain.Credential, error) {
	data, err := r.client.HGet(ctx, r.hash, field(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to read credential",
			"operation", "get",
			"hash", r.hash,
			"owner_id", ownerID,
			"error", err,
		)
		return nil, err
	}

	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: owner %d: %v", ErrCorrupt, ownerID, err)
	}
	return &cred, nil
}

// Delete はレコードとTTLキーの両方を削除する。存在しない場合も成功する。
// レコードが存在して削除された場合はtrueを返す。
func (r *CredentialRepository) Delete(ctx context.Context, ownerID int64) (bool, error) {
	var hdel *redis.IntCmd
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		hdel = p.HDel(ctx, r.hash, field(ownerID))
		p.Del(ctx, r.Identity(ownerID))
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete credential",
			"operation", "delete",
			"hash", r.hash,
			"owner_id", ownerID,
			"error", err,
		)
		return false, err
	}
	return hdel.Val() > 0, nil
}

// ListAll はハッシュ内の全レコードを返す。
// 復号できないレコードはCredentialがnilのエントリとして返す。
func (r *CredentialRepository) ListAll(ctx context.Context) ([]domain.StoredCredential, error) {
	var entries []domain.StoredCredential
	iter := r.client.HScan(ctx, r.hash, 0, "", scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !iter.Next(ctx) {
			break
		}
		value := iter.Val()

		ownerID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			slog.WarnContext(ctx, "skipping credential with invalid field key",
				"operation", "list_all",
				"hash", r.hash,
				"field", key,
			)
			continue
		}

		entry := domain.StoredCredential{OwnerID: ownerID}
		var cred domain.Credential
		if err := json.Unmarshal([]byte(value), &cred); err == nil {
			entry.Credential = &cred
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		slog.ErrorContext(ctx, "failed to list credentials",
			"operation", "list_all",
			"hash", r.hash,
			"error", err,
		)
		return nil, err
	}
	return entries, nil
}

// TTL はTTLキーの残り時間を返す。
// キーが無い場合はErrNotFound、期限が無い場合はErrNoTTLを返す。
func (r *CredentialRepository) TTL(ctx context.Context, ownerID int64) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, r.Identity(ownerID)).Result()
	if err != nil {
		slog.ErrorContext(ctx, "failed to read credential ttl",
			"operation", "ttl",
			"hash", r.hash,
			"owner_id", ownerID,
			"error", err,
		)
		return 0, err
	}
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, ErrNoTTL
	}
	return d, nil
}
