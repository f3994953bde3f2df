package infra

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"charted-server/config"
)

// NewRedisClient は資格情報ストア用のRedisクライアントを生成し、疎通を確認する。
// 接続できなくてもクライアントを返す。各操作は到達できるようになるまで失敗する。
func NewRedisClient(ctx context.Context, cfg *config.Config) redis.UniversalClient {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.RedisAddr},
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisTimeout,
		ReadTimeout:  cfg.RedisTimeout,
		WriteTimeout: cfg.RedisTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.RedisTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.ErrorContext(ctx, "redis is unreachable, credentials will be rejected until it recovers",
			"addr", cfg.RedisAddr,
			"error", err,
		)
	}
	return client
}
