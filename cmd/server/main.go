// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"charted-server/config"
	"charted-server/internal/handler"
	"charted-server/internal/infra"
	"charted-server/internal/metrics"
	"charted-server/internal/repository"
	"charted-server/internal/scheduler"
	"charted-server/internal/token"
	"charted-server/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	shutdownTracer, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// services はサーバーが保持するサービス群。
type services struct {
	sessions *usecase.SessionService
	registry *usecase.RegistryAuthService
	// 失効タイマー数の取得用
	jobs map[string]func() int
}

func newServices(codec *token.Codec, client redis.UniversalClient, users usecase.UserRepository, observer usecase.Observer, cfg *config.Config) *services {
	opts := usecase.Options{
		Clock:        clock.RealClock{},
		Observer:     observer,
		StoreTimeout: cfg.StoreTimeout,
	}

	sessionScheduler := scheduler.New(clock.RealClock{})
	registryScheduler := scheduler.New(clock.RealClock{})

	sessions := usecase.NewSessionService(
		codec,
		usecase.SessionStores{
			Access:  repository.NewCredentialRepository(client, repository.SessionAccessHash),
			Refresh: repository.NewCredentialRepository(client, repository.SessionRefreshHash),
		},
		users,
		usecase.BcryptVerifier{},
		sessionScheduler,
		cfg.SessionAccessTTL,
		cfg.SessionRefreshTTL,
		opts,
	)
	registry := usecase.NewRegistryAuthService(
		codec,
		repository.NewCredentialRepository(client, repository.RegistryTokenHash),
		users,
		usecase.BcryptVerifier{},
		registryScheduler,
		cfg.RegistryTokenTTL,
		opts,
	)

	return &services{
		sessions: sessions,
		registry: registry,
		jobs: map[string]func() int{
			"sessions": sessionScheduler.Len,
			"registry": registryScheduler.Len,
		},
	}
}

// recoverAll はストアに残っている資格情報の失効タイマーを並行に復旧する。
// 失敗してもログに残すだけで起動は継続する。
func (s *services) recoverAll(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error { return s.sessions.Recover(ctx) })
	g.Go(func() error { return s.registry.Recover(ctx) })
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "credential recovery incomplete", "error", err)
	}
}

func (s *services) close() {
	s.sessions.Close()
	s.registry.Close()
}

func run(ctx context.Context, cfg *config.Config) error {
	// 署名用シークレット
	var decrypter infra.Decrypter
	if cfg.JWTSecretCiphertext != "" && cfg.KMSKeyName != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}()
		decrypter = kmsClient
	}
	secret, err := infra.ResolveSecret(ctx, cfg, decrypter)
	if err != nil {
		return err
	}
	codec, err := token.NewCodec(secret, cfg.TokenIssuer, time.Now)
	if err != nil {
		return err
	}

	// DB初期化
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := infra.NewDB(cfg)
	if err != nil {
		return err
	}

	// Redis初期化
	client := infra.NewRedisClient(ctx, cfg)
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Error("failed to close redis client", "error", closeErr)
		}
	}()

	// DI
	credentialMetrics := metrics.NewCredentialMetrics()
	svc := newServices(codec, client, repository.NewUserRepository(db), credentialMetrics, cfg)
	defer svc.close()

	svc.recoverAll(ctx)

	routerOpts := handler.RouterOptions{OtelEnabled: cfg.OtelEnabled}
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if err := credentialMetrics.Register(reg, svc.jobs); err != nil {
			return err
		}
		routerOpts.Metrics = reg
	}

	router := handler.NewRouter(
		handler.NewSessionHandler(svc.sessions),
		handler.NewRegistryHandler(svc.registry, codec.Issuer()),
		routerOpts,
	)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
