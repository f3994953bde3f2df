package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"charted-server/pkg/httputil"
)

// RouterOptions はルーターの任意設定。
type RouterOptions struct {
	// Metrics がnilでない場合、/metricsで公開する。
	Metrics prometheus.Gatherer
	// OtelEnabled の場合、リクエストごとにスパンを作成する。
	OtelEnabled bool
}

// NewRouter はルーターを生成する。
func NewRouter(sessions *SessionHandler, registry *RegistryHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	requireSession := RequireBearer(sessions.sessions.Validate, sessions.Unauthorized)
	requireRegistry := RequireBearer(registry.auth.Validate, registry.Unauthorized)

	// ルート定義
	r.Route("/v1/users", func(r chi.Router) {
		r.Post("/login", sessions.Login)
		r.Post("/@me/sessions/refresh", sessions.RefreshSession)
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/@me/sessions", sessions.GetSession)
			r.Delete("/@me/sessions", sessions.Logout)
		})
	})

	r.With(requireRegistry).Get("/v1/repositories/{repository_id}/registry-access", registry.CheckAccess)

	r.Route("/v2", func(r chi.Router) {
		r.Get("/token", registry.Token)
		r.With(requireRegistry).Get("/", registry.Ping)
	})

	if !opts.OtelEnabled {
		return r
	}
	return otelhttp.NewHandler(r, "charted-server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
