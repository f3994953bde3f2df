package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"charted-server/config"
)

// redactedValue はマスクした属性の値。
const redactedValue = "[REDACTED]"

// sensitiveKeys はログに出力しない属性名。資格情報そのものを含むため。
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"authorization": {},
	"password":      {},
	"secret":        {},
}

// redactCredentials は資格情報を含む属性の値をマスクする。
func redactCredentials(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// TraceHandler はOpenTelemetryのスパン情報をログに付与するslogハンドラ。
type TraceHandler struct {
	next slog.Handler
	// cloudTracePrefix は "projects/<id>/traces/"。Cloud Logging連携が無効なら空。
	cloudTracePrefix string
	enabled          bool
}

// NewTraceHandler はnextをラップしたTraceHandlerを生成する。
func NewTraceHandler(next slog.Handler, cfg *config.Config) *TraceHandler {
	h := &TraceHandler{next: next, enabled: cfg.OtelEnabled}
	if cfg.GoogleCloudProject != "" {
		h.cloudTracePrefix = "projects/" + cfg.GoogleCloudProject + "/traces/"
	}
	return h
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle はスパンが有効な場合にトレース属性を追加してから次のハンドラに渡す。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.enabled {
		r.AddAttrs(h.traceAttrs(trace.SpanContextFromContext(ctx))...)
	}
	return h.next.Handle(ctx, r)
}

func (h *TraceHandler) traceAttrs(sc trace.SpanContext) []slog.Attr {
	if !sc.IsValid() {
		return nil
	}
	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()
	attrs := []slog.Attr{
		slog.String("trace", traceID),
		slog.String("spanId", spanID),
		slog.Bool("traceSampled", sc.IsSampled()),
	}
	if h.cloudTracePrefix != "" {
		attrs = append(attrs,
			slog.String("logging.googleapis.com/trace", h.cloudTracePrefix+traceID),
			slog.String("logging.googleapis.com/spanId", spanID),
		)
	}
	return attrs
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}

// NewLogger はwへJSONを出力するロガーを生成する。
// トレース情報を付与し、資格情報を含む属性はマスクする。
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       cfg.SlogLevel(),
		ReplaceAttr: redactCredentials,
	})
	logger := slog.New(NewTraceHandler(jsonHandler, cfg))
	if cfg.OtelServiceName != "" {
		logger = logger.With("service", cfg.OtelServiceName)
	}
	return logger
}

// SetupLogger は標準出力へのロガーをデフォルトに設定する。
func SetupLogger(cfg *config.Config) {
	slog.SetDefault(NewLogger(os.Stdout, cfg))
}
