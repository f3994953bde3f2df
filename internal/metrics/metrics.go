// Package metrics は資格情報のライフサイクルをPrometheusに公開する。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"charted-server/internal/domain"
)

const (
	namespace           = "charted"
	credentialSubsystem = "credentials"
)

// CredentialMetrics は発行、失効、検証失敗の件数を数える。
type CredentialMetrics struct {
	issued   *prometheus.CounterVec
	revoked  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewCredentialMetrics は新しいCredentialMetricsを生成する。
func NewCredentialMetrics() *CredentialMetrics {
	return &CredentialMetrics{
		issued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: credentialSubsystem,
				Name:      "issued_total",
				Help:      "Total number of credentials issued.",
			},
			[]string{"kind"},
		),
		revoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: credentialSubsystem,
				Name:      "revoked_total",
				Help:      "Total number of credentials removed, by reason.",
			},
			[]string{"kind", "reason"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: credentialSubsystem,
				Name:      "validation_failures_total",
				Help:      "Total number of rejected credentials, by reason.",
			},
			[]string{"kind", "reason"},
		),
	}
}

// CredentialIssued は発行を記録する。
func (m *CredentialMetrics) CredentialIssued(kind domain.CredentialKind) {
	m.issued.WithLabelValues(string(kind)).Inc()
}

// CredentialRevoked は失効を記録する。
func (m *CredentialMetrics) CredentialRevoked(kind domain.CredentialKind, reason string) {
	m.revoked.WithLabelValues(string(kind), reason).Inc()
}

// ValidationFailed は検証失敗を記録する。
func (m *CredentialMetrics) ValidationFailed(kind domain.CredentialKind, reason string) {
	m.failures.WithLabelValues(string(kind), reason).Inc()
}

// Register はメトリクスと、失効タイマー数を返す関数ごとのゲージを登録する。
func (m *CredentialMetrics) Register(reg prometheus.Registerer, activeJobs map[string]func() int) error {
	for _, c := range []prometheus.Collector{m.issued, m.revoked, m.failures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	for manager, count := range activeJobs {
		gauge := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   credentialSubsystem,
				Name:        "expiration_jobs",
				Help:        "Number of armed credential expiration timers.",
				ConstLabels: prometheus.Labels{"manager": manager},
			},
			func() float64 { return float64(count()) },
		)
		if err := reg.Register(gauge); err != nil {
			return err
		}
	}
	return nil
}
