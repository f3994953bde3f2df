package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"charted-server/internal/domain"
)

func TestCredentialMetrics_Counters(t *testing.T) {
	m := NewCredentialMetrics()

	m.CredentialIssued(domain.KindRegistry)
	m.CredentialIssued(domain.KindRegistry)
	m.CredentialRevoked(domain.KindSessionAccess, "expired")
	m.ValidationFailed(domain.KindSessionAccess, "malformed")

	if got := testutil.ToFloat64(m.issued.WithLabelValues("registry")); got != 2 {
		t.Errorf("want 2 issued, got %v", got)
	}
	if got := testutil.ToFloat64(m.revoked.WithLabelValues("session_access", "expired")); got != 1 {
		t.Errorf("want 1 revoked, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("session_access", "malformed")); got != 1 {
		t.Errorf("want 1 failure, got %v", got)
	}
}

func TestCredentialMetrics_Register(t *testing.T) {
	m := NewCredentialMetrics()
	reg := prometheus.NewPedanticRegistry()

	jobs := 3
	err := m.Register(reg, map[string]func() int{
		"sessions": func() int { return jobs },
		"registry": func() int { return 0 },
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expected := `
# HELP charted_credentials_expiration_jobs Number of armed credential expiration timers.
# TYPE charted_credentials_expiration_jobs gauge
charted_credentials_expiration_jobs{manager="registry"} 0
charted_credentials_expiration_jobs{manager="sessions"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "charted_credentials_expiration_jobs"); err != nil {
		t.Error(err)
	}

	// 二重登録はエラーになる
	if err := m.Register(reg, nil); err == nil {
		t.Error("expected duplicate registration error")
	}
}
