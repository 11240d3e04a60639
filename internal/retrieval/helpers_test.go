package retrieval

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/groundedrag/internal/telemetry"
)

func registry(t *testing.T, m *telemetry.Metrics) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	return reg
}
