package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabstate/internal/state"
)

// value returns the sample of the named metric whose labels match.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestReporter_CountsAndForwards(t *testing.T) {
	m := New(Config{})
	capture := &state.CaptureReporter{}
	r := m.Reporter(capture)

	r.Report(state.Failure{Key: "k", Op: "set", Kind: state.KindPersist, Err: errors.New("x")})
	r.Report(state.Failure{Key: "k", Op: "set", Kind: state.KindPersist, Err: errors.New("y")})
	r.Report(state.Failure{Key: "k", Op: "hydrate", Kind: state.KindLoad, Err: errors.New("z")})

	reg := m.Registry()
	assert.Equal(t, 2.0, value(t, reg, "tabstate_state_failures_total",
		map[string]string{"kind": "persist", "op": "set"}))
	assert.Equal(t, 1.0, value(t, reg, "tabstate_state_failures_total",
		map[string]string{"kind": "load", "op": "hydrate"}))
	assert.Len(t, capture.Failures(), 3)
}

func TestReporter_NilNext(t *testing.T) {
	m := New(Config{})
	assert.NotPanics(t, func() {
		m.Reporter(nil).Report(state.Failure{Kind: state.KindDecode, Op: "receive"})
	})
}

func TestRelayObserver(t *testing.T) {
	m := New(Config{Namespace: "test"})
	m.Connected()
	m.Connected()
	m.Disconnected()
	m.Relayed()

	reg := m.Registry()
	assert.Equal(t, 1.0, value(t, reg, "test_relay_connections", nil))
	assert.Equal(t, 2.0, value(t, reg, "test_relay_connections_total", nil))
	assert.Equal(t, 1.0, value(t, reg, "test_relay_messages_total", nil))
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New(Config{})
	m.Relayed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tabstate_relay_messages_total 1")
}
