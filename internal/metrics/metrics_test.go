package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/credential"
	"github.com/betbot/kisbot/internal/kis/overseas"
)

func TestObservers(t *testing.T) {
	m := New()

	obs := m.OrderObserver()
	obs(overseas.Buy, nil)
	obs(overseas.Buy, errors.New("rejected"))
	obs(overseas.Sell, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("BUY", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("BUY", "error")))

	m.CredentialObserver()(credential.KindStreamKey, kis.Demo, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialRefresh.WithLabelValues("stream_key", "demo", "ok")))

	m.JobDone("weekly", true)
	m.JobDone("weekly", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("weekly", "failed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.JobDone("fallback", true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kisbot_job_runs_total{job="fallback",result="ok"} 1`)
}

func TestStartAsyncStopsWithContext(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := m.StartAsync(ctx, "127.0.0.1:0", "")
	require.NoError(t, err)
	require.NotNil(t, s)
	cancel()
}
