package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/kisbot/internal/kis"
)

type fakeIssuer struct {
	tokenCalls    atomic.Int32
	approvalCalls atomic.Int32
	expiresIn     int64
	delay         time.Duration
	failToken     bool
	emptyApproval bool
}

func (f *fakeIssuer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client_credentials", body["grant_type"])
		assert.Equal(t, "key", body["appkey"])
		w.Header().Set("Content-Type", "application/json")
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		switch r.URL.Path {
		case tokenPath:
			f.tokenCalls.Add(1)
			assert.Equal(t, "secret", body["appsecret"])
			if f.failToken {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error_code":"EGW00103"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok", "token_type": "Bearer", "expires_in": f.expiresIn,
			})
		case approvalPath:
			f.approvalCalls.Add(1)
			assert.Equal(t, "secret", body["secretkey"])
			key := "approval"
			if f.emptyApproval {
				key = ""
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"approval_key": key})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newStore(t *testing.T, f *fakeIssuer, now func() time.Time) *Store {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	p := kis.Profile{BaseURL: srv.URL, AppKey: "key", AppSecret: "secret"}
	return NewStore(kis.Profiles{Live: p, Demo: p}, WithClock(now))
}

func TestCredentialValidity(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	var nilCred *Credential
	assert.False(t, nilCred.ValidAt(now))
	assert.True(t, (&Credential{Value: "x", ExpiresAt: now.Add(61 * time.Minute)}).ValidAt(now))
	assert.False(t, (&Credential{Value: "x", ExpiresAt: now.Add(time.Hour)}).ValidAt(now))
	assert.False(t, (&Credential{Value: "", ExpiresAt: now.Add(5 * time.Hour)}).ValidAt(now))
}

func TestRestTokenCacheHit(t *testing.T) {
	f := &fakeIssuer{expiresIn: 86400}
	now := time.Now()
	s := newStore(t, f, func() time.Time { return now })

	for i := 0; i < 5; i++ {
		c, err := s.RestToken(context.Background(), kis.Demo)
		require.NoError(t, err)
		assert.Equal(t, "tok", c.Value)
	}
	assert.EqualValues(t, 1, f.tokenCalls.Load())

	h, err := s.BearerHeader(context.Background(), kis.Demo)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", h)
	assert.EqualValues(t, 1, f.tokenCalls.Load())
}

func TestRestTokenRefreshInsideMargin(t *testing.T) {
	f := &fakeIssuer{expiresIn: 7200}
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	s := newStore(t, f, clock)

	_, err := s.RestToken(context.Background(), kis.Live)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(61 * time.Minute)
	mu.Unlock()

	_, err = s.RestToken(context.Background(), kis.Live)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.tokenCalls.Load())
}

func TestConcurrentCallersIssueOnce(t *testing.T) {
	f := &fakeIssuer{expiresIn: 86400, delay: 50 * time.Millisecond}
	s := newStore(t, f, time.Now)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.RestToken(context.Background(), kis.Demo)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.StreamKey(context.Background(), kis.Demo)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.tokenCalls.Load())
	assert.EqualValues(t, 1, f.approvalCalls.Load())
}

func TestEnvironmentsAreIndependent(t *testing.T) {
	f := &fakeIssuer{expiresIn: 86400}
	s := newStore(t, f, time.Now)

	_, err := s.RestToken(context.Background(), kis.Demo)
	require.NoError(t, err)
	_, err = s.RestToken(context.Background(), kis.Live)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.tokenCalls.Load())
}

func TestStreamKeyFixedLifetime(t *testing.T) {
	f := &fakeIssuer{expiresIn: 60}
	now := time.Now()
	s := newStore(t, f, func() time.Time { return now })

	c, err := s.StreamKey(context.Background(), kis.Demo)
	require.NoError(t, err)
	assert.Equal(t, "approval", c.Value)
	assert.Equal(t, now.Add(24*time.Hour), c.ExpiresAt)
}

func TestForceRefreshBypassesCache(t *testing.T) {
	f := &fakeIssuer{expiresIn: 86400}
	s := newStore(t, f, time.Now)

	_, err := s.RestToken(context.Background(), kis.Demo)
	require.NoError(t, err)
	require.NoError(t, s.ForceRefresh(context.Background(), kis.Demo))
	assert.EqualValues(t, 2, f.tokenCalls.Load())
	assert.EqualValues(t, 1, f.approvalCalls.Load())
}

func TestIssueFailures(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		f := &fakeIssuer{failToken: true}
		s := newStore(t, f, time.Now)
		_, err := s.RestToken(context.Background(), kis.Demo)
		require.Error(t, err)
		assert.True(t, kis.IsCredentialError(err))
	})

	t.Run("empty approval key", func(t *testing.T) {
		f := &fakeIssuer{emptyApproval: true}
		s := newStore(t, f, time.Now)
		_, err := s.StreamKey(context.Background(), kis.Demo)
		assert.True(t, kis.IsCredentialError(err))
	})

	t.Run("missing app key", func(t *testing.T) {
		s := NewStore(kis.Profiles{})
		_, err := s.RestToken(context.Background(), kis.Live)
		assert.True(t, kis.IsCredentialError(err))
	})
}

func TestObserverSeesEveryIssue(t *testing.T) {
	f := &fakeIssuer{expiresIn: 86400}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	p := kis.Profile{BaseURL: srv.URL, AppKey: "key", AppSecret: "secret"}

	var seen []Kind
	s := NewStore(kis.Profiles{Demo: p}, WithObserver(func(kind Kind, env kis.Environment, err error) {
		seen = append(seen, kind)
	}))
	_, _ = s.RestToken(context.Background(), kis.Demo)
	_, _ = s.StreamKey(context.Background(), kis.Demo)
	_, _ = s.RestToken(context.Background(), kis.Demo)
	assert.Equal(t, []Kind{KindRestToken, KindStreamKey}, seen)
}
