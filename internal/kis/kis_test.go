package kis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkhttp "github.com/betbot/kisbot/pkg/sdk/http"
)

type staticTokens struct {
	header string
	err    error
}

func (s staticTokens) BearerHeader(ctx context.Context, env Environment) (string, error) {
	return s.header, s.err
}

type echoResponse struct {
	ResponseStatus
	Output struct {
		Value string `json:"value"`
	} `json:"output"`
}

func TestTRID(t *testing.T) {
	assert.Equal(t, "TTTT1002U", TRID("TTTT1002U", Live))
	assert.Equal(t, "VTTT1002U", TRID("TTTT1002U", Demo))
	assert.Equal(t, "VTTS3018R", TRID("TTTS3018R", Demo))
	assert.Equal(t, "", TRID("", Demo))
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]Environment{"demo": Demo, "PAPER": Demo, "live": Live, " real ": Live} {
		got, err := ParseEnvironment(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseEnvironment("staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"staging"`)
}

func TestRequireAccount(t *testing.T) {
	assert.True(t, IsValidationError(Profile{}.RequireAccount()))
	assert.True(t, IsValidationError(Profile{AccountNumber: "1"}.RequireAccount()))
	assert.NoError(t, Profile{AccountNumber: "1", AccountProductCode: "01"}.RequireAccount())
}

func newTestClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p := Profile{BaseURL: srv.URL, AppKey: "key", AppSecret: "secret"}
	return NewClient(Profiles{Live: p, Demo: p}, tokens, nil, sdkhttp.DefaultOptions())
}

func TestClientDoSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("authorization"))
		assert.Equal(t, "key", r.Header.Get("appkey"))
		assert.Equal(t, "secret", r.Header.Get("appsecret"))
		assert.Equal(t, "TR1", r.Header.Get("tr_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rt_cd":"0","msg_cd":"OK","msg1":"done","output":{"value":"x"}}`))
	}, staticTokens{header: "Bearer tok"})

	var out echoResponse
	require.NoError(t, c.Do(context.Background(), Live, Call{Op: "echo", Path: "/e", TRID: "TR1"}, &out))
	assert.Equal(t, "x", out.Output.Value)
}

func TestClientDoNeverRetriesOrders(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// 连接直接断开，模拟请求已到达但响应丢失
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)

	opts := sdkhttp.DefaultOptions()
	opts.RetryCount = 3
	opts.RetryWait = time.Millisecond
	opts.RetryMaxWait = time.Millisecond
	p := Profile{BaseURL: srv.URL, AppKey: "key", AppSecret: "secret"}
	c := NewClient(Profiles{Live: p, Demo: p}, staticTokens{header: "Bearer tok"}, nil, opts)

	err := c.Do(context.Background(), Demo, Call{Op: "order", Method: http.MethodPost, Path: "/order", Body: map[string]string{"qty": "1"}}, &echoResponse{})
	var gw *GatewayError
	require.True(t, errors.As(err, &gw))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientDoErrorKinds(t *testing.T) {
	t.Run("rejection", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"rt_cd":"1","msg_cd":"APBK0013","msg1":"no balance"}`))
		}, staticTokens{header: "Bearer tok"})
		err := c.Do(context.Background(), Demo, Call{Op: "order"}, &echoResponse{})
		require.True(t, IsBusinessRejection(err))
		var rej *BusinessRejection
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, "APBK0013", rej.Code)
	})

	t.Run("non-2xx", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}, staticTokens{header: "Bearer tok"})
		err := c.Do(context.Background(), Demo, Call{Op: "order"}, &echoResponse{})
		var gw *GatewayError
		require.True(t, errors.As(err, &gw))
		assert.Equal(t, http.StatusInternalServerError, gw.Status)
		assert.Equal(t, "boom", gw.Body)
	})

	t.Run("credential", func(t *testing.T) {
		called := false
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true },
			staticTokens{err: &CredentialError{Kind: "rest", Env: Demo, Err: errors.New("down")}})
		err := c.Do(context.Background(), Demo, Call{Op: "order"}, &echoResponse{})
		assert.True(t, IsCredentialError(err))
		assert.False(t, called)
	})
}
