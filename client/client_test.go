package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/nacosclient/cache"
	"github.com/maxpoletaev/nacosclient/configdiff"
	"github.com/maxpoletaev/nacosclient/listener"
	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/remote"
	"github.com/maxpoletaev/nacosclient/transport"
	"github.com/maxpoletaev/nacosclient/transport/transporttest"
)

const waitFor = 2 * time.Second

// configServer answers the config requests of the client from a map.
type configServer struct {
	*transporttest.Server

	mu      sync.Mutex
	configs map[cache.GroupKey]string
	types   map[cache.GroupKey]string
	connIDs atomic.Int32
}

func newConfigServer() *configServer {
	s := &configServer{
		Server:  transporttest.NewServer(),
		configs: make(map[cache.GroupKey]string),
		types:   make(map[cache.GroupKey]string),
	}

	transporttest.Handle(s.Server, func(*remote.ServerCheckRequest) (any, error) {
		id := s.connIDs.Add(1)

		return &remote.ServerCheckResponse{
			Response:     remote.NewResponse(),
			ConnectionID: fmt.Sprintf("conn-%d", id),
		}, nil
	})

	transporttest.Handle(s.Server, func(*remote.HealthCheckRequest) (any, error) {
		return &remote.HealthCheckResponse{Response: remote.NewResponse()}, nil
	})

	transporttest.Handle(s.Server, func(req *remote.ConfigBatchListenRequest) (any, error) {
		resp := &remote.ConfigChangeBatchListenResponse{Response: remote.NewResponse()}
		if !req.Listen {
			return resp, nil
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		for _, lc := range req.ConfigListenContexts {
			key := cache.GroupKey{DataID: lc.DataID, Group: lc.Group, Tenant: lc.Tenant}

			if cache.MD5(s.configs[key]) != lc.MD5 {
				resp.ChangedConfigs = append(resp.ChangedConfigs, remote.ConfigContext{
					Group:  lc.Group,
					DataID: lc.DataID,
					Tenant: lc.Tenant,
				})
			}
		}

		return resp, nil
	})

	transporttest.Handle(s.Server, func(req *remote.ConfigQueryRequest) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		key := cache.GroupKey{DataID: req.DataID, Group: req.Group, Tenant: req.Tenant}

		content, ok := s.configs[key]
		if !ok {
			resp := &remote.ConfigQueryResponse{}
			resp.ResultCode = remote.ResponseCodeFail
			resp.ErrCode = remote.ErrorCodeConfigNotFound
			resp.Msg = "config data not exist"

			return resp, nil
		}

		return &remote.ConfigQueryResponse{
			Response:    remote.NewResponse(),
			Content:     content,
			ContentType: s.types[key],
			MD5:         cache.MD5(content),
		}, nil
	})

	return s
}

func (s *configServer) Publish(key cache.GroupKey, typ, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[key] = content
	s.types[key] = typ
}

func (s *configServer) listenRequests(t *testing.T) []*remote.ConfigBatchListenRequest {
	t.Helper()

	var reqs []*remote.ConfigBatchListenRequest

	for _, p := range s.RequestsOf("ConfigBatchListenRequest") {
		req, err := payload.Decode[remote.ConfigBatchListenRequest](p)
		require.NoError(t, err)
		reqs = append(reqs, req)
	}

	return reqs
}

func testConfig(srv *configServer, addrs ...string) Config {
	if len(addrs) == 0 {
		addrs = []string{"127.0.0.1:8848"}
	}

	conf := DefaultConfig()
	conf.ServerAddrs = addrs
	conf.Dialer = srv.Dialer()
	conf.Registerer = prometheus.NewRegistry()
	conf.ListenInterval = 20 * time.Millisecond
	conf.HealthCheckInterval = 50 * time.Millisecond
	conf.TokenRefreshInterval = 20 * time.Millisecond
	conf.ReconnectDelay = 10 * time.Millisecond

	return conf
}

func newTestClient(t *testing.T, conf Config) *Client {
	t.Helper()

	c, err := New(conf)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
	})

	return c
}

func startTestClient(t *testing.T, srv *configServer, addrs ...string) *Client {
	t.Helper()

	c := newTestClient(t, testConfig(srv, addrs...))
	require.NoError(t, c.Start(context.Background()))

	return c
}

func collect[T any]() (listener.Func[T], <-chan T) {
	events := make(chan T, 32)

	return func(e T) { events <- e }, events
}

func next[T any](t *testing.T, events <-chan T) T {
	t.Helper()

	select {
	case e := <-events:
		return e
	case <-time.After(waitFor):
		t.Fatal("no event received")
	}

	var zero T

	return zero
}

func nextStream(t *testing.T, srv *configServer) *transporttest.Stream {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	st, err := srv.NextStream(ctx)
	require.NoError(t, err)

	return st
}

func TestNew_InvalidServers(t *testing.T) {
	tests := map[string]struct {
		addrs []string
	}{
		"Empty":   {addrs: nil},
		"BadPort": {addrs: []string{"127.0.0.1:notaport"}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			conf := DefaultConfig()
			conf.ServerAddrs = tt.addrs

			_, err := New(conf)
			assert.ErrorIs(t, err, nacoserr.ErrInvalidArgument)
		})
	}
}

func TestStart_Connects(t *testing.T) {
	srv := newConfigServer()
	c := newTestClient(t, testConfig(srv))

	onConn, connEvents := collect[ConnectionEvent]()
	c.AddConnectionListener(onConn)

	require.NoError(t, c.Start(context.Background()))

	assert.True(t, c.Connected())
	assert.Equal(t, []string{"127.0.0.1:9848"}, srv.Dialed())

	event := next(t, connEvents)
	assert.True(t, event.Connected)
	assert.Equal(t, "conn-1", event.ConnID)
	assert.Equal(t, "http://127.0.0.1:8848", event.Server)
}

func TestStart_FailsOver(t *testing.T) {
	srv := newConfigServer()
	srv.FailDial("10.0.0.1:9848", errors.New("connection refused"))

	c := startTestClient(t, srv, "10.0.0.1:8848", "10.0.0.2:8848")

	assert.True(t, c.Connected())
	assert.Equal(t, []string{"10.0.0.1:9848", "10.0.0.2:9848"}, srv.Dialed())
}

func TestStart_TLSPerServer(t *testing.T) {
	srv := newConfigServer()
	srv.FailDial("10.0.0.1:9848", errors.New("handshake failed"))

	var (
		mu        sync.Mutex
		tlsByAddr = make(map[string]bool)
	)

	orig := newGRPCDialer
	t.Cleanup(func() { newGRPCDialer = orig })

	newGRPCDialer = func(opts transport.Options, _ log.Logger) transport.Dialer {
		dial := srv.Dialer()

		return func(ctx context.Context, addr string) (transport.Conn, error) {
			mu.Lock()
			tlsByAddr[addr] = opts.TLS
			mu.Unlock()

			return dial(ctx, addr)
		}
	}

	conf := testConfig(srv, "https://10.0.0.1:8848", "10.0.0.2:8848")
	conf.Dialer = nil

	c := newTestClient(t, conf)
	require.NoError(t, c.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, map[string]bool{
		"10.0.0.1:9848": true,
		"10.0.0.2:9848": false,
	}, tlsByAddr)
}

func TestStart_NoServerReachable(t *testing.T) {
	srv := newConfigServer()
	srv.FailDial("10.0.0.1:9848", errors.New("connection refused"))
	srv.FailDial("10.0.0.2:9848", errors.New("connection refused"))

	c := newTestClient(t, testConfig(srv, "10.0.0.1:8848", "10.0.0.2:8848"))

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, nacoserr.ErrTransport)
	assert.Contains(t, err.Error(), "10.0.0.2")
	assert.False(t, c.Connected())
}

func TestStart_LogsInFirst(t *testing.T) {
	var logins atomic.Int32

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nacos/v1/auth/users/login", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "nacos", r.Form.Get("username"))

		logins.Add(1)
		_, _ = w.Write([]byte(`{"accessToken":"token-1","tokenTtl":18000,"globalAdmin":true}`))
	}))
	defer httpSrv.Close()

	srv := newConfigServer()
	addr := strings.TrimPrefix(httpSrv.URL, "http://")

	conf := testConfig(srv, addr)
	conf.Username = "nacos"
	conf.Password = "secret"
	conf.HTTPClient = httpSrv.Client()

	c := newTestClient(t, conf)
	require.NoError(t, c.Start(context.Background()))

	checks := srv.RequestsOf("ServerCheckRequest")
	require.NotEmpty(t, checks)
	assert.Equal(t, "token-1", checks[0].Metadata.Headers["accessToken"])

	// The token is valid for hours, the token loop must not log in again.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), logins.Load())
}

func TestAddListener_DeliversInitialContentAndChanges(t *testing.T) {
	srv := newConfigServer()
	key := cache.GroupKey{DataID: "app.yaml", Group: "DEFAULT_GROUP"}
	srv.Publish(key, "yaml", "server:\n  port: 8080\n")

	c := startTestClient(t, srv)
	st := nextStream(t, srv)

	onChange, events := collect[ChangeEvent]()
	_, err := c.AddListener("app.yaml", "DEFAULT_GROUP", onChange)
	require.NoError(t, err)

	first := next(t, events)
	assert.Equal(t, key, first.Key)
	assert.Equal(t, "", first.OldContent)
	assert.Equal(t, "server:\n  port: 8080\n", first.Content)
	assert.Equal(t, configdiff.Added, first.Changes["server.port"].Type)

	srv.Publish(key, "yaml", "server:\n  port: 9090\n")
	require.NoError(t, st.PushValue(&remote.ConfigChangeNotifyRequest{
		DataID: "app.yaml",
		Group:  "DEFAULT_GROUP",
	}))

	second := next(t, events)
	assert.Equal(t, "server:\n  port: 8080\n", second.OldContent)
	assert.Equal(t, configdiff.ChangeItem{
		Key:      "server.port",
		OldValue: "8080",
		NewValue: "9090",
		Type:     configdiff.Modified,
	}, second.Changes["server.port"])
}

func TestAddListener_InvalidKey(t *testing.T) {
	srv := newConfigServer()
	c := newTestClient(t, testConfig(srv))

	_, err := c.AddListener("", "DEFAULT_GROUP", listener.Func[ChangeEvent](func(ChangeEvent) {}))
	assert.ErrorIs(t, err, nacoserr.ErrInvalidArgument)
}

func TestRemoveListener_StopsListening(t *testing.T) {
	srv := newConfigServer()
	key := cache.GroupKey{DataID: "app.properties", Group: "DEFAULT_GROUP"}
	srv.Publish(key, "properties", "a=1")

	c := startTestClient(t, srv)

	onChange, events := collect[ChangeEvent]()
	sub, err := c.AddListener("app.properties", "DEFAULT_GROUP", onChange)
	require.NoError(t, err)
	next(t, events)

	assert.True(t, c.RemoveListener(sub))
	assert.False(t, c.RemoveListener(sub))

	assert.Eventually(t, func() bool {
		return c.entries.Len() == 0
	}, waitFor, 5*time.Millisecond)

	var unlistened bool

	for _, req := range srv.listenRequests(t) {
		if !req.Listen {
			unlistened = true

			require.Len(t, req.ConfigListenContexts, 1)
			assert.Equal(t, "app.properties", req.ConfigListenContexts[0].DataID)
		}
	}

	assert.True(t, unlistened)
}

func TestGetConfig(t *testing.T) {
	srv := newConfigServer()
	srv.Publish(cache.GroupKey{DataID: "app.json", Group: "DEFAULT_GROUP"}, "json", `{"a":1}`)

	c := startTestClient(t, srv)

	content, err := c.GetConfig(context.Background(), "app.json", "DEFAULT_GROUP")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, content)

	content, err = c.GetConfig(context.Background(), "missing.json", "DEFAULT_GROUP")
	require.NoError(t, err)
	assert.Equal(t, "", content)
}

func TestGetConfig_NotConnected(t *testing.T) {
	srv := newConfigServer()
	c := newTestClient(t, testConfig(srv))

	_, err := c.GetConfig(context.Background(), "app.json", "DEFAULT_GROUP")
	assert.ErrorIs(t, err, nacoserr.ErrChannelClosed)
}

func TestReconnect_OnStreamEnd(t *testing.T) {
	srv := newConfigServer()
	key := cache.GroupKey{DataID: "app.properties", Group: "DEFAULT_GROUP"}
	srv.Publish(key, "properties", "a=1")

	c := startTestClient(t, srv)
	st := nextStream(t, srv)

	onConn, connEvents := collect[ConnectionEvent]()
	c.AddConnectionListener(onConn)

	onChange, events := collect[ChangeEvent]()
	_, err := c.AddListener("app.properties", "DEFAULT_GROUP", onChange)
	require.NoError(t, err)
	next(t, events)

	listensBefore := len(srv.listenRequests(t))

	st.Terminate()

	lost := next(t, connEvents)
	assert.False(t, lost.Connected)
	assert.Equal(t, "conn-1", lost.ConnID)

	restored := next(t, connEvents)
	assert.True(t, restored.Connected)
	assert.Equal(t, "conn-2", restored.ConnID)

	nextStream(t, srv)

	// Subscriptions are announced to the new connection.
	assert.Eventually(t, func() bool {
		return len(srv.listenRequests(t)) > listensBefore
	}, waitFor, 5*time.Millisecond)

	assert.True(t, srv.Conns()[0].IsClosed())
}

func TestReconnect_ServerRequestedReset(t *testing.T) {
	srv := newConfigServer()
	c := startTestClient(t, srv)
	st := nextStream(t, srv)

	require.NoError(t, st.PushValue(&remote.ConnectResetRequest{
		ServerIP:   "10.0.0.9",
		ServerPort: "8848",
	}))

	assert.Eventually(t, func() bool {
		dialed := srv.Dialed()
		return len(dialed) == 2 && dialed[1] == "10.0.0.9:9848"
	}, waitFor, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		conn := c.current()
		return conn != nil && conn.Server().Host == "10.0.0.9"
	}, waitFor, 5*time.Millisecond)
}

func TestPush_HealthCheckIsAnswered(t *testing.T) {
	srv := newConfigServer()
	startTestClient(t, srv)
	st := nextStream(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	setup, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ConnectionSetupRequest", setup.Metadata.Type)

	req := &remote.HealthCheckRequest{}
	req.SetRequestID("push-1")
	require.NoError(t, st.PushValue(req))

	reply, err := st.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HealthCheckResponse", reply.Metadata.Type)

	resp, err := payload.Decode[remote.HealthCheckResponse](reply)
	require.NoError(t, err)
	assert.Equal(t, "push-1", resp.RequestID())
	assert.True(t, resp.IsSuccess())
}

func TestOnConfigChanged_UnsupportedTypeHasNoChanges(t *testing.T) {
	srv := newConfigServer()
	c := newTestClient(t, testConfig(srv))

	key := cache.GroupKey{DataID: "index.html", Group: "DEFAULT_GROUP"}

	onChange, events := collect[ChangeEvent]()
	c.listeners.Subscribe(key, onChange)

	e, _ := c.entries.Acquire(key)
	old := e.Update("<p>new</p>", "html", "", time.Time{})
	c.onConfigChanged(e, old)

	event := next(t, events)
	assert.Equal(t, "<p>new</p>", event.Content)
	assert.Equal(t, "html", event.ConfigType)
	assert.Nil(t, event.Changes)
}

func TestOnConfigChanged_EachListenerGetsOwnChanges(t *testing.T) {
	srv := newConfigServer()
	c := newTestClient(t, testConfig(srv))

	key := cache.GroupKey{DataID: "app.properties", Group: "DEFAULT_GROUP"}

	var got []ChangeEvent

	for i := 0; i < 2; i++ {
		c.listeners.Subscribe(key, listener.Func[ChangeEvent](func(e ChangeEvent) {
			e.Changes["injected"] = configdiff.ChangeItem{}
			got = append(got, e)
		}))
	}

	e, _ := c.entries.Acquire(key)
	old := e.Update("a=1", "properties", "", time.Time{})
	c.onConfigChanged(e, old)

	require.Len(t, got, 2)
	assert.Len(t, got[0].Changes, 2)
	assert.Len(t, got[1].Changes, 2)
}

func TestClose_Idempotent(t *testing.T) {
	srv := newConfigServer()
	c := startTestClient(t, srv)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.False(t, c.Connected())
	assert.True(t, srv.Conns()[0].IsClosed())
	assert.ErrorIs(t, c.Start(context.Background()), nacoserr.ErrChannelClosed)
}
