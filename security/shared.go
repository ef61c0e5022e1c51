package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/nacosclient/internal/multierror"
	"github.com/maxpoletaev/nacosclient/metrics"
	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/rpc"
)

type LoginFunc func(ctx context.Context, creds Credentials, server rpc.ServerInfo, contextPath string) (Proxy, error)

// SharedProxy holds the proxy state used by all outbound calls. Reads take a
// read lock only; refreshes are serialized and replace the state as a whole.
type SharedProxy struct {
	mu    sync.RWMutex
	proxy Proxy

	refreshMu sync.Mutex
	login     LoginFunc
	now       func() time.Time
	logger    log.Logger
	metrics   *metrics.Metrics
}

type Option func(*SharedProxy)

func WithLogger(logger log.Logger) Option {
	return func(s *SharedProxy) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SharedProxy) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *SharedProxy) {
		s.now = now
	}
}

// NewSharedProxy creates a proxy for the given credentials. No login happens
// until the first RefreshIfNeeded.
func NewSharedProxy(creds Credentials, contextPath string, login LoginFunc, opts ...Option) *SharedProxy {
	s := &SharedProxy{
		proxy: Proxy{
			Credentials: creds,
			ContextPath: NormalizeContextPath(contextPath),
		},
		login:  login,
		now:    time.Now,
		logger: log.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Snapshot returns a copy of the current state.
func (s *SharedProxy) Snapshot() Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proxy
}

func (s *SharedProxy) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proxy.AccessToken
}

// StampHeaders puts the current token into headers, if there is one.
func (s *SharedProxy) StampHeaders(headers map[string]string) {
	if token := s.Token(); token != "" {
		headers[AccessTokenHeader] = token
	}
}

func (s *SharedProxy) refreshDue() (Proxy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.proxy.Credentials.Enabled() {
		return s.proxy, false
	}

	return s.proxy, s.proxy.RefreshDue(s.now())
}

// RefreshIfNeeded logs in again if the token is about to expire. Servers are
// tried one by one in order and the first successful login replaces the
// state. If every server fails, the returned error names all of them.
func (s *SharedProxy) RefreshIfNeeded(ctx context.Context, servers []rpc.ServerInfo) error {
	if _, due := s.refreshDue(); !due {
		return nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Somebody else may have refreshed while we were waiting.
	current, due := s.refreshDue()
	if !due {
		return nil
	}

	if len(servers) == 0 {
		s.metrics.TokenRefresh(false)
		return nacoserr.Errorf(nacoserr.ErrAuth, "no servers to log in to")
	}

	errs := multierror.New[string]()

	for _, server := range servers {
		proxy, err := s.login(ctx, current.Credentials, server, current.ContextPath)
		if err != nil {
			level.Warn(s.logger).Log("msg", "login failed", "server", server, "err", err)
			errs.Add(server.String(), err)

			continue
		}

		s.mu.Lock()
		s.proxy = proxy
		s.mu.Unlock()

		s.metrics.TokenRefresh(true)
		level.Debug(s.logger).Log("msg", "access token refreshed", "server", server, "ttl", proxy.TokenTTL)

		return nil
	}

	s.metrics.TokenRefresh(false)

	names := make([]string, len(servers))
	for i, server := range servers {
		names[i] = server.String()
	}

	return nacoserr.Wrap(nacoserr.ErrAuth, fmt.Errorf("login failed on all servers [%s]: %w",
		strings.Join(names, ", "), errs.Combined()))
}
