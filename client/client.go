// Package client ties the runtime together: it keeps one connection to the
// server list, answers server pushes, keeps the subscribed configs in sync
// and notifies listeners about changes.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/maxpoletaev/nacosclient/cache"
	"github.com/maxpoletaev/nacosclient/configdiff"
	"github.com/maxpoletaev/nacosclient/internal/multierror"
	"github.com/maxpoletaev/nacosclient/listener"
	"github.com/maxpoletaev/nacosclient/metrics"
	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/push"
	"github.com/maxpoletaev/nacosclient/remote"
	"github.com/maxpoletaev/nacosclient/rpc"
	"github.com/maxpoletaev/nacosclient/security"
	"github.com/maxpoletaev/nacosclient/transport"
	"github.com/maxpoletaev/nacosclient/transport/grpc"
	"github.com/maxpoletaev/nacosclient/worker"
)

var newGRPCDialer = grpc.NewDialer

type Client struct {
	conf    Config
	logger  log.Logger
	servers []rpc.ServerInfo
	metrics *metrics.Metrics
	rpcConf *rpc.Config

	dialer    transport.Dialer
	tlsDialer transport.Dialer

	proxy      *security.SharedProxy
	dispatcher *push.Dispatcher
	entries    *cache.Map
	worker     *worker.Worker
	detector   *configdiff.Detector

	listeners     *listener.Registry[cache.GroupKey, ChangeEvent]
	connListeners *listener.Registry[struct{}, ConnectionEvent]

	mu     sync.RWMutex
	conn   *rpc.Conn
	cursor int

	resets  chan resetRequest
	started atomic.Bool
	closed  atomic.Bool
	onClose []func() error
}

func New(conf Config) (*Client, error) {
	conf = conf.withDefaults()

	servers, err := rpc.ParseServerList(conf.ServerAddrs)
	if err != nil {
		return nil, err
	}

	if len(servers) == 0 {
		return nil, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "no server addresses")
	}

	m, err := metrics.New(conf.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c := &Client{
		conf:          conf,
		logger:        conf.Logger,
		servers:       servers,
		metrics:       m,
		entries:       cache.NewMap(conf.ListenTaskCount),
		detector:      configdiff.DefaultDetector(),
		listeners:     listener.NewRegistry[cache.GroupKey, ChangeEvent](conf.Logger),
		connListeners: listener.NewRegistry[struct{}, ConnectionEvent](conf.Logger),
		resets:        make(chan resetRequest, 1),
	}

	login := security.NewLoginer(conf.HTTPClient).Login
	creds := security.Credentials{Username: conf.Username, Password: conf.Password}

	c.proxy = security.NewSharedProxy(creds, conf.ContextPath, login,
		security.WithLogger(log.With(conf.Logger, "component", "security")),
		security.WithMetrics(m),
	)

	c.dispatcher = push.NewDispatcher(
		push.WithLogger(log.With(conf.Logger, "component", "push")),
		push.WithMetrics(m),
	)

	c.registerHandlers()

	c.worker = worker.New(c.entries, c.requester, c.onConfigChanged, worker.Config{
		Interval:         conf.ListenInterval,
		FullSyncInterval: conf.FullSyncInterval,
		RequestTimeout:   conf.RequestTimeout,
		Logger:           log.With(conf.Logger, "component", "worker"),
		Metrics:          m,
	})

	// An https server gets TLS credentials of its own. Remote.TLS forces TLS
	// for every server.
	c.dialer, c.tlsDialer = conf.Dialer, conf.Dialer
	if conf.Dialer == nil {
		secure := conf.Remote
		secure.TLS = true

		c.dialer = newGRPCDialer(conf.Remote, conf.Logger)
		c.tlsDialer = newGRPCDialer(secure, conf.Logger)
	}

	c.rpcConf = rpc.DefaultConfig()
	c.rpcConf.Dialer = c.dialer
	c.rpcConf.Dispatcher = c.dispatcher
	c.rpcConf.Tokens = c.proxy
	c.rpcConf.Logger = log.With(conf.Logger, "component", "rpc")
	c.rpcConf.Metrics = m
	c.rpcConf.Tenant = conf.Namespace
	c.rpcConf.AppName = conf.AppName

	return c, nil
}

func (c *Client) addOnCloseHook(f func() error) {
	c.onClose = append(c.onClose, f)
}

// Start logs in, connects to the first reachable server and starts the
// background loops. It fails if no server could be reached.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return nacoserr.Errorf(nacoserr.ErrChannelClosed, "client is closed")
	}

	if !c.started.CompareAndSwap(false, true) {
		return nil // already started
	}

	// A failed login is retried by the token loop.
	if err := c.proxy.RefreshIfNeeded(ctx, c.servers); err != nil {
		level.Warn(c.logger).Log("msg", "initial login failed", "err", err)
	}

	conn, err := c.connectAny(ctx)
	if err != nil {
		c.started.Store(false)
		return err
	}

	c.setConn(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		c.worker.RunLoop(runCtx)
		return nil
	})

	group.Go(func() error {
		c.connectionLoop(runCtx)
		return nil
	})

	group.Go(func() error {
		c.healthLoop(runCtx)
		return nil
	})

	group.Go(func() error {
		c.tokenLoop(runCtx)
		return nil
	})

	c.addOnCloseHook(func() error {
		cancel()
		return group.Wait()
	})

	c.worker.Notify()

	return nil
}

// Close stops the loops and closes the connection. It is safe to call more
// than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	errs := multierror.New[int]()

	for i, f := range c.onClose {
		if err := f(); err != nil {
			errs.Add(i, err)
		}
	}

	if conn := c.setConn(nil); conn != nil {
		if err := conn.Close(); err != nil {
			errs.Add(len(c.onClose), err)
		}
	}

	return errs.Combined()
}

// GetConfig queries the current content of a config from the server. A config
// that does not exist yields empty content and no error.
func (c *Client) GetConfig(ctx context.Context, dataID, group string) (string, error) {
	key, err := cache.NewGroupKey(dataID, group, c.conf.Namespace)
	if err != nil {
		return "", err
	}

	conn := c.current()
	if conn == nil {
		return "", nacoserr.Errorf(nacoserr.ErrChannelClosed, "not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, c.conf.RequestTimeout)
	defer cancel()

	req := &remote.ConfigQueryRequest{
		DataID: key.DataID,
		Group:  key.Group,
		Tenant: key.Tenant,
	}

	var resp remote.ConfigQueryResponse

	if err := conn.Request(ctx, req, &resp); err != nil {
		if errors.Is(err, nacoserr.ErrServer) && resp.IsNotFound() {
			return "", nil
		}

		return "", err
	}

	return resp.Content, nil
}

// AddListener subscribes l to changes of a config. The first listener of a
// config triggers a listen pass, which delivers the current content as the
// first event.
func (c *Client) AddListener(dataID, group string, l listener.Listener[ChangeEvent]) (listener.Subscription[cache.GroupKey], error) {
	key, err := cache.NewGroupKey(dataID, group, c.conf.Namespace)
	if err != nil {
		return listener.Subscription[cache.GroupKey]{}, err
	}

	sub := c.listeners.Subscribe(key, l)

	if _, created := c.entries.Acquire(key); created {
		level.Debug(c.logger).Log("msg", "config subscribed", "key", key)
	}

	c.worker.Notify()

	return sub, nil
}

// RemoveListener cancels a subscription. Once a config has no listeners left,
// the server is told to stop notifying about it.
func (c *Client) RemoveListener(sub listener.Subscription[cache.GroupKey]) bool {
	if !c.listeners.Unsubscribe(sub) {
		return false
	}

	if c.entries.Release(sub.Key) {
		level.Debug(c.logger).Log("msg", "config unsubscribed", "key", sub.Key)
		c.worker.Notify()
	}

	return true
}

func (c *Client) AddConnectionListener(l listener.Listener[ConnectionEvent]) listener.Subscription[struct{}] {
	return c.connListeners.Subscribe(struct{}{}, l)
}

func (c *Client) RemoveConnectionListener(sub listener.Subscription[struct{}]) bool {
	return c.connListeners.Unsubscribe(sub)
}

// Connected reports whether the client currently holds a usable connection.
func (c *Client) Connected() bool {
	conn := c.current()
	return conn != nil && conn.State() == rpc.StateReady
}

func (c *Client) onConfigChanged(e *cache.Entry, oldContent string) {
	event := ChangeEvent{
		Key:        e.Key,
		Content:    e.Content(),
		OldContent: oldContent,
		ConfigType: e.ConfigType(),
	}

	changes, err := c.detector.Diff(event.ConfigType, oldContent, event.Content)

	switch {
	case err == nil:
		event.Changes = changes
	case errors.Is(err, nacoserr.ErrUnsupportedFormat):
		// Delivered without the key level diff.
	default:
		level.Warn(c.logger).Log("msg", "failed to diff config", "key", e.Key, "type", event.ConfigType, "err", err)
	}

	c.metrics.ConfigChanged()
	c.listeners.NotifyKey(e.Key, event)
}

// requester hands the current connection to the worker.
func (c *Client) requester() worker.Requester {
	if conn := c.current(); conn != nil {
		return conn
	}

	return nil
}
