package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/nacosclient/cache"
	"github.com/maxpoletaev/nacosclient/internal/multierror"
	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/remote"
	"github.com/maxpoletaev/nacosclient/rpc"
	"github.com/maxpoletaev/nacosclient/transport"
)

// resetRequest asks the connection loop to replace conn. A nil conn matches
// whatever connection is current; a nil server means any server.
type resetRequest struct {
	conn   *rpc.Conn
	server *rpc.ServerInfo
	reason string
}

func (c *Client) current() *rpc.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// setConn installs conn and returns the previous connection.
func (c *Client) setConn(conn *rpc.Conn) *rpc.Conn {
	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		c.metrics.ConnectionLost()
		c.connListeners.Notify(ConnectionEvent{
			Connected: false,
			ConnID:    old.ID(),
			Server:    old.Server().String(),
		})
	}

	if conn != nil {
		c.metrics.ConnectionReady()
		c.connListeners.Notify(ConnectionEvent{
			Connected: true,
			ConnID:    conn.ID(),
			Server:    conn.Server().String(),
		})
	}

	return old
}

// requestReset schedules a reconnect without blocking. A pending request
// already covers a new one.
func (c *Client) requestReset(req resetRequest) {
	select {
	case c.resets <- req:
	default:
	}
}

// connectAny tries the servers round-robin, starting after the one used last,
// and returns the first connection that completes the handshake.
func (c *Client) connectAny(ctx context.Context) (*rpc.Conn, error) {
	errs := multierror.New[string]()

	for i := 0; i < len(c.servers); i++ {
		c.mu.Lock()
		server := c.servers[c.cursor%len(c.servers)]
		c.cursor++
		c.mu.Unlock()

		conn, err := c.connectTo(ctx, server)
		if err == nil {
			return conn, nil
		}

		errs.Add(server.String(), err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("no server is reachable: %w", errs.Combined())
}

func (c *Client) connectTo(ctx context.Context, server rpc.ServerInfo) (*rpc.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.Remote.ConnectTimeout+c.rpcConf.ServerCheckTimeout)
	defer cancel()

	rpcConf := *c.rpcConf
	rpcConf.Dialer = c.dialerFor(server)

	conn, err := rpc.Connect(ctx, server, &rpcConf)
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to connect", "server", server, "err", err)
		return nil, err
	}

	level.Info(c.logger).Log("msg", "connected", "server", server, "conn_id", conn.ID())

	return conn, nil
}

func (c *Client) dialerFor(server rpc.ServerInfo) transport.Dialer {
	if server.TLS {
		return c.tlsDialer
	}

	return c.dialer
}

// connectionLoop is the only place where connections are replaced after
// Start. It reconnects when the push stream ends, when the server asks for a
// reset and when the health check fails.
func (c *Client) connectionLoop(ctx context.Context) {
	level.Info(c.logger).Log("msg", "connection loop started")

	for {
		conn := c.current()

		var (
			streamDone <-chan struct{}
			retry      <-chan time.Time
		)

		if conn != nil {
			streamDone = conn.Done()
		} else {
			retry = time.After(c.conf.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-streamDone:
			c.reconnect(ctx, conn, nil, "push stream closed")
		case <-retry:
			c.reconnect(ctx, nil, nil, "not connected")
		case req := <-c.resets:
			if req.conn != nil && req.conn != conn {
				continue // stale
			}

			c.reconnect(ctx, conn, req.server, req.reason)
		}
	}
}

func (c *Client) reconnect(ctx context.Context, old *rpc.Conn, target *rpc.ServerInfo, reason string) {
	if old != nil {
		level.Warn(c.logger).Log("msg", "dropping connection", "conn_id", old.ID(), "reason", reason)

		old.Abandon()
		c.setConn(nil)

		if err := old.Close(); err != nil {
			level.Debug(c.logger).Log("msg", "failed to close connection", "conn_id", old.ID(), "err", err)
		}
	}

	var (
		conn *rpc.Conn
		err  error
	)

	if target != nil {
		conn, err = c.connectTo(ctx, *target)
	}

	if conn == nil {
		conn, err = c.connectAny(ctx)
	}

	if err != nil {
		level.Error(c.logger).Log("msg", "reconnect failed", "err", err)
		return
	}

	c.setConn(conn)

	// The new server knows nothing about our listens yet.
	c.entries.Range(func(e *cache.Entry) bool {
		if !e.IsDiscarded() {
			e.SetSynced(false)
		}

		return true
	})

	c.worker.Notify()
}

func (c *Client) onConnectReset(server string, port string) {
	req := resetRequest{reason: "reset requested by server"}

	if server != "" {
		info := rpc.ServerInfo{Host: server, Port: rpc.DefaultServerPort}

		if port != "" {
			p, err := strconv.Atoi(port)
			if err != nil {
				level.Warn(c.logger).Log("msg", "ignoring bad reset port", "port", port, "err", err)
			} else {
				info.Port = p
			}
		}

		if conn := c.current(); conn != nil {
			info.TLS = conn.Server().TLS
		}

		req.server = &info
	}

	req.conn = c.current()
	c.requestReset(req)
}

// healthLoop probes the connection when it has been idle for a whole
// interval and drops it if the probe fails.
func (c *Client) healthLoop(ctx context.Context) {
	level.Info(c.logger).Log(
		"msg", "health check loop started",
		"interval", c.conf.HealthCheckInterval,
	)

	for {
		select {
		case <-time.After(c.conf.HealthCheckInterval):
			// noop
		case <-ctx.Done():
			return
		}

		conn := c.current()
		if conn == nil || time.Since(conn.LastActive()) < c.conf.HealthCheckInterval {
			continue
		}

		if err := c.probe(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return
			}

			level.Warn(c.logger).Log("msg", "health check failed", "conn_id", conn.ID(), "err", err)
			c.requestReset(resetRequest{conn: conn, reason: "health check failed"})
		}
	}
}

func (c *Client) probe(ctx context.Context, conn *rpc.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.HealthCheckTimeout)
	defer cancel()

	var resp remote.HealthCheckResponse

	if err := conn.Request(ctx, &remote.HealthCheckRequest{}, &resp); err != nil {
		if nacoserr.IsTimeout(err) {
			return fmt.Errorf("no answer in %s: %w", c.conf.HealthCheckTimeout, err)
		}

		return err
	}

	return nil
}

// tokenLoop keeps the access token fresh.
func (c *Client) tokenLoop(ctx context.Context) {
	for {
		select {
		case <-time.After(c.conf.TokenRefreshInterval):
			// noop
		case <-ctx.Done():
			return
		}

		if err := c.proxy.RefreshIfNeeded(ctx, c.servers); err != nil {
			level.Warn(c.logger).Log("msg", "token refresh failed", "err", err)
		}
	}
}
