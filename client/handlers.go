package client

import (
	"context"

	"github.com/maxpoletaev/nacosclient/cache"
	"github.com/maxpoletaev/nacosclient/push"
	"github.com/maxpoletaev/nacosclient/remote"
)

func (c *Client) registerHandlers() {
	c.dispatcher.Register(push.HealthCheckHandler())
	c.dispatcher.Register(push.ClientDetectionHandler())

	c.dispatcher.Register(push.ConnectResetHandler(func(req *remote.ConnectResetRequest) {
		c.onConnectReset(req.ServerIP, req.ServerPort)
	}))

	c.dispatcher.Register(push.HandleFunc(c.handleConfigChangeNotify))
}

// handleConfigChangeNotify marks the config as out of sync and wakes up the
// worker, which fetches the new content.
func (c *Client) handleConfigChangeNotify(_ context.Context, req *remote.ConfigChangeNotifyRequest) (remote.ServerResponse, error) {
	key := cache.GroupKey{DataID: req.DataID, Group: req.Group, Tenant: req.Tenant}

	if e, ok := c.entries.Get(key); ok && !e.IsDiscarded() {
		e.SetSynced(false)
		c.worker.Notify()
	}

	return &remote.ConfigChangeNotifyResponse{Response: remote.NewResponse()}, nil
}
