package client

import (
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxpoletaev/nacosclient/transport"
)

type Config struct {
	// ServerAddrs lists the servers as "host[:port]" or "http(s)://host:port".
	ServerAddrs []string `koanf:"server_addrs"`
	ContextPath string   `koanf:"context_path"`
	Namespace   string   `koanf:"namespace"`
	Username    string   `koanf:"username"`
	Password    string   `koanf:"password"`
	AppName     string   `koanf:"app_name"`

	// ListenTaskCount is the number of batches the subscribed configs are
	// split into when listening.
	ListenTaskCount      int           `koanf:"listen_task_count"`
	ListenInterval       time.Duration `koanf:"listen_interval"`
	FullSyncInterval     time.Duration `koanf:"full_sync_interval"`
	HealthCheckInterval  time.Duration `koanf:"health_check_interval"`
	HealthCheckTimeout   time.Duration `koanf:"health_check_timeout"`
	TokenRefreshInterval time.Duration `koanf:"token_refresh_interval"`
	RequestTimeout       time.Duration `koanf:"request_timeout"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`

	Remote transport.Options `koanf:"remote"`

	Logger     log.Logger            `koanf:"-"`
	Registerer prometheus.Registerer `koanf:"-"`
	// Dialer overrides the gRPC dialer built from Remote.
	Dialer     transport.Dialer `koanf:"-"`
	HTTPClient *http.Client     `koanf:"-"`
}

func DefaultConfig() Config {
	return Config{
		ContextPath:          "/nacos",
		AppName:              "unknown",
		ListenTaskCount:      4,
		ListenInterval:       5 * time.Second,
		FullSyncInterval:     5 * time.Minute,
		HealthCheckInterval:  5 * time.Second,
		HealthCheckTimeout:   3 * time.Second,
		TokenRefreshInterval: 5 * time.Second,
		RequestTimeout:       3 * time.Second,
		ReconnectDelay:       time.Second,
		Remote:               transport.DefaultOptions(),
		Logger:               log.NewNopLogger(),
	}
}

// withDefaults fills zero fields with the values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.ContextPath == "" {
		c.ContextPath = d.ContextPath
	}

	if c.AppName == "" {
		c.AppName = d.AppName
	}

	if c.ListenTaskCount <= 0 {
		c.ListenTaskCount = d.ListenTaskCount
	}

	setDuration(&c.ListenInterval, d.ListenInterval)
	setDuration(&c.FullSyncInterval, d.FullSyncInterval)
	setDuration(&c.HealthCheckInterval, d.HealthCheckInterval)
	setDuration(&c.HealthCheckTimeout, d.HealthCheckTimeout)
	setDuration(&c.TokenRefreshInterval, d.TokenRefreshInterval)
	setDuration(&c.RequestTimeout, d.RequestTimeout)
	setDuration(&c.ReconnectDelay, d.ReconnectDelay)
	setDuration(&c.Remote.KeepAlive, d.Remote.KeepAlive)
	setDuration(&c.Remote.Timeout, d.Remote.Timeout)
	setDuration(&c.Remote.ConnectTimeout, d.Remote.ConnectTimeout)

	if c.Remote.ConcurrencyLimit <= 0 {
		c.Remote.ConcurrencyLimit = d.Remote.ConcurrencyLimit
	}

	if c.Logger == nil {
		c.Logger = d.Logger
	}

	return c
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}
