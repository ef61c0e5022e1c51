// Package confloader fills the client configuration from a YAML file, the
// environment and command line overrides, in that order of precedence.
package confloader

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/maxpoletaev/nacosclient/transport"
)

// DefaultEnvPrefix is the prefix of the variables that map onto config keys.
// Nested keys are separated by a double underscore, so
// NACOS_CLIENT_REMOTE__KEEP_ALIVE sets remote.keep_alive.
const DefaultEnvPrefix = "NACOS_CLIENT_"

var errReadBytesNotSupported = errors.New("map provider does not support ReadBytes")

type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	logger    log.Logger
}

type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

func WithLogger(logger log.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		logger:    log.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load reads the file, if any, then the environment, and unmarshals the
// result into target. Fields of target that no source mentions keep their
// values, so target is usually pre-filled with defaults.
func (l *Loader) Load(target any) error {
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}

	if err := l.LoadEnv(); err != nil {
		return err
	}

	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}

	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	return nil
}

func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)

		return strings.ReplaceAll(s, "__", ".")
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("failed to load env: %w", err)
	}

	return nil
}

// LoadMap applies overrides given as dotted keys, such as parsed flags.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("failed to load overrides: %w", err)
	}

	return nil
}

func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}

func (l *Loader) Keys() []string {
	return l.k.Keys()
}

type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Remote properties, read from the environment either verbatim or in the
// upper case underscore form (NACOS_REMOTE_GRPC_TIMEOUT_MILLIS).
const (
	remotePrefix      = "nacos.remote.grpc."
	remoteEnvPrefix   = "NACOS_REMOTE_GRPC_"
	keepAliveKey      = "keep.alive.millis"
	timeoutKey        = "timeout.millis"
	connectTimeoutKey = "connect.timeout.millis"
	concurrencyKey    = "concurrency.limit"
)

// RemoteOptions overrides base with the remote properties found in the
// environment. A value that is not a positive integer is ignored with a
// warning and the value from base is kept.
func (l *Loader) RemoteOptions(base transport.Options) transport.Options {
	k := koanf.New("|")

	upper := func(s string) string {
		s = strings.TrimPrefix(s, remoteEnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}

	dotted := func(s string) string {
		return strings.TrimPrefix(s, remotePrefix)
	}

	for _, p := range []*env.Env{
		env.Provider(remoteEnvPrefix, "|", upper),
		env.Provider(remotePrefix, "|", dotted),
	} {
		if err := k.Load(p, nil); err != nil {
			level.Warn(l.logger).Log("msg", "failed to read remote properties", "err", err)
		}
	}

	opts := base

	if v, ok := l.positiveInt(k, keepAliveKey); ok {
		opts.KeepAlive = time.Duration(v) * time.Millisecond
	}

	if v, ok := l.positiveInt(k, timeoutKey); ok {
		opts.Timeout = time.Duration(v) * time.Millisecond
	}

	if v, ok := l.positiveInt(k, connectTimeoutKey); ok {
		opts.ConnectTimeout = time.Duration(v) * time.Millisecond
	}

	if v, ok := l.positiveInt(k, concurrencyKey); ok {
		opts.ConcurrencyLimit = int(v)
	}

	return opts
}

func (l *Loader) positiveInt(k *koanf.Koanf, key string) (int64, bool) {
	if !k.Exists(key) {
		return 0, false
	}

	raw := strings.TrimSpace(k.String(key))

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		level.Warn(l.logger).Log("msg", "ignoring bad remote property", "key", remotePrefix+key, "value", raw)
		return 0, false
	}

	return v, true
}
