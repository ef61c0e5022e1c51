package main

import (
	"strings"

	"github.com/jessevdk/go-flags"
)

const defaultEnvFile = ".env"

var opts struct {
	Server struct {
		Addrs       string `long:"addrs" description:"comma-separated list of server addresses" env:"ADDRS"`
		ContextPath string `long:"context-path" description:"server context path" env:"CONTEXT_PATH"`
		Namespace   string `long:"namespace" description:"namespace (tenant) id" env:"NAMESPACE"`
		Username    string `long:"username" description:"login user name" env:"USERNAME"`
		Password    string `long:"password" description:"login password" env:"PASSWORD"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Listen struct {
		DataIDs string `long:"data-ids" description:"comma-separated list of data ids to listen to" env:"DATA_IDS" required:"true"`
		Group   string `long:"group" description:"config group" env:"GROUP" default:"DEFAULT_GROUP"`
	} `group:"listen" namespace:"listen" env-namespace:"LISTEN"`

	ConfigFile  string `long:"config" description:"YAML config file" env:"CONFIG"`
	EnvFile     string `long:"env-file" description:"dotenv file to load before reading the environment" default:".env"`
	MetricsAddr string `long:"metrics-addr" description:"address to serve prometheus metrics on" env:"METRICS_ADDR"`
	Verbose     bool   `long:"verbose" description:"verbose mode" env:"VERBOSE"`
}

func newParser() *flags.Parser {
	p := flags.NewParser(&opts, flags.Default)
	p.EnvNamespace = "NACOS_LISTEN"

	return p
}

func parseList(list string) []string {
	sl := strings.Split(list, ",")
	res := make([]string, 0, len(sl))

	for _, item := range sl {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			res = append(res, trimmed)
		}
	}

	return res
}

// overrides returns the flags that were set as dotted config keys.
func overrides() map[string]any {
	m := make(map[string]any)

	if addrs := parseList(opts.Server.Addrs); len(addrs) > 0 {
		m["server_addrs"] = addrs
	}

	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}

	set("context_path", opts.Server.ContextPath)
	set("namespace", opts.Server.Namespace)
	set("username", opts.Server.Username)
	set("password", opts.Server.Password)

	return m
}

// envFileArg picks --env-file out of args ahead of the full parse, so the
// dotenv file is loaded before the flags fall back to the environment.
func envFileArg(args []string) string {
	var pre struct {
		EnvFile string `long:"env-file" default:".env"`
	}

	p := flags.NewParser(&pre, flags.IgnoreUnknown)
	if _, err := p.ParseArgs(args); err != nil {
		return defaultEnvFile
	}

	return pre.EnvFile
}
