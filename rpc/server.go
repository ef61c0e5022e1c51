package rpc

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

const (
	// RPCPortOffset is added to the server port to get the port of the gRPC
	// endpoint.
	RPCPortOffset = 1000

	DefaultServerPort = 8848
)

// ServerInfo identifies one cluster member.
type ServerInfo struct {
	Host string
	Port int
	TLS  bool
}

func (s ServerInfo) RPCPort() int {
	return s.Port + RPCPortOffset
}

// Addr returns the address of the gRPC endpoint.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.RPCPort()))
}

// HTTPAddr returns host:port of the HTTP endpoint.
func (s ServerInfo) HTTPAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServerInfo) Scheme() string {
	if s.TLS {
		return "https"
	}

	return "http"
}

func (s ServerInfo) String() string {
	return s.Scheme() + "://" + s.HTTPAddr()
}

// ParseServerInfo accepts "http://host:port", "https://host:port" and
// "host[:port]". The port defaults to 8848 and https implies TLS.
func ParseServerInfo(addr string) (ServerInfo, error) {
	var info ServerInfo

	s := strings.TrimSpace(addr)

	switch {
	case strings.HasPrefix(s, "https://"):
		info.TLS = true
		s = strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "http://"):
		s = strings.TrimPrefix(s, "http://")
	}

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}

	if s == "" {
		return ServerInfo{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "empty server address %q", addr)
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, ok := bareHost(s, err)
		if !ok {
			return ServerInfo{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "malformed server address %q: %v", addr, err)
		}

		info.Host = host
		info.Port = DefaultServerPort

		return info, nil
	}

	if host == "" {
		return ServerInfo{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "missing host in %q", addr)
	}

	info.Host = host

	info.Port, err = strconv.Atoi(port)
	if err != nil || info.Port <= 0 || info.Port > 65535-RPCPortOffset {
		return ServerInfo{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "invalid port in %q", addr)
	}

	return info, nil
}

// bareHost returns the host of an address that has no port: a hostname, an IP
// address or a bracketed IPv6 address.
func bareHost(s string, splitErr error) (string, bool) {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := s[1 : len(s)-1]
		if net.ParseIP(inner) != nil {
			return inner, true
		}

		return "", false
	}

	if net.ParseIP(s) != nil {
		return s, true
	}

	var addrErr *net.AddrError
	if errors.As(splitErr, &addrErr) && addrErr.Err == "missing port in address" && !strings.ContainsAny(s, ":[]") {
		return s, true
	}

	return "", false
}

// ParseServerList parses every address of the list.
func ParseServerList(addrs []string) ([]ServerInfo, error) {
	servers := make([]ServerInfo, 0, len(addrs))

	for _, addr := range addrs {
		info, err := ParseServerInfo(addr)
		if err != nil {
			return nil, err
		}

		servers = append(servers, info)
	}

	return servers, nil
}
