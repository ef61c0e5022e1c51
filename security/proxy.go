// Package security keeps the access token shared by all outbound calls and
// refreshes it against the server list shortly before it expires.
package security

import (
	"strings"
	"time"
)

const (
	// AccessTokenHeader carries the token on every request.
	AccessTokenHeader = "accessToken"

	LoginPath = "/v1/auth/users/login"

	// DefaultTokenTTL is used when neither the login response nor the token
	// itself tells when the token expires.
	DefaultTokenTTL = 5 * time.Hour
)

type Credentials struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// Enabled reports whether authentication is configured.
func (c Credentials) Enabled() bool {
	return strings.TrimSpace(c.Username) != ""
}

// Proxy is the state produced by a successful login.
type Proxy struct {
	Credentials   Credentials
	AccessToken   string
	ContextPath   string
	TokenTTL      time.Duration
	LastRefresh   time.Time
	RefreshWindow time.Duration
	GlobalAdmin   bool
}

// RefreshDue reports whether the token has to be refreshed at now: the
// refresh happens one window before the token expires.
func (p Proxy) RefreshDue(now time.Time) bool {
	return now.Sub(p.LastRefresh) >= p.TokenTTL-p.RefreshWindow
}
