package security

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/rpc"
)

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenTTL    int64  `json:"tokenTtl"`
	GlobalAdmin bool   `json:"globalAdmin"`
}

// Loginer performs the login call against a single server.
type Loginer struct {
	Client *http.Client
	Now    func() time.Time
}

func NewLoginer(client *http.Client) *Loginer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	return &Loginer{
		Client: client,
		Now:    time.Now,
	}
}

// Login authenticates against server. With disabled credentials it returns a
// proxy with an empty token without calling the server.
func (l *Loginer) Login(ctx context.Context, creds Credentials, server rpc.ServerInfo, contextPath string) (Proxy, error) {
	contextPath = NormalizeContextPath(contextPath)

	if !creds.Enabled() {
		return Proxy{Credentials: creds, ContextPath: contextPath}, nil
	}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	loginURL := server.Scheme() + "://" + server.HTTPAddr() + contextPath + LoginPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Proxy{}, nacoserr.Wrap(nacoserr.ErrInvalidArgument, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.Client.Do(req)
	if err != nil {
		return Proxy{}, fmt.Errorf("login to %s: %w", server, nacoserr.FromTransport(err))
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Proxy{}, nacoserr.Errorf(nacoserr.ErrAuth, "login to %s: %s", server, reasonPhrase(resp))
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Proxy{}, nacoserr.Wrap(nacoserr.ErrProtocol, fmt.Errorf("login to %s: %w", server, err))
	}

	if body.AccessToken == "" {
		return Proxy{}, nacoserr.Errorf(nacoserr.ErrAuth, "login to %s: no access token in response", server)
	}

	now := l.Now()

	ttl := time.Duration(body.TokenTTL) * time.Second
	if ttl <= 0 {
		ttl = tokenTTL(body.AccessToken, now)
	}

	return Proxy{
		Credentials:   creds,
		AccessToken:   body.AccessToken,
		ContextPath:   contextPath,
		TokenTTL:      ttl,
		LastRefresh:   now,
		RefreshWindow: ttl / 10,
		GlobalAdmin:   body.GlobalAdmin,
	}, nil
}

// tokenTTL reads the expiry of a JWT access token. The signature is not
// verified, the client only needs to know when to refresh.
func tokenTTL(token string, now time.Time) time.Duration {
	claims := jwt.MapClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return DefaultTokenTTL
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return DefaultTokenTTL
	}

	if ttl := exp.Sub(now); ttl > 0 {
		return ttl
	}

	return DefaultTokenTTL
}

func reasonPhrase(resp *http.Response) string {
	phrase := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if phrase == "" {
		phrase = http.StatusText(resp.StatusCode)
	}

	return phrase
}

// NormalizeContextPath returns the path with a leading and without a trailing
// slash. An empty path stays empty.
func NormalizeContextPath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}

	return "/" + path
}
