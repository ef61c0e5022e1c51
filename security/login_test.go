package security

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/rpc"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newLoginer() *Loginer {
	l := NewLoginer(nil)
	l.Now = func() time.Time { return fixedNow }

	return l
}

func serverOf(t *testing.T, srv *httptest.Server) rpc.ServerInfo {
	t.Helper()

	info, err := rpc.ParseServerInfo(srv.URL)
	require.NoError(t, err)

	return info
}

func TestLogin_Disabled(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	proxy, err := newLoginer().Login(context.Background(), Credentials{Username: "  "}, serverOf(t, srv), "nacos")
	require.NoError(t, err)
	assert.Empty(t, proxy.AccessToken)
	assert.Equal(t, "/nacos", proxy.ContextPath)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/nacos/v1/auth/users/login", r.URL.Path)
		assert.Equal(t, "nacos", r.PostFormValue("username"))
		assert.Equal(t, "s3cret", r.PostFormValue("password"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ // nolint:errcheck
			"accessToken": "token-1",
			"tokenTtl":    18000,
			"globalAdmin": true,
		})
	}))
	defer srv.Close()

	creds := Credentials{Username: "nacos", Password: "s3cret"}

	proxy, err := newLoginer().Login(context.Background(), creds, serverOf(t, srv), "/nacos/")
	require.NoError(t, err)
	assert.Equal(t, "token-1", proxy.AccessToken)
	assert.Equal(t, 18000*time.Second, proxy.TokenTTL)
	assert.Equal(t, 1800*time.Second, proxy.RefreshWindow)
	assert.Equal(t, fixedNow, proxy.LastRefresh)
	assert.True(t, proxy.GlobalAdmin)
	assert.Equal(t, creds, proxy.Credentials)
}

func TestLogin_TTLFromToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "nacos",
		"exp": fixedNow.Add(time.Hour).Unix(),
	}).SignedString([]byte("key"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"accessToken": token}) // nolint:errcheck
	}))
	defer srv.Close()

	proxy, err := newLoginer().Login(context.Background(), Credentials{Username: "nacos"}, serverOf(t, srv), "")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, proxy.TokenTTL)
	assert.Equal(t, 6*time.Minute, proxy.RefreshWindow)
}

func TestLogin_OpaqueTokenWithoutTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "opaque", "tokenTtl": 0}) // nolint:errcheck
	}))
	defer srv.Close()

	proxy, err := newLoginer().Login(context.Background(), Credentials{Username: "nacos"}, serverOf(t, srv), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, proxy.TokenTTL)
}

func TestLogin_Errors(t *testing.T) {
	tests := map[string]struct {
		handler  http.HandlerFunc
		wantKind *nacoserr.Error
		wantMsg  string
	}{
		"Forbidden": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			wantKind: nacoserr.ErrAuth,
			wantMsg:  "Forbidden",
		},
		"MalformedBody": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>")) // nolint:errcheck
			},
			wantKind: nacoserr.ErrProtocol,
		},
		"NoToken": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"tokenTtl":100}`)) // nolint:errcheck
			},
			wantKind: nacoserr.ErrAuth,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newLoginer().Login(context.Background(), Credentials{Username: "nacos"}, serverOf(t, srv), "/nacos")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, nacoserr.Kind(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLogin_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	info := serverOf(t, srv)
	srv.Close()

	_, err := newLoginer().Login(context.Background(), Credentials{Username: "nacos"}, info, "/nacos")
	assert.ErrorIs(t, err, nacoserr.ErrTransport)
}

func TestNormalizeContextPath(t *testing.T) {
	assert.Equal(t, "", NormalizeContextPath(""))
	assert.Equal(t, "", NormalizeContextPath("/"))
	assert.Equal(t, "/nacos", NormalizeContextPath("nacos"))
	assert.Equal(t, "/nacos", NormalizeContextPath("/nacos/"))
}

func TestProxy_RefreshDue(t *testing.T) {
	p := Proxy{
		TokenTTL:      100 * time.Second,
		RefreshWindow: 10 * time.Second,
		LastRefresh:   fixedNow,
	}

	assert.False(t, p.RefreshDue(fixedNow))
	assert.False(t, p.RefreshDue(fixedNow.Add(89*time.Second)))
	assert.True(t, p.RefreshDue(fixedNow.Add(90*time.Second)))
	assert.True(t, p.RefreshDue(fixedNow.Add(time.Hour)))
}
