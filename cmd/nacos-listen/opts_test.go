package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFileArg(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"Default": {
			args: []string{"--data-ids", "a.yaml"},
			want: ".env",
		},
		"Separate": {
			args: []string{"--verbose", "--env-file", "prod.env", "--data-ids", "a.yaml"},
			want: "prod.env",
		},
		"Inline": {
			args: []string{"--env-file=prod.env"},
			want: "prod.env",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, envFileArg(tt.args))
		})
	}
}

func TestLoadEnvFile_FeedsFlagFallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listen.env")
	content := "NACOS_LISTEN_LISTEN_DATA_IDS=a.yaml,b.yaml\nNACOS_LISTEN_SERVER_ADDRS=10.0.0.1:8848\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Cleanup(func() {
		os.Unsetenv("NACOS_LISTEN_LISTEN_DATA_IDS")
		os.Unsetenv("NACOS_LISTEN_SERVER_ADDRS")
	})

	args := []string{"--env-file", path}
	require.NoError(t, loadEnvFile(envFileArg(args)))

	_, err := newParser().ParseArgs(args)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.yaml", "b.yaml"}, parseList(opts.Listen.DataIDs))
	assert.Equal(t, "10.0.0.1:8848", opts.Server.Addrs)
}

func TestLoadEnvFile_Missing(t *testing.T) {
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, loadEnvFile(""))
}
