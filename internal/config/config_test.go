package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFrom_YAMLThenEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	path := writeYAML(t, `
api_base_url: http://backend.local/api/
viewer_id: agent-7
page_size: 50
poll_interval_seconds: 5
auto_mark_read: false
`)
	t.Setenv("PAGE_SIZE", "20")
	t.Setenv("CONSOLE_TOKEN", "tok")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend.local/api", cfg.APIBaseURL)
	assert.Equal(t, "agent-7", cfg.ViewerID)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.False(t, cfg.AutoMarkRead)
	assert.Equal(t, "tok", cfg.ConsoleToken)
	assert.Equal(t, TransportWebSocket, cfg.PushTransport)
	assert.Equal(t, 240, cfg.RateLimitPerMinute)
}

func TestLoadFrom_MissingExplicitPath(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFrom_Validation(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	cases := map[string]string{
		"no viewer":      "api_base_url: http://x/api\n",
		"bad role":       "viewer_id: a\nviewer_role: admin\n",
		"bad transport":  "viewer_id: a\npush_transport: carrier-pigeon\n",
		"page too large": "viewer_id: a\npage_size: 1000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(writeYAML(t, body))
			assert.Error(t, err)
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	c := &Config{CORSAllowedOrigins: " http://a.test, ,http://b.test "}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.CORSOrigins())
	c.CORSAllowedOrigins = ""
	assert.Equal(t, []string{"*"}, c.CORSOrigins())
}
