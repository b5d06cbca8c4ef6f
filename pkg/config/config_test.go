package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	assert.Equal(t, 8790, cfg.Gateway.Port)
	assert.Nil(t, cfg.Channels.ACP)
	assert.Nil(t, cfg.Channels.BlueBubbles)
	assert.Nil(t, cfg.Channels.DingTalk)
	assert.Nil(t, cfg.Channels.Napcat)
	assert.Nil(t, cfg.AckReaction)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log_level: debug
gateway:
  host: 0.0.0.0
  port: 9000
heartbeat:
  schedule: "*/5 * * * *"
channels:
  acp:
    opencode_path: /usr/local/bin/opencode
    workdir: /srv/agent
    allowed_users: ["alice"]
    response_channel: napcat
  bluebubbles:
    server_url: http://localhost:1234
    password: hunter2
    ignore_senders: ["spam@example.com"]
  dingtalk:
    client_id: key
    client_secret: secret
    allowed_users: ["*"]
  napcat:
    websocket_url: ws://localhost:3001
    access_token: tok
ack_reaction:
  enabled: true
  strategy: first
  emojis: ["👍"]
  rules:
    - patterns: ["^urgent"]
      suppress: true
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "*/5 * * * *", cfg.Heartbeat.Schedule)

	require.NotNil(t, cfg.Channels.ACP)
	assert.Equal(t, "/usr/local/bin/opencode", cfg.Channels.ACP.OpencodePath)
	assert.Equal(t, "napcat", cfg.Channels.ACP.ResponseChannel)

	require.NotNil(t, cfg.Channels.BlueBubbles)
	assert.Equal(t, "hunter2", cfg.Channels.BlueBubbles.Password)
	assert.Equal(t, []string{"spam@example.com"}, cfg.Channels.BlueBubbles.IgnoreSenders)

	require.NotNil(t, cfg.Channels.DingTalk)
	assert.Equal(t, []string{"*"}, cfg.Channels.DingTalk.AllowedUsers)

	require.NotNil(t, cfg.Channels.Napcat)
	assert.Equal(t, "tok", cfg.Channels.Napcat.AccessToken)

	require.NotNil(t, cfg.AckReaction)
	require.Len(t, cfg.AckReaction.Rules, 1)
	assert.True(t, cfg.AckReaction.Rules[0].Suppress)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ZEROCLAW_LOG_LEVEL", "warn")
	t.Setenv("ZEROCLAW_GATEWAY_PORT", "9999")
	t.Setenv("ZEROCLAW_BLUEBUBBLES_PASSWORD", "from-env")

	cfg, err := Load(writeConfig(t, `
log_level: debug
channels:
  bluebubbles:
    server_url: http://localhost:1234
    password: from-file
`))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "from-env", cfg.Channels.BlueBubbles.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
