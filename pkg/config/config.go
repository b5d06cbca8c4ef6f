// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration. It is loaded from a YAML
// file and then overridden by environment variables, so secrets can be
// kept out of the file.
type Config struct {
	LogLevel    string             `yaml:"log_level" env:"ZEROCLAW_LOG_LEVEL"`
	Gateway     GatewayConfig      `yaml:"gateway" envPrefix:"ZEROCLAW_GATEWAY_"`
	Heartbeat   HeartbeatConfig    `yaml:"heartbeat"`
	Channels    ChannelsConfig     `yaml:"channels"`
	AckReaction *AckReactionConfig `yaml:"ack_reaction"`
}

type GatewayConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

type HeartbeatConfig struct {
	// Schedule is a cron expression; empty disables the monitor.
	Schedule string `yaml:"schedule"`
}

// ChannelsConfig holds per-adapter sections. A nil section means the
// adapter is not configured and is not started.
type ChannelsConfig struct {
	ACP         *ACPConfig         `yaml:"acp"`
	BlueBubbles *BlueBubblesConfig `yaml:"bluebubbles"`
	DingTalk    *DingTalkConfig    `yaml:"dingtalk"`
	Napcat      *NapcatConfig      `yaml:"napcat"`
}

// ACPConfig configures the subprocess JSON-RPC channel driving an
// OpenCode ACP server.
type ACPConfig struct {
	// OpencodePath is the OpenCode binary (default "opencode").
	OpencodePath string `yaml:"opencode_path"`
	// Workdir is the working directory for the subprocess and the
	// session cwd.
	Workdir   string   `yaml:"workdir"`
	ExtraArgs []string `yaml:"extra_args"`
	// AllowedUsers is the recipient allow-list. Empty means deny all;
	// "*" allows everyone.
	AllowedUsers []string `yaml:"allowed_users"`
	// ResponseChannel names the channel that ACP responses are
	// forwarded to, e.g. "napcat".
	ResponseChannel string `yaml:"response_channel"`
}

type BlueBubblesConfig struct {
	ServerURL string `yaml:"server_url"`
	Password  string `yaml:"password" env:"ZEROCLAW_BLUEBUBBLES_PASSWORD"`
	// AllowedSenders empty means allow all. IgnoreSenders is evaluated
	// first and wins over the allow-list.
	AllowedSenders []string `yaml:"allowed_senders"`
	IgnoreSenders  []string `yaml:"ignore_senders"`
}

type DingTalkConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret" env:"ZEROCLAW_DINGTALK_CLIENT_SECRET"`
	// AllowedUsers empty means deny all; "*" allows everyone.
	AllowedUsers []string `yaml:"allowed_users"`
}

type NapcatConfig struct {
	WebsocketURL string `yaml:"websocket_url"`
	// APIBaseURL is derived from WebsocketURL when empty.
	APIBaseURL  string `yaml:"api_base_url"`
	AccessToken string `yaml:"access_token" env:"ZEROCLAW_NAPCAT_ACCESS_TOKEN"`
	// AllowedUsers empty means allow all.
	AllowedUsers []string `yaml:"allowed_users"`
}

// Load reads the YAML config at path and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Gateway:  GatewayConfig{Host: "127.0.0.1", Port: 8790},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}
	return cfg, nil
}
