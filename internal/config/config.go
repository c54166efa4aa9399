// Package config loads the relay configuration from YAML with sane defaults
// for every tunable the protocol exposes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Limits     LimitsConfig     `yaml:"limits"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Auth       AuthConfig       `yaml:"auth"`
	Court      CourtConfig      `yaml:"court"`
	Reputation ReputationConfig `yaml:"reputation"`
	Admin      AdminConfig      `yaml:"admin"`
	Events     EventsConfig     `yaml:"events"`
	LogLevel   string           `yaml:"log_level"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	DataDir string `yaml:"data_dir"`
	Env     string `yaml:"env"`
}

type LimitsConfig struct {
	FrameMaxBytes      int `yaml:"frame_max_bytes"`
	ContentMaxChars    int `yaml:"content_max_chars"`
	PreAuthMessages    int `yaml:"preauth_messages"`
	PreAuthWindowSecs  int `yaml:"preauth_window_seconds"`
	PostAuthMessages   int `yaml:"postauth_messages"`
	PostAuthWindowSecs int `yaml:"postauth_window_seconds"`
	MsgPerSecond       int `yaml:"msg_per_second"`
	FileChunkPerSecond int `yaml:"file_chunk_per_second"`
	MaxConnsPerIP      int `yaml:"max_conns_per_ip"`
	FileChunkMaxBytes  int `yaml:"file_chunk_max_bytes"`
}

type ChannelsConfig struct {
	BufferSize     int      `yaml:"buffer_size"`
	Defaults       []string `yaml:"defaults"`
	FloorTTLSecs   int      `yaml:"floor_ttl_seconds"`
	IdlePromptSecs int      `yaml:"idle_prompt_seconds"`
}

type AuthConfig struct {
	ChallengeTTLSecs int    `yaml:"challenge_ttl_seconds"`
	AllowlistEnabled bool   `yaml:"allowlist_enabled"`
	AllowlistFile    string `yaml:"allowlist_file"`
}

type CourtConfig struct {
	Enabled           bool `yaml:"enabled"`
	RevealTTLSecs     int  `yaml:"reveal_ttl_seconds"`
	ArbiterTTLSecs    int  `yaml:"arbiter_response_ttl_seconds"`
	EvidenceTTLSecs   int  `yaml:"evidence_ttl_seconds"`
	VoteTTLSecs       int  `yaml:"vote_ttl_seconds"`
	ArbiterStake      int  `yaml:"arbiter_stake"`
	MinArbiterRating  int  `yaml:"min_arbiter_rating"`
	MinArbiterTxCount int  `yaml:"min_arbiter_transactions"`
}

type ReputationConfig struct {
	RatingsFile string `yaml:"ratings_file"`
}

type AdminConfig struct {
	Key      string `yaml:"key"`
	BansFile string `yaml:"bans_file"`
}

type EventsConfig struct {
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// Default returns the baseline configuration the relay runs with when no
// file overrides are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8787",
			DataDir: "data",
			Env:     "development",
		},
		Limits: LimitsConfig{
			FrameMaxBytes:      256 * 1024,
			ContentMaxChars:    4096,
			PreAuthMessages:    10,
			PreAuthWindowSecs:  10,
			PostAuthMessages:   60,
			PostAuthWindowSecs: 10,
			MsgPerSecond:       1,
			FileChunkPerSecond: 10,
			MaxConnsPerIP:      8,
			FileChunkMaxBytes:  64 * 1024,
		},
		Channels: ChannelsConfig{
			BufferSize:     20,
			Defaults:       []string{"#general", "#discovery", "#bounties"},
			FloorTTLSecs:   45,
			IdlePromptSecs: 300,
		},
		Auth: AuthConfig{
			ChallengeTTLSecs: 30,
		},
		Court: CourtConfig{
			Enabled:           true,
			RevealTTLSecs:     300,
			ArbiterTTLSecs:    1800,
			EvidenceTTLSecs:   3600,
			VoteTTLSecs:       3600,
			ArbiterStake:      25,
			MinArbiterRating:  1200,
			MinArbiterTxCount: 10,
		},
		Reputation: ReputationConfig{
			RatingsFile: "ratings.json",
		},
		Admin: AdminConfig{
			BansFile: "bans.json",
		},
		Events: EventsConfig{
			RedisChannel: "agentchat:events",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the relay cannot safely run with.
func (c *Config) Validate() error {
	if c.Limits.FrameMaxBytes <= 0 {
		return fmt.Errorf("limits.frame_max_bytes must be positive")
	}
	if c.Limits.ContentMaxChars <= 0 {
		return fmt.Errorf("limits.content_max_chars must be positive")
	}
	if c.Channels.BufferSize <= 0 {
		return fmt.Errorf("channels.buffer_size must be positive")
	}
	if c.Auth.AllowlistEnabled && c.Auth.AllowlistFile == "" {
		return fmt.Errorf("auth.allowlist_file required when allowlist is enabled")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	return nil
}

func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.Auth.ChallengeTTLSecs) * time.Second
}

func (c *Config) FloorTTL() time.Duration {
	return time.Duration(c.Channels.FloorTTLSecs) * time.Second
}

func (c *Config) IdlePrompt() time.Duration {
	return time.Duration(c.Channels.IdlePromptSecs) * time.Second
}
