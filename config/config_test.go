package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "")
	t.Setenv("TWITCH_CHANNEL", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBDsn == "" {
		t.Error("expected default DB DSN, got empty")
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "data")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if len(cfg.Channels) != 0 {
		t.Errorf("Channels = %v, want none", cfg.Channels)
	}
}

func TestLoadChannelList(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "general, dev ,, ops")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"general", "dev", "ops"}
	if len(cfg.Channels) != len(want) {
		t.Fatalf("Channels = %v, want %v", cfg.Channels, want)
	}
	for i := range want {
		if cfg.Channels[i] != want[i] {
			t.Errorf("Channels[%d] = %q, want %q", i, cfg.Channels[i], want[i])
		}
	}
}

func TestLoadSingleChannelFallback(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "")
	t.Setenv("TWITCH_CHANNEL", "general")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "general" {
		t.Errorf("Channels = %v, want [general]", cfg.Channels)
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNELS", "general")
	t.Setenv("TWITCH_BOT_USERNAME", "meetbot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}

	t.Setenv("TWITCH_OAUTH_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error when token missing")
	}
}
