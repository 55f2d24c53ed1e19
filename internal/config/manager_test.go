package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
http:
  addr: ":0"
  read_timeout: "5s"
lexicons:
  dir: "./lexicons"
profiles:
  path: "./profiles.yaml"
dispatch:
  retry_jitter: 0.2
  channel_timeout: "2s"
adapters:
  webhooks:
    - channel_id: "blog"
      url: "http://localhost:9000/hooks/blog"
analytics:
  driver: "file"
  path: "./analytics.jsonl"
  retention: "720h"
`

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeConfig(t, t.TempDir(), "config.yaml", validYAML)
	m := NewManager(p)

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ":0", cfg.HTTP.Addr)
	assert.Equal(t, "./lexicons", cfg.Lexicons.Dir)
	assert.Equal(t, 0.2, cfg.Dispatch.RetryJitter)
	require.Len(t, cfg.Adapters.Webhooks, 1)
	assert.Equal(t, "blog", cfg.Adapters.Webhooks[0].ChannelID)
	require.NotNil(t, cfg.Analytics)
	assert.Equal(t, "file", cfg.Analytics.Driver)
	assert.Same(t, cfg, m.Get())
}

func TestLoadJSON(t *testing.T) {
	body := `{"lexicons":{"dir":"./lex"},"profiles":{"path":"./p.yaml"},"adapters":{}}`
	p := writeConfig(t, t.TempDir(), "config.json", body)

	cfg, err := NewManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "./lex", cfg.Lexicons.Dir)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	body := validYAML + "\nbogus_section:\n  x: 1\n"
	p := writeConfig(t, t.TempDir(), "config.yaml", body)

	_, err := NewManager(p).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_section")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Lexicons: LexiconsConfig{Dir: "./lexicons"},
			Profiles: ProfilesConfig{Path: "./profiles.yaml"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing lexicons dir", func(c *Config) { c.Lexicons.Dir = " " }, "lexicons.dir"},
		{"missing profiles path", func(c *Config) { c.Profiles.Path = "" }, "profiles.path"},
		{"negative negation window", func(c *Config) { c.Analyzer.NegationWindow = -1 }, "negation_window"},
		{"jitter out of range", func(c *Config) { c.Dispatch.RetryJitter = 1.5 }, "retry_jitter"},
		{"bad duration", func(c *Config) { c.Cache.TTL = "soon" }, "cache.ttl"},
		{"negative duration", func(c *Config) { c.Dispatch.RetryBase = "-1s" }, "dispatch.retry_base"},
		{"webhook without id", func(c *Config) {
			c.Adapters.Webhooks = []WebhookAdapterConfig{{URL: "http://x"}}
		}, "channel_id"},
		{"duplicate webhook id", func(c *Config) {
			c.Adapters.Webhooks = []WebhookAdapterConfig{
				{ChannelID: "blog", URL: "http://a"},
				{ChannelID: "blog", URL: "http://b"},
			}
		}, "duplicate"},
		{"unknown analytics driver", func(c *Config) {
			c.Analytics = &AnalyticsConfig{Driver: "postgres"}
		}, "unknown driver"},
		{"bad retention", func(c *Config) {
			c.Analytics = &AnalyticsConfig{Driver: "sqlite", Retention: "monthly"}
		}, "analytics.retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 1500ms ")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "5")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "config.yaml", validYAML)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Wait for the watcher to be registered before touching the file.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "config.yaml", validYAML+"\nlogging:\n  level: \"debug\"\n")

	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}

	cancel()
	<-done
}

func TestWatchKeepsPreviousOnInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "config.yaml", validYAML)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "config.yaml", "lexicons:\n  dir: \"\"\nprofiles:\n  path: \"./p\"\n")

	select {
	case <-sub:
		t.Fatal("invalid config must not be published")
	case <-time.After(time.Second):
	}
	assert.Equal(t, "./lexicons", m.Get().Lexicons.Dir)
}

func TestWatchSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "config.yaml", validYAML)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	time.Sleep(100 * time.Millisecond)
	// Same bytes: hash matches the committed config, no publish.
	writeConfig(t, dir, "config.yaml", validYAML)

	select {
	case <-sub:
		t.Fatal("identical content must not be republished")
	case <-time.After(time.Second):
	}
}

func TestSubscribeDropsStaleSnapshot(t *testing.T) {
	m := NewManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(a)
	m.publish(b)

	got := <-sub
	assert.Same(t, b, got)
}
