package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/qmiloc/loc"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(k string) string { return env[k] }
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	mask, err := cfg.Client.EventMask()
	require.NoError(t, err)
	assert.Equal(t, loc.EventPositionReport|loc.EventFixSessionState|loc.EventNMEA, mask)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL())
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeConfig(t, "qmiloc.json", `{
		"client": {
			"request_timeout": "750ms",
			"events": ["position_report", "geofence_breach"],
			"rate_limit": 5,
			"rate_burst": 2,
			"ni_timeout": "30s"
		},
		"nats": {
			"urls": ["nats://a:4222", "nats://b:4222"],
			"channel": "modem1",
			"reconnect_wait": "5s",
			"ping_interval": "10s"
		},
		"metrics": {"enabled": true, "port": 9191},
		"simulator": {"fix_interval": "1s", "latitude": 37.4, "longitude": -122.1}
	}`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Client.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Client.NITimeout)
	assert.Equal(t, 256, cfg.Client.QueueSize, "untouched field keeps its default")
	assert.Equal(t, 5.0, cfg.Client.RateLimit)
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.NATS.URL())
	assert.Equal(t, "modem1", cfg.NATS.Channel)
	assert.Equal(t, "qmiloc", cfg.NATS.Prefix)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 10*time.Second, cfg.NATS.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.NATS.DrainTimeout, "untouched field keeps its default")
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, time.Second, cfg.Simulator.FixInterval)
	assert.Equal(t, 37.4, cfg.Simulator.Latitude)

	mask, err := cfg.Client.EventMask()
	require.NoError(t, err)
	assert.Equal(t, loc.EventPositionReport|loc.EventGeofenceBreach, mask)
}

func TestLoader_Layers(t *testing.T) {
	base := writeConfig(t, "base.json", `{"log": {"level": "debug"}, "nats": {"channel": "base"}}`)
	site := writeConfig(t, "site.json", `{"nats": {"channel": "site"}}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(site)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "site", cfg.NATS.Channel)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "qmiloc.json", `{"nats": {"channel": "file"}}`)
	l := newTestLoader(map[string]string{
		"QMILOC_NATS_URLS":     "nats://x:1,nats://y:2",
		"QMILOC_NATS_CHANNEL":  "env",
		"QMILOC_LOG_FORMAT":    "text",
		"QMILOC_METRICS_PORT":  "9300",
		"QMILOC_NATS_PASSWORD": "secret",
		"QMILOC_NATS_USERNAME": "loc",
	})
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://x:1", "nats://y:2"}, cfg.NATS.URLs)
	assert.Equal(t, "env", cfg.NATS.Channel)
	assert.Equal(t, FormatText, cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.NotContains(t, cfg.String(), "secret")

	_, err = newTestLoader(map[string]string{"QMILOC_METRICS_PORT": "x"}).Load()
	assert.Error(t, err)
	_, err = newTestLoader(map[string]string{"QMILOC_NATS_TOKEN": "a\x00b"}).Load()
	assert.ErrorContains(t, err, "null byte")
}

func TestLoader_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"not json extension", "qmiloc.yaml", `{}`, "only JSON"},
		{"bad duration", "a.json", `{"client": {"request_timeout": "soon"}}`, "client.request_timeout"},
		{"bad json", "b.json", `{"client": `, "unclosed"},
		{"too deep", "c.json", strings.Repeat("[", 40) + strings.Repeat("]", 40), "too deep"},
		{"invalid result", "d.json", `{"client": {"events": ["warp_drive"]}}`, "unknown event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil).LoadFile(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeConfig(t, "qmiloc.json", `{"client": {"queue_size": 0}}`)
	l := newTestLoader(nil)
	l.EnableValidation(false)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Client.QueueSize)
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Client.RequestTimeout = 0 }, "request_timeout"},
		{"zero queue", func(c *Config) { c.Client.QueueSize = 0 }, "queue_size"},
		{"zero ni timeout", func(c *Config) { c.Client.NITimeout = 0 }, "ni_timeout"},
		{"negative rate", func(c *Config) { c.Client.RateLimit = -1 }, "rate_limit"},
		{"rate without burst", func(c *Config) { c.Client.RateLimit = 2 }, "rate_burst"},
		{"no urls", func(c *Config) { c.NATS.URLs = nil }, "urls"},
		{"blank url", func(c *Config) { c.NATS.URLs = []string{" "} }, "urls[0]"},
		{"dotted channel", func(c *Config) { c.NATS.Channel = "a.b" }, "channel"},
		{"wildcard prefix", func(c *Config) { c.NATS.Prefix = "qmi.*" }, "prefix"},
		{"zero ping interval", func(c *Config) { c.NATS.PingInterval = 0 }, "ping_interval"},
		{"zero drain timeout", func(c *Config) { c.NATS.DrainTimeout = 0 }, "drain_timeout"},
		{"token and user", func(c *Config) { c.NATS.Token, c.NATS.Username = "t", "u" }, "mutually exclusive"},
		{"metrics port", func(c *Config) { c.Metrics.Enabled, c.Metrics.Port = true, 70000 }, "metrics.port"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled, c.Metrics.Path = true, "metrics" }, "metrics.path"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "format"},
		{"latitude", func(c *Config) { c.Simulator.Latitude = 91 }, "latitude"},
		{"geofences", func(c *Config) { c.Simulator.MaxGeofences = -1 }, "max_geofences"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := Default()
	cfg.Metrics.Port = 0
	assert.NoError(t, cfg.Validate(), "port is only checked when metrics are enabled")
}

func TestConfig_SaveAndReload(t *testing.T) {
	cfg := Default()
	cfg.NATS.Channel = "saved"
	cfg.Client.Events = []string{"batch_full"}
	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	assert.Error(t, cfg.SaveToFile(filepath.Join(t.TempDir(), "saved.txt")))
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	got := sc.Get()
	got.NATS.URLs[0] = "mutated"
	assert.Equal(t, "nats://localhost:4222", sc.Get().NATS.URLs[0], "Get returns a copy")

	bad := Default()
	bad.Client.QueueSize = 0
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	const readers, writers = 20, 5
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ch := sc.Get().NATS.Channel
				if ch != "modem0" && !strings.HasPrefix(ch, "w") {
					errs <- fmt.Errorf("unexpected channel %q", ch)
					return
				}
			}
		}()
	}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				cfg := Default()
				cfg.NATS.Channel = fmt.Sprintf("w%d-%d", i, j)
				if err := sc.Update(cfg); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
