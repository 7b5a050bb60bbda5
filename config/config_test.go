package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(key string) string { return env[key] }
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Discovery.AnnouncePeriod.Std())
	assert.Equal(t, "239.255.0.1", cfg.Discovery.MulticastAddress)
}

func TestLoader_YAML(t *testing.T) {
	path := writeFile(t, "semdds.yaml", `
domain_id: 7
log:
  level: debug
  format: json
transport:
  global: lan
  configs:
    - name: lan
      instances: [mcast, bus]
  instances:
    - name: mcast
      kind: udp
      options:
        ttl: "2"
    - name: bus
      kind: nats
      max_send_rate: 500
      burst: 50
discovery:
  announce_period: 500ms
  lease_duration: 2d
durability:
  backend: leveldb
  dir: /var/lib/semdds
`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.DomainID)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 500*time.Millisecond, cfg.Discovery.AnnouncePeriod.Std())
	assert.Equal(t, 48*time.Hour, cfg.Discovery.LeaseDuration.Std())

	bus, ok := cfg.Instance("bus")
	require.True(t, ok)
	assert.Equal(t, 500.0, bus.MaxSendRate)
	mcast, _ := cfg.Instance("mcast")
	assert.Equal(t, "2", mcast.Options["ttl"])

	// untouched sections keep defaults
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoader_JSONLayersAndEnv(t *testing.T) {
	base := writeFile(t, "base.json", `{"domain_id": 1, "nats": {"url": "nats://a:4222"}}`)
	override := writeFile(t, "override.json", `{"domain_id": 2}`)

	l := newTestLoader(map[string]string{
		"SEMDDS_NATS_URL":   "nats://env:4222",
		"SEMDDS_LOG_LEVEL":  "warn",
		"SEMDDS_NATS_TOKEN": "s3cret",
	})
	l.AddLayer(base)
	l.AddLayer(override)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DomainID)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
}

func TestLoader_EnvDomainID(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{"SEMDDS_DOMAIN_ID": "42"}).Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.DomainID)

	_, err = newTestLoader(map[string]string{"SEMDDS_DOMAIN_ID": "x"}).Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = newTestLoader(map[string]string{"SEMDDS_DOMAIN_ID": "500"}).Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoader_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown field", "a.json", `{"domian_id": 1}`},
		{"bad duration", "b.yaml", "discovery:\n  announce_period: soon\n"},
		{"too deep", "c.json", strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)},
		{"wrong extension", "d.toml", `domain_id = 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := newTestLoader(nil).LoadFile(path)
			assert.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative domain", func(c *Config) { c.DomainID = -1 }},
		{"domain above port limit", func(c *Config) { c.DomainID = MaxDomainID + 1 }},
		{"unknown kind", func(c *Config) { c.Transport.Instances[0].Kind = "carrier-pigeon" }},
		{"undefined instance", func(c *Config) {
			c.Transport.Configs[0].Instances = append(c.Transport.Configs[0].Instances, "ghost")
		}},
		{"undefined global", func(c *Config) { c.Transport.Global = "nope" }},
		{"lease not above announce", func(c *Config) { c.Discovery.LeaseDuration = c.Discovery.AnnouncePeriod }},
		{"unknown backend", func(c *Config) { c.Durability.Backend = "tape" }},
		{"leveldb without dir", func(c *Config) { c.Durability.Backend = "leveldb" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			cfg := Default()
			cfg.DomainID = 9
			cfg.Discovery.ResendPeriod = Duration(3 * time.Second)
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := newTestLoader(nil).LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
	assert.Contains(t, Default().String(), "domain_id: 0")
}
