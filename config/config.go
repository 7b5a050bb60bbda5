// Package config loads semdds runtime configuration from layered JSON or YAML
// files with SEMDDS_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/semdds/errors"
)

// MaxDomainID is the largest domain id the RTPS port formula can address.
const MaxDomainID = 232

// Known transport kinds.
var transportKinds = map[string]bool{
	"udp":    true,
	"nats":   true,
	"inproc": true,
}

// Known durability backends.
var durabilityBackends = map[string]bool{
	"memory":    true,
	"leveldb":   true,
	"jetstream": true,
}

// Config is the root configuration of a semdds process.
type Config struct {
	DomainID    int              `json:"domain_id" yaml:"domain_id"`
	Log         LogConfig        `json:"log" yaml:"log"`
	Transport   TransportConfig  `json:"transport" yaml:"transport"`
	Discovery   DiscoveryConfig  `json:"discovery" yaml:"discovery"`
	Durability  DurabilityConfig `json:"durability" yaml:"durability"`
	Metrics     MetricsConfig    `json:"metrics" yaml:"metrics"`
	NATS        NATSConfig       `json:"nats" yaml:"nats"`
	QoSProfiles string           `json:"qos_profiles,omitempty" yaml:"qos_profiles,omitempty"`
}

// LogConfig selects the root logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or text
}

// TransportConfig describes transport instances and how they are grouped.
type TransportConfig struct {
	// Global names the config used by participants without a binding.
	Global    string           `json:"global" yaml:"global"`
	Configs   []TransportGroup `json:"configs" yaml:"configs"`
	Instances []InstanceConfig `json:"instances" yaml:"instances"`
}

// TransportGroup is an ordered list of instance names.
type TransportGroup struct {
	Name           string   `json:"name" yaml:"name"`
	Instances      []string `json:"instances" yaml:"instances"`
	PassiveConnect Duration `json:"passive_connect_duration,omitempty" yaml:"passive_connect_duration,omitempty"`
}

// InstanceConfig configures one transport instance.
type InstanceConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Kind        string            `json:"kind" yaml:"kind"`
	Options     map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
	MaxSendRate float64           `json:"max_send_rate,omitempty" yaml:"max_send_rate,omitempty"`
	Burst       int               `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// DiscoveryConfig tunes SPDP/SEDP timing.
type DiscoveryConfig struct {
	AnnouncePeriod   Duration `json:"announce_period" yaml:"announce_period"`
	LeaseDuration    Duration `json:"lease_duration" yaml:"lease_duration"`
	ResendPeriod     Duration `json:"resend_period" yaml:"resend_period"`
	MulticastAddress string   `json:"multicast_address" yaml:"multicast_address"`
}

// DurabilityConfig selects the TRANSIENT/PERSISTENT store.
type DurabilityConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Bucket  string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// MetricsConfig controls the metrics and health HTTP endpoint.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	Path string `json:"path" yaml:"path"`
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string   `json:"url" yaml:"url"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	PingInterval  Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
	DrainTimeout  Duration `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`

	// Token wins over Username/Password when both are set.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DomainID: 0,
		Log:      LogConfig{Level: "info", Format: "text"},
		Transport: TransportConfig{
			Global: "default",
			Configs: []TransportGroup{
				{Name: "default", Instances: []string{"udp"}},
			},
			Instances: []InstanceConfig{
				{Name: "udp", Kind: "udp"},
			},
		},
		Discovery: DiscoveryConfig{
			AnnouncePeriod:   Duration(time.Second),
			LeaseDuration:    Duration(10 * time.Second),
			ResendPeriod:     Duration(5 * time.Second),
			MulticastAddress: "239.255.0.1",
		},
		Durability: DurabilityConfig{Backend: "memory", Bucket: "semdds_durability"},
		Metrics:    MetricsConfig{Addr: "", Path: "/metrics"},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DomainID < 0 || c.DomainID > MaxDomainID {
		return errors.WrapInvalid(
			fmt.Errorf("%w: domain_id %d outside 0..%d", errors.ErrInvalidConfig, c.DomainID, MaxDomainID),
			"Config", "Validate", "domain check")
	}

	instances := make(map[string]bool, len(c.Transport.Instances))
	for _, inst := range c.Transport.Instances {
		if inst.Name == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "transport instance without name")
		}
		if !transportKinds[inst.Kind] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: unknown transport kind %q for %s", errors.ErrInvalidConfig, inst.Kind, inst.Name),
				"Config", "Validate", "transport check")
		}
		if inst.MaxSendRate < 0 || inst.Burst < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: negative rate limit for %s", errors.ErrInvalidConfig, inst.Name),
				"Config", "Validate", "transport check")
		}
		instances[inst.Name] = true
	}

	groups := make(map[string]bool, len(c.Transport.Configs))
	for _, group := range c.Transport.Configs {
		for _, name := range group.Instances {
			if !instances[name] {
				return errors.WrapInvalid(
					fmt.Errorf("%w: config %s references undefined instance %q", errors.ErrInvalidConfig, group.Name, name),
					"Config", "Validate", "transport check")
			}
		}
		groups[group.Name] = true
	}
	if c.Transport.Global != "" && !groups[c.Transport.Global] {
		return errors.WrapInvalid(
			fmt.Errorf("%w: global transport config %q not defined", errors.ErrInvalidConfig, c.Transport.Global),
			"Config", "Validate", "transport check")
	}

	if c.Discovery.AnnouncePeriod < 0 || c.Discovery.LeaseDuration < 0 || c.Discovery.ResendPeriod < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: negative discovery period", errors.ErrInvalidConfig),
			"Config", "Validate", "discovery check")
	}
	if c.Discovery.LeaseDuration > 0 && c.Discovery.LeaseDuration <= c.Discovery.AnnouncePeriod {
		return errors.WrapInvalid(
			fmt.Errorf("%w: lease_duration must exceed announce_period", errors.ErrInvalidConfig),
			"Config", "Validate", "discovery check")
	}

	if c.Durability.Backend != "" && !durabilityBackends[c.Durability.Backend] {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown durability backend %q", errors.ErrInvalidConfig, c.Durability.Backend),
			"Config", "Validate", "durability check")
	}
	if c.Durability.Backend == "leveldb" && c.Durability.Dir == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: leveldb backend requires dir", errors.ErrMissingConfig),
			"Config", "Validate", "durability check")
	}

	return nil
}

// Instance returns the named transport instance config.
func (c *Config) Instance(name string) (InstanceConfig, bool) {
	for _, inst := range c.Transport.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// Duration is a time.Duration that encodes as a string ("100ms", "2d").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "Duration", "UnmarshalJSON", "decode duration")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	parsed, err := parseDurationWithDays(s)
	if err != nil {
		return errors.WrapInvalid(err, "Duration", "parse", fmt.Sprintf("parse %q", s))
	}
	*d = Duration(parsed)
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
