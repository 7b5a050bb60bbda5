package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/c360/semdds/config"
)

// rootOptions holds the persistent flags and what PersistentPreRunE builds
// from them.
type rootOptions struct {
	configPath  string
	domain      int
	transport   string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	return (&rootOptions{}).command()
}

func (o *rootOptions) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Publish, subscribe and inspect DDS topics",
		Long: `semdds joins a DDS domain as one participant. It publishes JSON samples,
prints the samples of a topic, shows what discovery sees and bridges
topics to WebSocket clients.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "configuration file (JSON or YAML)")
	flags.IntVarP(&o.domain, "domain", "d", 0, "DDS domain id")
	flags.StringVar(&o.transport, "transport", "", "transport kind: udp, nats or inproc (overrides the configured transports)")
	flags.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&o.logFormat, "log-format", "", "log format: json or text")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	cmd.AddCommand(
		newPublishCmd(o),
		newSubscribeCmd(o),
		newSpyCmd(o),
		newBridgeCmd(o),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration, applies the flags that were set and
// installs the root logger.
func (o *rootOptions) load(cmd *cobra.Command) error {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	if o.configPath != "" {
		loader.AddLayer(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("domain") {
		cfg.DomainID = o.domain
	}
	if o.transport != "" {
		cfg.Transport = singleTransport(o.transport)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	o.cfg = cfg
	o.logger = setupLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	slog.SetDefault(o.logger)
	return nil
}

// singleTransport is a transport section with one instance of kind.
// Validate rejects unknown kinds.
func singleTransport(kind string) config.TransportConfig {
	return config.TransportConfig{
		Global:    "default",
		Configs:   []config.TransportGroup{{Name: "default", Instances: []string{kind}}},
		Instances: []config.InstanceConfig{{Name: kind, Kind: kind}},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", appName, Version, BuildTime)
			return err
		},
	}
}
