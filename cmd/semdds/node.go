package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/dds"
	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/durability"
	"github.com/c360/semdds/health"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/natsclient"
	"github.com/c360/semdds/pkg/retry"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/transport"
	"github.com/c360/semdds/transport/inproc"
	natstransport "github.com/c360/semdds/transport/nats"
	"github.com/c360/semdds/transport/udp"
)

// hub carries the inproc transport. Every node of the process shares it.
var hub = inproc.NewHub()

// node is one participant with the infrastructure around it.
type node struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
	health   *health.Monitor
	nats     *natsclient.Client
	store    durability.Store
	profiles *qos.Library

	factory     *dds.ParticipantFactory
	participant *dds.Participant
}

// newNode connects the transports and creates the participant.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		health:  health.NewMonitor(),
	}
	if err := n.start(ctx); err != nil {
		_ = n.Close(context.Background())
		return nil, err
	}
	return n, nil
}

func (n *node) usesNATS() bool {
	if n.cfg.Durability.Backend == durability.BackendJetStream {
		return true
	}
	for _, inst := range n.cfg.Transport.Instances {
		if inst.Kind == natstransport.Kind {
			return true
		}
	}
	return false
}

func (n *node) start(ctx context.Context) error {
	cfg := n.cfg
	if n.usesNATS() {
		client, err := natsclient.NewClient(cfg.NATS.URL, n.natsOptions()...)
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		n.nats = client
		if err := client.ConnectWithRetry(ctx, retry.DefaultConfig()); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
	}

	registry := transport.NewRegistry()
	for kind, f := range map[string]transport.Factory{
		udp.Kind:           udp.Factory,
		natstransport.Kind: natstransport.NewFactory(n.nats),
		inproc.Kind:        hub.Factory(),
	} {
		if err := registry.RegisterFactory(kind, f); err != nil {
			return err
		}
	}
	if err := registry.Configure(withMulticast(cfg.Transport, cfg.Discovery.MulticastAddress)); err != nil {
		return fmt.Errorf("configure transports: %w", err)
	}

	store, err := durability.Open(ctx, cfg.Durability, n.nats, n.logger)
	if err != nil {
		return fmt.Errorf("open durability store: %w", err)
	}
	backend := cfg.Durability.Backend
	if backend == "" {
		backend = durability.BackendMemory
	}
	if n.store, err = durability.Instrument(store, n.metrics, backend); err != nil {
		_ = store.Close()
		return fmt.Errorf("instrument durability store: %w", err)
	}

	if cfg.QoSProfiles != "" {
		if n.profiles, err = qos.LoadLibrary(cfg.QoSProfiles); err != nil {
			return fmt.Errorf("load QoS profiles: %w", err)
		}
	}

	deps := dds.FactoryDeps{
		Registry:        registry,
		Logger:          n.logger,
		MetricsRegistry: n.metrics,
		Health:          n.health,
		Transient:       n.store,
		Discovery:       discoveryOptions(cfg.Discovery),
	}
	if backend != durability.BackendMemory {
		deps.Persistent = n.store
	}
	if n.factory, err = dds.NewParticipantFactory(deps); err != nil {
		return err
	}
	n.participant, err = n.factory.CreateParticipant(cfg.DomainID, nil, nil, dds.StatusNone,
		dds.WithParticipantName(appName))
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	n.logger.Info("participant joined domain",
		"domain", cfg.DomainID,
		"participant", n.participant.GetPrefix().String(),
		"transports", registry.Kinds())
	return nil
}

func (n *node) natsOptions() []natsclient.ClientOption {
	nc := n.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait.Std()),
		natsclient.WithName(appName),
		natsclient.WithLogger(n.logger),
		natsclient.WithHealthMonitor(n.health, "nats"),
		natsclient.WithConnectionCallbacks(
			func(err error) { n.logger.Warn("NATS disconnected", "error", err) },
			func() { n.logger.Info("NATS reconnected") },
		),
	}
	if d := nc.PingInterval.Std(); d > 0 {
		opts = append(opts, natsclient.WithPingInterval(d))
	}
	if d := nc.DrainTimeout.Std(); d > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(d))
	}
	switch {
	case nc.Token != "":
		opts = append(opts, natsclient.WithToken(nc.Token))
	case nc.Username != "":
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	return opts
}

// withMulticast sets the configured discovery group on udp instances that
// do not name one.
func withMulticast(tc config.TransportConfig, group string) config.TransportConfig {
	if group == "" {
		return tc
	}
	out := tc
	out.Instances = make([]config.InstanceConfig, len(tc.Instances))
	for i, inst := range tc.Instances {
		if inst.Kind == udp.Kind {
			opts := make(map[string]string, len(inst.Options)+1)
			for k, v := range inst.Options {
				opts[k] = v
			}
			if _, ok := opts["multicast_group"]; !ok {
				opts["multicast_group"] = group
			}
			inst.Options = opts
		}
		out.Instances[i] = inst
	}
	return out
}

func discoveryOptions(dc config.DiscoveryConfig) []discovery.Option {
	var opts []discovery.Option
	if d := dc.AnnouncePeriod.Std(); d > 0 {
		opts = append(opts, discovery.WithAnnouncePeriod(d))
	}
	if d := dc.LeaseDuration.Std(); d > 0 {
		opts = append(opts, discovery.WithLeaseDuration(d))
	}
	if d := dc.ResendPeriod.Std(); d > 0 {
		opts = append(opts, discovery.WithResendPeriod(d))
	}
	return opts
}

// profile resolves a QoS profile from the library, falling back to the
// presets. An empty name is the default profile.
func (n *node) profile(name string) (qos.Profile, error) {
	if name == "" {
		return qos.DefaultProfile(), nil
	}
	if n.profiles != nil {
		return n.profiles.Profile(name)
	}
	if p, ok := qos.Preset(name); ok {
		return p, nil
	}
	return qos.Profile{}, fmt.Errorf("unknown QoS profile %q", name)
}

// ensureType registers a JSON type support unless the participant already
// knows typeName.
func (n *node) ensureType(typeName string, keys []string) error {
	if _, ok := n.participant.LookupType(typeName); ok {
		return nil
	}
	ts, err := dds.NewJSONTypeSupport(typeName, dds.WithKeyFields(keys...))
	if err != nil {
		return err
	}
	return n.participant.RegisterType(ts)
}

// topic returns the named topic. Without a type name it waits for the
// topic to be discovered.
func (n *node) topic(name, typeName string, keys []string, q *qos.TopicQos, wait time.Duration) (*dds.Topic, error) {
	if typeName == "" {
		t, err := n.participant.FindTopic(name, wait)
		if err != nil {
			return nil, fmt.Errorf("find topic %q (pass --type to create it): %w", name, err)
		}
		return t, nil
	}
	if err := n.ensureType(typeName, keys); err != nil {
		return nil, err
	}
	if desc := n.participant.LookupTopicDescription(name); desc != nil {
		if t, ok := desc.(*dds.Topic); ok {
			return t, nil
		}
		return nil, fmt.Errorf("%q is not a topic", name)
	}
	return n.participant.CreateTopic(name, typeName, q, nil, dds.StatusNone)
}

// serve runs fn next to the metrics and health server. fn returning ends
// the servers.
func (n *node) serve(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if addr := n.cfg.Metrics.Addr; addr != "" {
		srv := metric.NewServer(addr, n.cfg.Metrics.Path, n.metrics)
		srv.Handle("/healthz", n.health.Handler(appName))
		g.Go(func() error { return srv.Run(gctx) })
		n.logger.Info("metrics server listening", "addr", addr)
	}
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	err := g.Wait()
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close deletes the participant and releases the store and connection.
func (n *node) Close(ctx context.Context) error {
	var errs []error
	if n.factory != nil {
		errs = append(errs, n.factory.Shutdown())
	}
	if n.store != nil {
		errs = append(errs, n.store.Close())
	}
	if n.nats != nil {
		errs = append(errs, n.nats.Close(ctx))
	}
	return stderrors.Join(errs...)
}

// withNode runs fn on a fresh node and closes it afterwards.
func (o *rootOptions) withNode(ctx context.Context, fn func(context.Context, *node) error) error {
	n, err := newNode(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(context.Background()); err != nil {
			o.logger.Warn("shutdown", "error", err)
		}
	}()
	return n.serve(ctx, func(ctx context.Context) error { return fn(ctx, n) })
}
