package dds

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/durability"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/health"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/transport"
)

// Default timing of the participant housekeeping loop.
const (
	DefaultHeartbeatPeriod = 100 * time.Millisecond
	DefaultTickPeriod      = 20 * time.Millisecond
)

// FactoryDeps holds the collaborators shared by every participant the
// factory creates.
type FactoryDeps struct {
	// Registry builds the transports of each participant. Required.
	Registry *transport.Registry

	Logger          *slog.Logger
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry
	Health          *health.Monitor

	// Transient backs TRANSIENT writers. A memory store is used when nil.
	Transient durability.Store
	// Persistent backs PERSISTENT writers. Creating a PERSISTENT writer
	// fails with Unsupported when nil.
	Persistent durability.Store

	Discovery       []discovery.Option
	HeartbeatPeriod time.Duration
	TickPeriod      time.Duration
}

// ParticipantFactory creates and tracks domain participants.
type ParticipantFactory struct {
	deps   FactoryDeps
	logger *slog.Logger

	handles atomic.Int64

	mu           sync.Mutex
	qos          qos.ParticipantFactoryQos
	defaultQos   qos.ParticipantQos
	participants map[InstanceHandle]*Participant
	closed       bool
}

// NewParticipantFactory creates a factory.
func NewParticipantFactory(deps FactoryDeps) (*ParticipantFactory, error) {
	if deps.Registry == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "ParticipantFactory", "New", "transport registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil && deps.MetricsRegistry != nil {
		deps.Metrics = deps.MetricsRegistry.CoreMetrics()
	}
	if deps.Transient == nil {
		deps.Transient = durability.NewMemoryStore()
	}
	if deps.HeartbeatPeriod <= 0 {
		deps.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if deps.TickPeriod <= 0 {
		deps.TickPeriod = DefaultTickPeriod
	}
	return &ParticipantFactory{
		deps:         deps,
		logger:       deps.Logger.With("component", "dds"),
		qos:          qos.DefaultParticipantFactoryQos(),
		defaultQos:   qos.DefaultParticipantQos(),
		participants: make(map[InstanceHandle]*Participant),
	}, nil
}

func (f *ParticipantFactory) nextHandle() InstanceHandle {
	return InstanceHandle(f.handles.Add(1))
}

// ParticipantOption configures a participant at creation.
type ParticipantOption func(*participantConfig)

type participantConfig struct {
	name string
}

// WithParticipantName names the participant. The name is announced in
// discovery and selects the transport config bound to it in the registry.
func WithParticipantName(name string) ParticipantOption {
	return func(c *participantConfig) {
		c.name = name
	}
}

// CreateParticipant creates a participant on a domain. A nil QoS uses the
// factory default. The participant is enabled when the factory QoS says so.
func (f *ParticipantFactory) CreateParticipant(domainID int, q *qos.ParticipantQos, l Listener, mask StatusMask, opts ...ParticipantOption) (*Participant, error) {
	if domainID < 0 {
		return nil, errors.Failf(errors.RetcodeBadParameter, "ParticipantFactory", "CreateParticipant", "domain %d is negative", domainID)
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errors.Fail(errors.RetcodeAlreadyDeleted, "ParticipantFactory", "CreateParticipant", "factory is shut down")
	}
	pq := f.defaultQos.Clone()
	autoenable := f.qos.EntityFactory.AutoenableCreatedEntities
	f.mu.Unlock()
	if q != nil {
		pq = q.Clone()
	}
	if err := qos.CheckParticipantQos(pq); err != nil {
		return nil, err
	}
	var cfg participantConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := newParticipant(f, domainID, pq, l, mask, cfg)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.participants[p.handle] = p
	f.mu.Unlock()

	if autoenable {
		if err := p.Enable(); err != nil {
			f.mu.Lock()
			delete(f.participants, p.handle)
			f.mu.Unlock()
			p.close()
			return nil, err
		}
	}
	return p, nil
}

// DeleteParticipant deletes a participant that holds no entities.
func (f *ParticipantFactory) DeleteParticipant(p *Participant) error {
	if p == nil {
		return errors.Fail(errors.RetcodeBadParameter, "ParticipantFactory", "DeleteParticipant", "participant is nil")
	}
	f.mu.Lock()
	if _, ok := f.participants[p.handle]; !ok || p.factory != f {
		f.mu.Unlock()
		return errors.Fail(errors.RetcodePreconditionNotMet, "ParticipantFactory", "DeleteParticipant", "participant belongs to another factory")
	}
	f.mu.Unlock()
	if p.hasContainedEntities() {
		return errors.Fail(errors.RetcodePreconditionNotMet, "ParticipantFactory", "DeleteParticipant", "participant still contains entities")
	}
	f.mu.Lock()
	delete(f.participants, p.handle)
	f.mu.Unlock()
	p.close()
	return nil
}

// LookupParticipant returns a participant of the domain, or nil.
func (f *ParticipantFactory) LookupParticipant(domainID int) *Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *Participant
	for _, p := range f.participants {
		if p.domainID == domainID && (found == nil || p.handle < found.handle) {
			found = p
		}
	}
	return found
}

// GetDefaultParticipantQos returns the QoS used when none is given.
func (f *ParticipantFactory) GetDefaultParticipantQos() qos.ParticipantQos {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaultQos.Clone()
}

// SetDefaultParticipantQos replaces the default QoS. A nil QoS restores the
// built-in default.
func (f *ParticipantFactory) SetDefaultParticipantQos(q *qos.ParticipantQos) error {
	v := qos.DefaultParticipantQos()
	if q != nil {
		v = q.Clone()
	}
	if err := qos.CheckParticipantQos(v); err != nil {
		return err
	}
	f.mu.Lock()
	f.defaultQos = v
	f.mu.Unlock()
	return nil
}

// GetQos returns the factory QoS.
func (f *ParticipantFactory) GetQos() qos.ParticipantFactoryQos {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qos
}

// SetQos replaces the factory QoS.
func (f *ParticipantFactory) SetQos(q qos.ParticipantFactoryQos) error {
	f.mu.Lock()
	f.qos = q
	f.mu.Unlock()
	return nil
}

// Shutdown deletes every participant with all of its entities.
func (f *ParticipantFactory) Shutdown() error {
	f.mu.Lock()
	f.closed = true
	ps := make([]*Participant, 0, len(f.participants))
	for _, p := range f.participants {
		ps = append(ps, p)
	}
	f.mu.Unlock()

	var first error
	for _, p := range ps {
		if err := p.DeleteContainedEntities(); err != nil && first == nil {
			first = err
		}
		f.mu.Lock()
		delete(f.participants, p.handle)
		f.mu.Unlock()
		p.close()
	}
	return first
}

// healthReporter tolerates a factory without a health monitor.
type healthReporter struct {
	m *health.Monitor
}

func (h *healthReporter) UpdateHealthy(name, msg string) {
	if h.m != nil {
		h.m.UpdateHealthy(name, msg)
	}
}

func (h *healthReporter) UpdateDegraded(name, msg string) {
	if h.m != nil {
		h.m.UpdateDegraded(name, msg)
	}
}

func (h *healthReporter) UpdateUnhealthy(name, msg string) {
	if h.m != nil {
		h.m.UpdateUnhealthy(name, msg)
	}
}

func (h *healthReporter) Remove(name string) {
	if h.m != nil {
		h.m.RemovePrefix(name)
	}
}
