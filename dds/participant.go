package dds

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/filter"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/pkg/worker"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

const (
	dispatchQueueSize = 4096
	filterCacheSize   = 256
	maxMessageBytes   = 60000
	stopTimeout       = 2 * time.Second
)

// Participant is the entry point to a domain. It owns the transports, the
// discovery service and every entity created from it.
type Participant struct {
	entity
	factory  *ParticipantFactory
	domainID int
	prefix   rtps.GUIDPrefix
	name     string
	logger   *slog.Logger
	metrics  *metric.Metrics

	counter atomic.Uint32

	mu          sync.RWMutex
	qos         qos.ParticipantQos
	topicQos    qos.TopicQos
	pubQos      qos.PublisherQos
	subQos      qos.SubscriberQos
	types       map[string]TypeSupport
	topics      map[string]*Topic
	cfts        map[string]*ContentFilteredTopic
	multis      map[string]*MultiTopic
	publishers  map[InstanceHandle]*Publisher
	subscribers map[InstanceHandle]*Subscriber
	writers     map[rtps.EntityID]*DataWriter
	readers     map[rtps.EntityID]*DataReader
	handles     map[rtps.GUID]InstanceHandle
	guids       map[InstanceHandle]rtps.GUID
	ignored     map[rtps.GUIDPrefix]bool
	topicSignal chan struct{}

	builtin  *Subscriber
	builtins *builtinTopics

	matcher *discovery.Matcher
	filters *filter.Cache
	pool    *worker.Pool[func()]
	disc    atomic.Pointer[discovery.Service]

	runMu      sync.Mutex
	transports []transport.Transport
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func newParticipant(f *ParticipantFactory, domainID int, q qos.ParticipantQos, l Listener, mask StatusMask, cfg participantConfig) (*Participant, error) {
	prefix := rtps.NewGUIDPrefix(rtps.VendorSemDDS)
	name := cfg.name
	if name == "" {
		name = prefix.String()
	}
	filters, err := filter.NewCache(filterCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "Participant", "New", "create filter cache")
	}
	p := &Participant{
		factory:     f,
		domainID:    domainID,
		prefix:      prefix,
		name:        name,
		logger:      f.logger.With("participant", prefix.String(), "domain", domainID),
		metrics:     f.deps.Metrics,
		qos:         q,
		topicQos:    qos.DefaultTopicQos(),
		pubQos:      qos.DefaultPublisherQos(),
		subQos:      qos.DefaultSubscriberQos(),
		types:       make(map[string]TypeSupport),
		topics:      make(map[string]*Topic),
		cfts:        make(map[string]*ContentFilteredTopic),
		multis:      make(map[string]*MultiTopic),
		publishers:  make(map[InstanceHandle]*Publisher),
		subscribers: make(map[InstanceHandle]*Subscriber),
		writers:     make(map[rtps.EntityID]*DataWriter),
		readers:     make(map[rtps.EntityID]*DataReader),
		handles:     make(map[rtps.GUID]InstanceHandle),
		guids:       make(map[InstanceHandle]rtps.GUID),
		ignored:     make(map[rtps.GUIDPrefix]bool),
		topicSignal: make(chan struct{}),
		matcher:     discovery.NewMatcher(),
		filters:     filters,
		ctx:         context.Background(),
	}
	guid := rtps.GUID{Prefix: prefix, Entity: rtps.EntityIDParticipant}
	p.init(p, f.nextHandle(), guid, l, mask)
	p.registerHandle(guid, p.handle)

	p.pool = worker.NewPool[func()](1, dispatchQueueSize, p.runCallback,
		worker.WithMetricsRegistry[func()](f.deps.MetricsRegistry, "semdds_dispatch"),
		worker.WithErrorHandler[func()](func(_ func(), err error) {
			p.logger.Error("listener callback failed", "error", err)
		}))

	if err := p.createBuiltins(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Participant) runCallback(_ context.Context, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	fn()
	return nil
}

func (p *Participant) dispatch(fn func()) {
	if err := p.pool.Submit(fn); err != nil {
		p.logger.Warn("listener callback dropped", "error", err)
	}
}

// GetDomainID returns the domain the participant joined.
func (p *Participant) GetDomainID() int { return p.domainID }

// GetPrefix returns the GUID prefix shared by all entities of the
// participant.
func (p *Participant) GetPrefix() rtps.GUIDPrefix { return p.prefix }

// GetName returns the participant name.
func (p *Participant) GetName() string { return p.name }

func (p *Participant) healthName() string {
	return "participant." + p.prefix.String()
}

// Enable starts the transports and discovery. Children created while the
// participant was disabled are enabled too when the QoS says so.
func (p *Participant) Enable() error {
	if err := p.check("Participant", "Enable"); err != nil {
		return err
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.enabled.Load() {
		return nil
	}

	reg := p.factory.deps.Registry
	transports, err := reg.Build(reg.ConfigFor(p.name))
	if err != nil {
		return errors.Wrap(err, "Participant", "Enable", "build transports")
	}
	ctx, cancel := context.WithCancel(context.Background())
	binding := transport.Binding{
		DomainID: p.domainID,
		Prefix:   p.prefix,
		Handler:  p.receive,
		Logger:   p.logger,
		Metrics:  p.metrics,
	}
	var g errgroup.Group
	for _, t := range transports {
		g.Go(func() error {
			return t.Start(ctx, binding)
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range transports {
			_ = t.Stop(stopTimeout)
		}
		cancel()
		p.health().UpdateUnhealthy(p.healthName(), err.Error())
		return errors.WrapTransient(err, "Participant", "Enable", "start transports")
	}

	var locators []rtps.Locator
	for _, t := range transports {
		locators = append(locators, t.Locators()...)
	}
	p.mu.RLock()
	userData := append([]byte(nil), p.qos.UserData.Value...)
	p.mu.RUnlock()
	disc, err := discovery.NewService(discovery.ServiceDeps{
		Local: discovery.ParticipantData{
			Prefix:   p.prefix,
			DomainID: p.domainID,
			Name:     p.name,
			UserData: userData,
			Locators: locators,
		},
		Send:    p.sendRaw,
		Sink:    participantSink{p: p},
		Logger:  p.logger,
		Metrics: p.metrics,
	}, p.factory.deps.Discovery...)
	if err != nil {
		for _, t := range transports {
			_ = t.Stop(stopTimeout)
		}
		cancel()
		return err
	}

	p.transports = transports
	p.ctx, p.cancel = ctx, cancel
	if err := p.pool.Start(ctx); err != nil {
		p.logger.Warn("dispatch pool start", "error", err)
	}
	p.disc.Store(disc)
	p.enabled.Store(true)
	if err := disc.Start(ctx); err != nil {
		p.logger.Warn("discovery start", "error", err)
	}
	p.done = make(chan struct{})
	go p.run(ctx)

	p.health().UpdateHealthy(p.healthName(), fmt.Sprintf("%d transports", len(transports)))
	p.logger.Info("participant enabled", "name", p.name, "transports", len(transports), "locators", len(locators))

	if err := p.builtin.enableAll(); err != nil {
		return err
	}
	if p.autoenable() {
		p.enableChildren()
	}
	return nil
}

func (p *Participant) health() *healthReporter {
	return &healthReporter{m: p.factory.deps.Health}
}

func (p *Participant) autoenable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qos.EntityFactory.AutoenableCreatedEntities
}

func (p *Participant) enableChildren() {
	p.mu.RLock()
	topics := make([]*Topic, 0, len(p.topics))
	for _, t := range p.topics {
		topics = append(topics, t)
	}
	pubs := mapValues(p.publishers)
	subs := mapValues(p.subscribers)
	p.mu.RUnlock()
	for _, t := range topics {
		if err := t.Enable(); err != nil {
			p.logger.Warn("enable topic", "topic", t.name, "error", err)
		}
	}
	for _, pub := range pubs {
		if err := pub.Enable(); err == nil && pub.autoenable() {
			pub.enableChildren()
		}
	}
	for _, sub := range subs {
		if err := sub.Enable(); err == nil && sub.autoenable() {
			sub.enableChildren()
		}
	}
}

func (p *Participant) discoverySvc() *discovery.Service {
	return p.disc.Load()
}

func (p *Participant) run(ctx context.Context) {
	defer close(p.done)
	t := time.NewTicker(p.factory.deps.TickPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, w := range p.localWriters() {
				w.tick(now)
			}
			for _, r := range p.localReaders() {
				r.tick(now)
			}
		}
	}
}

// receive handles one message delivered by a transport.
func (p *Participant) receive(ctx context.Context, data []byte) {
	msg, err := rtps.DecodeMessage(data)
	if err != nil {
		p.logger.Debug("dropped malformed message", "error", err)
		return
	}
	src := msg.Header.Prefix
	if src == p.prefix || !msg.DestinedFor(p.prefix) {
		return
	}
	disc := p.discoverySvc()
	if disc == nil || p.isIgnored(src) {
		return
	}
	disc.Touch(src)
	now := time.Now()
	for _, sub := range msg.Submessages {
		switch s := sub.(type) {
		case *rtps.Data:
			if discovery.IsBuiltinWriter(s.WriterID) {
				disc.HandleData(ctx, src, s)
				continue
			}
			writer := rtps.GUID{Prefix: src, Entity: s.WriterID}
			for _, r := range p.readersOf(writer, s.ReaderID) {
				r.onData(writer, s, now)
			}
		case *rtps.Heartbeat:
			writer := rtps.GUID{Prefix: src, Entity: s.WriterID}
			for _, r := range p.readersOf(writer, s.ReaderID) {
				r.onHeartbeat(writer, s)
			}
		case *rtps.Gap:
			writer := rtps.GUID{Prefix: src, Entity: s.WriterID}
			for _, r := range p.readersOf(writer, s.ReaderID) {
				r.onGap(writer, s)
			}
		case *rtps.AckNack:
			p.mu.RLock()
			w := p.writers[s.WriterID]
			p.mu.RUnlock()
			if w != nil {
				w.onAckNack(rtps.GUID{Prefix: src, Entity: s.ReaderID}, s)
			}
		}
	}
}

// readersOf returns the local readers matched with writer, restricted to
// readerID unless it is unknown.
func (p *Participant) readersOf(writer rtps.GUID, readerID rtps.EntityID) []*DataReader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if readerID != rtps.EntityIDUnknown {
		if r, ok := p.readers[readerID]; ok && r.hasWriter(writer) {
			return []*DataReader{r}
		}
		return nil
	}
	var out []*DataReader
	for _, r := range p.readers {
		if r.hasWriter(writer) {
			out = append(out, r)
		}
	}
	return out
}

// sendRaw hands an encoded message to every transport.
func (p *Participant) sendRaw(ctx context.Context, dst transport.Destination, data []byte) error {
	var first error
	for _, t := range p.transports {
		if err := t.Send(ctx, dst, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// send encodes submessages into as few messages as fit the size bound.
func (p *Participant) send(dst transport.Destination, subs []rtps.Submessage) {
	if len(subs) == 0 || !p.enabled.Load() {
		return
	}
	var batch []rtps.Submessage
	size := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		data := rtps.NewMessage(p.prefix, batch...).Encode()
		if err := p.sendRaw(p.ctx, dst, data); err != nil {
			p.logger.Debug("send failed", "dst", dst.Prefix.String(), "error", err)
		}
		batch, size = nil, 0
	}
	for _, s := range subs {
		n := submessageSize(s)
		if size+n > maxMessageBytes {
			flush()
		}
		batch = append(batch, s)
		size += n
	}
	flush()
}

func submessageSize(s rtps.Submessage) int {
	if d, ok := s.(*rtps.Data); ok {
		n := 64 + len(d.Payload)
		if d.InlineQos != nil {
			n += d.InlineQos.EncodedSize()
		}
		return n
	}
	return 64
}

// destination addresses a remote participant.
func (p *Participant) destination(prefix rtps.GUIDPrefix, locators []rtps.Locator) transport.Destination {
	if len(locators) == 0 {
		if disc := p.discoverySvc(); disc != nil {
			if pd, ok := disc.Participant(prefix); ok {
				locators = pd.Locators
			}
		}
	}
	return transport.Destination{Prefix: prefix, Locators: locators}
}

func (p *Participant) newEntityID(kind rtps.EntityKind) rtps.EntityID {
	return rtps.NewEntityID(p.counter.Add(1), kind)
}

func (p *Participant) registerHandle(g rtps.GUID, h InstanceHandle) {
	p.mu.Lock()
	p.handles[g] = h
	p.guids[h] = g
	p.mu.Unlock()
}

// handleOf returns the handle of a GUID, issuing one on first use.
func (p *Participant) handleOf(g rtps.GUID) InstanceHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[g]; ok {
		return h
	}
	h := p.factory.nextHandle()
	p.handles[g] = h
	p.guids[h] = g
	return h
}

func (p *Participant) guidOf(h InstanceHandle) (rtps.GUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.guids[h]
	return g, ok
}

func (p *Participant) isIgnored(prefix rtps.GUIDPrefix) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ignored[prefix]
}

func (p *Participant) localWriters() []*DataWriter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return mapValues(p.writers)
}

func (p *Participant) localReaders() []*DataReader {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return mapValues(p.readers)
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// RegisterType makes a type available to topics of this participant.
// Registering the same type support twice is a no-op.
func (p *Participant) RegisterType(ts TypeSupport) error {
	if err := p.check("Participant", "RegisterType"); err != nil {
		return err
	}
	if ts == nil || ts.TypeName() == "" {
		return errors.Fail(errors.RetcodeBadParameter, "Participant", "RegisterType", "type support is nil or unnamed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if have, ok := p.types[ts.TypeName()]; ok && have != ts {
		return errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "RegisterType", "type %q is already registered", ts.TypeName())
	}
	p.types[ts.TypeName()] = ts
	return nil
}

// LookupType returns a registered type support.
func (p *Participant) LookupType(name string) (TypeSupport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts, ok := p.types[name]
	return ts, ok
}

func (p *Participant) nameTaken(name string) bool {
	_, t := p.topics[name]
	_, c := p.cfts[name]
	_, m := p.multis[name]
	return t || c || m
}

// CreateTopic creates a topic of a registered type. A nil QoS uses the
// participant's default topic QoS.
func (p *Participant) CreateTopic(name, typeName string, q *qos.TopicQos, l Listener, mask StatusMask) (*Topic, error) {
	if err := p.check("Participant", "CreateTopic"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.Fail(errors.RetcodeBadParameter, "Participant", "CreateTopic", "topic name is empty")
	}
	p.mu.Lock()
	ts, ok := p.types[typeName]
	if !ok {
		p.mu.Unlock()
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "CreateTopic", "type %q is not registered", typeName)
	}
	if p.nameTaken(name) {
		p.mu.Unlock()
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "CreateTopic", "topic %q already exists", name)
	}
	tq := p.topicQos.Clone()
	if q != nil {
		tq = q.Clone()
	}
	if err := qos.CheckTopicQos(tq); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	t := newTopic(p, name, ts, tq, l, mask, false)
	p.topics[name] = t
	p.mu.Unlock()
	p.registerHandle(t.guid, t.handle)

	if p.enabled.Load() && p.autoenable() {
		if err := t.Enable(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DeleteTopic deletes a topic no writer, reader or derived topic uses.
func (p *Participant) DeleteTopic(t *Topic) error {
	if t == nil || t.participant != p {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteTopic", "topic belongs to another participant")
	}
	if t.builtin {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteTopic", "built-in topics cannot be deleted")
	}
	if p.topicInUse(t) {
		return errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "DeleteTopic", "topic %q is in use", t.name)
	}
	p.mu.Lock()
	if p.topics[t.name] != t {
		p.mu.Unlock()
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Participant", "DeleteTopic", "lookup topic")
	}
	delete(p.topics, t.name)
	p.mu.Unlock()
	t.close()
	return nil
}

func (p *Participant) topicInUse(t *Topic) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.writers {
		if w.topic == t {
			return true
		}
	}
	for _, r := range p.readers {
		if r.topic == t && !r.hidden {
			return true
		}
	}
	for _, c := range p.cfts {
		if c.related == t {
			return true
		}
	}
	for _, m := range p.multis {
		if m.uses(t.name) {
			return true
		}
	}
	return false
}

// FindTopic returns the topic named name, waiting up to timeout for it to
// be discovered. A discovered topic whose type is not registered gets a
// keyless JSON type support.
func (p *Participant) FindTopic(name string, timeout time.Duration) (*Topic, error) {
	if err := p.check("Participant", "FindTopic"); err != nil {
		return nil, err
	}
	var expired <-chan time.Time
	if timeout != qos.Infinite {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		p.mu.RLock()
		t, ok := p.topics[name]
		signal := p.topicSignal
		p.mu.RUnlock()
		if ok {
			return t, nil
		}
		if td, found := p.discoveredTopic(name); found {
			return p.adoptTopic(td)
		}
		select {
		case <-signal:
		case <-expired:
			return nil, errors.Failf(errors.RetcodeTimeout, "Participant", "FindTopic", "topic %q not found", name)
		}
	}
}

func (p *Participant) discoveredTopic(name string) (discovery.TopicData, bool) {
	disc := p.discoverySvc()
	if disc == nil {
		return discovery.TopicData{}, false
	}
	for _, t := range disc.Topics() {
		if t.Name == name {
			return t, true
		}
	}
	for _, pub := range disc.Publications() {
		if pub.TopicName == name {
			q := qos.DefaultTopicQos()
			return discovery.TopicData{Key: pub.Key, Name: name, TypeName: pub.TypeName, Qos: q}, true
		}
	}
	for _, sub := range disc.Subscriptions() {
		if sub.TopicName == name {
			q := qos.DefaultTopicQos()
			return discovery.TopicData{Key: sub.Key, Name: name, TypeName: sub.TypeName, Qos: q}, true
		}
	}
	return discovery.TopicData{}, false
}

func (p *Participant) adoptTopic(td discovery.TopicData) (*Topic, error) {
	if _, ok := p.LookupType(td.TypeName); !ok {
		ts, err := NewJSONTypeSupport(td.TypeName)
		if err != nil {
			return nil, err
		}
		if err := p.RegisterType(ts); err != nil && errors.Code(err) != errors.RetcodePreconditionNotMet {
			return nil, err
		}
	}
	q := td.Qos
	t, err := p.CreateTopic(td.Name, td.TypeName, &q, nil, StatusNone)
	if errors.Code(err) == errors.RetcodePreconditionNotMet {
		p.mu.RLock()
		existing, ok := p.topics[td.Name]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}
	}
	return t, err
}

func (p *Participant) signalTopics() {
	p.mu.Lock()
	close(p.topicSignal)
	p.topicSignal = make(chan struct{})
	p.mu.Unlock()
}

// LookupTopicDescription returns a local topic, content-filtered topic or
// multi-topic by name, or nil.
func (p *Participant) LookupTopicDescription(name string) TopicDescription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	if c, ok := p.cfts[name]; ok {
		return c
	}
	if m, ok := p.multis[name]; ok {
		return m
	}
	return nil
}

// CreateContentFilteredTopic creates a topic that restricts related to the
// samples matching expr.
func (p *Participant) CreateContentFilteredTopic(name string, related *Topic, expr string, params []string) (*ContentFilteredTopic, error) {
	if err := p.check("Participant", "CreateContentFilteredTopic"); err != nil {
		return nil, err
	}
	if name == "" || related == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "Participant", "CreateContentFilteredTopic", "name and related topic are required")
	}
	if related.participant != p {
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "CreateContentFilteredTopic", "related topic belongs to another participant")
	}
	compiled, err := p.filters.Compile(expr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Participant", "CreateContentFilteredTopic", "compile filter")
	}
	if err := compiled.CheckParams(params); err != nil {
		return nil, errors.WrapInvalid(err, "Participant", "CreateContentFilteredTopic", "check parameters")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nameTaken(name) {
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "CreateContentFilteredTopic", "topic %q already exists", name)
	}
	c := &ContentFilteredTopic{
		name:        name,
		participant: p,
		related:     related,
		expr:        compiled,
		params:      append([]string(nil), params...),
	}
	p.cfts[name] = c
	return c, nil
}

// DeleteContentFilteredTopic deletes a content-filtered topic no reader
// uses.
func (p *Participant) DeleteContentFilteredTopic(c *ContentFilteredTopic) error {
	if c == nil || c.participant != p {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteContentFilteredTopic", "topic belongs to another participant")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.readers {
		if r.cft == c {
			return errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "DeleteContentFilteredTopic", "topic %q is in use", c.name)
		}
	}
	if p.cfts[c.name] != c {
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Participant", "DeleteContentFilteredTopic", "lookup topic")
	}
	delete(p.cfts, c.name)
	return nil
}

// CreateMultiTopic creates a topic joining several local topics. typeName
// must be registered and describes the joined samples.
func (p *Participant) CreateMultiTopic(name, typeName, expr string, params []string) (*MultiTopic, error) {
	if err := p.check("Participant", "CreateMultiTopic"); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.Fail(errors.RetcodeBadParameter, "Participant", "CreateMultiTopic", "name is empty")
	}
	ts, ok := p.LookupType(typeName)
	if !ok {
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "CreateMultiTopic", "type %q is not registered", typeName)
	}
	parsed, err := parseMultiTopic(expr, p.filters)
	if err != nil {
		return nil, err
	}
	if parsed.where != nil {
		if err := parsed.where.CheckParams(params); err != nil {
			return nil, errors.WrapInvalid(err, "Participant", "CreateMultiTopic", "check parameters")
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nameTaken(name) {
		return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "CreateMultiTopic", "topic %q already exists", name)
	}
	for _, tn := range parsed.topics {
		if _, ok := p.topics[tn]; !ok {
			return nil, errors.Failf(errors.RetcodeBadParameter, "Participant", "CreateMultiTopic", "topic %q does not exist", tn)
		}
	}
	m := &MultiTopic{
		name:        name,
		participant: p,
		ts:          ts,
		text:        expr,
		parsed:      parsed,
		params:      append([]string(nil), params...),
	}
	p.multis[name] = m
	return m, nil
}

// DeleteMultiTopic deletes a multi-topic no reader uses.
func (p *Participant) DeleteMultiTopic(m *MultiTopic) error {
	if m == nil || m.participant != p {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteMultiTopic", "topic belongs to another participant")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.readers {
		if r.multi == m {
			return errors.Failf(errors.RetcodePreconditionNotMet, "Participant", "DeleteMultiTopic", "topic %q is in use", m.name)
		}
	}
	if p.multis[m.name] != m {
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Participant", "DeleteMultiTopic", "lookup topic")
	}
	delete(p.multis, m.name)
	return nil
}

// CreatePublisher creates a publisher. A nil QoS uses the participant's
// default publisher QoS.
func (p *Participant) CreatePublisher(q *qos.PublisherQos, l Listener, mask StatusMask) (*Publisher, error) {
	if err := p.check("Participant", "CreatePublisher"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	pq := p.pubQos.Clone()
	p.mu.RUnlock()
	if q != nil {
		pq = q.Clone()
	}
	if err := qos.CheckPublisherQos(pq); err != nil {
		return nil, err
	}
	pub := newPublisher(p, pq, l, mask)
	p.mu.Lock()
	p.publishers[pub.handle] = pub
	p.mu.Unlock()
	p.registerHandle(pub.guid, pub.handle)
	if p.enabled.Load() && p.autoenable() {
		if err := pub.Enable(); err != nil {
			return nil, err
		}
	}
	return pub, nil
}

// DeletePublisher deletes a publisher without writers.
func (p *Participant) DeletePublisher(pub *Publisher) error {
	if pub == nil || pub.participant != p {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeletePublisher", "publisher belongs to another participant")
	}
	if pub.writerCount() > 0 {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeletePublisher", "publisher still has writers")
	}
	p.mu.Lock()
	if _, ok := p.publishers[pub.handle]; !ok {
		p.mu.Unlock()
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Participant", "DeletePublisher", "lookup publisher")
	}
	delete(p.publishers, pub.handle)
	p.mu.Unlock()
	pub.close()
	return nil
}

// CreateSubscriber creates a subscriber. A nil QoS uses the participant's
// default subscriber QoS.
func (p *Participant) CreateSubscriber(q *qos.SubscriberQos, l Listener, mask StatusMask) (*Subscriber, error) {
	if err := p.check("Participant", "CreateSubscriber"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	sq := p.subQos.Clone()
	p.mu.RUnlock()
	if q != nil {
		sq = q.Clone()
	}
	if err := qos.CheckSubscriberQos(sq); err != nil {
		return nil, err
	}
	sub := newSubscriber(p, sq, l, mask, false)
	p.mu.Lock()
	p.subscribers[sub.handle] = sub
	p.mu.Unlock()
	p.registerHandle(sub.guid, sub.handle)
	if p.enabled.Load() && p.autoenable() {
		if err := sub.Enable(); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// DeleteSubscriber deletes a subscriber without readers.
func (p *Participant) DeleteSubscriber(sub *Subscriber) error {
	if sub == nil || sub.participant != p {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteSubscriber", "subscriber belongs to another participant")
	}
	if sub.builtin {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteSubscriber", "the built-in subscriber cannot be deleted")
	}
	if sub.readerCount() > 0 {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Participant", "DeleteSubscriber", "subscriber still has readers")
	}
	p.mu.Lock()
	if _, ok := p.subscribers[sub.handle]; !ok {
		p.mu.Unlock()
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Participant", "DeleteSubscriber", "lookup subscriber")
	}
	delete(p.subscribers, sub.handle)
	p.mu.Unlock()
	sub.close()
	return nil
}

// GetBuiltinSubscriber returns the subscriber holding the built-in topic
// readers.
func (p *Participant) GetBuiltinSubscriber() *Subscriber { return p.builtin }

// DeleteContainedEntities deletes every publisher, subscriber and topic of
// the participant, children first. Built-in entities stay.
func (p *Participant) DeleteContainedEntities() error {
	if err := p.check("Participant", "DeleteContainedEntities"); err != nil {
		return err
	}
	p.mu.RLock()
	subs := mapValues(p.subscribers)
	pubs := mapValues(p.publishers)
	p.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.DeleteContainedEntities(); err != nil {
			return err
		}
		if err := p.DeleteSubscriber(sub); err != nil {
			return err
		}
	}
	for _, pub := range pubs {
		if err := pub.DeleteContainedEntities(); err != nil {
			return err
		}
		if err := p.DeletePublisher(pub); err != nil {
			return err
		}
	}

	p.mu.Lock()
	cfts := mapValues(p.cfts)
	multis := mapValues(p.multis)
	p.mu.Unlock()
	for _, c := range cfts {
		if err := p.DeleteContentFilteredTopic(c); err != nil {
			return err
		}
	}
	for _, m := range multis {
		if err := p.DeleteMultiTopic(m); err != nil {
			return err
		}
	}

	p.mu.RLock()
	var topics []*Topic
	for _, t := range p.topics {
		if !t.builtin {
			topics = append(topics, t)
		}
	}
	p.mu.RUnlock()
	for _, t := range topics {
		if err := p.DeleteTopic(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *Participant) hasContainedEntities() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.publishers) > 0 || len(p.subscribers) > 0 || len(p.cfts) > 0 || len(p.multis) > 0 {
		return true
	}
	for _, t := range p.topics {
		if !t.builtin {
			return true
		}
	}
	return false
}

// ContainsEntity reports whether h is the handle of an entity created from
// this participant, directly or through a publisher or subscriber.
func (p *Participant) ContainsEntity(h InstanceHandle) bool {
	if h == HandleNil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.topics {
		if t.handle == h {
			return true
		}
	}
	if _, ok := p.publishers[h]; ok {
		return true
	}
	if _, ok := p.subscribers[h]; ok {
		return true
	}
	for _, w := range p.writers {
		if w.handle == h {
			return true
		}
	}
	for _, r := range p.readers {
		if r.handle == h && !r.hidden {
			return true
		}
	}
	return false
}

// GetCurrentTime returns the time used for source timestamps.
func (p *Participant) GetCurrentTime() time.Time { return time.Now() }

// AssertLiveliness asserts every MANUAL_BY_PARTICIPANT writer and renews
// the participant lease at remote participants.
func (p *Participant) AssertLiveliness() error {
	if err := p.checkEnabled("Participant", "AssertLiveliness"); err != nil {
		return err
	}
	for _, w := range p.localWriters() {
		if w.livelinessKind() == qos.ManualByParticipantLiveliness {
			w.assertLiveliness(false)
		}
	}
	p.discoverySvc().AssertLiveliness(p.ctx)
	return nil
}

func (p *Participant) ignoreGUID(method string, h InstanceHandle) (rtps.GUID, error) {
	if err := p.checkEnabled("Participant", method); err != nil {
		return rtps.GUID{}, err
	}
	g, ok := p.guidOf(h)
	if !ok || g.Prefix == p.prefix {
		return rtps.GUID{}, errors.Failf(errors.RetcodeBadParameter, "Participant", method, "handle %d is not a remote entity", h)
	}
	return g, nil
}

// IgnoreParticipant drops a remote participant and everything it sends.
func (p *Participant) IgnoreParticipant(h InstanceHandle) error {
	g, err := p.ignoreGUID("IgnoreParticipant", h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.ignored[g.Prefix] = true
	p.mu.Unlock()
	p.discoverySvc().Ignore(g.Prefix)
	return nil
}

// IgnoreTopic drops a remote topic announcement.
func (p *Participant) IgnoreTopic(h InstanceHandle) error {
	g, err := p.ignoreGUID("IgnoreTopic", h)
	if err != nil {
		return err
	}
	p.discoverySvc().IgnoreEntity(g)
	return nil
}

// IgnorePublication drops a remote writer; matched readers lose it.
func (p *Participant) IgnorePublication(h InstanceHandle) error {
	g, err := p.ignoreGUID("IgnorePublication", h)
	if err != nil {
		return err
	}
	p.discoverySvc().IgnoreEntity(g)
	return nil
}

// IgnoreSubscription drops a remote reader; matched writers lose it.
func (p *Participant) IgnoreSubscription(h InstanceHandle) error {
	g, err := p.ignoreGUID("IgnoreSubscription", h)
	if err != nil {
		return err
	}
	p.discoverySvc().IgnoreEntity(g)
	return nil
}

// GetDiscoveredParticipants returns the handles of the live remote
// participants.
func (p *Participant) GetDiscoveredParticipants() ([]InstanceHandle, error) {
	if err := p.checkEnabled("Participant", "GetDiscoveredParticipants"); err != nil {
		return nil, err
	}
	var out []InstanceHandle
	for _, pd := range p.discoverySvc().Participants() {
		out = append(out, p.handleOf(pd.GUID()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GetDiscoveredParticipantData returns the announcement of a remote
// participant.
func (p *Participant) GetDiscoveredParticipantData(h InstanceHandle) (discovery.ParticipantData, error) {
	if err := p.checkEnabled("Participant", "GetDiscoveredParticipantData"); err != nil {
		return discovery.ParticipantData{}, err
	}
	g, ok := p.guidOf(h)
	if ok {
		if pd, found := p.discoverySvc().Participant(g.Prefix); found && g.Entity == rtps.EntityIDParticipant {
			return pd, nil
		}
	}
	return discovery.ParticipantData{}, errors.Failf(errors.RetcodeBadParameter, "Participant", "GetDiscoveredParticipantData", "handle %d is not a discovered participant", h)
}

// GetDiscoveredTopics returns the handles of topics announced remotely.
func (p *Participant) GetDiscoveredTopics() ([]InstanceHandle, error) {
	if err := p.checkEnabled("Participant", "GetDiscoveredTopics"); err != nil {
		return nil, err
	}
	var out []InstanceHandle
	for _, t := range p.discoverySvc().Topics() {
		out = append(out, p.handleOf(t.Key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GetDiscoveredTopicData returns a remote topic announcement.
func (p *Participant) GetDiscoveredTopicData(h InstanceHandle) (discovery.TopicData, error) {
	if err := p.checkEnabled("Participant", "GetDiscoveredTopicData"); err != nil {
		return discovery.TopicData{}, err
	}
	if g, ok := p.guidOf(h); ok {
		for _, t := range p.discoverySvc().Topics() {
			if t.Key == g {
				return t, nil
			}
		}
	}
	return discovery.TopicData{}, errors.Failf(errors.RetcodeBadParameter, "Participant", "GetDiscoveredTopicData", "handle %d is not a discovered topic", h)
}

// GetQos returns the participant QoS.
func (p *Participant) GetQos() qos.ParticipantQos {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qos.Clone()
}

// SetQos replaces the participant QoS; user data changes are announced.
func (p *Participant) SetQos(q qos.ParticipantQos) error {
	if err := p.check("Participant", "SetQos"); err != nil {
		return err
	}
	if err := qos.CheckParticipantQos(q); err != nil {
		return err
	}
	p.mu.Lock()
	p.qos = q.Clone()
	p.mu.Unlock()
	if disc := p.discoverySvc(); disc != nil && p.enabled.Load() {
		userData := append([]byte(nil), q.UserData.Value...)
		disc.UpdateLocal(p.ctx, func(d *discovery.ParticipantData) { d.UserData = userData })
	}
	return nil
}

// GetDefaultTopicQos returns the QoS of topics created without one.
func (p *Participant) GetDefaultTopicQos() qos.TopicQos {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.topicQos.Clone()
}

// SetDefaultTopicQos replaces the default topic QoS. Nil restores the
// built-in default.
func (p *Participant) SetDefaultTopicQos(q *qos.TopicQos) error {
	v := qos.DefaultTopicQos()
	if q != nil {
		v = q.Clone()
	}
	if err := qos.CheckTopicQos(v); err != nil {
		return err
	}
	p.mu.Lock()
	p.topicQos = v
	p.mu.Unlock()
	return nil
}

// GetDefaultPublisherQos returns the QoS of publishers created without one.
func (p *Participant) GetDefaultPublisherQos() qos.PublisherQos {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pubQos.Clone()
}

// SetDefaultPublisherQos replaces the default publisher QoS.
func (p *Participant) SetDefaultPublisherQos(q *qos.PublisherQos) error {
	v := qos.DefaultPublisherQos()
	if q != nil {
		v = q.Clone()
	}
	if err := qos.CheckPublisherQos(v); err != nil {
		return err
	}
	p.mu.Lock()
	p.pubQos = v
	p.mu.Unlock()
	return nil
}

// GetDefaultSubscriberQos returns the QoS of subscribers created without
// one.
func (p *Participant) GetDefaultSubscriberQos() qos.SubscriberQos {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subQos.Clone()
}

// SetDefaultSubscriberQos replaces the default subscriber QoS.
func (p *Participant) SetDefaultSubscriberQos(q *qos.SubscriberQos) error {
	v := qos.DefaultSubscriberQos()
	if q != nil {
		v = q.Clone()
	}
	if err := qos.CheckSubscriberQos(v); err != nil {
		return err
	}
	p.mu.Lock()
	p.subQos = v
	p.mu.Unlock()
	return nil
}

// close stops the participant. Contained entities must already be gone.
func (p *Participant) close() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.deleted.Load() {
		return
	}
	p.builtin.closeBuiltin()
	p.markDeleted()
	if p.enabled.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := p.discoverySvc().Stop(ctx); err != nil {
			p.logger.Debug("discovery stop", "error", err)
		}
		cancel()
		p.cancel()
		<-p.done
		for _, t := range p.transports {
			if err := t.Stop(stopTimeout); err != nil {
				p.logger.Warn("transport stop", "kind", t.Kind(), "error", err)
			}
		}
		if err := p.pool.Stop(stopTimeout); err != nil {
			p.logger.Warn("dispatch pool stop", "error", err)
		}
	}
	p.health().Remove(p.healthName())
	if err := p.filters.Close(); err != nil {
		p.logger.Debug("filter cache close", "error", err)
	}
	p.logger.Info("participant deleted")
}
