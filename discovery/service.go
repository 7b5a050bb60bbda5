package discovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/pkg/cache"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// Default timing.
const (
	DefaultAnnouncePeriod = time.Second
	DefaultResendPeriod   = 5 * time.Second
	maxBatchBytes         = 60000
)

// Sender transmits an encoded RTPS message.
type Sender func(ctx context.Context, dst transport.Destination, data []byte) error

// ServiceDeps holds the collaborators of a Service.
type ServiceDeps struct {
	// Local describes this participant. Prefix, DomainID and Locators are
	// required.
	Local   ParticipantData
	Send    Sender
	Sink    Sink
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithAnnouncePeriod sets how often SPDP is announced on multicast.
func WithAnnouncePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.announcePeriod = d
		}
	}
}

// WithLeaseDuration sets the lease announced for this participant.
func WithLeaseDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.local.LeaseDuration = d
		}
	}
}

// WithResendPeriod sets how often local SEDP data is re-sent.
func WithResendPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.resendPeriod = d
		}
	}
}

type tombstone struct {
	writer  rtps.EntityID
	expires time.Time
}

// Service runs SPDP and SEDP for one participant. Remote participants are
// tracked in a lease cache; an expired lease or an SPDP dispose removes the
// participant with all of its endpoints.
type Service struct {
	send     Sender
	sink     Sink
	logger   *slog.Logger
	metrics  *metric.Metrics
	domain   string
	prefix   rtps.GUIDPrefix
	domainID int

	announcePeriod time.Duration
	resendPeriod   time.Duration

	leases *cache.TTL[ParticipantData]

	mu           sync.RWMutex
	local        ParticipantData
	participants map[rtps.GUIDPrefix]ParticipantData
	raw          map[rtps.GUID][]byte
	topics       map[rtps.GUID]TopicData
	pubs         map[rtps.GUID]PublicationData
	subs         map[rtps.GUID]SubscriptionData
	localTopics  map[rtps.GUID]TopicData
	localPubs    map[rtps.GUID]PublicationData
	localSubs    map[rtps.GUID]SubscriptionData
	tombstones   map[rtps.GUID]tombstone
	ignoredParts map[rtps.GUIDPrefix]bool
	ignored      map[rtps.GUID]bool
	lostReason   map[rtps.GUIDPrefix]string
	seq          map[rtps.EntityID]rtps.SequenceNumber
	stopped      bool

	shutdown chan struct{}
	done     chan struct{}
	running  bool
}

// NewService creates a discovery service. It does not send until Start.
func NewService(deps ServiceDeps, opts ...Option) (*Service, error) {
	if deps.Send == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "discovery", "NewService", "sender is required")
	}
	if deps.Local.Prefix.IsUnknown() {
		return nil, errors.Fail(errors.RetcodeBadParameter, "discovery", "NewService", "local prefix is required")
	}
	s := &Service{
		send:           deps.Send,
		sink:           deps.Sink,
		metrics:        deps.Metrics,
		domain:         strconv.Itoa(deps.Local.DomainID),
		prefix:         deps.Local.Prefix,
		domainID:       deps.Local.DomainID,
		announcePeriod: DefaultAnnouncePeriod,
		resendPeriod:   DefaultResendPeriod,
		local:          deps.Local,
		participants:   make(map[rtps.GUIDPrefix]ParticipantData),
		raw:            make(map[rtps.GUID][]byte),
		topics:         make(map[rtps.GUID]TopicData),
		pubs:           make(map[rtps.GUID]PublicationData),
		subs:           make(map[rtps.GUID]SubscriptionData),
		localTopics:    make(map[rtps.GUID]TopicData),
		localPubs:      make(map[rtps.GUID]PublicationData),
		localSubs:      make(map[rtps.GUID]SubscriptionData),
		tombstones:     make(map[rtps.GUID]tombstone),
		ignoredParts:   make(map[rtps.GUIDPrefix]bool),
		ignored:        make(map[rtps.GUID]bool),
		lostReason:     make(map[rtps.GUIDPrefix]string),
		seq:            make(map[rtps.EntityID]rtps.SequenceNumber),
	}
	if s.sink == nil {
		s.sink = NoopSink{}
	}
	if s.local.LeaseDuration <= 0 {
		s.local.LeaseDuration = DefaultLeaseDuration
	}
	if s.local.Vendor == (rtps.VendorID{}) {
		s.local.Vendor = rtps.VendorSemDDS
	}
	if s.local.Version == (rtps.ProtocolVersion{}) {
		s.local.Version = rtps.Version23
	}
	for _, opt := range opts {
		opt(s)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With("component", "discovery", "participant", s.prefix.String())

	sweep := s.announcePeriod / 2
	if sweep > 500*time.Millisecond {
		sweep = 500 * time.Millisecond
	}
	leases, err := cache.NewTTL[ParticipantData](s.local.LeaseDuration, sweep,
		cache.WithEvictionCallback[ParticipantData](s.onLeaseEnd))
	if err != nil {
		return nil, errors.Wrap(err, "discovery", "NewService", "create lease cache")
	}
	s.leases = leases
	return s, nil
}

// Local returns the announcement of this participant.
func (s *Service) Local() ParticipantData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// Start announces the participant and runs the periodic announce and
// resend loop until Stop or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return errors.Fail(errors.RetcodePreconditionNotMet, "discovery", "Start", "service already started")
	}
	s.running = true
	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.announce(ctx)
	go s.loop(context.WithoutCancel(ctx), ctx.Done())
	s.logger.Info("discovery started", "announce_period", s.announcePeriod, "lease", s.Local().LeaseDuration)
	return nil
}

func (s *Service) loop(ctx context.Context, parentDone <-chan struct{}) {
	defer close(s.done)
	announce := time.NewTicker(s.announcePeriod)
	defer announce.Stop()
	resend := time.NewTicker(s.resendPeriod)
	defer resend.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-parentDone:
			return
		case <-announce.C:
			s.announce(ctx)
		case <-resend.C:
			s.resendEndpoints(ctx)
		}
	}
}

// Stop announces the participant's departure and stops the loops.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasRunning := s.running
	s.mu.Unlock()

	var sendErr error
	if wasRunning {
		d := s.disposeData(rtps.EntityIDSPDPReader, rtps.EntityIDSPDPWriter, rtps.GUID{Prefix: s.prefix, Entity: rtps.EntityIDParticipant})
		sendErr = s.sendBatch(ctx, transport.MulticastDestination(), []*rtps.Data{d})
		close(s.shutdown)
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	if err := s.leases.Close(); err != nil {
		return err
	}
	s.logger.Info("discovery stopped")
	return sendErr
}

// AssertLiveliness re-announces the participant, renewing its lease at
// every remote participant.
func (s *Service) AssertLiveliness(ctx context.Context) {
	s.announce(ctx)
}

// UpdateLocal changes the local announcement and re-announces it.
func (s *Service) UpdateLocal(ctx context.Context, fn func(*ParticipantData)) {
	s.mu.Lock()
	fn(&s.local)
	s.local.Prefix, s.local.DomainID = s.prefix, s.domainID
	s.mu.Unlock()
	s.announce(ctx)
}

func (s *Service) nextSN(writer rtps.EntityID) rtps.SequenceNumber {
	s.seq[writer]++
	return s.seq[writer]
}

func (s *Service) data(reader, writer rtps.EntityID, key rtps.GUID, pl *rtps.ParameterList) *rtps.Data {
	inline := rtps.NewParameterList()
	inline.AddKeyHash(rtps.KeyHash(key.Bytes()))
	s.mu.Lock()
	sn := s.nextSN(writer)
	s.mu.Unlock()
	return &rtps.Data{
		ReaderID:      reader,
		WriterID:      writer,
		WriterSN:      sn,
		InlineQos:     inline,
		Encapsulation: rtps.EncodingPLCDRLE,
		Payload:       pl.Encode(binary.LittleEndian),
	}
}

func (s *Service) disposeData(reader, writer rtps.EntityID, key rtps.GUID) *rtps.Data {
	inline := rtps.NewParameterList()
	inline.AddKeyHash(rtps.KeyHash(key.Bytes()))
	inline.AddStatusInfo(rtps.StatusInfoDisposed | rtps.StatusInfoUnregistered)
	s.mu.Lock()
	sn := s.nextSN(writer)
	s.mu.Unlock()
	return &rtps.Data{ReaderID: reader, WriterID: writer, WriterSN: sn, InlineQos: inline}
}

func (s *Service) spdpData() *rtps.Data {
	local := s.Local()
	return s.data(rtps.EntityIDSPDPReader, rtps.EntityIDSPDPWriter, local.GUID(), local.Encode())
}

// endpointData builds SEDP data for every local endpoint and live tombstone.
func (s *Service) endpointData() []*rtps.Data {
	s.mu.Lock()
	topics := mapValues(s.localTopics)
	pubs := mapValues(s.localPubs)
	subs := mapValues(s.localSubs)
	now := time.Now()
	tombs := make(map[rtps.GUID]tombstone)
	for g, t := range s.tombstones {
		if now.After(t.expires) {
			delete(s.tombstones, g)
			continue
		}
		tombs[g] = t
	}
	s.mu.Unlock()

	var out []*rtps.Data
	for _, t := range topics {
		out = append(out, s.data(rtps.EntityIDSEDPTopicReader, rtps.EntityIDSEDPTopicWriter, t.Key, t.Encode()))
	}
	for _, p := range pubs {
		out = append(out, s.data(rtps.EntityIDSEDPPublicationsReader, rtps.EntityIDSEDPPublicationsWriter, p.Key, p.Encode()))
	}
	for _, sub := range subs {
		out = append(out, s.data(rtps.EntityIDSEDPSubscriptionsReader, rtps.EntityIDSEDPSubscriptionsWriter, sub.Key, sub.Encode()))
	}
	for g, t := range tombs {
		out = append(out, s.disposeData(readerFor(t.writer), t.writer, g))
	}
	return out
}

func readerFor(writer rtps.EntityID) rtps.EntityID {
	switch writer {
	case rtps.EntityIDSEDPTopicWriter:
		return rtps.EntityIDSEDPTopicReader
	case rtps.EntityIDSEDPPublicationsWriter:
		return rtps.EntityIDSEDPPublicationsReader
	case rtps.EntityIDSEDPSubscriptionsWriter:
		return rtps.EntityIDSEDPSubscriptionsReader
	}
	return rtps.EntityIDSPDPReader
}

// sendBatch packs data submessages into as few messages as fit a datagram.
func (s *Service) sendBatch(ctx context.Context, dst transport.Destination, datas []*rtps.Data) error {
	var firstErr error
	flush := func(msg *rtps.Message) {
		if len(msg.Submessages) <= 1 {
			return
		}
		if err := s.send(ctx, dst, msg.Encode()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	newMsg := func() *rtps.Message {
		return rtps.NewMessage(s.prefix, &rtps.InfoTimestamp{Timestamp: rtps.FromTime(time.Now())})
	}
	msg, size := newMsg(), 0
	for _, d := range datas {
		n := len(d.Payload) + 64
		if size+n > maxBatchBytes && len(msg.Submessages) > 1 {
			flush(msg)
			msg, size = newMsg(), 0
		}
		msg.Add(d)
		size += n
	}
	flush(msg)
	return firstErr
}

func (s *Service) announce(ctx context.Context) {
	if err := s.sendBatch(ctx, transport.MulticastDestination(), []*rtps.Data{s.spdpData()}); err != nil {
		s.logger.Warn("spdp announce failed", "error", err)
	}
}

func (s *Service) resendEndpoints(ctx context.Context) {
	datas := s.endpointData()
	if len(datas) == 0 {
		return
	}
	if err := s.sendBatch(ctx, transport.MulticastDestination(), datas); err != nil {
		s.logger.Warn("sedp resend failed", "error", err)
	}
}

// greet replies to a newly discovered participant with our SPDP data and
// every local endpoint in one unicast batch.
func (s *Service) greet(ctx context.Context, p ParticipantData) {
	datas := append([]*rtps.Data{s.spdpData()}, s.endpointData()...)
	dst := transport.Destination{Prefix: p.Prefix, Locators: p.Locators}
	if err := s.sendBatch(ctx, dst, datas); err != nil {
		s.logger.Warn("greeting failed", "remote", p.Prefix.String(), "error", err)
	}
}

func (s *Service) publishLocal(ctx context.Context, d *rtps.Data) error {
	return s.sendBatch(ctx, transport.MulticastDestination(), []*rtps.Data{d})
}

// AddTopic announces or updates a local topic.
func (s *Service) AddTopic(ctx context.Context, t TopicData) error {
	s.mu.Lock()
	s.localTopics[t.Key] = t
	delete(s.tombstones, t.Key)
	s.mu.Unlock()
	return s.publishLocal(ctx, s.data(rtps.EntityIDSEDPTopicReader, rtps.EntityIDSEDPTopicWriter, t.Key, t.Encode()))
}

// RemoveTopic withdraws a local topic.
func (s *Service) RemoveTopic(ctx context.Context, key rtps.GUID) error {
	return s.removeLocal(ctx, key, rtps.EntityIDSEDPTopicWriter, func() bool {
		_, ok := s.localTopics[key]
		delete(s.localTopics, key)
		return ok
	})
}

// AddPublication announces or updates a local writer.
func (s *Service) AddPublication(ctx context.Context, p PublicationData) error {
	s.mu.Lock()
	s.localPubs[p.Key] = p
	delete(s.tombstones, p.Key)
	s.mu.Unlock()
	return s.publishLocal(ctx, s.data(rtps.EntityIDSEDPPublicationsReader, rtps.EntityIDSEDPPublicationsWriter, p.Key, p.Encode()))
}

// RemovePublication withdraws a local writer.
func (s *Service) RemovePublication(ctx context.Context, key rtps.GUID) error {
	return s.removeLocal(ctx, key, rtps.EntityIDSEDPPublicationsWriter, func() bool {
		_, ok := s.localPubs[key]
		delete(s.localPubs, key)
		return ok
	})
}

// AddSubscription announces or updates a local reader.
func (s *Service) AddSubscription(ctx context.Context, sub SubscriptionData) error {
	s.mu.Lock()
	s.localSubs[sub.Key] = sub
	delete(s.tombstones, sub.Key)
	s.mu.Unlock()
	return s.publishLocal(ctx, s.data(rtps.EntityIDSEDPSubscriptionsReader, rtps.EntityIDSEDPSubscriptionsWriter, sub.Key, sub.Encode()))
}

// RemoveSubscription withdraws a local reader.
func (s *Service) RemoveSubscription(ctx context.Context, key rtps.GUID) error {
	return s.removeLocal(ctx, key, rtps.EntityIDSEDPSubscriptionsWriter, func() bool {
		_, ok := s.localSubs[key]
		delete(s.localSubs, key)
		return ok
	})
}

// removeLocal keeps a tombstone for one lease so peers that miss the
// dispose still learn of the removal on the next resend.
func (s *Service) removeLocal(ctx context.Context, key rtps.GUID, writer rtps.EntityID, del func() bool) error {
	s.mu.Lock()
	if !del() {
		s.mu.Unlock()
		return nil
	}
	s.tombstones[key] = tombstone{writer: writer, expires: time.Now().Add(s.local.LeaseDuration)}
	s.mu.Unlock()
	return s.publishLocal(ctx, s.disposeData(readerFor(writer), writer, key))
}

// IsBuiltinWriter reports whether id is a discovery writer handled by
// HandleData.
func IsBuiltinWriter(id rtps.EntityID) bool {
	switch id {
	case rtps.EntityIDSPDPWriter, rtps.EntityIDSEDPTopicWriter,
		rtps.EntityIDSEDPPublicationsWriter, rtps.EntityIDSEDPSubscriptionsWriter:
		return true
	}
	return false
}

// HandleData processes a discovery DATA submessage sent by src.
func (s *Service) HandleData(ctx context.Context, src rtps.GUIDPrefix, d *rtps.Data) {
	if src == s.prefix {
		return
	}
	s.mu.RLock()
	ignored, stopped := s.ignoredParts[src], s.stopped
	s.mu.RUnlock()
	if ignored || stopped {
		return
	}

	var status uint32
	var key rtps.GUID
	if d.InlineQos != nil {
		status = d.InlineQos.StatusInfo()
		if kh, ok := d.InlineQos.KeyHash(); ok {
			key = rtps.GUIDFromBytes(kh)
		}
	}
	if status&(rtps.StatusInfoDisposed|rtps.StatusInfoUnregistered) != 0 {
		s.handleDispose(src, d.WriterID, key)
		return
	}
	if len(d.Payload) == 0 {
		return
	}
	order := rtps.ByteOrder(binary.LittleEndian)
	if d.Encapsulation == rtps.EncodingPLCDRBE {
		order = binary.BigEndian
	}
	pl, _, err := rtps.DecodeParameterList(d.Payload, order)
	if err != nil {
		s.logger.Warn("discarding malformed discovery data", "remote", src.String(), "error", err)
		return
	}

	switch d.WriterID {
	case rtps.EntityIDSPDPWriter:
		p, err := DecodeParticipantData(pl)
		if err != nil {
			s.logger.Warn("discarding malformed spdp data", "remote", src.String(), "error", err)
			return
		}
		s.handleParticipant(ctx, p)
	case rtps.EntityIDSEDPTopicWriter:
		t, err := DecodeTopicData(pl)
		if err == nil && s.fresh(t.Key, d.Payload) {
			s.mu.Lock()
			s.topics[t.Key] = t
			s.mu.Unlock()
			s.sink.TopicDiscovered(t)
		}
	case rtps.EntityIDSEDPPublicationsWriter:
		p, err := DecodePublicationData(pl)
		if err == nil && s.fresh(p.Key, d.Payload) {
			s.mu.Lock()
			s.pubs[p.Key] = p
			s.mu.Unlock()
			s.sink.PublicationDiscovered(p)
		}
	case rtps.EntityIDSEDPSubscriptionsWriter:
		sub, err := DecodeSubscriptionData(pl)
		if err == nil && s.fresh(sub.Key, d.Payload) {
			s.mu.Lock()
			s.subs[sub.Key] = sub
			s.mu.Unlock()
			s.sink.SubscriptionDiscovered(sub)
		}
	}
}

// fresh records the payload of an endpoint and reports whether it differs
// from the last one seen. Data of unknown participants and ignored entities
// is not fresh.
func (s *Service) fresh(key rtps.GUID, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.participants[key.Prefix]; !known || s.ignored[key] {
		return false
	}
	if prev, ok := s.raw[key]; ok && bytes.Equal(prev, payload) {
		return false
	}
	s.raw[key] = append([]byte(nil), payload...)
	return true
}

func (s *Service) handleParticipant(ctx context.Context, p ParticipantData) {
	if p.DomainID != s.domainID || p.Prefix == s.prefix {
		return
	}
	lease := p.LeaseDuration
	if lease <= 0 {
		lease = DefaultLeaseDuration
	}
	s.mu.Lock()
	prev, known := s.participants[p.Prefix]
	s.participants[p.Prefix] = p
	count := len(s.participants)
	s.mu.Unlock()

	if _, err := s.leases.SetWithTTL(p.Prefix.String(), p, lease); err != nil {
		s.logger.Warn("lease update failed", "remote", p.Prefix.String(), "error", err)
	}

	switch {
	case !known:
		s.logger.Info("participant discovered", "remote", p.Prefix.String(), "name", p.Name)
		s.metrics.RecordParticipants(s.domain, count)
		s.sink.ParticipantDiscovered(p)
		s.greet(ctx, p)
	case !bytes.Equal(prev.Encode().Encode(binary.LittleEndian), p.Encode().Encode(binary.LittleEndian)):
		s.sink.ParticipantUpdated(p)
	}
}

func (s *Service) handleDispose(src rtps.GUIDPrefix, writer rtps.EntityID, key rtps.GUID) {
	switch writer {
	case rtps.EntityIDSPDPWriter:
		s.dropParticipant(src, "disposed")
	case rtps.EntityIDSEDPTopicWriter:
		s.mu.Lock()
		delete(s.topics, key)
		delete(s.raw, key)
		s.mu.Unlock()
	case rtps.EntityIDSEDPPublicationsWriter:
		s.mu.Lock()
		_, ok := s.pubs[key]
		delete(s.pubs, key)
		delete(s.raw, key)
		s.mu.Unlock()
		if ok {
			s.sink.PublicationRemoved(key)
		}
	case rtps.EntityIDSEDPSubscriptionsWriter:
		s.mu.Lock()
		_, ok := s.subs[key]
		delete(s.subs, key)
		delete(s.raw, key)
		s.mu.Unlock()
		if ok {
			s.sink.SubscriptionRemoved(key)
		}
	}
}

// dropParticipant removes a participant with the given reason. The lease
// cache callback performs the removal.
func (s *Service) dropParticipant(prefix rtps.GUIDPrefix, reason string) {
	s.mu.Lock()
	s.lostReason[prefix] = reason
	s.mu.Unlock()
	if ok, _ := s.leases.Delete(prefix.String()); !ok {
		s.mu.Lock()
		delete(s.lostReason, prefix)
		s.mu.Unlock()
	}
}

// Touch renews a remote participant's lease.
func (s *Service) Touch(prefix rtps.GUIDPrefix) bool {
	s.mu.RLock()
	p, ok := s.participants[prefix]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.leases.Touch(prefix.String(), p.LeaseDuration)
}

func (s *Service) onLeaseEnd(key string, p ParticipantData) {
	prefix := p.Prefix
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	reason, ok := s.lostReason[prefix]
	if !ok {
		reason = "lease_expired"
	}
	delete(s.lostReason, prefix)
	if _, known := s.participants[prefix]; !known {
		s.mu.Unlock()
		return
	}
	delete(s.participants, prefix)
	var pubs, subs []rtps.GUID
	for g := range s.pubs {
		if g.Prefix == prefix {
			pubs = append(pubs, g)
			delete(s.pubs, g)
		}
	}
	for g := range s.subs {
		if g.Prefix == prefix {
			subs = append(subs, g)
			delete(s.subs, g)
		}
	}
	for g := range s.topics {
		if g.Prefix == prefix {
			delete(s.topics, g)
		}
	}
	for g := range s.raw {
		if g.Prefix == prefix {
			delete(s.raw, g)
		}
	}
	count := len(s.participants)
	s.mu.Unlock()

	for _, g := range pubs {
		s.sink.PublicationRemoved(g)
	}
	for _, g := range subs {
		s.sink.SubscriptionRemoved(g)
	}
	s.logger.Info("participant lost", "remote", key, "reason", reason)
	s.metrics.RecordParticipantLost(s.domain, reason)
	s.metrics.RecordParticipants(s.domain, count)
	s.sink.ParticipantLost(prefix, reason)
}

// Ignore drops a remote participant and everything it announces from now
// on.
func (s *Service) Ignore(prefix rtps.GUIDPrefix) {
	s.mu.Lock()
	s.ignoredParts[prefix] = true
	s.mu.Unlock()
	s.dropParticipant(prefix, "ignored")
}

// IgnoreEntity drops a remote topic, publication or subscription.
func (s *Service) IgnoreEntity(guid rtps.GUID) {
	s.mu.Lock()
	s.ignored[guid] = true
	_, isPub := s.pubs[guid]
	_, isSub := s.subs[guid]
	delete(s.pubs, guid)
	delete(s.subs, guid)
	delete(s.topics, guid)
	delete(s.raw, guid)
	s.mu.Unlock()
	if isPub {
		s.sink.PublicationRemoved(guid)
	}
	if isSub {
		s.sink.SubscriptionRemoved(guid)
	}
}

// Participants returns the known remote participants.
func (s *Service) Participants() []ParticipantData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := mapValues(s.participants)
	slices.SortFunc(out, func(a, b ParticipantData) int { return bytes.Compare(a.Prefix[:], b.Prefix[:]) })
	return out
}

// Participant returns one remote participant.
func (s *Service) Participant(prefix rtps.GUIDPrefix) (ParticipantData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[prefix]
	return p, ok
}

// Topics returns the remote topics.
func (s *Service) Topics() []TopicData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mapValues(s.topics)
}

// Publications returns the remote writers.
func (s *Service) Publications() []PublicationData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mapValues(s.pubs)
}

// Subscriptions returns the remote readers.
func (s *Service) Subscriptions() []SubscriptionData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mapValues(s.subs)
}

// Publication returns one remote writer.
func (s *Service) Publication(g rtps.GUID) (PublicationData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pubs[g]
	return p, ok
}

// Subscription returns one remote reader.
func (s *Service) Subscription(g rtps.GUID) (SubscriptionData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[g]
	return sub, ok
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
