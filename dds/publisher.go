package dds

import (
	"sync"
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// outbound is a batch of submessages for one remote participant, or for one
// local reader when local is set.
type outbound struct {
	dst    transport.Destination
	subs   []rtps.Submessage
	local  *DataReader
	writer rtps.GUID
}

// deliver hands a batch to the transports or to the local reader.
func (p *Participant) deliver(o outbound) {
	if o.local != nil {
		o.local.onLocal(o.writer, o.subs)
		return
	}
	p.send(o.dst, o.subs)
}

// Publisher groups data writers and controls when their changes leave.
type Publisher struct {
	entity
	participant *Participant

	mu        sync.Mutex
	qos       qos.PublisherQos
	writerQos qos.DataWriterQos
	writers   map[InstanceHandle]*DataWriter

	emitMu    sync.Mutex
	suspended int
	outbox    []outbound

	coherentMu sync.Mutex
	coherent   int
}

func newPublisher(p *Participant, q qos.PublisherQos, l Listener, mask StatusMask) *Publisher {
	pub := &Publisher{
		participant: p,
		qos:         q,
		writerQos:   qos.DefaultDataWriterQos(),
		writers:     make(map[InstanceHandle]*DataWriter),
	}
	guid := rtps.GUID{Prefix: p.prefix, Entity: p.newEntityID(rtps.KindWriterGroup)}
	pub.init(pub, p.factory.nextHandle(), guid, l, mask)
	return pub
}

// GetParticipant returns the owning participant.
func (pub *Publisher) GetParticipant() *Participant { return pub.participant }

// Enable enables the publisher. The participant must be enabled.
func (pub *Publisher) Enable() error {
	if err := pub.check("Publisher", "Enable"); err != nil {
		return err
	}
	if !pub.participant.IsEnabled() {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Publisher", "Enable", "participant is not enabled")
	}
	pub.enabled.Store(true)
	return nil
}

func (pub *Publisher) autoenable() bool {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.qos.EntityFactory.AutoenableCreatedEntities
}

func (pub *Publisher) enableChildren() {
	for _, w := range pub.dataWriters() {
		if err := w.Enable(); err != nil {
			pub.participant.logger.Warn("enable writer", "topic", w.topic.name, "error", err)
		}
	}
}

func (pub *Publisher) dataWriters() []*DataWriter {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return mapValues(pub.writers)
}

func (pub *Publisher) writerCount() int {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return len(pub.writers)
}

// GetQos returns the publisher QoS.
func (pub *Publisher) GetQos() qos.PublisherQos {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.qos.Clone()
}

// SetQos replaces the publisher QoS. Matched writers re-announce the
// group policies.
func (pub *Publisher) SetQos(q qos.PublisherQos) error {
	if err := pub.check("Publisher", "SetQos"); err != nil {
		return err
	}
	if err := qos.CheckPublisherQos(q); err != nil {
		return err
	}
	pub.mu.Lock()
	if pub.enabled.Load() {
		if err := qos.ChangeablePublisherQos(pub.qos, q); err != nil {
			pub.mu.Unlock()
			return err
		}
	}
	pub.qos = q.Clone()
	writers := mapValues(pub.writers)
	pub.mu.Unlock()
	for _, w := range writers {
		if w.IsEnabled() {
			w.announce()
		}
	}
	return nil
}

// GetDefaultDataWriterQos returns the QoS of writers created without one.
func (pub *Publisher) GetDefaultDataWriterQos() qos.DataWriterQos {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.writerQos.Clone()
}

// SetDefaultDataWriterQos replaces the default writer QoS. Nil restores the
// built-in default.
func (pub *Publisher) SetDefaultDataWriterQos(q *qos.DataWriterQos) error {
	v := qos.DefaultDataWriterQos()
	if q != nil {
		v = q.Clone()
	}
	if err := qos.CheckDataWriterQos(v); err != nil {
		return err
	}
	pub.mu.Lock()
	pub.writerQos = v
	pub.mu.Unlock()
	return nil
}

// CopyFromTopicQos overlays the topic policies that also exist on writers.
func (pub *Publisher) CopyFromTopicQos(q *qos.DataWriterQos, t qos.TopicQos) error {
	if q == nil {
		return errors.Fail(errors.RetcodeBadParameter, "Publisher", "CopyFromTopicQos", "writer QoS is nil")
	}
	q.CopyFromTopicQos(t)
	return nil
}

// CreateDataWriter creates a writer on t. A nil QoS uses the publisher's
// default writer QoS.
func (pub *Publisher) CreateDataWriter(t *Topic, q *qos.DataWriterQos, l Listener, mask StatusMask) (*DataWriter, error) {
	if err := pub.check("Publisher", "CreateDataWriter"); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "Publisher", "CreateDataWriter", "topic is nil")
	}
	if t.participant != pub.participant || t.builtin {
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "Publisher", "CreateDataWriter", "topic belongs to another participant or is built-in")
	}
	wq := pub.GetDefaultDataWriterQos()
	if q != nil {
		wq = q.Clone()
	}
	if err := qos.CheckDataWriterQos(wq); err != nil {
		return nil, err
	}
	p := pub.participant
	store := p.factory.deps.Transient
	if wq.Durability.Kind == qos.PersistentDurability {
		store = p.factory.deps.Persistent
		if store == nil {
			return nil, errors.Fail(errors.RetcodeUnsupported, "Publisher", "CreateDataWriter", "no persistent durability store is configured")
		}
	}
	w := newDataWriter(pub, t, wq, store, l, mask)
	pub.mu.Lock()
	pub.writers[w.handle] = w
	pub.mu.Unlock()
	p.registerHandle(w.guid, w.handle)
	p.mu.Lock()
	p.writers[w.guid.Entity] = w
	p.mu.Unlock()

	if pub.enabled.Load() && pub.autoenable() {
		if err := w.Enable(); err != nil {
			_ = pub.DeleteDataWriter(w)
			return nil, err
		}
	}
	return w, nil
}

// DeleteDataWriter deletes a writer. Its live instances are unregistered.
func (pub *Publisher) DeleteDataWriter(w *DataWriter) error {
	if w == nil || w.publisher != pub {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Publisher", "DeleteDataWriter", "writer belongs to another publisher")
	}
	pub.mu.Lock()
	if _, ok := pub.writers[w.handle]; !ok {
		pub.mu.Unlock()
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Publisher", "DeleteDataWriter", "lookup writer")
	}
	delete(pub.writers, w.handle)
	pub.mu.Unlock()
	w.close()
	return nil
}

// LookupDataWriter returns a writer of the named topic, or nil.
func (pub *Publisher) LookupDataWriter(topic string) *DataWriter {
	var found *DataWriter
	for _, w := range pub.dataWriters() {
		if w.topic.name == topic && (found == nil || w.handle < found.handle) {
			found = w
		}
	}
	return found
}

// DeleteContainedEntities deletes every writer of the publisher.
func (pub *Publisher) DeleteContainedEntities() error {
	if err := pub.check("Publisher", "DeleteContainedEntities"); err != nil {
		return err
	}
	for _, w := range pub.dataWriters() {
		if err := pub.DeleteDataWriter(w); err != nil {
			return err
		}
	}
	return nil
}

// SuspendPublications holds back outgoing traffic until the matching
// ResumePublications. Calls nest.
func (pub *Publisher) SuspendPublications() error {
	if err := pub.checkEnabled("Publisher", "SuspendPublications"); err != nil {
		return err
	}
	pub.emitMu.Lock()
	pub.suspended++
	pub.emitMu.Unlock()
	return nil
}

// ResumePublications releases the traffic held since the outermost
// SuspendPublications, one batch per destination.
func (pub *Publisher) ResumePublications() error {
	if err := pub.checkEnabled("Publisher", "ResumePublications"); err != nil {
		return err
	}
	pub.emitMu.Lock()
	defer pub.emitMu.Unlock()
	if pub.suspended == 0 {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Publisher", "ResumePublications", "publications are not suspended")
	}
	pub.suspended--
	if pub.suspended > 0 {
		return nil
	}
	held := pub.outbox
	pub.outbox = nil
	for _, o := range coalesce(held) {
		pub.participant.deliver(o)
	}
	return nil
}

// coalesce merges consecutive remote batches per destination participant
// while keeping local deliveries in order.
func coalesce(outs []outbound) []outbound {
	var merged []outbound
	index := make(map[rtps.GUIDPrefix]int)
	for _, o := range outs {
		if o.local != nil {
			merged = append(merged, o)
			continue
		}
		if i, ok := index[o.dst.Prefix]; ok {
			merged[i].subs = append(merged[i].subs, o.subs...)
			continue
		}
		index[o.dst.Prefix] = len(merged)
		o.subs = append([]rtps.Submessage(nil), o.subs...)
		merged = append(merged, o)
	}
	return merged
}

// emit sends the batches now, or queues them while suspended.
func (pub *Publisher) emit(outs []outbound) {
	if len(outs) == 0 {
		return
	}
	pub.emitMu.Lock()
	defer pub.emitMu.Unlock()
	if pub.suspended > 0 {
		pub.outbox = append(pub.outbox, outs...)
		return
	}
	for _, o := range outs {
		pub.participant.deliver(o)
	}
}

// BeginCoherentChanges opens a coherent region. Changes written until the
// outermost EndCoherentChanges are delivered all together or not at all.
func (pub *Publisher) BeginCoherentChanges() error {
	if err := pub.checkEnabled("Publisher", "BeginCoherentChanges"); err != nil {
		return err
	}
	pub.coherentMu.Lock()
	pub.coherent++
	pub.coherentMu.Unlock()
	return nil
}

// EndCoherentChanges closes a coherent region.
func (pub *Publisher) EndCoherentChanges() error {
	if err := pub.checkEnabled("Publisher", "EndCoherentChanges"); err != nil {
		return err
	}
	pub.coherentMu.Lock()
	if pub.coherent == 0 {
		pub.coherentMu.Unlock()
		return errors.Fail(errors.RetcodePreconditionNotMet, "Publisher", "EndCoherentChanges", "no coherent changes were begun")
	}
	pub.coherent--
	closing := pub.coherent == 0
	pub.coherentMu.Unlock()
	if closing {
		for _, w := range pub.dataWriters() {
			w.endCoherentSet()
		}
	}
	return nil
}

// inCoherentSet reports whether writes are tagged as a coherent set.
func (pub *Publisher) inCoherentSet() bool {
	pub.mu.Lock()
	coherentAccess := pub.qos.Presentation.CoherentAccess
	pub.mu.Unlock()
	if !coherentAccess {
		return false
	}
	pub.coherentMu.Lock()
	defer pub.coherentMu.Unlock()
	return pub.coherent > 0
}

// WaitForAcknowledgments blocks until every reliable reader of every writer
// acknowledged all changes, or the timeout elapses.
func (pub *Publisher) WaitForAcknowledgments(timeout time.Duration) error {
	if err := pub.checkEnabled("Publisher", "WaitForAcknowledgments"); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for _, w := range pub.dataWriters() {
		remaining := timeout
		if timeout != qos.Infinite {
			remaining = time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
		}
		if err := w.WaitForAcknowledgments(remaining); err != nil {
			return err
		}
	}
	return nil
}

// close drops held traffic and marks the publisher deleted.
func (pub *Publisher) close() {
	pub.emitMu.Lock()
	dropped := len(pub.outbox)
	pub.outbox = nil
	pub.suspended = 0
	pub.emitMu.Unlock()
	if dropped > 0 {
		pub.participant.logger.Debug("discarded suspended publications", "batches", dropped)
	}
	pub.markDeleted()
}
