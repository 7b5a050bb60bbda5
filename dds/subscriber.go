package dds

import (
	"sort"
	"sync"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// Subscriber groups data readers. The built-in subscriber holds the
// readers of the DCPS* topics.
type Subscriber struct {
	entity
	participant *Participant
	builtin     bool

	mu        sync.Mutex
	qos       qos.SubscriberQos
	readerQos qos.DataReaderQos
	readers   map[InstanceHandle]*DataReader
	access    int
}

func newSubscriber(p *Participant, q qos.SubscriberQos, l Listener, mask StatusMask, builtin bool) *Subscriber {
	sub := &Subscriber{
		participant: p,
		builtin:     builtin,
		qos:         q,
		readerQos:   qos.DefaultDataReaderQos(),
		readers:     make(map[InstanceHandle]*DataReader),
	}
	guid := rtps.GUID{Prefix: p.prefix, Entity: p.newEntityID(rtps.KindReaderGroup)}
	sub.init(sub, p.factory.nextHandle(), guid, l, mask)
	return sub
}

// GetParticipant returns the owning participant.
func (sub *Subscriber) GetParticipant() *Participant { return sub.participant }

// Enable enables the subscriber. The participant must be enabled.
func (sub *Subscriber) Enable() error {
	if err := sub.check("Subscriber", "Enable"); err != nil {
		return err
	}
	if !sub.participant.IsEnabled() {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Subscriber", "Enable", "participant is not enabled")
	}
	sub.enabled.Store(true)
	return nil
}

// enableAll enables the subscriber and every reader of it.
func (sub *Subscriber) enableAll() error {
	if err := sub.Enable(); err != nil {
		return err
	}
	for _, r := range sub.dataReaders() {
		if r.topic != nil && r.topic.builtin {
			if err := r.topic.Enable(); err != nil {
				return err
			}
		}
		if err := r.Enable(); err != nil {
			return err
		}
	}
	return nil
}

func (sub *Subscriber) autoenable() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.qos.EntityFactory.AutoenableCreatedEntities
}

func (sub *Subscriber) enableChildren() {
	for _, r := range sub.dataReaders() {
		if err := r.Enable(); err != nil {
			sub.participant.logger.Warn("enable reader", "topic", r.topicName(), "error", err)
		}
	}
}

func (sub *Subscriber) dataReaders() []*DataReader {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return mapValues(sub.readers)
}

func (sub *Subscriber) readerCount() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.readers)
}

// GetQos returns the subscriber QoS.
func (sub *Subscriber) GetQos() qos.SubscriberQos {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.qos.Clone()
}

// SetQos replaces the subscriber QoS. Readers re-announce the group
// policies.
func (sub *Subscriber) SetQos(q qos.SubscriberQos) error {
	if err := sub.check("Subscriber", "SetQos"); err != nil {
		return err
	}
	if err := qos.CheckSubscriberQos(q); err != nil {
		return err
	}
	sub.mu.Lock()
	if sub.enabled.Load() {
		if err := qos.ChangeableSubscriberQos(sub.qos, q); err != nil {
			sub.mu.Unlock()
			return err
		}
	}
	sub.qos = q.Clone()
	readers := mapValues(sub.readers)
	sub.mu.Unlock()
	p := sub.participant
	for _, r := range readers {
		if !r.IsEnabled() {
			continue
		}
		targets := []*DataReader{r}
		if r.join != nil {
			targets = r.join.readers()
		}
		for _, t := range targets {
			t.announce()
			p.matchReader(t)
		}
	}
	return nil
}

// GetDefaultDataReaderQos returns the QoS of readers created without one.
func (sub *Subscriber) GetDefaultDataReaderQos() qos.DataReaderQos {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.readerQos.Clone()
}

// SetDefaultDataReaderQos replaces the default reader QoS. Nil restores the
// built-in default.
func (sub *Subscriber) SetDefaultDataReaderQos(q *qos.DataReaderQos) error {
	v := qos.DefaultDataReaderQos()
	if q != nil {
		v = q.Clone()
	}
	if err := qos.CheckDataReaderQos(v); err != nil {
		return err
	}
	sub.mu.Lock()
	sub.readerQos = v
	sub.mu.Unlock()
	return nil
}

// CopyFromTopicQos overlays the topic policies that also exist on readers.
func (sub *Subscriber) CopyFromTopicQos(q *qos.DataReaderQos, t qos.TopicQos) error {
	if q == nil {
		return errors.Fail(errors.RetcodeBadParameter, "Subscriber", "CopyFromTopicQos", "reader QoS is nil")
	}
	q.CopyFromTopicQos(t)
	return nil
}

// CreateDataReader creates a reader on a Topic, a ContentFilteredTopic or a
// MultiTopic. A nil QoS uses the subscriber's default reader QoS.
func (sub *Subscriber) CreateDataReader(desc TopicDescription, q *qos.DataReaderQos, l Listener, mask StatusMask) (*DataReader, error) {
	if err := sub.check("Subscriber", "CreateDataReader"); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "Subscriber", "CreateDataReader", "topic is nil")
	}
	p := sub.participant
	if desc.GetParticipant() != p {
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "Subscriber", "CreateDataReader", "topic belongs to another participant")
	}
	if sub.builtin {
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "Subscriber", "CreateDataReader", "the built-in subscriber is read-only")
	}
	rq := sub.GetDefaultDataReaderQos()
	if q != nil {
		rq = q.Clone()
	}
	if err := qos.CheckDataReaderQos(rq); err != nil {
		return nil, err
	}

	r := newDataReader(sub, desc, rq, l, mask)
	var inner []*DataReader
	if m, ok := desc.(*MultiTopic); ok {
		j, err := sub.buildJoin(r, m, rq)
		if err != nil {
			return nil, err
		}
		r.join = j
		inner = mapValues(j.inner)
	}
	sub.mu.Lock()
	sub.readers[r.handle] = r
	sub.mu.Unlock()
	p.registerHandle(r.guid, r.handle)
	p.mu.Lock()
	p.readers[r.guid.Entity] = r
	for _, ir := range inner {
		p.readers[ir.guid.Entity] = ir
	}
	p.mu.Unlock()

	if sub.enabled.Load() && sub.autoenable() {
		if err := r.Enable(); err != nil {
			_ = sub.DeleteDataReader(r)
			return nil, err
		}
	}
	return r, nil
}

// buildJoin creates one hidden reader per topic of m. They keep only the
// latest sample of each instance.
func (sub *Subscriber) buildJoin(outer *DataReader, m *MultiTopic, rq qos.DataReaderQos) (*multiJoin, error) {
	p := sub.participant
	j := &multiJoin{topic: m, outer: outer, inner: make(map[string]*DataReader)}
	iq := rq.Clone()
	iq.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 1}
	iq.ResourceLimits = qos.ResourceLimitsQosPolicy{
		MaxSamples:            qos.LengthUnlimited,
		MaxInstances:          qos.LengthUnlimited,
		MaxSamplesPerInstance: qos.LengthUnlimited,
	}
	iq.TimeBasedFilter.MinimumSeparation = 0
	for _, tn := range m.Topics() {
		p.mu.RLock()
		t, ok := p.topics[tn]
		p.mu.RUnlock()
		if !ok {
			return nil, errors.Failf(errors.RetcodePreconditionNotMet, "Subscriber", "CreateDataReader", "joined topic %q was deleted", tn)
		}
		ir := newDataReader(sub, t, iq, nil, StatusNone)
		ir.hidden = true
		ir.onCommit = j.onCommit
		j.inner[tn] = ir
	}
	return j, nil
}

// DeleteDataReader deletes a reader without read conditions.
func (sub *Subscriber) DeleteDataReader(r *DataReader) error {
	if r == nil || r.subscriber != sub || r.hidden {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Subscriber", "DeleteDataReader", "reader belongs to another subscriber")
	}
	if r.conditionCount() > 0 {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Subscriber", "DeleteDataReader", "reader still has read conditions")
	}
	sub.mu.Lock()
	if _, ok := sub.readers[r.handle]; !ok {
		sub.mu.Unlock()
		return errors.Fail(errors.RetcodeAlreadyDeleted, "Subscriber", "DeleteDataReader", "lookup reader")
	}
	delete(sub.readers, r.handle)
	sub.mu.Unlock()
	r.close()
	return nil
}

// LookupDataReader returns a reader of the named topic description, or nil.
func (sub *Subscriber) LookupDataReader(topic string) *DataReader {
	var found *DataReader
	for _, r := range sub.dataReaders() {
		if r.topicName() == topic && (found == nil || r.handle < found.handle) {
			found = r
		}
	}
	return found
}

// DeleteContainedEntities deletes every reader of the subscriber together
// with their read conditions.
func (sub *Subscriber) DeleteContainedEntities() error {
	if err := sub.check("Subscriber", "DeleteContainedEntities"); err != nil {
		return err
	}
	if sub.builtin {
		return nil
	}
	for _, r := range sub.dataReaders() {
		if err := r.DeleteContainedEntities(); err != nil {
			return err
		}
		if err := sub.DeleteDataReader(r); err != nil {
			return err
		}
	}
	return nil
}

// GetDataReaders returns the readers holding samples in the given states.
func (sub *Subscriber) GetDataReaders(ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]*DataReader, error) {
	if err := sub.checkEnabled("Subscriber", "GetDataReaders"); err != nil {
		return nil, err
	}
	sel := selector{samples: ss, views: vs, states: is}
	var out []*DataReader
	for _, r := range sub.dataReaders() {
		if r.hasMatching(sel) {
			out = append(out, r)
		}
	}
	sortByHandle(out)
	return out, nil
}

// NotifyDataReaders calls the data available listener of every reader with
// new data.
func (sub *Subscriber) NotifyDataReaders() error {
	if err := sub.checkEnabled("Subscriber", "NotifyDataReaders"); err != nil {
		return err
	}
	p := sub.participant
	for _, r := range sub.dataReaders() {
		if !r.changed(StatusDataAvailable) {
			continue
		}
		notifyWith(p, StatusDataAvailable, []*entity{&r.entity}, func(l DataAvailableListener) {
			l.OnDataAvailable(r)
		})
	}
	sub.clear(StatusDataOnReaders)
	return nil
}

// BeginAccess opens an access scope. Calls nest.
func (sub *Subscriber) BeginAccess() error {
	if err := sub.checkEnabled("Subscriber", "BeginAccess"); err != nil {
		return err
	}
	sub.mu.Lock()
	sub.access++
	sub.mu.Unlock()
	return nil
}

// EndAccess closes the scope opened by BeginAccess.
func (sub *Subscriber) EndAccess() error {
	if err := sub.checkEnabled("Subscriber", "EndAccess"); err != nil {
		return err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.access == 0 {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Subscriber", "EndAccess", "no access was begun")
	}
	sub.access--
	return nil
}

func (sub *Subscriber) close() {
	sub.markDeleted()
}

// closeBuiltin deletes the built-in readers and topics on participant
// deletion.
func (sub *Subscriber) closeBuiltin() {
	p := sub.participant
	for _, r := range sub.dataReaders() {
		r.close()
	}
	sub.mu.Lock()
	sub.readers = make(map[InstanceHandle]*DataReader)
	sub.mu.Unlock()
	p.mu.Lock()
	var topics []*Topic
	for name, t := range p.topics {
		if t.builtin {
			topics = append(topics, t)
			delete(p.topics, name)
		}
	}
	p.mu.Unlock()
	for _, t := range topics {
		t.close()
	}
	sub.markDeleted()
}

func sortByHandle(rs []*DataReader) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].handle < rs[j].handle })
}
