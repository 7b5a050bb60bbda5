package dds

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// DataReader receives samples of a Topic, a ContentFilteredTopic or a
// MultiTopic and keeps them per instance until they are taken.
type DataReader struct {
	entity
	subscriber *Subscriber
	desc       TopicDescription
	topic      *Topic
	cft        *ContentFilteredTopic
	multi      *MultiTopic
	join       *multiJoin
	ts         TypeSupport

	// hidden readers feed a multi-topic join and are invisible to the
	// application.
	hidden   bool
	onCommit func(topic string, data []byte, source time.Time, writer rtps.GUID)

	mu        sync.Mutex
	qos       qos.DataReaderQos
	writers   map[rtps.GUID]*writerProxy
	instances map[rtps.KeyHash]*readerInstance
	byHandle  map[InstanceHandle]*readerInstance
	samples   int
	conds     map[*ReadCondition]struct{}
	histCh    chan struct{}

	matched    SubscriptionMatchedStatus
	incompat   IncompatibleQosStatus
	deadline   RequestedDeadlineMissedStatus
	liveliness LivelinessChangedStatus
	lost       SampleLostStatus
	rejected   SampleRejectedStatus
}

func newDataReader(sub *Subscriber, desc TopicDescription, q qos.DataReaderQos, l Listener, mask StatusMask) *DataReader {
	p := sub.participant
	r := &DataReader{
		subscriber: sub,
		desc:       desc,
		qos:        q,
		writers:    make(map[rtps.GUID]*writerProxy),
		instances:  make(map[rtps.KeyHash]*readerInstance),
		byHandle:   make(map[InstanceHandle]*readerInstance),
		conds:      make(map[*ReadCondition]struct{}),
		histCh:     make(chan struct{}),
	}
	switch d := desc.(type) {
	case *Topic:
		r.topic, r.ts = d, d.ts
	case *ContentFilteredTopic:
		r.cft, r.topic, r.ts = d, d.related, d.related.ts
	case *MultiTopic:
		r.multi, r.ts = d, d.ts
	}
	kind := rtps.KindReaderNoKey
	if r.ts.HasKey() {
		kind = rtps.KindReaderWithKey
	}
	guid := rtps.GUID{Prefix: p.prefix, Entity: p.newEntityID(kind)}
	r.init(r, p.factory.nextHandle(), guid, l, mask)
	return r
}

func (r *DataReader) participant() *Participant { return r.subscriber.participant }

func (r *DataReader) chain() []*entity {
	return []*entity{&r.entity, &r.subscriber.entity, &r.participant().entity}
}

func (r *DataReader) topicName() string { return r.desc.GetName() }

// GetTopicDescription returns what the reader was created on.
func (r *DataReader) GetTopicDescription() TopicDescription { return r.desc }

// GetSubscriber returns the owning subscriber.
func (r *DataReader) GetSubscriber() *Subscriber { return r.subscriber }

// Enable announces the reader and matches it with known writers. The
// readers behind a multi-topic are enabled with it.
func (r *DataReader) Enable() error {
	if err := r.check("DataReader", "Enable"); err != nil {
		return err
	}
	if !r.subscriber.IsEnabled() || (r.topic != nil && !r.topic.IsEnabled()) {
		return errors.Fail(errors.RetcodePreconditionNotMet, "DataReader", "Enable", "subscriber or topic is not enabled")
	}
	if r.enabled.Swap(true) {
		return nil
	}
	if r.join != nil {
		for _, inner := range r.join.readers() {
			if err := inner.Enable(); err != nil {
				return err
			}
		}
		return nil
	}
	if r.subscriber.builtin {
		return nil
	}
	r.announce()
	r.participant().matchReader(r)
	return nil
}

// subscriptionData describes the reader to discovery. Built-in readers and
// multi-topic readers have nothing on the wire to announce.
func (r *DataReader) subscriptionData() (discovery.SubscriptionData, bool) {
	if r.topic == nil || r.subscriber.builtin {
		return discovery.SubscriptionData{}, false
	}
	r.mu.Lock()
	q := r.qos.Clone()
	r.mu.Unlock()
	sd := discovery.SubscriptionData{
		Key:        r.guid,
		TopicName:  r.topic.name,
		TypeName:   r.ts.TypeName(),
		Reader:     q,
		Subscriber: r.subscriber.GetQos(),
		TopicData:  r.topic.GetQos().TopicData.Value,
	}
	if r.cft != nil {
		sd.Filter = r.cft.contentFilter()
	}
	return sd, true
}

func (r *DataReader) announce() {
	sd, ok := r.subscriptionData()
	if !ok {
		return
	}
	p := r.participant()
	if err := p.discoverySvc().AddSubscription(p.ctx, sd); err != nil {
		p.logger.Warn("announce subscription", "topic", r.topicName(), "error", err)
	}
}

// GetQos returns the reader QoS.
func (r *DataReader) GetQos() qos.DataReaderQos {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qos.Clone()
}

// SetQos replaces the reader QoS. Immutable policies may only change before
// the reader is enabled.
func (r *DataReader) SetQos(q qos.DataReaderQos) error {
	if err := r.check("DataReader", "SetQos"); err != nil {
		return err
	}
	if err := qos.CheckDataReaderQos(q); err != nil {
		return err
	}
	r.mu.Lock()
	if r.enabled.Load() {
		if err := qos.ChangeableDataReaderQos(r.qos, q); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.qos = q.Clone()
	r.mu.Unlock()
	if r.enabled.Load() && r.join == nil && !r.subscriber.builtin {
		r.announce()
		r.participant().matchReader(r)
	}
	return nil
}

// delivery collects what one batch of incoming traffic did to the reader,
// so statuses and callbacks run after the lock is released.
type delivery struct {
	accepted   int
	received   int
	lost       int
	rejects    []SampleRejectedReason
	committed  int
	discarded  int
	joins      []joinInput
	ack        *outbound
	liveliness bool
	notices    []notice
}

type joinInput struct {
	data   []byte
	source time.Time
	writer rtps.GUID
}

func (r *DataReader) noteLost(d *delivery, n int) {
	if n <= 0 {
		return
	}
	d.lost += n
	r.lost.TotalCount += int32(n)
	r.lost.TotalCountChange += int32(n)
}

// commitReady passes changes released by a writer proxy through its
// coherent set buffer into the cache.
func (r *DataReader) commitReady(wp *writerProxy, ready []*incoming, now time.Time, d *delivery) {
	o := wp.origin()
	for _, in := range ready {
		batch, committed, discarded := wp.coherentFilter(in)
		if discarded {
			d.discarded++
		}
		if !committed {
			r.commitBatch(o, wp.reliable, batch, now, d)
			continue
		}
		if r.commitSet(o, wp.reliable, batch, now, d) {
			d.committed++
		} else {
			d.discarded++
		}
	}
}

// commitSet stores a coherent set as a unit. If the cache refuses any
// member the cache is rolled back and every member counts as rejected.
func (r *DataReader) commitSet(o origin, reliable bool, batch []*incoming, now time.Time, d *delivery) bool {
	snap := r.snapshot()
	results := make([]applyResult, 0, len(batch))
	for _, in := range batch {
		res := r.apply(o, in, now, true)
		if res.reject != NotRejected {
			r.restore(snap)
			for range batch {
				r.account(o, reliable, nil, res, d)
			}
			r.participant().logger.Debug("rejected coherent set",
				"topic", r.topicName(), "size", len(batch), "reason", res.reject.String())
			return false
		}
		results = append(results, res)
	}
	for i, res := range results {
		r.account(o, reliable, batch[i], res, d)
	}
	return true
}

// commitBatch stores changes. A change refused by resource limits is
// acknowledged anyway, so a reliable reader counts it as lost too.
func (r *DataReader) commitBatch(o origin, reliable bool, batch []*incoming, now time.Time, d *delivery) {
	for _, in := range batch {
		r.account(o, reliable, in, r.apply(o, in, now, false), d)
	}
}

// account records the outcome of one change in d and the reader statuses.
func (r *DataReader) account(o origin, reliable bool, in *incoming, res applyResult, d *delivery) {
	switch {
	case res.accepted:
		d.accepted++
		if res.valid {
			d.received++
			if r.onCommit != nil {
				d.joins = append(d.joins, joinInput{data: in.data, source: in.source, writer: o.writer})
			}
		}
	case res.reject != NotRejected:
		r.rejected.TotalCount++
		r.rejected.TotalCountChange++
		r.rejected.LastReason = res.reject
		r.rejected.LastInstanceHandle = res.handle
		d.rejects = append(d.rejects, res.reject)
		if reliable {
			r.noteLost(d, 1)
		}
	}
}

// touch renews a writer's liveliness. It reports whether the writer came
// back to life.
func (r *DataReader) touch(wp *writerProxy, now time.Time) bool {
	wp.lastSeen = now
	if wp.alive {
		return false
	}
	wp.alive = true
	r.liveliness.AliveCount++
	r.liveliness.AliveCountChange++
	r.liveliness.NotAliveCount--
	r.liveliness.NotAliveCountChange--
	r.liveliness.LastPublicationHandle = wp.handle
	return true
}

func (r *DataReader) signalHistory() {
	close(r.histCh)
	r.histCh = make(chan struct{})
}

func (r *DataReader) onData(writer rtps.GUID, d *rtps.Data, now time.Time) {
	r.receiveData(writer, []*rtps.Data{d}, now)
}

// onLocal takes the changes of a writer of the same participant.
func (r *DataReader) onLocal(writer rtps.GUID, subs []rtps.Submessage) {
	var datas []*rtps.Data
	for _, s := range subs {
		if d, ok := s.(*rtps.Data); ok {
			datas = append(datas, d)
		}
	}
	if len(datas) > 0 {
		r.receiveData(writer, datas, time.Now())
	}
}

func (r *DataReader) receiveData(writer rtps.GUID, datas []*rtps.Data, now time.Time) {
	r.mu.Lock()
	wp := r.writers[writer]
	if wp == nil || r.deleted.Load() {
		r.mu.Unlock()
		return
	}
	var d delivery
	d.liveliness = r.touch(wp, now)
	for _, data := range datas {
		ready, lost := wp.receive(decodeIncoming(data, now))
		r.noteLost(&d, lost)
		r.commitReady(wp, ready, now, &d)
	}
	r.signalHistory()
	r.captureDelivery(&d)
	r.mu.Unlock()
	r.finish(&d)
}

// onHeartbeat answers a reliable writer's heartbeat with an ACKNACK that
// requests what is missing.
func (r *DataReader) onHeartbeat(writer rtps.GUID, hb *rtps.Heartbeat) {
	now := time.Now()
	r.mu.Lock()
	wp := r.writers[writer]
	if wp == nil {
		r.mu.Unlock()
		return
	}
	var d delivery
	d.liveliness = r.touch(wp, now)
	if wp.reliable && !wp.local && !hb.Liveliness {
		ready, lost := wp.onHeartbeat(hb)
		r.noteLost(&d, lost)
		r.commitReady(wp, ready, now, &d)
		an := wp.ackNack(r.guid.Entity, hb.LastSN)
		if !hb.Final || !an.Final {
			d.ack = &outbound{dst: wp.dst, subs: []rtps.Submessage{an}}
		}
		r.signalHistory()
	}
	r.captureDelivery(&d)
	r.mu.Unlock()
	r.finish(&d)
}

func (r *DataReader) onGap(writer rtps.GUID, g *rtps.Gap) {
	now := time.Now()
	r.mu.Lock()
	wp := r.writers[writer]
	if wp == nil || !wp.reliable || wp.local {
		r.mu.Unlock()
		return
	}
	var d delivery
	r.commitReady(wp, wp.onGap(g), now, &d)
	r.signalHistory()
	r.captureDelivery(&d)
	r.mu.Unlock()
	r.finish(&d)
}

// writerAlive records a liveliness assertion of a matched writer.
func (r *DataReader) writerAlive(g rtps.GUID) {
	r.mu.Lock()
	wp := r.writers[g]
	if wp == nil {
		r.mu.Unlock()
		return
	}
	var n notice
	if r.touch(wp, time.Now()) {
		n = r.livelinessNotice()
	}
	r.mu.Unlock()
	if n != nil {
		n()
	}
}

// inject adds a change produced inside the participant: a multi-topic
// join result or a built-in topic update.
func (r *DataReader) inject(in *incoming, writer rtps.GUID) {
	o := origin{writer: writer, handle: r.participant().handleOf(writer), lifespan: qos.Infinite}
	now := time.Now()
	r.mu.Lock()
	if r.deleted.Load() {
		r.mu.Unlock()
		return
	}
	var d delivery
	r.commitBatch(o, false, []*incoming{in}, now, &d)
	r.captureDelivery(&d)
	r.mu.Unlock()
	r.finish(&d)
}

// latestAlive returns the newest valid sample of every alive instance.
func (r *DataReader) latestAlive() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, inst := range r.sortedInstances() {
		if inst.state != AliveInstanceState {
			continue
		}
		for i := len(inst.samples) - 1; i >= 0; i-- {
			if inst.samples[i].valid {
				out = append(out, inst.samples[i].data)
				break
			}
		}
	}
	return out
}

// finish sends the pending ACKNACK, feeds the join and raises the statuses
// a delivery changed.
func (r *DataReader) finish(d *delivery) {
	p := r.participant()
	if d.ack != nil {
		p.send(d.ack.dst, d.ack.subs)
	}
	topic := r.topicName()
	for _, j := range d.joins {
		r.onCommit(topic, j.data, j.source, j.writer)
	}
	for i := 0; i < d.committed; i++ {
		p.metrics.RecordCoherentSet(topic, true)
	}
	for i := 0; i < d.discarded; i++ {
		p.metrics.RecordCoherentSet(topic, false)
	}
	if d.discarded > 0 {
		p.logger.Debug("discarded incomplete coherent sets", "topic", topic, "count", d.discarded)
	}
	for i := 0; i < d.received; i++ {
		p.metrics.RecordReceive(topic)
	}
	for _, reason := range d.rejects {
		p.metrics.RecordReject(topic, reason.String())
	}
	if d.lost > 0 {
		p.metrics.RecordLost(topic, d.lost)
	}
	if r.hidden {
		return
	}
	fire(d.notices)
	if d.accepted > 0 {
		r.dataArrived()
	}
}

// dataArrived raises DATA_AVAILABLE and DATA_ON_READERS. A subscriber
// listener for DATA_ON_READERS takes the callback instead of the reader.
func (r *DataReader) dataArrived() {
	p := r.participant()
	sub := r.subscriber
	r.raise(StatusDataAvailable)
	sub.raise(StatusDataOnReaders)
	r.signalConditions()
	if l, ok := listenerFor[DataOnReadersListener](StatusDataOnReaders, &sub.entity, &p.entity); ok {
		p.dispatch(func() {
			if sub.deleted.Load() {
				return
			}
			sub.clear(StatusDataOnReaders)
			l.OnDataOnReaders(sub)
		})
		return
	}
	notifyWith(p, StatusDataAvailable, r.chain(), func(l DataAvailableListener) {
		l.OnDataAvailable(r)
	})
}

func (r *DataReader) signalConditions() {
	r.mu.Lock()
	conds := make([]*ReadCondition, 0, len(r.conds))
	for c := range r.conds {
		conds = append(conds, c)
	}
	r.mu.Unlock()
	for _, c := range conds {
		c.signal()
	}
}

// captureDelivery turns the status changes of d into notices. r.mu is
// held.
func (r *DataReader) captureDelivery(d *delivery) {
	if r.hidden {
		return
	}
	p := r.participant()
	if d.lost > 0 {
		d.notices = append(d.notices, capture(p, StatusSampleLost, r.chain(), r.takeLost,
			func(l SampleLostListener, st SampleLostStatus) { l.OnSampleLost(r, st) }))
	}
	if len(d.rejects) > 0 {
		d.notices = append(d.notices, capture(p, StatusSampleRejected, r.chain(), r.takeRejected,
			func(l SampleRejectedListener, st SampleRejectedStatus) { l.OnSampleRejected(r, st) }))
	}
	if d.liveliness {
		d.notices = append(d.notices, r.livelinessNotice())
	}
}

// livelinessNotice captures LIVELINESS_CHANGED. r.mu is held.
func (r *DataReader) livelinessNotice() notice {
	if r.hidden {
		return func() {}
	}
	return capture(r.participant(), StatusLivelinessChanged, r.chain(), r.takeLiveliness,
		func(l LivelinessChangedListener, st LivelinessChangedStatus) { l.OnLivelinessChanged(r, st) })
}

// matchedNotice captures SUBSCRIPTION_MATCHED. r.mu is held.
func (r *DataReader) matchedNotice() notice {
	if r.hidden {
		return func() {}
	}
	return capture(r.participant(), StatusSubscriptionMatched, r.chain(), r.takeMatched,
		func(l SubscriptionMatchedListener, st SubscriptionMatchedStatus) { l.OnSubscriptionMatched(r, st) })
}

func (r *DataReader) hasWriter(g rtps.GUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.writers[g]
	return ok
}

// addWriter matches a writer. local is set when it belongs to the same
// participant.
func (r *DataReader) addWriter(pub discovery.PublicationData, local *DataWriter) {
	p := r.participant()
	h := p.handleOf(pub.Key)
	r.mu.Lock()
	if wp, ok := r.writers[pub.Key]; ok {
		wp.pub = pub
		r.mu.Unlock()
		return
	}
	reliable := pub.Writer.Reliability.Kind == qos.ReliableReliability && r.qos.Reliability.Kind == qos.ReliableReliability
	wp := newWriterProxy(pub, h, local != nil, reliable)
	if local == nil {
		wp.dst = p.destination(pub.Key.Prefix, pub.Locators)
	}
	r.writers[pub.Key] = wp
	r.matched.TotalCount++
	r.matched.TotalCountChange++
	r.matched.CurrentCount++
	r.matched.CurrentCountChange++
	r.matched.LastPublicationHandle = h
	r.liveliness.AliveCount++
	r.liveliness.AliveCountChange++
	r.liveliness.LastPublicationHandle = h
	r.signalHistory()
	notices := []notice{r.matchedNotice(), r.livelinessNotice()}
	r.mu.Unlock()

	p.logger.Debug("reader matched writer", "topic", r.topicName(), "writer", pub.Key.String())
	p.metrics.RecordMatch(r.topicName(), "reader", 1)
	fire(notices)
}

func (r *DataReader) updateWriter(pub discovery.PublicationData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.writers[pub.Key]
	if !ok {
		return
	}
	wp.pub = pub
	if !wp.local && len(pub.Locators) > 0 {
		wp.dst = r.participant().destination(pub.Key.Prefix, pub.Locators)
	}
}

// removeWriter unmatches a writer. Instances it alone was writing become
// NOT_ALIVE_NO_WRITERS.
func (r *DataReader) removeWriter(g rtps.GUID) {
	p := r.participant()
	r.mu.Lock()
	wp, ok := r.writers[g]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.writers, g)
	r.matched.CurrentCount--
	r.matched.CurrentCountChange--
	r.matched.LastPublicationHandle = wp.handle
	if wp.alive {
		r.liveliness.AliveCount--
		r.liveliness.AliveCountChange--
	} else {
		r.liveliness.NotAliveCount--
		r.liveliness.NotAliveCountChange--
	}
	r.liveliness.LastPublicationHandle = wp.handle
	d := delivery{liveliness: true}
	if wp.set != nil {
		d.discarded++
	}
	if r.dropWriter(wp.origin(), time.Now()) {
		d.accepted++
	}
	r.signalHistory()
	d.notices = append(d.notices, r.matchedNotice())
	r.captureDelivery(&d)
	r.mu.Unlock()

	p.metrics.RecordMatch(r.topicName(), "reader", -1)
	r.finish(&d)
}

func (r *DataReader) requestedIncompatible(policies []qos.PolicyID) {
	p := r.participant()
	r.mu.Lock()
	r.incompat.record(policies)
	n := func() {}
	if !r.hidden {
		n = capture(p, StatusRequestedIncompatibleQos, r.chain(), r.takeIncompatible,
			func(l RequestedIncompatibleQosListener, st RequestedIncompatibleQosStatus) {
				l.OnRequestedIncompatibleQos(r, st)
			})
	}
	r.mu.Unlock()
	for _, id := range policies {
		p.metrics.RecordIncompatible(r.topicName(), id.String())
	}
	p.logger.Warn("writer offers incompatible QoS", "topic", r.topicName(), "policy", policies[0].String())
	n()
}

// tick runs the reader timers: writer leases, deadline, lifespan and
// autopurge.
func (r *DataReader) tick(now time.Time) {
	if !r.enabled.Load() || r.deleted.Load() {
		return
	}
	r.mu.Lock()
	var d delivery
	for _, wp := range r.writers {
		lease := wp.lease()
		if lease == 0 || !wp.alive || now.Sub(wp.lastSeen) <= lease {
			continue
		}
		wp.alive = false
		r.liveliness.AliveCount--
		r.liveliness.AliveCountChange--
		r.liveliness.NotAliveCount++
		r.liveliness.NotAliveCountChange++
		r.liveliness.LastPublicationHandle = wp.handle
		d.liveliness = true
		if r.dropWriter(wp.origin(), now) {
			d.accepted++
		}
	}

	missed := 0
	if period := r.qos.Deadline.Period; period != qos.Infinite {
		for _, inst := range r.instances {
			if inst.state == AliveInstanceState && now.Sub(inst.lastUpdate) >= period {
				inst.lastUpdate = now
				missed++
				r.deadline.TotalCount++
				r.deadline.TotalCountChange++
				r.deadline.LastInstanceHandle = inst.handle
			}
		}
	}
	removed := r.expire(now)
	r.captureDelivery(&d)
	if missed > 0 && !r.hidden {
		d.notices = append(d.notices, capture(r.participant(), StatusRequestedDeadlineMissed, r.chain(), r.takeDeadline,
			func(l RequestedDeadlineMissedListener, st RequestedDeadlineMissedStatus) {
				l.OnRequestedDeadlineMissed(r, st)
			}))
	}
	r.mu.Unlock()

	if removed > 0 {
		r.signalConditions()
	}
	r.finish(&d)
}

// Read returns up to max samples in the given states without removing
// them. A negative max returns every matching sample.
func (r *DataReader) Read(maxSamples int, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]Sample, error) {
	return r.access("Read", maxSamples, selector{samples: ss, views: vs, states: is}, HandleNil, false, false)
}

// Take is Read that removes the returned samples from the reader.
func (r *DataReader) Take(maxSamples int, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]Sample, error) {
	return r.access("Take", maxSamples, selector{samples: ss, views: vs, states: is}, HandleNil, false, true)
}

// ReadWithCondition reads the samples a read or query condition selects.
func (r *DataReader) ReadWithCondition(maxSamples int, c DataCondition) ([]Sample, error) {
	if err := r.ownsCondition("ReadWithCondition", c); err != nil {
		return nil, err
	}
	return r.access("ReadWithCondition", maxSamples, c.selector(), HandleNil, false, false)
}

// TakeWithCondition takes the samples a read or query condition selects.
func (r *DataReader) TakeWithCondition(maxSamples int, c DataCondition) ([]Sample, error) {
	if err := r.ownsCondition("TakeWithCondition", c); err != nil {
		return nil, err
	}
	return r.access("TakeWithCondition", maxSamples, c.selector(), HandleNil, false, true)
}

// ReadNextSample reads the next sample not read yet.
func (r *DataReader) ReadNextSample() (Sample, error) {
	return r.nextSample("ReadNextSample", false)
}

// TakeNextSample takes the next sample not read yet.
func (r *DataReader) TakeNextSample() (Sample, error) {
	return r.nextSample("TakeNextSample", true)
}

func (r *DataReader) nextSample(method string, take bool) (Sample, error) {
	sel := selector{samples: NotReadSampleState, views: AnyViewState, states: AnyInstanceState}
	out, err := r.access(method, 1, sel, HandleNil, false, take)
	if err != nil {
		return Sample{}, err
	}
	return out[0], nil
}

// ReadInstance reads samples of one instance.
func (r *DataReader) ReadInstance(maxSamples int, h InstanceHandle, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]Sample, error) {
	return r.access("ReadInstance", maxSamples, selector{samples: ss, views: vs, states: is}, h, false, false)
}

// TakeInstance takes samples of one instance.
func (r *DataReader) TakeInstance(maxSamples int, h InstanceHandle, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]Sample, error) {
	return r.access("TakeInstance", maxSamples, selector{samples: ss, views: vs, states: is}, h, false, true)
}

// ReadNextInstance reads samples of the first instance after prev, in
// handle order, that has matching samples. HandleNil starts at the first.
func (r *DataReader) ReadNextInstance(maxSamples int, prev InstanceHandle, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]Sample, error) {
	return r.access("ReadNextInstance", maxSamples, selector{samples: ss, views: vs, states: is}, prev, true, false)
}

// TakeNextInstance is ReadNextInstance that removes the samples.
func (r *DataReader) TakeNextInstance(maxSamples int, prev InstanceHandle, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]Sample, error) {
	return r.access("TakeNextInstance", maxSamples, selector{samples: ss, views: vs, states: is}, prev, true, true)
}

func (r *DataReader) access(method string, maxSamples int, sel selector, h InstanceHandle, next, take bool) ([]Sample, error) {
	if err := r.checkEnabled("DataReader", method); err != nil {
		return nil, err
	}
	if maxSamples == 0 {
		return nil, errors.Fail(errors.RetcodeBadParameter, "DataReader", method, "max is zero")
	}
	r.mu.Lock()
	var out []Sample
	switch {
	case next:
		for _, inst := range r.sortedInstances() {
			if inst.handle <= h {
				continue
			}
			if out = r.collect(maxSamples, []*readerInstance{inst}, sel, take); len(out) > 0 {
				break
			}
		}
	case h != HandleNil:
		inst, ok := r.byHandle[h]
		if !ok {
			r.mu.Unlock()
			return nil, errors.Failf(errors.RetcodeBadParameter, "DataReader", method, "unknown instance handle %d", h)
		}
		out = r.collect(maxSamples, []*readerInstance{inst}, sel, take)
	default:
		out = r.collect(maxSamples, r.sortedInstances(), sel, take)
	}
	r.mu.Unlock()

	r.clear(StatusDataAvailable)
	r.subscriber.clear(StatusDataOnReaders)
	if len(out) == 0 {
		return nil, errors.Fail(errors.RetcodeNoData, "DataReader", method, "no matching samples")
	}
	r.signalConditions()
	return out, nil
}

func (r *DataReader) hasMatching(sel selector) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMatchingLocked(sel)
}

// CreateReadCondition creates a condition that triggers while the reader
// holds samples in the given states.
func (r *DataReader) CreateReadCondition(ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) (*ReadCondition, error) {
	if err := r.check("DataReader", "CreateReadCondition"); err != nil {
		return nil, err
	}
	c := &ReadCondition{reader: r, samples: ss, views: vs, states: is}
	r.mu.Lock()
	r.conds[c] = struct{}{}
	r.mu.Unlock()
	return c, nil
}

// CreateQueryCondition creates a read condition that also evaluates expr
// against the sample data.
func (r *DataReader) CreateQueryCondition(ss SampleStateKind, vs ViewStateKind, is InstanceStateKind, expr string, params []string) (*QueryCondition, error) {
	if err := r.check("DataReader", "CreateQueryCondition"); err != nil {
		return nil, err
	}
	compiled, err := r.participant().filters.Compile(expr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "DataReader", "CreateQueryCondition", "compile query")
	}
	if err := compiled.CheckParams(params); err != nil {
		return nil, errors.WrapInvalid(err, "DataReader", "CreateQueryCondition", "check parameters")
	}
	c := &ReadCondition{
		reader:  r,
		samples: ss,
		views:   vs,
		states:  is,
		query:   &queryState{text: expr, expr: compiled, params: append([]string(nil), params...)},
	}
	r.mu.Lock()
	r.conds[c] = struct{}{}
	r.mu.Unlock()
	return &QueryCondition{ReadCondition: c}, nil
}

func readConditionOf(c DataCondition) *ReadCondition {
	switch v := c.(type) {
	case *ReadCondition:
		return v
	case *QueryCondition:
		return v.ReadCondition
	}
	return nil
}

func (r *DataReader) ownsCondition(method string, c DataCondition) error {
	rc := readConditionOf(c)
	if rc == nil || rc.reader != r || rc.released {
		return errors.Fail(errors.RetcodePreconditionNotMet, "DataReader", method, "condition belongs to another reader")
	}
	return nil
}

// DeleteReadCondition deletes a read or query condition of the reader.
func (r *DataReader) DeleteReadCondition(c DataCondition) error {
	if err := r.ownsCondition("DeleteReadCondition", c); err != nil {
		return err
	}
	rc := readConditionOf(c)
	r.mu.Lock()
	delete(r.conds, rc)
	rc.released = true
	r.mu.Unlock()
	rc.detachAll()
	return nil
}

func (r *DataReader) conditionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conds)
}

// DeleteContainedEntities deletes every read condition of the reader.
func (r *DataReader) DeleteContainedEntities() error {
	if err := r.check("DataReader", "DeleteContainedEntities"); err != nil {
		return err
	}
	r.mu.Lock()
	conds := make([]*ReadCondition, 0, len(r.conds))
	for c := range r.conds {
		conds = append(conds, c)
		c.released = true
	}
	r.conds = make(map[*ReadCondition]struct{})
	r.mu.Unlock()
	for _, c := range conds {
		c.detachAll()
	}
	return nil
}

// LookupInstance returns the handle of the instance sample belongs to, or
// HandleNil when the reader does not know it.
func (r *DataReader) LookupInstance(sample []byte) InstanceHandle {
	key, err := r.ts.KeyHash(sample)
	if err != nil {
		return HandleNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst.handle
	}
	return HandleNil
}

// GetKeyValue returns the key fields of an instance.
func (r *DataReader) GetKeyValue(h InstanceHandle) ([]byte, error) {
	if err := r.check("DataReader", "GetKeyValue"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byHandle[h]
	if !ok {
		return nil, errors.Failf(errors.RetcodeBadParameter, "DataReader", "GetKeyValue", "unknown instance handle %d", h)
	}
	return append([]byte(nil), inst.keyValue...), nil
}

// WaitForHistoricalData blocks until the history matched durable writers
// held at match time has arrived, or the timeout elapses. Volatile readers
// return at once.
func (r *DataReader) WaitForHistoricalData(timeout time.Duration) error {
	if err := r.checkEnabled("DataReader", "WaitForHistoricalData"); err != nil {
		return err
	}
	var expired <-chan time.Time
	if timeout != qos.Infinite {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	readers := []*DataReader{r}
	if r.join != nil {
		readers = r.join.readers()
	}
	for _, rd := range readers {
		for {
			rd.mu.Lock()
			done := rd.qos.Durability.Kind == qos.VolatileDurability || rd.historicalLocked()
			ch := rd.histCh
			rd.mu.Unlock()
			if done {
				break
			}
			select {
			case <-ch:
			case <-expired:
				return errors.Fail(errors.RetcodeTimeout, "DataReader", "WaitForHistoricalData", "historical data incomplete")
			}
		}
	}
	return nil
}

func (r *DataReader) historicalLocked() bool {
	for _, wp := range r.writers {
		if !wp.historical() {
			return false
		}
	}
	return true
}

// GetMatchedPublications returns the handles of the matched writers.
func (r *DataReader) GetMatchedPublications() ([]InstanceHandle, error) {
	if err := r.checkEnabled("DataReader", "GetMatchedPublications"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]InstanceHandle, 0, len(r.writers))
	for _, wp := range r.writers {
		out = append(out, wp.handle)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GetMatchedPublicationData returns the announcement of a matched writer.
func (r *DataReader) GetMatchedPublicationData(h InstanceHandle) (discovery.PublicationData, error) {
	if err := r.checkEnabled("DataReader", "GetMatchedPublicationData"); err != nil {
		return discovery.PublicationData{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wp := range r.writers {
		if wp.handle == h {
			return wp.pub, nil
		}
	}
	return discovery.PublicationData{}, errors.Failf(errors.RetcodeBadParameter, "DataReader", "GetMatchedPublicationData", "handle %d is not a matched writer", h)
}

// GetSubscriptionMatchedStatus returns and resets the matched status.
func (r *DataReader) GetSubscriptionMatchedStatus() (SubscriptionMatchedStatus, error) {
	if err := r.check("DataReader", "GetSubscriptionMatchedStatus"); err != nil {
		return SubscriptionMatchedStatus{}, err
	}
	r.mu.Lock()
	st := r.takeMatched()
	r.mu.Unlock()
	r.clear(StatusSubscriptionMatched)
	return st, nil
}

// GetRequestedIncompatibleQosStatus returns and resets the incompatible
// QoS status.
func (r *DataReader) GetRequestedIncompatibleQosStatus() (RequestedIncompatibleQosStatus, error) {
	if err := r.check("DataReader", "GetRequestedIncompatibleQosStatus"); err != nil {
		return RequestedIncompatibleQosStatus{}, err
	}
	r.mu.Lock()
	st := r.takeIncompatible()
	r.mu.Unlock()
	r.clear(StatusRequestedIncompatibleQos)
	return st, nil
}

// GetRequestedDeadlineMissedStatus returns and resets the deadline status.
func (r *DataReader) GetRequestedDeadlineMissedStatus() (RequestedDeadlineMissedStatus, error) {
	if err := r.check("DataReader", "GetRequestedDeadlineMissedStatus"); err != nil {
		return RequestedDeadlineMissedStatus{}, err
	}
	r.mu.Lock()
	st := r.takeDeadline()
	r.mu.Unlock()
	r.clear(StatusRequestedDeadlineMissed)
	return st, nil
}

// GetLivelinessChangedStatus returns and resets the liveliness status.
func (r *DataReader) GetLivelinessChangedStatus() (LivelinessChangedStatus, error) {
	if err := r.check("DataReader", "GetLivelinessChangedStatus"); err != nil {
		return LivelinessChangedStatus{}, err
	}
	r.mu.Lock()
	st := r.takeLiveliness()
	r.mu.Unlock()
	r.clear(StatusLivelinessChanged)
	return st, nil
}

// GetSampleLostStatus returns and resets the lost sample status.
func (r *DataReader) GetSampleLostStatus() (SampleLostStatus, error) {
	if err := r.check("DataReader", "GetSampleLostStatus"); err != nil {
		return SampleLostStatus{}, err
	}
	r.mu.Lock()
	st := r.takeLost()
	r.mu.Unlock()
	r.clear(StatusSampleLost)
	return st, nil
}

// GetSampleRejectedStatus returns and resets the rejected sample status.
func (r *DataReader) GetSampleRejectedStatus() (SampleRejectedStatus, error) {
	if err := r.check("DataReader", "GetSampleRejectedStatus"); err != nil {
		return SampleRejectedStatus{}, err
	}
	r.mu.Lock()
	st := r.takeRejected()
	r.mu.Unlock()
	r.clear(StatusSampleRejected)
	return st, nil
}

// close unmatches and forgets the reader. The readers behind a multi-topic
// go with it.
func (r *DataReader) close() {
	if r.deleted.Load() {
		return
	}
	p := r.participant()
	_ = r.DeleteContainedEntities()
	if r.join != nil {
		for _, inner := range r.join.readers() {
			inner.close()
		}
	}
	if r.enabled.Load() && r.topic != nil && !r.subscriber.builtin {
		if err := p.discoverySvc().RemoveSubscription(p.ctx, r.guid); err != nil {
			p.logger.Debug("remove subscription", "topic", r.topicName(), "error", err)
		}
	}
	p.mu.Lock()
	if p.readers[r.guid.Entity] == r {
		delete(p.readers, r.guid.Entity)
	}
	p.mu.Unlock()
	for _, t := range p.matcher.Remove(r.guid) {
		if t.From == discovery.Matched {
			if w := p.localWriter(t.Writer); w != nil {
				w.removeReader(r.guid)
			}
		}
	}
	r.markDeleted()
}

// takeMatched snapshots and resets the matched status. r.mu is held.
func (r *DataReader) takeMatched() SubscriptionMatchedStatus {
	st := r.matched
	r.matched.TotalCountChange = 0
	r.matched.CurrentCountChange = 0
	return st
}

// takeIncompatible snapshots and resets the incompatible QoS status. r.mu is held.
func (r *DataReader) takeIncompatible() RequestedIncompatibleQosStatus {
	st := r.incompat.snapshot()
	r.incompat.TotalCountChange = 0
	return st
}

// takeDeadline snapshots and resets the deadline status. r.mu is held.
func (r *DataReader) takeDeadline() RequestedDeadlineMissedStatus {
	st := r.deadline
	r.deadline.TotalCountChange = 0
	return st
}

// takeLiveliness snapshots and resets the liveliness status. r.mu is held.
func (r *DataReader) takeLiveliness() LivelinessChangedStatus {
	st := r.liveliness
	r.liveliness.AliveCountChange = 0
	r.liveliness.NotAliveCountChange = 0
	return st
}

// takeLost snapshots and resets the lost sample status. r.mu is held.
func (r *DataReader) takeLost() SampleLostStatus {
	st := r.lost
	r.lost.TotalCountChange = 0
	return st
}

// takeRejected snapshots and resets the rejected sample status. r.mu is held.
func (r *DataReader) takeRejected() SampleRejectedStatus {
	st := r.rejected
	r.rejected.TotalCountChange = 0
	return st
}
