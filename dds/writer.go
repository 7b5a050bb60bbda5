package dds

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/durability"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// change is one entry of the writer history. Markers close a coherent set
// and carry no instance.
type change struct {
	sn       rtps.SequenceNumber
	status   uint32
	inst     *writerInstance
	data     []byte
	ts       time.Time
	coherent rtps.SequenceNumber
	marker   bool
	count    int32
	expires  time.Time
}

type writerInstance struct {
	handle     InstanceHandle
	key        rtps.KeyHash
	keyValue   []byte
	registered bool
	disposed   bool
	changes    int
	lastWrite  time.Time
}

// readerProxy is the writer's view of one matched reader. Local readers
// receive changes directly and never hold back acknowledgment.
type readerProxy struct {
	guid     rtps.GUID
	handle   InstanceHandle
	sub      discovery.SubscriptionData
	local    *DataReader
	reliable bool
	durable  bool
	dst      transport.Destination
	lowWater rtps.SequenceNumber
	acked    rtps.SequenceNumber
}

// DataWriter publishes samples of one topic.
type DataWriter struct {
	entity
	publisher *Publisher
	topic     *Topic
	ts        TypeSupport
	store     durability.Store

	// sendMu orders emission; it is taken before mu is released so
	// changes leave in sequence order.
	sendMu sync.Mutex

	mu         sync.Mutex
	qos        qos.DataWriterQos
	seq        rtps.SequenceNumber
	instances  map[rtps.KeyHash]*writerInstance
	byHandle   map[InstanceHandle]*writerInstance
	history    []*change
	samples    int
	readers    map[rtps.GUID]*readerProxy
	ackCh      chan struct{}
	hbCount    int32
	lastHB     time.Time
	setStart   rtps.SequenceNumber
	setCount   int32
	lastAssert time.Time
	lost       bool

	matched    PublicationMatchedStatus
	incompat   IncompatibleQosStatus
	deadline   OfferedDeadlineMissedStatus
	liveliness LivelinessLostStatus
}

func newDataWriter(pub *Publisher, t *Topic, q qos.DataWriterQos, store durability.Store, l Listener, mask StatusMask) *DataWriter {
	p := pub.participant
	kind := rtps.KindWriterNoKey
	if t.ts.HasKey() {
		kind = rtps.KindWriterWithKey
	}
	w := &DataWriter{
		publisher: pub,
		topic:     t,
		ts:        t.ts,
		store:     store,
		qos:       q,
		instances: make(map[rtps.KeyHash]*writerInstance),
		byHandle:  make(map[InstanceHandle]*writerInstance),
		readers:   make(map[rtps.GUID]*readerProxy),
		ackCh:     make(chan struct{}),
	}
	guid := rtps.GUID{Prefix: p.prefix, Entity: p.newEntityID(kind)}
	w.init(w, p.factory.nextHandle(), guid, l, mask)
	return w
}

func (w *DataWriter) participant() *Participant { return w.publisher.participant }

func (w *DataWriter) chain() []*entity {
	return []*entity{&w.entity, &w.publisher.entity, &w.participant().entity}
}

// GetTopic returns the topic written to.
func (w *DataWriter) GetTopic() *Topic { return w.topic }

// GetPublisher returns the owning publisher.
func (w *DataWriter) GetPublisher() *Publisher { return w.publisher }

// Enable announces the writer and matches it with known readers. Durable
// history is loaded from the store first.
func (w *DataWriter) Enable() error {
	if err := w.check("DataWriter", "Enable"); err != nil {
		return err
	}
	if !w.publisher.IsEnabled() || !w.topic.IsEnabled() {
		return errors.Fail(errors.RetcodePreconditionNotMet, "DataWriter", "Enable", "publisher or topic is not enabled")
	}
	if w.enabled.Swap(true) {
		return nil
	}
	w.preload()
	w.mu.Lock()
	w.lastAssert = time.Now()
	w.mu.Unlock()
	w.announce()
	w.participant().matchWriter(w)
	return nil
}

func (w *DataWriter) announce() {
	p := w.participant()
	if err := p.discoverySvc().AddPublication(p.ctx, w.publicationData()); err != nil {
		p.logger.Warn("announce publication", "topic", w.topic.name, "error", err)
	}
}

func (w *DataWriter) publicationData() discovery.PublicationData {
	w.mu.Lock()
	q := w.qos.Clone()
	w.mu.Unlock()
	return discovery.PublicationData{
		Key:       w.guid,
		TopicName: w.topic.name,
		TypeName:  w.ts.TypeName(),
		Writer:    q,
		Publisher: w.publisher.GetQos(),
		TopicData: w.topic.GetQos().TopicData.Value,
	}
}

// GetQos returns the writer QoS.
func (w *DataWriter) GetQos() qos.DataWriterQos {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.qos.Clone()
}

// SetQos replaces the writer QoS. Immutable policies may only change before
// the writer is enabled.
func (w *DataWriter) SetQos(q qos.DataWriterQos) error {
	if err := w.check("DataWriter", "SetQos"); err != nil {
		return err
	}
	if err := qos.CheckDataWriterQos(q); err != nil {
		return err
	}
	w.mu.Lock()
	if w.enabled.Load() {
		if err := qos.ChangeableDataWriterQos(w.qos, q); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.qos = q.Clone()
	w.mu.Unlock()
	if w.enabled.Load() {
		w.announce()
		w.participant().matchWriter(w)
	}
	return nil
}

func (w *DataWriter) livelinessKind() qos.LivelinessKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.qos.Liveliness.Kind
}

// instanceFor returns the instance of key, creating it when create is set.
// Must be called with mu held.
func (w *DataWriter) instanceFor(method string, key rtps.KeyHash, keyValue []byte, create bool) (*writerInstance, error) {
	if inst, ok := w.instances[key]; ok {
		return inst, nil
	}
	if !create {
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "DataWriter", method, "instance is not registered")
	}
	if limit := w.qos.ResourceLimits.MaxInstances; limit != qos.LengthUnlimited && len(w.instances) >= int(limit) {
		return nil, errors.Failf(errors.RetcodeOutOfResources, "DataWriter", method, "max_instances %d reached", limit)
	}
	inst := &writerInstance{
		handle:   w.participant().factory.nextHandle(),
		key:      key,
		keyValue: keyValue,
	}
	w.instances[key] = inst
	w.byHandle[inst.handle] = inst
	return inst, nil
}

// resolve finds the instance a sample or a handle names. Both may be given
// but must agree.
func (w *DataWriter) resolve(method string, sample []byte, h InstanceHandle, create bool) (*writerInstance, error) {
	if sample == nil {
		if h == HandleNil {
			return nil, errors.Fail(errors.RetcodeBadParameter, "DataWriter", method, "sample and handle are both empty")
		}
		inst, ok := w.byHandle[h]
		if !ok {
			return nil, errors.Failf(errors.RetcodeBadParameter, "DataWriter", method, "unknown instance handle %d", h)
		}
		return inst, nil
	}
	key, err := w.ts.KeyHash(sample)
	if err != nil {
		return nil, err
	}
	keyValue, err := w.ts.KeyValue(sample)
	if err != nil {
		return nil, err
	}
	inst, err := w.instanceFor(method, key, keyValue, create)
	if err != nil {
		return nil, err
	}
	if h != HandleNil && inst.handle != h {
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "DataWriter", method, "handle does not match the sample key")
	}
	return inst, nil
}

// Write publishes a sample stamped with the current time.
func (w *DataWriter) Write(sample []byte) error {
	return w.WriteWithTimestamp(sample, time.Now())
}

// WriteWithTimestamp publishes a sample with an explicit source timestamp.
func (w *DataWriter) WriteWithTimestamp(sample []byte, ts time.Time) error {
	if err := w.checkEnabled("DataWriter", "Write"); err != nil {
		return err
	}
	if err := w.ts.Validate(sample); err != nil {
		return err
	}
	return w.commit("Write", sample, HandleNil, 0, ts)
}

// RegisterInstance declares an instance ahead of writing it.
func (w *DataWriter) RegisterInstance(sample []byte) (InstanceHandle, error) {
	return w.RegisterInstanceWithTimestamp(sample, time.Now())
}

// RegisterInstanceWithTimestamp declares an instance ahead of writing it.
func (w *DataWriter) RegisterInstanceWithTimestamp(sample []byte, _ time.Time) (InstanceHandle, error) {
	if err := w.checkEnabled("DataWriter", "RegisterInstance"); err != nil {
		return HandleNil, err
	}
	if sample == nil {
		return HandleNil, errors.Fail(errors.RetcodeBadParameter, "DataWriter", "RegisterInstance", "sample is nil")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	inst, err := w.resolve("RegisterInstance", sample, HandleNil, true)
	if err != nil {
		return HandleNil, err
	}
	inst.registered = true
	return inst.handle, nil
}

// UnregisterInstance tells readers this writer no longer updates the
// instance. It is disposed too when autodispose_unregistered_instances is
// set.
func (w *DataWriter) UnregisterInstance(sample []byte, h InstanceHandle) error {
	return w.UnregisterInstanceWithTimestamp(sample, h, time.Now())
}

// UnregisterInstanceWithTimestamp is UnregisterInstance with an explicit
// source timestamp.
func (w *DataWriter) UnregisterInstanceWithTimestamp(sample []byte, h InstanceHandle, ts time.Time) error {
	if err := w.checkEnabled("DataWriter", "UnregisterInstance"); err != nil {
		return err
	}
	status := rtps.StatusInfoUnregistered
	w.mu.Lock()
	if w.qos.WriterDataLifecycle.AutodisposeUnregisteredInstances {
		status |= rtps.StatusInfoDisposed
	}
	w.mu.Unlock()
	return w.commit("UnregisterInstance", sample, h, status, ts)
}

// Dispose deletes an instance for every reader.
func (w *DataWriter) Dispose(sample []byte, h InstanceHandle) error {
	return w.DisposeWithTimestamp(sample, h, time.Now())
}

// DisposeWithTimestamp is Dispose with an explicit source timestamp.
func (w *DataWriter) DisposeWithTimestamp(sample []byte, h InstanceHandle, ts time.Time) error {
	if err := w.checkEnabled("DataWriter", "Dispose"); err != nil {
		return err
	}
	return w.commit("Dispose", sample, h, rtps.StatusInfoDisposed, ts)
}

// LookupInstance returns the handle of the sample's instance, or HandleNil.
func (w *DataWriter) LookupInstance(sample []byte) InstanceHandle {
	key, err := w.ts.KeyHash(sample)
	if err != nil {
		return HandleNil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if inst, ok := w.instances[key]; ok {
		return inst.handle
	}
	return HandleNil
}

// GetKeyValue returns the key fields of an instance.
func (w *DataWriter) GetKeyValue(h InstanceHandle) ([]byte, error) {
	if err := w.check("DataWriter", "GetKeyValue"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	inst, ok := w.byHandle[h]
	if !ok {
		return nil, errors.Failf(errors.RetcodeBadParameter, "DataWriter", "GetKeyValue", "unknown instance handle %d", h)
	}
	return append([]byte(nil), inst.keyValue...), nil
}

// commit adds one change to the history and sends it.
func (w *DataWriter) commit(method string, sample []byte, h InstanceHandle, status uint32, ts time.Time) error {
	w.mu.Lock()
	inst, err := w.resolve(method, sample, h, status&rtps.StatusInfoUnregistered == 0)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if status&rtps.StatusInfoUnregistered != 0 && !inst.registered && !inst.disposed {
		w.mu.Unlock()
		return errors.Fail(errors.RetcodePreconditionNotMet, "DataWriter", method, "instance is not registered")
	}
	if err := w.reserve(method, inst); err != nil {
		w.mu.Unlock()
		return err
	}

	data := sample
	if status != 0 {
		data = inst.keyValue
	}
	now := time.Now()
	w.seq++
	c := &change{sn: w.seq, status: status, inst: inst, data: data, ts: ts}
	if ls := w.qos.Lifespan.Duration; ls != qos.Infinite {
		c.expires = ts.Add(ls)
	}
	if w.publisher.inCoherentSet() {
		if w.setStart == 0 {
			w.setStart = c.sn
		}
		c.coherent = w.setStart
		w.setCount++
	}
	w.history = append(w.history, c)
	w.samples++
	inst.changes++
	inst.lastWrite = now
	switch {
	case status == 0:
		inst.registered = true
		inst.disposed = false
	case status&rtps.StatusInfoUnregistered != 0:
		inst.registered = false
		inst.disposed = inst.disposed || status&rtps.StatusInfoDisposed != 0
	default:
		inst.disposed = true
	}
	w.lastAssert = now
	w.lost = false

	outs := w.fanout(c)
	rec, persist := w.durableRecord(inst)
	w.pruneAcked()
	w.sendMu.Lock()
	w.mu.Unlock()
	w.publisher.emit(outs)
	w.sendMu.Unlock()

	if persist {
		p := w.participant()
		if err := w.store.Put(p.ctx, rec); err != nil {
			p.logger.Warn("durability write-through", "topic", w.topic.name, "error", err)
		}
	}
	w.participant().metrics.RecordWrite(w.topic.name)
	return nil
}

// reserve makes room in the history for one more change of inst. A full
// reliable KEEP_ALL history waits for acknowledgments up to
// max_blocking_time. Must be called with mu held; mu is released while
// waiting.
func (w *DataWriter) reserve(method string, inst *writerInstance) error {
	var expired <-chan time.Time
	for {
		if !w.full(inst) {
			return nil
		}
		if w.qos.Reliability.Kind != qos.ReliableReliability {
			return errors.Fail(errors.RetcodeOutOfResources, "DataWriter", method, "history is full")
		}
		if expired == nil {
			wait := w.qos.Reliability.MaxBlockingTime
			if wait <= 0 {
				return errors.Fail(errors.RetcodeTimeout, "DataWriter", method, "history is full")
			}
			timer := time.NewTimer(wait)
			defer timer.Stop()
			expired = timer.C
		}
		ch := w.ackCh
		w.mu.Unlock()
		select {
		case <-ch:
			w.mu.Lock()
		case <-expired:
			w.mu.Lock()
			return errors.Fail(errors.RetcodeTimeout, "DataWriter", method, "max_blocking_time elapsed with a full history")
		}
		if w.deleted.Load() {
			return errors.Fail(errors.RetcodeAlreadyDeleted, "DataWriter", method, "writer deleted while blocked")
		}
	}
}

// full reports whether the history cannot take another change of inst.
// KEEP_LAST evicts instead of filling up.
func (w *DataWriter) full(inst *writerInstance) bool {
	h, rl := w.qos.History, w.qos.ResourceLimits
	if h.Kind == qos.KeepLastHistory {
		for inst.changes >= int(h.Depth) && w.evictOldest(inst) {
		}
		if rl.MaxSamples != qos.LengthUnlimited {
			for w.samples >= int(rl.MaxSamples) && w.evictOldest(nil) {
			}
		}
		return false
	}
	if rl.MaxSamplesPerInstance != qos.LengthUnlimited && inst.changes >= int(rl.MaxSamplesPerInstance) {
		return true
	}
	return rl.MaxSamples != qos.LengthUnlimited && w.samples >= int(rl.MaxSamples)
}

// evictOldest removes the oldest change of inst, or of any instance when
// inst is nil.
func (w *DataWriter) evictOldest(inst *writerInstance) bool {
	for i, c := range w.history {
		if c.marker || (inst != nil && c.inst != inst) {
			continue
		}
		w.removeAt(i)
		return true
	}
	return false
}

// removeAt drops history entry i. A coherent marker goes with the last
// change of its set.
func (w *DataWriter) removeAt(i int) {
	c := w.history[i]
	w.history = append(w.history[:i], w.history[i+1:]...)
	if c.marker {
		return
	}
	w.samples--
	c.inst.changes--
	if c.inst.changes == 0 && !c.inst.registered {
		delete(w.instances, c.inst.key)
		delete(w.byHandle, c.inst.handle)
	}
	if c.coherent == 0 {
		return
	}
	marker := -1
	for j, o := range w.history {
		if o.coherent != c.coherent {
			continue
		}
		if !o.marker {
			return
		}
		marker = j
	}
	if marker >= 0 {
		w.history = append(w.history[:marker], w.history[marker+1:]...)
	}
}

// pruneAcked drops changes every reader has acknowledged. Only volatile
// writers prune; durable history serves late joiners.
func (w *DataWriter) pruneAcked() {
	if w.qos.Durability.Kind != qos.VolatileDurability {
		return
	}
	low := w.seq
	for _, rp := range w.readers {
		if rp.local == nil && rp.reliable && rp.acked < low {
			low = rp.acked
		}
	}
	for len(w.history) > 0 && w.history[0].sn <= low {
		w.removeAt(0)
	}
}

func (w *DataWriter) signalAck() {
	close(w.ackCh)
	w.ackCh = make(chan struct{})
}

func (w *DataWriter) firstSN() rtps.SequenceNumber {
	if len(w.history) == 0 {
		return w.seq + 1
	}
	return w.history[0].sn
}

func (w *DataWriter) findChange(sn rtps.SequenceNumber) *change {
	i := sort.Search(len(w.history), func(i int) bool { return w.history[i].sn >= sn })
	if i < len(w.history) && w.history[i].sn == sn {
		return w.history[i]
	}
	return nil
}

func (w *DataWriter) heartbeat(reader rtps.EntityID, liveliness bool) *rtps.Heartbeat {
	w.hbCount++
	return &rtps.Heartbeat{
		ReaderID:   reader,
		WriterID:   w.guid.Entity,
		FirstSN:    w.firstSN(),
		LastSN:     w.seq,
		Count:      w.hbCount,
		Liveliness: liveliness,
	}
}

// dataFor builds the DATA submessage of a change. Coherent tags are left
// out for replays to late joiners.
func (w *DataWriter) dataFor(c *change, reader rtps.EntityID, coherent bool) *rtps.Data {
	pl := rtps.NewParameterList()
	if c.inst != nil && w.ts.HasKey() {
		pl.AddKeyHash(c.inst.key)
	}
	if c.status != 0 {
		pl.AddStatusInfo(c.status)
	}
	if coherent && c.coherent != 0 {
		pl.AddSequenceNumber(rtps.PIDCoherentSet, c.coherent)
	}
	if c.marker {
		pl.AddInt32(rtps.PIDCoherentSetCount, c.count)
	}
	d := &rtps.Data{
		ReaderID:      reader,
		WriterID:      w.guid.Entity,
		WriterSN:      c.sn,
		InlineQos:     pl,
		Encapsulation: rtps.EncodingJSON,
		Payload:       c.data,
		Key:           c.status != 0,
		Timestamp:     rtps.FromTime(c.ts),
	}
	if pl.Len() == 0 {
		d.InlineQos = nil
	}
	return d
}

// fanout builds the traffic carrying c to every matched reader: one batch
// per remote participant and one per local reader.
func (w *DataWriter) fanout(c *change) []outbound {
	var outs []outbound
	groups := make(map[rtps.GUIDPrefix]int)
	reliable := make(map[rtps.GUIDPrefix]bool)
	for _, rp := range w.sortedReaders() {
		if c.sn < rp.lowWater {
			continue
		}
		if rp.local != nil {
			outs = append(outs, outbound{local: rp.local, writer: w.guid, subs: []rtps.Submessage{w.dataFor(c, rp.guid.Entity, true)}})
			continue
		}
		if _, ok := groups[rp.guid.Prefix]; !ok {
			groups[rp.guid.Prefix] = len(outs)
			outs = append(outs, outbound{dst: rp.dst})
		}
		reliable[rp.guid.Prefix] = reliable[rp.guid.Prefix] || rp.reliable
	}
	for prefix, i := range groups {
		subs := []rtps.Submessage{
			&rtps.InfoTimestamp{Timestamp: rtps.FromTime(c.ts)},
			w.dataFor(c, rtps.EntityIDUnknown, true),
		}
		if reliable[prefix] {
			subs = append(subs, w.heartbeat(rtps.EntityIDUnknown, false))
		}
		outs[i].subs = subs
	}
	return outs
}

func (w *DataWriter) sortedReaders() []*readerProxy {
	out := mapValues(w.readers)
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

// replay sends the retained history to a newly matched durable reader.
func (w *DataWriter) replay(rp *readerProxy, now time.Time) []outbound {
	var subs []rtps.Submessage
	for _, c := range w.history {
		if c.marker || (!c.expires.IsZero() && now.After(c.expires)) {
			continue
		}
		if rp.local == nil {
			subs = append(subs, &rtps.InfoTimestamp{Timestamp: rtps.FromTime(c.ts)})
		}
		subs = append(subs, w.dataFor(c, rp.guid.Entity, false))
	}
	if rp.local != nil {
		if len(subs) == 0 {
			return nil
		}
		return []outbound{{local: rp.local, writer: w.guid, subs: subs}}
	}
	if rp.reliable {
		subs = append(subs, w.heartbeat(rp.guid.Entity, false))
	}
	if len(subs) == 0 {
		return nil
	}
	return []outbound{{dst: rp.dst, subs: subs}}
}

// onAckNack records a remote reader's acknowledgment and repairs what it
// requests. Numbers no longer in the history are answered with GAP.
func (w *DataWriter) onAckNack(reader rtps.GUID, an *rtps.AckNack) {
	w.mu.Lock()
	rp, ok := w.readers[reader]
	if !ok || rp.local != nil || !rp.reliable {
		w.mu.Unlock()
		return
	}
	progressed := false
	if acked := an.ReaderSNState.Base - 1; acked > rp.acked {
		rp.acked = acked
		progressed = true
	}
	var subs []rtps.Submessage
	var gaps []rtps.SequenceNumber
	missing := an.ReaderSNState.Missing()
	for _, sn := range missing {
		if sn > w.seq {
			continue
		}
		c := w.findChange(sn)
		if c == nil || sn < rp.lowWater {
			gaps = append(gaps, sn)
			continue
		}
		subs = append(subs, &rtps.InfoTimestamp{Timestamp: rtps.FromTime(c.ts)}, w.dataFor(c, reader.Entity, true))
	}
	subs = append(subs, gapSubmessages(reader.Entity, w.guid.Entity, gaps)...)
	if len(missing) > 0 {
		subs = append(subs, w.heartbeat(reader.Entity, false))
	}
	if progressed {
		w.pruneAcked()
		w.signalAck()
	}
	var outs []outbound
	if len(subs) > 0 {
		outs = append(outs, outbound{dst: rp.dst, subs: subs})
	}
	w.sendMu.Lock()
	w.mu.Unlock()
	w.publisher.emit(outs)
	w.sendMu.Unlock()
}

// gapSubmessages folds sorted sequence numbers into contiguous GAP ranges.
func gapSubmessages(reader, writer rtps.EntityID, sns []rtps.SequenceNumber) []rtps.Submessage {
	var out []rtps.Submessage
	for i := 0; i < len(sns); {
		j := i
		for j+1 < len(sns) && sns[j+1] == sns[j]+1 {
			j++
		}
		out = append(out, &rtps.Gap{
			ReaderID: reader,
			WriterID: writer,
			GapStart: sns[i],
			GapList:  rtps.NewSequenceNumberSet(sns[j]+1, 0),
		})
		i = j + 1
	}
	return out
}

// endCoherentSet closes the open coherent set with a marker that carries
// the number of changes in it.
func (w *DataWriter) endCoherentSet() {
	w.mu.Lock()
	if w.setStart == 0 {
		w.mu.Unlock()
		return
	}
	w.seq++
	c := &change{sn: w.seq, marker: true, coherent: w.setStart, count: w.setCount, ts: time.Now()}
	w.setStart, w.setCount = 0, 0
	w.history = append(w.history, c)
	outs := w.fanout(c)
	w.pruneAcked()
	w.sendMu.Lock()
	w.mu.Unlock()
	w.publisher.emit(outs)
	w.sendMu.Unlock()
}

func (w *DataWriter) durableRecord(inst *writerInstance) (durability.Record, bool) {
	if w.store == nil || w.qos.Durability.Kind < qos.TransientDurability {
		return durability.Record{}, false
	}
	rec := durability.Record{
		Topic:    w.topic.name,
		TypeName: w.ts.TypeName(),
		Key:      inst.key,
		Disposed: inst.disposed,
	}
	if !inst.disposed {
		for _, c := range w.history {
			if c.inst == inst && c.status == 0 {
				rec.Samples = append(rec.Samples, durability.Sample{
					Data:            c.data,
					SourceTimestamp: c.ts,
					Writer:          w.guid,
					Sequence:        int64(c.sn),
				})
			}
		}
	}
	if ds := w.qos.DurabilityService; ds.HistoryKind == qos.KeepLastHistory {
		rec.Trim(int(ds.HistoryDepth))
	}
	return rec, true
}

// preload rebuilds the history from the durability store so late joiners
// receive data written before this writer existed.
func (w *DataWriter) preload() {
	if w.store == nil || w.qos.Durability.Kind < qos.TransientDurability {
		return
	}
	p := w.participant()
	recs, err := w.store.Load(p.ctx, w.topic.name)
	if err != nil {
		p.logger.Warn("durability preload", "topic", w.topic.name, "error", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	loaded := 0
	for _, rec := range recs {
		if (rec.TypeName != "" && rec.TypeName != w.ts.TypeName()) || len(rec.Samples) == 0 {
			continue
		}
		keyValue, err := w.ts.KeyValue(rec.Samples[len(rec.Samples)-1].Data)
		if err != nil {
			continue
		}
		inst, err := w.instanceFor("Enable", rec.Key, keyValue, true)
		if err != nil {
			p.logger.Warn("durability preload", "topic", w.topic.name, "error", err)
			break
		}
		for _, s := range rec.Samples {
			w.full(inst)
			w.seq++
			w.history = append(w.history, &change{sn: w.seq, inst: inst, data: s.Data, ts: s.SourceTimestamp})
			w.samples++
			inst.changes++
			loaded++
		}
		if rec.Disposed {
			w.seq++
			w.history = append(w.history, &change{sn: w.seq, status: rtps.StatusInfoDisposed, inst: inst, data: keyValue, ts: time.Now()})
			w.samples++
			inst.changes++
			inst.disposed = true
		}
	}
	if loaded > 0 {
		p.logger.Info("durable history loaded", "topic", w.topic.name, "samples", loaded)
	}
}

// addReader matches a reader. Durable readers get the retained history;
// volatile ones only see changes written from now on.
func (w *DataWriter) addReader(sub discovery.SubscriptionData, local *DataReader) {
	p := w.participant()
	h := p.handleOf(sub.Key)
	w.mu.Lock()
	if rp, ok := w.readers[sub.Key]; ok {
		rp.sub = sub
		w.mu.Unlock()
		return
	}
	rp := &readerProxy{
		guid:     sub.Key,
		handle:   h,
		sub:      sub,
		local:    local,
		reliable: sub.Reader.Reliability.Kind == qos.ReliableReliability && w.qos.Reliability.Kind == qos.ReliableReliability,
		durable:  sub.Reader.Durability.Kind >= qos.TransientLocalDurability && w.qos.Durability.Kind >= qos.TransientLocalDurability,
	}
	if local == nil {
		rp.dst = p.destination(sub.Key.Prefix, sub.Locators)
	}
	if rp.durable {
		rp.lowWater = 1
	} else {
		rp.lowWater = w.seq + 1
	}
	rp.acked = rp.lowWater - 1
	w.readers[sub.Key] = rp
	w.matched.TotalCount++
	w.matched.TotalCountChange++
	w.matched.CurrentCount++
	w.matched.CurrentCountChange++
	w.matched.LastSubscriptionHandle = h

	var outs []outbound
	switch {
	case rp.durable:
		outs = w.replay(rp, time.Now())
	case rp.reliable && local == nil:
		outs = []outbound{{dst: rp.dst, subs: []rtps.Submessage{w.heartbeat(rp.guid.Entity, false)}}}
	}
	n := w.matchedNotice()
	w.sendMu.Lock()
	w.mu.Unlock()
	w.publisher.emit(outs)
	w.sendMu.Unlock()

	p.logger.Debug("writer matched reader", "topic", w.topic.name, "reader", sub.Key.String())
	p.metrics.RecordMatch(w.topic.name, "writer", 1)
	n()
}

func (w *DataWriter) updateReader(sub discovery.SubscriptionData) {
	w.mu.Lock()
	if rp, ok := w.readers[sub.Key]; ok {
		rp.sub = sub
		if rp.local == nil && len(sub.Locators) > 0 {
			rp.dst = w.participant().destination(sub.Key.Prefix, sub.Locators)
		}
	}
	w.mu.Unlock()
}

// removeReader unmatches a reader. Waiters on acknowledgments re-evaluate.
func (w *DataWriter) removeReader(g rtps.GUID) {
	p := w.participant()
	w.mu.Lock()
	rp, ok := w.readers[g]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.readers, g)
	w.matched.CurrentCount--
	w.matched.CurrentCountChange--
	w.matched.LastSubscriptionHandle = rp.handle
	w.pruneAcked()
	w.signalAck()
	n := w.matchedNotice()
	w.mu.Unlock()

	p.metrics.RecordMatch(w.topic.name, "writer", -1)
	n()
}

// matchedNotice captures PUBLICATION_MATCHED. w.mu is held.
func (w *DataWriter) matchedNotice() notice {
	return capture(w.participant(), StatusPublicationMatched, w.chain(), w.takeMatched,
		func(l PublicationMatchedListener, st PublicationMatchedStatus) { l.OnPublicationMatched(w, st) })
}

func (w *DataWriter) offeredIncompatible(policies []qos.PolicyID) {
	p := w.participant()
	w.mu.Lock()
	w.incompat.record(policies)
	n := capture(p, StatusOfferedIncompatibleQos, w.chain(), w.takeIncompatible,
		func(l OfferedIncompatibleQosListener, st OfferedIncompatibleQosStatus) {
			l.OnOfferedIncompatibleQos(w, st)
		})
	w.mu.Unlock()
	for _, id := range policies {
		p.metrics.RecordIncompatible(w.topic.name, id.String())
	}
	p.logger.Warn("reader requests incompatible QoS", "topic", w.topic.name, "policy", policies[0].String())
	n()
}

// AssertLiveliness asserts a MANUAL_BY_TOPIC or MANUAL_BY_PARTICIPANT
// writer is alive.
func (w *DataWriter) AssertLiveliness() error {
	if err := w.checkEnabled("DataWriter", "AssertLiveliness"); err != nil {
		return err
	}
	w.assertLiveliness(true)
	return nil
}

// assertLiveliness renews the lease and tells matched readers.
func (w *DataWriter) assertLiveliness(_ bool) {
	w.mu.Lock()
	w.lastAssert = time.Now()
	w.lost = false
	var outs []outbound
	var locals []*DataReader
	seen := make(map[rtps.GUIDPrefix]bool)
	for _, rp := range w.sortedReaders() {
		if rp.local != nil {
			locals = append(locals, rp.local)
			continue
		}
		if seen[rp.guid.Prefix] {
			continue
		}
		seen[rp.guid.Prefix] = true
		outs = append(outs, outbound{dst: rp.dst, subs: []rtps.Submessage{w.heartbeat(rtps.EntityIDUnknown, true)}})
	}
	w.sendMu.Lock()
	w.mu.Unlock()
	w.publisher.emit(outs)
	w.sendMu.Unlock()
	for _, r := range locals {
		r.writerAlive(w.guid)
	}
}

// tick runs the writer timers: lifespan, deadline, liveliness and periodic
// heartbeats.
func (w *DataWriter) tick(now time.Time) {
	if !w.enabled.Load() || w.deleted.Load() {
		return
	}
	p := w.participant()
	w.mu.Lock()
	for i := 0; i < len(w.history); {
		c := w.history[i]
		if !c.marker && !c.expires.IsZero() && now.After(c.expires) {
			w.removeAt(i)
			continue
		}
		i++
	}

	var missed []InstanceHandle
	if period := w.qos.Deadline.Period; period != qos.Infinite {
		for _, inst := range w.instances {
			if inst.registered && !inst.disposed && !inst.lastWrite.IsZero() && now.Sub(inst.lastWrite) >= period {
				missed = append(missed, inst.handle)
				inst.lastWrite = now
			}
		}
		for _, h := range missed {
			w.deadline.TotalCount++
			w.deadline.TotalCountChange++
			w.deadline.LastInstanceHandle = h
		}
	}

	lostNow := false
	if lv := w.qos.Liveliness; lv.Kind != qos.AutomaticLiveliness && lv.LeaseDuration != qos.Infinite {
		if !w.lost && now.Sub(w.lastAssert) > lv.LeaseDuration {
			w.lost = true
			lostNow = true
			w.liveliness.TotalCount++
			w.liveliness.TotalCountChange++
		}
	}

	var outs []outbound
	if now.Sub(w.lastHB) >= p.factory.deps.HeartbeatPeriod {
		w.lastHB = now
		seen := make(map[rtps.GUIDPrefix]bool)
		for _, rp := range w.sortedReaders() {
			if rp.local != nil || !rp.reliable || rp.acked >= w.seq || seen[rp.guid.Prefix] {
				continue
			}
			seen[rp.guid.Prefix] = true
			outs = append(outs, outbound{dst: rp.dst, subs: []rtps.Submessage{w.heartbeat(rtps.EntityIDUnknown, false)}})
		}
	}
	var notices []notice
	if len(missed) > 0 {
		notices = append(notices, capture(p, StatusOfferedDeadlineMissed, w.chain(), w.takeDeadline,
			func(l OfferedDeadlineMissedListener, st OfferedDeadlineMissedStatus) {
				l.OnOfferedDeadlineMissed(w, st)
			}))
	}
	if lostNow {
		notices = append(notices, capture(p, StatusLivelinessLost, w.chain(), w.takeLivelinessLost,
			func(l LivelinessLostListener, st LivelinessLostStatus) { l.OnLivelinessLost(w, st) }))
	}
	w.sendMu.Lock()
	w.mu.Unlock()
	w.publisher.emit(outs)
	w.sendMu.Unlock()

	if lostNow {
		p.logger.Warn("writer liveliness lost", "topic", w.topic.name)
	}
	fire(notices)
}

func (w *DataWriter) allAcked() bool {
	for _, rp := range w.readers {
		if rp.local == nil && rp.reliable && rp.acked < w.seq {
			return false
		}
	}
	return true
}

// WaitForAcknowledgments blocks until every reliable reader acknowledged
// every change, or the timeout elapses.
func (w *DataWriter) WaitForAcknowledgments(timeout time.Duration) error {
	if err := w.checkEnabled("DataWriter", "WaitForAcknowledgments"); err != nil {
		return err
	}
	var expired <-chan time.Time
	if timeout != qos.Infinite {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		w.mu.Lock()
		done := w.allAcked()
		ch := w.ackCh
		w.mu.Unlock()
		if done {
			return nil
		}
		if w.deleted.Load() {
			return errors.Fail(errors.RetcodeAlreadyDeleted, "DataWriter", "WaitForAcknowledgments", "writer deleted while waiting")
		}
		select {
		case <-ch:
		case <-expired:
			return errors.Fail(errors.RetcodeTimeout, "DataWriter", "WaitForAcknowledgments", "readers did not acknowledge in time")
		}
	}
}

// GetMatchedSubscriptions returns the handles of the matched readers.
func (w *DataWriter) GetMatchedSubscriptions() ([]InstanceHandle, error) {
	if err := w.checkEnabled("DataWriter", "GetMatchedSubscriptions"); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]InstanceHandle, 0, len(w.readers))
	for _, rp := range w.sortedReaders() {
		out = append(out, rp.handle)
	}
	return out, nil
}

// GetMatchedSubscriptionData returns the announcement of a matched reader.
func (w *DataWriter) GetMatchedSubscriptionData(h InstanceHandle) (discovery.SubscriptionData, error) {
	if err := w.checkEnabled("DataWriter", "GetMatchedSubscriptionData"); err != nil {
		return discovery.SubscriptionData{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, rp := range w.readers {
		if rp.handle == h {
			return rp.sub, nil
		}
	}
	return discovery.SubscriptionData{}, errors.Failf(errors.RetcodeBadParameter, "DataWriter", "GetMatchedSubscriptionData", "handle %d is not a matched reader", h)
}

// GetPublicationMatchedStatus returns and resets the matched status.
func (w *DataWriter) GetPublicationMatchedStatus() (PublicationMatchedStatus, error) {
	if err := w.check("DataWriter", "GetPublicationMatchedStatus"); err != nil {
		return PublicationMatchedStatus{}, err
	}
	w.mu.Lock()
	st := w.takeMatched()
	w.mu.Unlock()
	w.clear(StatusPublicationMatched)
	return st, nil
}

// GetOfferedIncompatibleQosStatus returns and resets the incompatible QoS
// status.
func (w *DataWriter) GetOfferedIncompatibleQosStatus() (OfferedIncompatibleQosStatus, error) {
	if err := w.check("DataWriter", "GetOfferedIncompatibleQosStatus"); err != nil {
		return OfferedIncompatibleQosStatus{}, err
	}
	w.mu.Lock()
	st := w.takeIncompatible()
	w.mu.Unlock()
	w.clear(StatusOfferedIncompatibleQos)
	return st, nil
}

// GetOfferedDeadlineMissedStatus returns and resets the deadline status.
func (w *DataWriter) GetOfferedDeadlineMissedStatus() (OfferedDeadlineMissedStatus, error) {
	if err := w.check("DataWriter", "GetOfferedDeadlineMissedStatus"); err != nil {
		return OfferedDeadlineMissedStatus{}, err
	}
	w.mu.Lock()
	st := w.takeDeadline()
	w.mu.Unlock()
	w.clear(StatusOfferedDeadlineMissed)
	return st, nil
}

// GetLivelinessLostStatus returns and resets the liveliness lost status.
func (w *DataWriter) GetLivelinessLostStatus() (LivelinessLostStatus, error) {
	if err := w.check("DataWriter", "GetLivelinessLostStatus"); err != nil {
		return LivelinessLostStatus{}, err
	}
	w.mu.Lock()
	st := w.takeLivelinessLost()
	w.mu.Unlock()
	w.clear(StatusLivelinessLost)
	return st, nil
}

// close unregisters the live instances, withdraws the writer and unmatches
// its readers.
func (w *DataWriter) close() {
	if w.deleted.Load() {
		return
	}
	p := w.participant()
	if w.enabled.Load() {
		w.mu.Lock()
		var live []InstanceHandle
		for _, inst := range w.instances {
			if inst.registered {
				live = append(live, inst.handle)
			}
		}
		w.mu.Unlock()
		for _, h := range live {
			if err := w.UnregisterInstance(nil, h); err != nil {
				p.logger.Debug("unregister on delete", "topic", w.topic.name, "error", err)
			}
		}
		if err := p.discoverySvc().RemovePublication(p.ctx, w.guid); err != nil {
			p.logger.Debug("remove publication", "topic", w.topic.name, "error", err)
		}
	}
	p.mu.Lock()
	delete(p.writers, w.guid.Entity)
	p.mu.Unlock()
	for _, t := range p.matcher.Remove(w.guid) {
		if t.From == discovery.Matched {
			if r := p.localReader(t.Reader); r != nil {
				r.removeWriter(w.guid)
			}
		}
	}
	w.markDeleted()
	w.mu.Lock()
	w.signalAck()
	w.mu.Unlock()
}

// takeMatched snapshots and resets the matched status. w.mu is held.
func (w *DataWriter) takeMatched() PublicationMatchedStatus {
	st := w.matched
	w.matched.TotalCountChange = 0
	w.matched.CurrentCountChange = 0
	return st
}

// takeIncompatible snapshots and resets the incompatible QoS status. w.mu is held.
func (w *DataWriter) takeIncompatible() OfferedIncompatibleQosStatus {
	st := w.incompat.snapshot()
	w.incompat.TotalCountChange = 0
	return st
}

// takeDeadline snapshots and resets the deadline status. w.mu is held.
func (w *DataWriter) takeDeadline() OfferedDeadlineMissedStatus {
	st := w.deadline
	w.deadline.TotalCountChange = 0
	return st
}

// takeLivelinessLost snapshots and resets the liveliness lost status. w.mu is held.
func (w *DataWriter) takeLivelinessLost() LivelinessLostStatus {
	st := w.liveliness
	w.liveliness.TotalCountChange = 0
	return st
}
