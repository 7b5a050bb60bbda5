package dds

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

type readerSample struct {
	data         []byte
	valid        bool
	read         bool
	view         ViewStateKind
	source       time.Time
	reception    time.Time
	pubHandle    InstanceHandle
	disposedGen  int32
	noWritersGen int32
	expires      time.Time
}

// readerInstance is the reader's state of one instance. state is zero only
// while an instance is being created.
type readerInstance struct {
	handle        InstanceHandle
	key           rtps.KeyHash
	keyValue      []byte
	state         InstanceStateKind
	viewNew       bool
	disposedGen   int32
	noWritersGen  int32
	writers       map[rtps.GUID]bool
	owner         rtps.GUID
	ownerStrength int32
	hasOwner      bool
	samples       []*readerSample
	lastAccepted  time.Time
	lastSource    time.Time
	lastUpdate    time.Time
	notAliveSince time.Time
}

func (inst *readerInstance) generations() int32 {
	return inst.disposedGen + inst.noWritersGen
}

// arrivalView is the view state of a sample arriving now. Only the first
// sample of an instance generation is NEW.
func (inst *readerInstance) arrivalView() ViewStateKind {
	if inst.viewNew {
		inst.viewNew = false
		return NewViewState
	}
	return NotNewViewState
}

// selector is the state and content filter of a read, a take or a read
// condition.
type selector struct {
	samples SampleStateKind
	views   ViewStateKind
	states  InstanceStateKind
	query   *boundQuery
}

func anySelector() selector {
	return selector{samples: AnySampleState, views: AnyViewState, states: AnyInstanceState}
}

func (s selector) matchesInstance(inst *readerInstance) bool {
	return s.states&inst.state != 0
}

func (s selector) matchesSample(rs *readerSample) bool {
	st := NotReadSampleState
	if rs.read {
		st = ReadSampleState
	}
	if s.samples&st == 0 || s.views&rs.view == 0 {
		return false
	}
	if s.query == nil {
		return true
	}
	if !rs.valid {
		return false
	}
	ok, err := s.query.expr.Evaluate(rs.data, s.query.params)
	return err == nil && ok
}

// applyResult says what the cache did with one change.
type applyResult struct {
	accepted bool
	valid    bool
	reject   SampleRejectedReason
	handle   InstanceHandle
}

// apply stores one change in the cache. Members of a coherent set are not
// thinned by TIME_BASED_FILTER. r.mu is held.
func (r *DataReader) apply(o origin, in *incoming, now time.Time, inSet bool) applyResult {
	alive := in.status&(rtps.StatusInfoDisposed|rtps.StatusInfoUnregistered) == 0
	disposed := in.status&rtps.StatusInfoDisposed != 0
	unregistered := in.status&rtps.StatusInfoUnregistered != 0

	key := rtps.KeyHashNil
	if r.ts.HasKey() {
		if in.hasKey {
			key = in.key
		} else {
			k, err := r.ts.KeyHash(in.data)
			if err != nil {
				r.participant().logger.Debug("dropped sample without key", "topic", r.topicName(), "error", err)
				return applyResult{}
			}
			key = k
		}
	}
	if alive && r.cft != nil && !r.cft.matches(in.data) {
		return applyResult{}
	}

	inst := r.instances[key]
	if inst == nil {
		if !alive && !disposed {
			return applyResult{}
		}
		if lim := r.qos.ResourceLimits.MaxInstances; lim != qos.LengthUnlimited && len(r.instances) >= int(lim) {
			return applyResult{reject: RejectedByInstancesLimit}
		}
		inst = r.newInstance(key, in)
	}
	res := applyResult{handle: inst.handle}

	if r.qos.Ownership.Kind == qos.ExclusiveOwnership && !unregistered && !r.claim(inst, o) {
		r.dropIfEmpty(inst)
		return res
	}
	if r.qos.DestinationOrder.Kind == qos.BySourceTimestampDestinationOrder && in.source.Before(inst.lastSource) {
		return res
	}
	if alive {
		if sep := r.qos.TimeBasedFilter.MinimumSeparation; !inSet && sep > 0 && !inst.lastAccepted.IsZero() && now.Sub(inst.lastAccepted) < sep {
			return res
		}
		var expires time.Time
		if o.lifespan != qos.Infinite {
			expires = in.source.Add(o.lifespan)
			if !now.Before(expires) {
				r.dropIfEmpty(inst)
				return res
			}
		}
		if reason := r.makeRoom(inst); reason != NotRejected {
			r.dropIfEmpty(inst)
			res.reject = reason
			return res
		}
		if inst.state != AliveInstanceState {
			r.revive(inst)
		}
		inst.writers[o.writer] = true
		inst.samples = append(inst.samples, &readerSample{
			data:         in.data,
			valid:        true,
			view:         inst.arrivalView(),
			source:       in.source,
			reception:    now,
			pubHandle:    o.handle,
			disposedGen:  inst.disposedGen,
			noWritersGen: inst.noWritersGen,
			expires:      expires,
		})
		r.samples++
		inst.lastAccepted = now
		res.valid = true
	} else {
		changed := false
		if disposed && inst.state != NotAliveDisposedInstanceState {
			inst.state = NotAliveDisposedInstanceState
			inst.notAliveSince = now
			changed = true
		}
		if disposed && !unregistered {
			inst.writers[o.writer] = true
		}
		if unregistered {
			delete(inst.writers, o.writer)
			if inst.hasOwner && inst.owner == o.writer {
				inst.hasOwner = false
			}
			if len(inst.writers) == 0 && inst.state == AliveInstanceState {
				inst.state = NotAliveNoWritersInstanceState
				inst.notAliveSince = now
				changed = true
			}
		}
		if !changed {
			r.dropIfEmpty(inst)
			return res
		}
		r.addStateSample(inst, o, in.source, now)
	}
	inst.lastUpdate = now
	if in.source.After(inst.lastSource) {
		inst.lastSource = in.source
	}
	res.accepted = true
	return res
}

// cacheSnapshot is a copy of the instance states taken before a coherent
// set is applied.
type cacheSnapshot struct {
	insts   map[*readerInstance]readerInstance
	samples int
}

func (r *DataReader) snapshot() cacheSnapshot {
	snap := cacheSnapshot{insts: make(map[*readerInstance]readerInstance, len(r.instances)), samples: r.samples}
	for _, inst := range r.instances {
		c := *inst
		c.samples = slices.Clone(inst.samples)
		c.writers = maps.Clone(inst.writers)
		snap.insts[inst] = c
	}
	return snap
}

// restore puts the cache back to snap. Instances created since are
// forgotten.
func (r *DataReader) restore(snap cacheSnapshot) {
	clear(r.instances)
	clear(r.byHandle)
	for inst, saved := range snap.insts {
		*inst = saved
		r.instances[inst.key] = inst
		r.byHandle[inst.handle] = inst
	}
	r.samples = snap.samples
}

func (r *DataReader) newInstance(key rtps.KeyHash, in *incoming) *readerInstance {
	keyValue := in.data
	if r.ts.HasKey() && in.status == 0 {
		if kv, err := r.ts.KeyValue(in.data); err == nil {
			keyValue = kv
		}
	}
	inst := &readerInstance{
		handle:   r.participant().factory.nextHandle(),
		key:      key,
		keyValue: keyValue,
		viewNew:  true,
		writers:  make(map[rtps.GUID]bool),
	}
	r.instances[key] = inst
	r.byHandle[inst.handle] = inst
	return inst
}

// claim applies exclusive ownership: the strongest writer owns the
// instance and a tie keeps the current owner.
func (r *DataReader) claim(inst *readerInstance, o origin) bool {
	if !inst.hasOwner || inst.owner == o.writer || o.strength > inst.ownerStrength {
		inst.owner, inst.ownerStrength, inst.hasOwner = o.writer, o.strength, true
		return true
	}
	return false
}

// revive starts a new generation of a not alive instance.
func (r *DataReader) revive(inst *readerInstance) {
	switch inst.state {
	case NotAliveDisposedInstanceState:
		inst.disposedGen++
		inst.viewNew = true
	case NotAliveNoWritersInstanceState:
		inst.noWritersGen++
		inst.viewNew = true
	}
	inst.state = AliveInstanceState
}

// makeRoom applies HISTORY and RESOURCE_LIMITS before a valid sample is
// added.
func (r *DataReader) makeRoom(inst *readerInstance) SampleRejectedReason {
	limits := r.qos.ResourceLimits
	if r.qos.History.Kind == qos.KeepLastHistory {
		if len(inst.samples) >= int(r.qos.History.Depth) {
			r.removeSample(inst, 0)
		}
	} else if lim := limits.MaxSamplesPerInstance; lim != qos.LengthUnlimited && len(inst.samples) >= int(lim) {
		return RejectedBySamplesPerInstanceLimit
	}
	if lim := limits.MaxSamples; lim != qos.LengthUnlimited && r.samples >= int(lim) {
		return RejectedBySamplesLimit
	}
	return NotRejected
}

// addStateSample records an instance state change as a sample without
// valid data.
func (r *DataReader) addStateSample(inst *readerInstance, o origin, source, now time.Time) {
	if r.qos.History.Kind == qos.KeepLastHistory && len(inst.samples) >= int(r.qos.History.Depth) {
		r.removeSample(inst, 0)
	}
	inst.samples = append(inst.samples, &readerSample{
		data:         inst.keyValue,
		view:         inst.arrivalView(),
		source:       source,
		reception:    now,
		pubHandle:    o.handle,
		disposedGen:  inst.disposedGen,
		noWritersGen: inst.noWritersGen,
	})
	r.samples++
}

func (r *DataReader) removeSample(inst *readerInstance, i int) {
	inst.samples = append(inst.samples[:i], inst.samples[i+1:]...)
	r.samples--
}

// dropIfEmpty forgets an instance that holds nothing a reader could see.
func (r *DataReader) dropIfEmpty(inst *readerInstance) {
	if len(inst.samples) > 0 || len(inst.writers) > 0 {
		return
	}
	delete(r.instances, inst.key)
	delete(r.byHandle, inst.handle)
}

// dropWriter removes a writer from every instance. Instances left without
// writers become NOT_ALIVE_NO_WRITERS. It reports whether any did.
func (r *DataReader) dropWriter(o origin, now time.Time) bool {
	changed := false
	for _, inst := range r.instances {
		if !inst.writers[o.writer] {
			continue
		}
		delete(inst.writers, o.writer)
		if inst.hasOwner && inst.owner == o.writer {
			inst.hasOwner = false
		}
		if len(inst.writers) == 0 && inst.state == AliveInstanceState {
			inst.state = NotAliveNoWritersInstanceState
			inst.notAliveSince = now
			r.addStateSample(inst, o, now, now)
			changed = true
		}
	}
	return changed
}

func (r *DataReader) sortedInstances() []*readerInstance {
	out := mapValues(r.instances)
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

type sampleRef struct {
	inst *readerInstance
	rs   *readerSample
}

// collect gathers up to limit matching samples of insts in order, fills
// in their infos and ranks, then marks them read or takes them. A negative
// limit means no limit.
func (r *DataReader) collect(limit int, insts []*readerInstance, sel selector, take bool) []Sample {
	var refs []sampleRef
outer:
	for _, inst := range insts {
		if !sel.matchesInstance(inst) {
			continue
		}
		for _, rs := range inst.samples {
			if limit >= 0 && len(refs) >= limit {
				break outer
			}
			if sel.matchesSample(rs) {
				refs = append(refs, sampleRef{inst: inst, rs: rs})
			}
		}
	}
	if len(refs) == 0 {
		return nil
	}

	last := make(map[*readerInstance]int, len(refs))
	for i, ref := range refs {
		last[ref.inst] = i
	}
	out := make([]Sample, len(refs))
	for i, ref := range refs {
		inst, rs := ref.inst, ref.rs
		info := SampleInfo{
			SampleState:              NotReadSampleState,
			ViewState:                rs.view,
			InstanceState:            inst.state,
			SourceTimestamp:          rs.source,
			ReceptionTimestamp:       rs.reception,
			InstanceHandle:           inst.handle,
			PublicationHandle:        rs.pubHandle,
			DisposedGenerationCount:  rs.disposedGen,
			NoWritersGenerationCount: rs.noWritersGen,
			ValidData:                rs.valid,
		}
		if rs.read {
			info.SampleState = ReadSampleState
		}
		mrs := refs[last[inst]].rs
		for j := i + 1; j <= last[inst]; j++ {
			if refs[j].inst == inst {
				info.SampleRank++
			}
		}
		gens := rs.disposedGen + rs.noWritersGen
		info.GenerationRank = mrs.disposedGen + mrs.noWritersGen - gens
		info.AbsoluteGenerationRank = inst.generations() - gens
		out[i] = Sample{Data: rs.data, Info: info}
	}

	for _, ref := range refs {
		if !take {
			ref.rs.read = true
			continue
		}
		for i, rs := range ref.inst.samples {
			if rs == ref.rs {
				r.removeSample(ref.inst, i)
				break
			}
		}
	}
	if take {
		for inst := range last {
			r.dropIfEmpty(inst)
		}
	}
	return out
}

func (r *DataReader) hasMatchingLocked(sel selector) bool {
	for _, inst := range r.instances {
		if !sel.matchesInstance(inst) {
			continue
		}
		for _, rs := range inst.samples {
			if sel.matchesSample(rs) {
				return true
			}
		}
	}
	return false
}

// expire applies lifespan and the autopurge delays. It returns the number
// of samples removed.
func (r *DataReader) expire(now time.Time) int {
	removed := 0
	lc := r.qos.ReaderDataLifecycle
	for _, inst := range r.instances {
		for i := 0; i < len(inst.samples); {
			if e := inst.samples[i].expires; !e.IsZero() && !now.Before(e) {
				r.removeSample(inst, i)
				removed++
				continue
			}
			i++
		}
		delay := qos.Infinite
		switch inst.state {
		case NotAliveNoWritersInstanceState:
			delay = lc.AutopurgeNoWriterSamplesDelay
		case NotAliveDisposedInstanceState:
			delay = lc.AutopurgeDisposedSamplesDelay
		}
		if delay != qos.Infinite && now.Sub(inst.notAliveSince) >= delay {
			removed += len(inst.samples)
			r.samples -= len(inst.samples)
			inst.samples = nil
			delete(r.instances, inst.key)
			delete(r.byHandle, inst.handle)
			continue
		}
		r.dropIfEmpty(inst)
	}
	return removed
}
