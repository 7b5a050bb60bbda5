package dds

import (
	"time"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
)

// incoming is a change decoded from a DATA submessage.
type incoming struct {
	sn       rtps.SequenceNumber
	status   uint32
	key      rtps.KeyHash
	hasKey   bool
	data     []byte
	source   time.Time
	coherent rtps.SequenceNumber
	marker   bool
	count    int32
}

func decodeIncoming(d *rtps.Data, now time.Time) *incoming {
	in := &incoming{sn: d.WriterSN, data: d.Payload, source: now}
	if d.Timestamp.IsValid() && d.Timestamp != rtps.TimeZero {
		in.source = d.Timestamp.ToTime()
	}
	if pl := d.InlineQos; pl != nil {
		in.status = pl.StatusInfo()
		in.key, in.hasKey = pl.KeyHash()
		if sn, ok, err := pl.SequenceNumber(rtps.PIDCoherentSet); err == nil && ok {
			in.coherent = sn
		}
		if n, ok, err := pl.Int32(rtps.PIDCoherentSetCount); err == nil && ok {
			in.marker = true
			in.count = n
		}
	}
	return in
}

// origin is what the reader cache needs to know about the writer of a
// change.
type origin struct {
	writer   rtps.GUID
	handle   InstanceHandle
	strength int32
	lifespan time.Duration
}

type pendingSet struct {
	start   rtps.SequenceNumber
	changes []*incoming
}

// writerProxy is the reader's view of one matched writer. It puts changes
// back in sequence order, tracks what is missing and holds coherent sets
// until their marker arrives.
type writerProxy struct {
	guid     rtps.GUID
	handle   InstanceHandle
	pub      discovery.PublicationData
	local    bool
	reliable bool
	dst      transport.Destination

	synced     bool
	next       rtps.SequenceNumber
	historyEnd rtps.SequenceNumber
	pending    map[rtps.SequenceNumber]*incoming
	irrelevant map[rtps.SequenceNumber]bool
	ackCount   int32
	hbCount    int32

	alive    bool
	lastSeen time.Time
	set      *pendingSet
}

func newWriterProxy(pub discovery.PublicationData, h InstanceHandle, local, reliable bool) *writerProxy {
	wp := &writerProxy{
		guid:       pub.Key,
		handle:     h,
		pub:        pub,
		local:      local,
		reliable:   reliable,
		next:       1,
		pending:    make(map[rtps.SequenceNumber]*incoming),
		irrelevant: make(map[rtps.SequenceNumber]bool),
		alive:      true,
		lastSeen:   time.Now(),
	}
	// Local changes arrive in order, replays included.
	if local {
		wp.synced = true
	}
	return wp
}

func (wp *writerProxy) origin() origin {
	o := origin{writer: wp.guid, handle: wp.handle, strength: wp.pub.Writer.OwnershipStrength.Value, lifespan: qos.Infinite}
	if d := wp.pub.Writer.Lifespan.Duration; d != qos.Infinite {
		o.lifespan = d
	}
	return o
}

// lease is the liveliness lease the reader enforces for the writer, or
// zero when the participant lease covers it.
func (wp *writerProxy) lease() time.Duration {
	lv := wp.pub.Writer.Liveliness
	if lv.Kind == qos.AutomaticLiveliness || lv.LeaseDuration == qos.Infinite {
		return 0
	}
	return lv.LeaseDuration
}

// receive takes one change and returns the changes now deliverable in
// order together with the number of changes known to be lost.
func (wp *writerProxy) receive(in *incoming) ([]*incoming, int) {
	switch {
	case wp.local:
		if in.sn < wp.next {
			return nil, 0
		}
		wp.next = in.sn + 1
		return []*incoming{in}, 0
	case !wp.reliable:
		if in.sn < wp.next {
			return nil, 0
		}
		lost := 0
		if wp.synced && in.sn > wp.next {
			lost = int(in.sn - wp.next)
		}
		wp.synced = true
		wp.next = in.sn + 1
		return []*incoming{in}, lost
	}
	if in.sn < wp.next || wp.irrelevant[in.sn] {
		return nil, 0
	}
	wp.pending[in.sn] = in
	if !wp.synced {
		return nil, 0
	}
	return wp.drain(), 0
}

// drain releases the contiguous run of changes starting at next.
func (wp *writerProxy) drain() []*incoming {
	var out []*incoming
	for {
		if in, ok := wp.pending[wp.next]; ok {
			out = append(out, in)
			delete(wp.pending, wp.next)
			wp.next++
			continue
		}
		if wp.irrelevant[wp.next] {
			delete(wp.irrelevant, wp.next)
			wp.next++
			continue
		}
		return out
	}
}

// advance moves next forward to sn, forgetting buffered state below it.
// It returns how many skipped numbers were neither buffered nor known to
// be irrelevant.
func (wp *writerProxy) advance(sn rtps.SequenceNumber) int {
	if sn <= wp.next {
		return 0
	}
	lost := 0
	for s := wp.next; s < sn; s++ {
		if _, ok := wp.pending[s]; !ok && !wp.irrelevant[s] {
			lost++
		}
	}
	for s := range wp.pending {
		if s < sn {
			delete(wp.pending, s)
		}
	}
	for s := range wp.irrelevant {
		if s < sn {
			delete(wp.irrelevant, s)
		}
	}
	wp.next = sn
	return lost
}

// onHeartbeat applies a heartbeat of a reliable writer. The first one
// fixes where the reader starts; later ones declare changes the writer no
// longer holds as lost.
func (wp *writerProxy) onHeartbeat(hb *rtps.Heartbeat) ([]*incoming, int) {
	if hb.Count != 0 && hb.Count <= wp.hbCount {
		return nil, 0
	}
	wp.hbCount = hb.Count
	lost := 0
	if !wp.synced {
		wp.synced = true
		wp.historyEnd = hb.LastSN
		first := hb.FirstSN
		if first < 1 {
			first = 1
		}
		if first > hb.LastSN {
			first = hb.LastSN + 1
		}
		for s := range wp.pending {
			if s < first {
				delete(wp.pending, s)
			}
		}
		wp.next = first
	} else if hb.FirstSN > wp.next {
		lost = wp.advance(hb.FirstSN)
	}
	return wp.drain(), lost
}

// onGap marks the announced numbers as irrelevant.
func (wp *writerProxy) onGap(g *rtps.Gap) []*incoming {
	start, end := g.GapStart, g.GapList.Base
	if start <= wp.next && end > wp.next {
		wp.advance(end)
	} else {
		for s := max(start, wp.next); s < end; s++ {
			wp.irrelevant[s] = true
		}
	}
	for _, s := range g.GapList.Missing() {
		if s >= wp.next {
			wp.irrelevant[s] = true
		}
	}
	if !wp.synced {
		return nil
	}
	return wp.drain()
}

// ackNack reports what the reader holds and what it misses up to last.
func (wp *writerProxy) ackNack(reader rtps.EntityID, last rtps.SequenceNumber) *rtps.AckNack {
	var bits uint32
	if last >= wp.next {
		bits = uint32(min(int64(last-wp.next)+1, rtps.MaxSetBits))
	}
	set := rtps.NewSequenceNumberSet(wp.next, bits)
	for s := wp.next; s < wp.next+rtps.SequenceNumber(bits); s++ {
		if _, ok := wp.pending[s]; ok || wp.irrelevant[s] {
			continue
		}
		set.Add(s)
	}
	wp.ackCount++
	return &rtps.AckNack{
		ReaderID:      reader,
		WriterID:      wp.guid.Entity,
		ReaderSNState: set,
		Count:         wp.ackCount,
		Final:         set.Empty(),
	}
}

// historical reports whether the history announced by the first
// heartbeat has been delivered.
func (wp *writerProxy) historical() bool {
	return wp.local || !wp.reliable || (wp.synced && wp.next > wp.historyEnd)
}

// coherentFilter holds members of a coherent set until its marker arrives.
// committed and discarded report what happened to a pending set.
func (wp *writerProxy) coherentFilter(in *incoming) (ready []*incoming, committed, discarded bool) {
	if in.marker {
		if wp.set != nil && wp.set.start == in.coherent {
			if len(wp.set.changes) == int(in.count) {
				ready, committed = wp.set.changes, true
			} else {
				discarded = true
			}
			wp.set = nil
		}
		return ready, committed, discarded
	}
	if in.coherent == 0 {
		if wp.set != nil {
			wp.set = nil
			discarded = true
		}
		return []*incoming{in}, false, discarded
	}
	if wp.set == nil || wp.set.start != in.coherent {
		discarded = wp.set != nil
		wp.set = &pendingSet{start: in.coherent}
	}
	wp.set.changes = append(wp.set.changes, in)
	return nil, false, discarded
}
