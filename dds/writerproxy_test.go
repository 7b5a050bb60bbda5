package dds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

func testProxy(local, reliable bool) *writerProxy {
	prefix := rtps.NewGUIDPrefix(rtps.VendorSemDDS)
	pub := discovery.PublicationData{
		Key:    rtps.GUID{Prefix: prefix, Entity: rtps.NewEntityID(1, rtps.KindWriterWithKey)},
		Writer: qos.DefaultDataWriterQos(),
	}
	return newWriterProxy(pub, 1, local, reliable)
}

func incomingAt(sn rtps.SequenceNumber) *incoming {
	return &incoming{sn: sn, data: []byte(`{}`)}
}

func sns(ins []*incoming) []rtps.SequenceNumber {
	out := make([]rtps.SequenceNumber, 0, len(ins))
	for _, in := range ins {
		out = append(out, in.sn)
	}
	return out
}

func TestBestEffortProxySkipsAhead(t *testing.T) {
	wp := testProxy(false, false)

	ready, lost := wp.receive(incomingAt(3))
	assert.Equal(t, []rtps.SequenceNumber{3}, sns(ready))
	assert.Zero(t, lost, "the first change only fixes the start")

	ready, lost = wp.receive(incomingAt(6))
	assert.Equal(t, []rtps.SequenceNumber{6}, sns(ready))
	assert.Equal(t, 2, lost)

	ready, _ = wp.receive(incomingAt(5))
	assert.Empty(t, ready, "late changes are dropped")
}

func TestReliableProxyReorders(t *testing.T) {
	wp := testProxy(false, true)

	ready, _ := wp.receive(incomingAt(2))
	assert.Empty(t, ready, "nothing is released before the first heartbeat")

	ready, lost := wp.onHeartbeat(&rtps.Heartbeat{FirstSN: 1, LastSN: 3, Count: 1})
	assert.Empty(t, ready)
	assert.Zero(t, lost)
	assert.False(t, wp.historical())

	an := wp.ackNack(rtps.EntityIDUnknown, 3)
	assert.Equal(t, []rtps.SequenceNumber{1, 3}, an.ReaderSNState.Missing())
	assert.False(t, an.Final)

	ready, _ = wp.receive(incomingAt(1))
	assert.Equal(t, []rtps.SequenceNumber{1, 2}, sns(ready))
	ready, _ = wp.receive(incomingAt(3))
	assert.Equal(t, []rtps.SequenceNumber{3}, sns(ready))
	assert.True(t, wp.historical())

	an = wp.ackNack(rtps.EntityIDUnknown, 3)
	assert.True(t, an.Final)
	assert.Equal(t, rtps.SequenceNumber(4), an.ReaderSNState.Base)
}

func TestReliableProxyHeartbeatDeclaresLoss(t *testing.T) {
	wp := testProxy(false, true)
	wp.onHeartbeat(&rtps.Heartbeat{FirstSN: 1, LastSN: 0, Count: 1})

	wp.receive(incomingAt(3))
	ready, lost := wp.onHeartbeat(&rtps.Heartbeat{FirstSN: 3, LastSN: 3, Count: 2})
	assert.Equal(t, []rtps.SequenceNumber{3}, sns(ready))
	assert.Equal(t, 2, lost)

	ready, lost = wp.onHeartbeat(&rtps.Heartbeat{FirstSN: 5, LastSN: 9, Count: 2})
	assert.Empty(t, ready, "a repeated count is ignored")
	assert.Zero(t, lost)
}

func TestReliableProxyGap(t *testing.T) {
	wp := testProxy(false, true)
	wp.onHeartbeat(&rtps.Heartbeat{FirstSN: 1, LastSN: 5, Count: 1})

	wp.receive(incomingAt(4))
	set := rtps.NewSequenceNumberSet(3, 0)
	ready := wp.onGap(&rtps.Gap{GapStart: 1, GapList: set})
	assert.Empty(t, ready)

	ready = wp.onGap(&rtps.Gap{GapStart: 3, GapList: rtps.NewSequenceNumberSet(4, 0)})
	assert.Equal(t, []rtps.SequenceNumber{4}, sns(ready))
}

func TestLocalProxyIsSynced(t *testing.T) {
	wp := testProxy(true, true)
	ready, lost := wp.receive(incomingAt(1))
	assert.Equal(t, []rtps.SequenceNumber{1}, sns(ready))
	assert.Zero(t, lost)
	assert.True(t, wp.historical())
}

func TestCoherentFilter(t *testing.T) {
	wp := testProxy(false, true)

	member := func(sn rtps.SequenceNumber) *incoming {
		in := incomingAt(sn)
		in.coherent = 1
		return in
	}
	ready, committed, discarded := wp.coherentFilter(member(1))
	assert.Empty(t, ready)
	assert.False(t, committed || discarded)
	wp.coherentFilter(member(2))

	ready, committed, _ = wp.coherentFilter(&incoming{sn: 3, coherent: 1, marker: true, count: 2})
	require.True(t, committed)
	assert.Equal(t, []rtps.SequenceNumber{1, 2}, sns(ready))

	wp.coherentFilter(&incoming{sn: 4, coherent: 4})
	ready, committed, discarded = wp.coherentFilter(&incoming{sn: 6, coherent: 4, marker: true, count: 2})
	assert.Empty(t, ready)
	assert.False(t, committed)
	assert.True(t, discarded, "a set missing members is dropped")

	wp.coherentFilter(&incoming{sn: 7, coherent: 7})
	ready, _, discarded = wp.coherentFilter(incomingAt(8))
	assert.True(t, discarded, "a plain change supersedes an open set")
	assert.Equal(t, []rtps.SequenceNumber{8}, sns(ready))
}

func TestDecodeIncoming(t *testing.T) {
	pl := rtps.NewParameterList()
	pl.AddStatusInfo(rtps.StatusInfoDisposed)
	pl.AddSequenceNumber(rtps.PIDCoherentSet, 7)
	d := &rtps.Data{WriterSN: 9, InlineQos: pl, Payload: []byte(`{"id":1}`), Timestamp: rtps.TimeInvalid}

	now := time.Unix(100, 0)
	in := decodeIncoming(d, now)
	assert.Equal(t, rtps.SequenceNumber(9), in.sn)
	assert.Equal(t, rtps.StatusInfoDisposed, in.status)
	assert.Equal(t, rtps.SequenceNumber(7), in.coherent)
	assert.False(t, in.marker)
	assert.Equal(t, now, in.source, "an invalid timestamp falls back to reception time")
}
