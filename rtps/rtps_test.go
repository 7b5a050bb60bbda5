package rtps

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

func TestGUIDPrefix(t *testing.T) {
	a := NewGUIDPrefix(VendorSemDDS)
	b := NewGUIDPrefix(VendorSemDDS)
	assert.NotEqual(t, a, b)
	assert.Equal(t, VendorSemDDS[0], a[0])
	assert.Equal(t, VendorSemDDS[1], a[1])

	parsed, err := ParseGUIDPrefix(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = ParseGUIDPrefix("zz")
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestGUIDRoundTrip(t *testing.T) {
	g := GUID{Prefix: NewGUIDPrefix(VendorSemDDS), Entity: NewEntityID(0x010203, KindWriterWithKey)}
	parsed, err := ParseGUID(g.String())
	require.NoError(t, err)
	assert.Equal(t, g, parsed)
	assert.Equal(t, g, GUIDFromBytes(g.Bytes()))
	assert.Equal(t, "010203.02", g.Entity.String())
}

func TestEntityKinds(t *testing.T) {
	assert.True(t, KindWriterWithKey.IsWriter())
	assert.True(t, KindBuiltinWriterWithKey.IsWriter())
	assert.False(t, KindReaderNoKey.IsWriter())
	assert.True(t, KindReaderWithKey.IsReader())
	assert.True(t, EntityIDSPDPReader.Kind.IsBuiltin())
	assert.False(t, KindReaderWithKey.IsBuiltin())
}

func TestSequenceNumberSet(t *testing.T) {
	s := NewSequenceNumberSet(10, 40)
	assert.True(t, s.Empty())
	assert.True(t, s.Add(10))
	assert.True(t, s.Add(42))
	assert.False(t, s.Add(9))
	assert.False(t, s.Add(50))
	assert.True(t, s.Contains(42))
	assert.False(t, s.Contains(11))
	assert.Equal(t, []SequenceNumber{10, 42}, s.Missing())

	big := NewSequenceNumberSet(1, 1000)
	assert.Equal(t, uint32(MaxSetBits), big.NumBits)
}

func TestSequenceNumberWire(t *testing.T) {
	for _, sn := range []SequenceNumber{1, 1 << 32, 1<<32 + 7, SequenceNumberUnknown} {
		b := make([]byte, 8)
		putSequenceNumber(b, binary.BigEndian, sn)
		assert.Equal(t, sn, readSequenceNumber(b, binary.BigEndian))
	}
}

func TestSequenceNumberSetWire(t *testing.T) {
	set := NewSequenceNumberSet(100, 40)
	set.Add(101)
	set.Add(139)
	for _, order := range []ByteOrder{binary.LittleEndian, binary.BigEndian} {
		b := appendSNSet(nil, order, set)
		got, n, err := readSNSet(b, order)
		require.NoError(t, err, order.String())
		assert.Equal(t, len(b), n, order.String())
		assert.Equal(t, []SequenceNumber{101, 139}, got.Missing(), order.String())
	}
}

func TestTimeConversion(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	rt := FromTime(now)
	assert.Equal(t, int32(1700000000), rt.Seconds)
	assert.InDelta(t, 0, float64(rt.ToTime().Sub(now)), 2)
	assert.False(t, TimeInvalid.IsValid())
}

func TestDurationConversion(t *testing.T) {
	d := FromDuration(1500 * time.Millisecond)
	assert.Equal(t, int32(1), d.Seconds)
	assert.InDelta(t, float64(1500*time.Millisecond), float64(d.ToDuration()), 2)
	for _, exact := range []time.Duration{5 * time.Millisecond, 999999999, 3*time.Second + 7, 0} {
		assert.Equal(t, exact, FromDuration(exact).ToDuration())
	}
	assert.Equal(t, DurationInfinite, FromDuration(math.MaxInt64))
	assert.Equal(t, time.Duration(math.MaxInt64), DurationInfinite.ToDuration())
}

func TestPorts(t *testing.T) {
	assert.Equal(t, 7400, SPDPMulticastPort(0))
	assert.Equal(t, 7401, UserMulticastPort(0))
	assert.Equal(t, 7410, SPDPUnicastPort(0, 0))
	assert.Equal(t, 7411, UserUnicastPort(0, 0))
	assert.Equal(t, 7650, SPDPMulticastPort(1))
	assert.Equal(t, 7664, SPDPUnicastPort(1, 2))
}

func TestLocator(t *testing.T) {
	l := NewUDPv4Locator(net.ParseIP("192.168.1.7"), 7411)
	assert.Equal(t, "udpv4://192.168.1.7:7411", l.String())
	assert.Equal(t, 7411, l.UDPAddr().Port)

	p := NewGUIDPrefix(VendorSemDDS)
	vl := NewPrefixLocator(LocatorKindInproc, p)
	assert.Equal(t, p, vl.Prefix())
	assert.Nil(t, vl.UDPAddr())
}

func TestTextForms(t *testing.T) {
	p := NewGUIDPrefix(VendorSemDDS)
	g := GUID{Prefix: p, Entity: NewEntityID(7, KindWriterWithKey)}
	doc, err := json.Marshal(map[string]any{
		"guid":     g,
		"prefix":   p,
		"locators": []Locator{NewUDPv4Locator(net.ParseIP("10.0.0.2"), 7411), NewPrefixLocator(LocatorKindNATS, p)},
	})
	require.NoError(t, err)

	var back struct {
		GUID     GUID       `json:"guid"`
		Prefix   GUIDPrefix `json:"prefix"`
		Locators []Locator  `json:"locators"`
	}
	require.NoError(t, json.Unmarshal(doc, &back))
	assert.Equal(t, g, back.GUID)
	assert.Equal(t, p, back.Prefix)
	require.Len(t, back.Locators, 2)
	assert.Equal(t, "udpv4://10.0.0.2:7411", back.Locators[0].String())
	assert.Equal(t, p, back.Locators[1].Prefix())

	_, err = ParseLocator("carrier://x")
	assert.ErrorIs(t, err, errors.ErrBadParameter)
	_, err = ParseLocator("udpv4")
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestComputeKeyHash(t *testing.T) {
	short := ComputeKeyHash([]byte("abc"))
	assert.Equal(t, byte('a'), short[0])
	assert.Equal(t, byte(0), short[15])

	long := ComputeKeyHash([]byte("a key that is longer than sixteen bytes"))
	assert.NotEqual(t, KeyHashNil, long)
	assert.Equal(t, long, ComputeKeyHash([]byte("a key that is longer than sixteen bytes")))
}

func TestParameterListRoundTrip(t *testing.T) {
	guid := GUID{Prefix: NewGUIDPrefix(VendorSemDDS), Entity: EntityIDParticipant}
	loc := NewUDPv4Locator(net.IPv4(10, 0, 0, 1), 7410)

	for _, order := range []ByteOrder{binary.LittleEndian, binary.BigEndian} {
		pl := &ParameterList{Order: order}
		pl.AddString(PIDTopicName, "Square")
		pl.AddUint32(PIDDomainID, 7)
		pl.AddGUID(PIDParticipantGUID, guid)
		pl.AddLocator(PIDDefaultUnicastLocator, loc)
		pl.AddLocator(PIDDefaultUnicastLocator, loc)
		pl.AddDuration(PIDParticipantLeaseDuration, 10*time.Second)
		pl.AddStrings(PIDPartition, []string{"a", "b*"})
		pl.AddBytes(PIDUserData, []byte{1, 2, 3})
		pl.AddSequenceNumber(PIDCoherentSet, 1<<33)
		pl.AddStatusInfo(StatusInfoDisposed)
		pl.AddBool(PIDExpectsInlineQos, true)

		encoded := pl.Encode(order)
		assert.Equal(t, pl.EncodedSize(), len(encoded))
		assert.Zero(t, len(encoded)%4)

		got, n, err := DecodeParameterList(append(encoded, 0xff, 0xff), order)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), n)

		name, ok, err := got.String(PIDTopicName)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Square", name)

		domain, _, err := got.Uint32(PIDDomainID)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), domain)

		g, _, err := got.GUID(PIDParticipantGUID)
		require.NoError(t, err)
		assert.Equal(t, guid, g)

		locs, err := got.Locators(PIDDefaultUnicastLocator)
		require.NoError(t, err)
		assert.Equal(t, []Locator{loc, loc}, locs)

		lease, _, err := got.Duration(PIDParticipantLeaseDuration)
		require.NoError(t, err)
		assert.InDelta(t, float64(10*time.Second), float64(lease), 2)

		parts, _, err := got.Strings(PIDPartition)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b*"}, parts)

		data, _, err := got.Bytes(PIDUserData)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)

		sn, _, err := got.SequenceNumber(PIDCoherentSet)
		require.NoError(t, err)
		assert.Equal(t, SequenceNumber(1<<33), sn)

		assert.Equal(t, StatusInfoDisposed, got.StatusInfo())

		expects, _, err := got.Bool(PIDExpectsInlineQos)
		require.NoError(t, err)
		assert.True(t, expects)

		_, ok, err = got.String(PIDTypeName)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestDecodeParameterListMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no sentinel", []byte{0x05, 0x00, 0x00, 0x00}},
		{"length past end", []byte{0x05, 0x00, 0x40, 0x00, 1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeParameterList(tt.data, binary.LittleEndian)
			assert.ErrorIs(t, err, errors.ErrBadParameter)
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	prefix := NewGUIDPrefix(VendorSemDDS)
	writer := NewEntityID(1, KindWriterWithKey)
	reader := NewEntityID(2, KindReaderWithKey)

	inline := NewParameterList()
	inline.AddKeyHash(ComputeKeyHash([]byte("k1")))
	inline.AddSequenceNumber(PIDCoherentSet, 3)

	gapList := NewSequenceNumberSet(8, 8)
	gapList.Add(9)
	nack := NewSequenceNumberSet(4, 16)
	nack.Add(5)
	nack.Add(7)
	ts := FromTime(time.Unix(1700000000, 0))

	msg := NewMessage(prefix,
		&InfoDestination{Prefix: prefix},
		&InfoTimestamp{Timestamp: ts},
		&Data{ReaderID: reader, WriterID: writer, WriterSN: 4, InlineQos: inline, Payload: []byte(`{"x":1}`)},
		&Heartbeat{ReaderID: reader, WriterID: writer, FirstSN: 1, LastSN: 4, Count: 2, Final: true},
		&AckNack{ReaderID: reader, WriterID: writer, ReaderSNState: nack, Count: 3},
		&Gap{ReaderID: reader, WriterID: writer, GapStart: 6, GapList: gapList},
		&InfoTimestamp{Invalidate: true},
		&Data{ReaderID: reader, WriterID: writer, WriterSN: 5},
	)

	decoded, err := DecodeMessage(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg.Header, decoded.Header)
	require.Len(t, decoded.Submessages, 8)
	assert.True(t, decoded.DestinedFor(prefix))
	assert.False(t, decoded.DestinedFor(NewGUIDPrefix(VendorSemDDS)))

	data := decoded.Submessages[2].(*Data)
	assert.Equal(t, SequenceNumber(4), data.WriterSN)
	assert.Equal(t, writer, data.WriterID)
	assert.Equal(t, `{"x":1}`, string(data.Payload))
	assert.Equal(t, EncodingJSON, data.Encapsulation)
	assert.Equal(t, ts, data.Timestamp)
	kh, ok := data.InlineQos.KeyHash()
	assert.True(t, ok)
	assert.Equal(t, ComputeKeyHash([]byte("k1")), kh)

	hb := decoded.Submessages[3].(*Heartbeat)
	assert.Equal(t, SequenceNumber(1), hb.FirstSN)
	assert.Equal(t, SequenceNumber(4), hb.LastSN)
	assert.True(t, hb.Final)
	assert.False(t, hb.Liveliness)

	an := decoded.Submessages[4].(*AckNack)
	assert.Equal(t, []SequenceNumber{5, 7}, an.ReaderSNState.Missing())
	assert.Equal(t, int32(3), an.Count)

	gap := decoded.Submessages[5].(*Gap)
	assert.Equal(t, SequenceNumber(6), gap.GapStart)
	assert.True(t, gap.GapList.Contains(9))

	last := decoded.Submessages[7].(*Data)
	assert.Equal(t, TimeInvalid, last.Timestamp)
	assert.Nil(t, last.Payload)
}

func TestDecodeMessageBigEndianSubmessage(t *testing.T) {
	prefix := NewGUIDPrefix(VendorSemDDS)
	b := NewMessage(prefix).Encode()
	body := make([]byte, 28)
	copy(body[4:8], []byte{0, 0, 1, byte(KindWriterWithKey)})
	binary.BigEndian.PutUint32(body[8:], 0)
	binary.BigEndian.PutUint32(body[12:], 1)
	binary.BigEndian.PutUint32(body[16:], 0)
	binary.BigEndian.PutUint32(body[20:], 9)
	binary.BigEndian.PutUint32(body[24:], 1)
	b = append(b, byte(SubmessageHeartbeat), 0x00, 0, 28)
	b = append(b, body...)

	m, err := DecodeMessage(b)
	require.NoError(t, err)
	hb := m.Submessages[0].(*Heartbeat)
	assert.Equal(t, SequenceNumber(9), hb.LastSN)
}

func TestDecodeMessageMalformed(t *testing.T) {
	prefix := NewGUIDPrefix(VendorSemDDS)
	valid := NewMessage(prefix, &Heartbeat{FirstSN: 1, LastSN: 1}).Encode()

	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte("RTP")},
		{"bad magic", append([]byte("XTPS"), valid[4:]...)},
		{"truncated submessage", valid[:len(valid)-4]},
		{"oversize length", append(append([]byte(nil), valid[:headerSize]...), byte(SubmessageData), 0x01, 0xff, 0x00)},
		{"huge bitmap", append(append([]byte(nil), valid[:headerSize]...),
			byte(SubmessageAckNack), 0x01, 24, 0,
			0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 1, 0, 0, 0,
			0xff, 0xff, 0, 0, 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := DecodeMessage(tt.data)
				assert.ErrorIs(t, err, errors.ErrBadParameter)
			})
		})
	}
}

func TestDecodeMessageSkipsUnknown(t *testing.T) {
	prefix := NewGUIDPrefix(VendorSemDDS)
	b := NewMessage(prefix).Encode()
	b = append(b, 0x7f, 0x01, 4, 0, 1, 2, 3, 4)
	m, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Empty(t, m.Submessages)
}
