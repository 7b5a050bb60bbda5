package rtps

import (
	"encoding/binary"

	"github.com/c360/semdds/errors"
)

// SubmessageID identifies a submessage kind.
type SubmessageID byte

// Submessage ids.
const (
	SubmessagePad       SubmessageID = 0x01
	SubmessageAckNack   SubmessageID = 0x06
	SubmessageHeartbeat SubmessageID = 0x07
	SubmessageGap       SubmessageID = 0x08
	SubmessageInfoTS    SubmessageID = 0x09
	SubmessageInfoDst   SubmessageID = 0x0e
	SubmessageData      SubmessageID = 0x15
	SubmessageDataFrag  SubmessageID = 0x16
)

// Submessage flags.
const (
	flagEndianness = 0x01
	flagInlineQos  = 0x02
	flagData       = 0x04
	flagKey        = 0x08
	flagFinal      = 0x02
	flagLiveliness = 0x04
	flagInvalidate = 0x02
)

// Encapsulation scheme identifiers.
const (
	EncodingCDRBE   uint16 = 0x0000
	EncodingCDRLE   uint16 = 0x0001
	EncodingPLCDRBE uint16 = 0x0002
	EncodingPLCDRLE uint16 = 0x0003
	EncodingJSON    uint16 = 0x8001
)

const (
	headerSize           = 20
	submessageHeaderSize = 4
	dataFixedSize        = 20
	octetsToInlineQos    = 16
)

var protocolMagic = [4]byte{'R', 'T', 'P', 'S'}

// Header starts every message.
type Header struct {
	Version ProtocolVersion
	Vendor  VendorID
	Prefix  GUIDPrefix
}

// NewHeader returns a header for this implementation.
func NewHeader(prefix GUIDPrefix) Header {
	return Header{Version: Version23, Vendor: VendorSemDDS, Prefix: prefix}
}

// Submessage is one of the submessage types in this package.
type Submessage interface {
	ID() SubmessageID
}

// Data carries one change: a serialized sample, or key and status info for
// dispose and unregister.
type Data struct {
	ReaderID      EntityID
	WriterID      EntityID
	WriterSN      SequenceNumber
	InlineQos     *ParameterList
	Encapsulation uint16
	Payload       []byte
	// Key marks the payload as serialized key only.
	Key bool
	// Timestamp is set on decode from the preceding INFO_TS.
	Timestamp Time
}

// Heartbeat announces the sequence range a writer holds.
type Heartbeat struct {
	ReaderID   EntityID
	WriterID   EntityID
	FirstSN    SequenceNumber
	LastSN     SequenceNumber
	Count      int32
	Final      bool
	Liveliness bool
}

// AckNack acknowledges everything before ReaderSNState.Base and requests the
// numbers set in the bitmap.
type AckNack struct {
	ReaderID      EntityID
	WriterID      EntityID
	ReaderSNState SequenceNumberSet
	Count         int32
	Final         bool
}

// Gap marks sequence numbers that will never be sent: [GapStart,
// GapList.Base) plus every number in GapList.
type Gap struct {
	ReaderID EntityID
	WriterID EntityID
	GapStart SequenceNumber
	GapList  SequenceNumberSet
}

// InfoTimestamp sets the source timestamp of the submessages that follow.
type InfoTimestamp struct {
	Timestamp  Time
	Invalidate bool
}

// InfoDestination restricts the following submessages to one participant.
type InfoDestination struct {
	Prefix GUIDPrefix
}

func (*Data) ID() SubmessageID            { return SubmessageData }
func (*Heartbeat) ID() SubmessageID       { return SubmessageHeartbeat }
func (*AckNack) ID() SubmessageID         { return SubmessageAckNack }
func (*Gap) ID() SubmessageID             { return SubmessageGap }
func (*InfoTimestamp) ID() SubmessageID   { return SubmessageInfoTS }
func (*InfoDestination) ID() SubmessageID { return SubmessageInfoDst }

// Message is a header plus its submessages.
type Message struct {
	Header      Header
	Submessages []Submessage
}

// NewMessage starts a message from prefix.
func NewMessage(prefix GUIDPrefix, subs ...Submessage) *Message {
	return &Message{Header: NewHeader(prefix), Submessages: subs}
}

// Add appends submessages.
func (m *Message) Add(subs ...Submessage) {
	m.Submessages = append(m.Submessages, subs...)
}

// DestinedFor reports whether the message, as addressed by its first
// INFO_DST, is meant for prefix.
func (m *Message) DestinedFor(prefix GUIDPrefix) bool {
	for _, s := range m.Submessages {
		if dst, ok := s.(*InfoDestination); ok {
			return dst.Prefix.IsUnknown() || dst.Prefix == prefix
		}
	}
	return true
}

// Encode serializes the message in little-endian order.
func (m *Message) Encode() []byte {
	order := binary.LittleEndian
	out := make([]byte, 0, 256)
	out = append(out, protocolMagic[:]...)
	out = append(out, m.Header.Version.Major, m.Header.Version.Minor)
	out = append(out, m.Header.Vendor[:]...)
	out = append(out, m.Header.Prefix[:]...)

	for _, s := range m.Submessages {
		flags, body := encodeSubmessage(s, order)
		out = append(out, byte(s.ID()), flags|flagEndianness)
		out = order.AppendUint16(out, uint16(len(body)))
		out = append(out, body...)
	}
	return out
}

func appendEntityID(b []byte, e EntityID) []byte {
	return append(b, e.Key[0], e.Key[1], e.Key[2], byte(e.Kind))
}

func appendSN(b []byte, order ByteOrder, sn SequenceNumber) []byte {
	var tmp [8]byte
	putSequenceNumber(tmp[:], order, sn)
	return append(b, tmp[:]...)
}

func appendSNSet(b []byte, order ByteOrder, s SequenceNumberSet) []byte {
	b = appendSN(b, order, s.Base)
	b = order.AppendUint32(b, s.NumBits)
	words := int((s.NumBits + 31) / 32)
	for i := 0; i < words; i++ {
		var w uint32
		if i < len(s.Bitmap) {
			w = s.Bitmap[i]
		}
		b = order.AppendUint32(b, w)
	}
	return b
}

func encodeSubmessage(s Submessage, order ByteOrder) (byte, []byte) {
	var flags byte
	var b []byte
	switch v := s.(type) {
	case *Data:
		b = order.AppendUint16(b, 0)
		b = order.AppendUint16(b, octetsToInlineQos)
		b = appendEntityID(b, v.ReaderID)
		b = appendEntityID(b, v.WriterID)
		b = appendSN(b, order, v.WriterSN)
		if v.InlineQos.Len() > 0 {
			flags |= flagInlineQos
			b = append(b, v.InlineQos.Encode(order)...)
		}
		if len(v.Payload) > 0 {
			if v.Key {
				flags |= flagKey
			} else {
				flags |= flagData
			}
			enc := v.Encapsulation
			if enc == 0 && len(v.Payload) > 0 {
				enc = EncodingJSON
			}
			b = binary.BigEndian.AppendUint16(b, enc)
			b = append(b, 0, 0)
			b = append(b, v.Payload...)
			for len(b)%4 != 0 {
				b = append(b, 0)
			}
		}
	case *Heartbeat:
		if v.Final {
			flags |= flagFinal
		}
		if v.Liveliness {
			flags |= flagLiveliness
		}
		b = appendEntityID(b, v.ReaderID)
		b = appendEntityID(b, v.WriterID)
		b = appendSN(b, order, v.FirstSN)
		b = appendSN(b, order, v.LastSN)
		b = order.AppendUint32(b, uint32(v.Count))
	case *AckNack:
		if v.Final {
			flags |= flagFinal
		}
		b = appendEntityID(b, v.ReaderID)
		b = appendEntityID(b, v.WriterID)
		b = appendSNSet(b, order, v.ReaderSNState)
		b = order.AppendUint32(b, uint32(v.Count))
	case *Gap:
		b = appendEntityID(b, v.ReaderID)
		b = appendEntityID(b, v.WriterID)
		b = appendSN(b, order, v.GapStart)
		b = appendSNSet(b, order, v.GapList)
	case *InfoTimestamp:
		if v.Invalidate {
			flags |= flagInvalidate
			break
		}
		b = order.AppendUint32(b, uint32(v.Timestamp.Seconds))
		b = order.AppendUint32(b, v.Timestamp.Fraction)
	case *InfoDestination:
		b = append(b, v.Prefix[:]...)
	}
	return flags, b
}

func badMessage(format string, args ...any) error {
	return errors.Failf(errors.RetcodeBadParameter, "rtps", "DecodeMessage", format, args...)
}

// DecodeMessage parses a message. Unknown submessages are skipped. The
// endianness flag of each submessage is honoured.
func DecodeMessage(b []byte) (*Message, error) {
	if len(b) < headerSize {
		return nil, badMessage("message of %d bytes is shorter than the header", len(b))
	}
	if [4]byte(b[0:4]) != protocolMagic {
		return nil, badMessage("bad protocol magic")
	}
	m := &Message{}
	m.Header.Version = ProtocolVersion{b[4], b[5]}
	if m.Header.Version.Major != Version23.Major {
		return nil, badMessage("unsupported protocol version %d.%d", b[4], b[5])
	}
	copy(m.Header.Vendor[:], b[6:8])
	copy(m.Header.Prefix[:], b[8:20])

	ts := TimeInvalid
	off := headerSize
	for len(b)-off >= submessageHeaderSize {
		id := SubmessageID(b[off])
		flags := b[off+1]
		var order ByteOrder = binary.BigEndian
		if flags&flagEndianness != 0 {
			order = binary.LittleEndian
		}
		length := int(order.Uint16(b[off+2:]))
		off += submessageHeaderSize
		if length == 0 && id != SubmessagePad && id != SubmessageInfoTS {
			length = len(b) - off
		}
		if length > len(b)-off {
			return nil, badMessage("submessage 0x%02x length %d exceeds message", byte(id), length)
		}
		body := b[off : off+length]
		off += length

		var (
			sub Submessage
			err error
		)
		switch id {
		case SubmessageData:
			var d *Data
			d, err = decodeData(body, flags, order)
			if d != nil {
				d.Timestamp = ts
				sub = d
			}
		case SubmessageHeartbeat:
			sub, err = decodeHeartbeat(body, flags, order)
		case SubmessageAckNack:
			sub, err = decodeAckNack(body, flags, order)
		case SubmessageGap:
			sub, err = decodeGap(body, order)
		case SubmessageInfoTS:
			var info *InfoTimestamp
			info, err = decodeInfoTS(body, flags, order)
			if info != nil {
				ts = info.Timestamp
				sub = info
			}
		case SubmessageInfoDst:
			if len(body) < 12 {
				err = badMessage("short INFO_DST")
				break
			}
			dst := &InfoDestination{}
			copy(dst.Prefix[:], body)
			sub = dst
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		m.Submessages = append(m.Submessages, sub)
	}
	return m, nil
}

func readEntityID(b []byte) EntityID {
	return EntityID{Key: [3]byte{b[0], b[1], b[2]}, Kind: EntityKind(b[3])}
}

func readSNSet(b []byte, order ByteOrder) (SequenceNumberSet, int, error) {
	if len(b) < 12 {
		return SequenceNumberSet{}, 0, badMessage("short sequence number set")
	}
	s := SequenceNumberSet{Base: readSequenceNumber(b, order), NumBits: order.Uint32(b[8:])}
	if s.NumBits > MaxSetBits {
		return SequenceNumberSet{}, 0, badMessage("sequence number set of %d bits", s.NumBits)
	}
	words := int((s.NumBits + 31) / 32)
	if len(b) < 12+4*words {
		return SequenceNumberSet{}, 0, badMessage("short sequence number bitmap")
	}
	s.Bitmap = make([]uint32, words)
	for i := range s.Bitmap {
		s.Bitmap[i] = order.Uint32(b[12+4*i:])
	}
	return s, 12 + 4*words, nil
}

func decodeData(b []byte, flags byte, order ByteOrder) (*Data, error) {
	if len(b) < dataFixedSize {
		return nil, badMessage("short DATA")
	}
	toQos := int(order.Uint16(b[2:4]))
	d := &Data{
		ReaderID: readEntityID(b[4:8]),
		WriterID: readEntityID(b[8:12]),
		WriterSN: readSequenceNumber(b[12:20], order),
	}
	off := 4 + toQos
	if off > len(b) || off < 12 {
		return nil, badMessage("DATA inline qos offset %d out of range", toQos)
	}
	if flags&flagInlineQos != 0 {
		pl, n, err := DecodeParameterList(b[off:], order)
		if err != nil {
			return nil, err
		}
		d.InlineQos = pl
		off += n
	}
	if flags&(flagData|flagKey) != 0 {
		if len(b)-off < 4 {
			return nil, badMessage("DATA payload missing encapsulation header")
		}
		d.Encapsulation = binary.BigEndian.Uint16(b[off:])
		d.Key = flags&flagKey != 0
		d.Payload = append([]byte(nil), b[off+4:]...)
		if d.Encapsulation == EncodingJSON {
			d.Payload = trimPadding(d.Payload)
		}
	}
	return d, nil
}

// trimPadding drops trailing NUL alignment bytes from a JSON payload.
func trimPadding(p []byte) []byte {
	for len(p) > 0 && p[len(p)-1] == 0 {
		p = p[:len(p)-1]
	}
	return p
}

func decodeHeartbeat(b []byte, flags byte, order ByteOrder) (*Heartbeat, error) {
	if len(b) < 28 {
		return nil, badMessage("short HEARTBEAT")
	}
	return &Heartbeat{
		ReaderID:   readEntityID(b[0:4]),
		WriterID:   readEntityID(b[4:8]),
		FirstSN:    readSequenceNumber(b[8:16], order),
		LastSN:     readSequenceNumber(b[16:24], order),
		Count:      int32(order.Uint32(b[24:28])),
		Final:      flags&flagFinal != 0,
		Liveliness: flags&flagLiveliness != 0,
	}, nil
}

func decodeAckNack(b []byte, flags byte, order ByteOrder) (*AckNack, error) {
	if len(b) < 8 {
		return nil, badMessage("short ACKNACK")
	}
	set, n, err := readSNSet(b[8:], order)
	if err != nil {
		return nil, err
	}
	if len(b) < 8+n+4 {
		return nil, badMessage("ACKNACK missing count")
	}
	return &AckNack{
		ReaderID:      readEntityID(b[0:4]),
		WriterID:      readEntityID(b[4:8]),
		ReaderSNState: set,
		Count:         int32(order.Uint32(b[8+n:])),
		Final:         flags&flagFinal != 0,
	}, nil
}

func decodeGap(b []byte, order ByteOrder) (*Gap, error) {
	if len(b) < 16 {
		return nil, badMessage("short GAP")
	}
	set, _, err := readSNSet(b[16:], order)
	if err != nil {
		return nil, err
	}
	return &Gap{
		ReaderID: readEntityID(b[0:4]),
		WriterID: readEntityID(b[4:8]),
		GapStart: readSequenceNumber(b[8:16], order),
		GapList:  set,
	}, nil
}

func decodeInfoTS(b []byte, flags byte, order ByteOrder) (*InfoTimestamp, error) {
	if flags&flagInvalidate != 0 {
		return &InfoTimestamp{Timestamp: TimeInvalid, Invalidate: true}, nil
	}
	if len(b) < 8 {
		return nil, badMessage("short INFO_TS")
	}
	return &InfoTimestamp{Timestamp: Time{
		Seconds:  int32(order.Uint32(b[0:4])),
		Fraction: order.Uint32(b[4:8]),
	}}, nil
}
