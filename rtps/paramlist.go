package rtps

import (
	"encoding/binary"
	"time"

	"github.com/c360/semdds/errors"
)

// ParameterID identifies a parameter in a ParameterList.
type ParameterID uint16

// Standard parameter ids.
const (
	PIDPad                         ParameterID = 0x0000
	PIDSentinel                    ParameterID = 0x0001
	PIDParticipantLeaseDuration    ParameterID = 0x0002
	PIDTimeBasedFilter             ParameterID = 0x0004
	PIDTopicName                   ParameterID = 0x0005
	PIDOwnershipStrength           ParameterID = 0x0006
	PIDTypeName                    ParameterID = 0x0007
	PIDDomainID                    ParameterID = 0x000f
	PIDProtocolVersion             ParameterID = 0x0015
	PIDVendorID                    ParameterID = 0x0016
	PIDReliability                 ParameterID = 0x001a
	PIDLiveliness                  ParameterID = 0x001b
	PIDDurability                  ParameterID = 0x001d
	PIDDurabilityService           ParameterID = 0x001e
	PIDOwnership                   ParameterID = 0x001f
	PIDPresentation                ParameterID = 0x0021
	PIDDeadline                    ParameterID = 0x0023
	PIDDestinationOrder            ParameterID = 0x0025
	PIDLatencyBudget               ParameterID = 0x0027
	PIDPartition                   ParameterID = 0x0029
	PIDLifespan                    ParameterID = 0x002b
	PIDUserData                    ParameterID = 0x002c
	PIDGroupData                   ParameterID = 0x002d
	PIDTopicData                   ParameterID = 0x002e
	PIDUnicastLocator              ParameterID = 0x002f
	PIDMulticastLocator            ParameterID = 0x0030
	PIDDefaultUnicastLocator       ParameterID = 0x0031
	PIDMetatrafficUnicastLocator   ParameterID = 0x0032
	PIDMetatrafficMulticastLocator ParameterID = 0x0033
	PIDHistory                     ParameterID = 0x0040
	PIDResourceLimits              ParameterID = 0x0041
	PIDExpectsInlineQos            ParameterID = 0x0043
	PIDDefaultMulticastLocator     ParameterID = 0x0048
	PIDTransportPriority           ParameterID = 0x0049
	PIDParticipantGUID             ParameterID = 0x0050
	PIDGroupGUID                   ParameterID = 0x0052
	PIDCoherentSet                 ParameterID = 0x0056
	PIDBuiltinEndpointSet          ParameterID = 0x0058
	PIDEndpointGUID                ParameterID = 0x005a
	PIDEntityName                  ParameterID = 0x0062
	PIDKeyHash                     ParameterID = 0x0070
	PIDStatusInfo                  ParameterID = 0x0071
)

// Vendor parameter ids.
const (
	PIDCoherentSetCount    ParameterID = 0x8001
	PIDContentFilter       ParameterID = 0x8002
	PIDWriterDataLifecycle ParameterID = 0x8003
	PIDGroupCoherent       ParameterID = 0x8004
)

// Status info flags, carried in the last octet of PID_STATUS_INFO.
const (
	StatusInfoDisposed     uint32 = 0x1
	StatusInfoUnregistered uint32 = 0x2
)

// Parameter is one id/value pair. Value excludes padding.
type Parameter struct {
	ID    ParameterID
	Value []byte
}

// ParameterList is an ordered list of parameters with the byte order used
// for its numeric values.
type ParameterList struct {
	Params []Parameter
	Order  ByteOrder
}

// NewParameterList returns an empty little-endian list.
func NewParameterList() *ParameterList {
	return &ParameterList{Order: binary.LittleEndian}
}

func (pl *ParameterList) order() ByteOrder {
	if pl.Order == nil {
		return binary.LittleEndian
	}
	return pl.Order
}

// Add appends a raw parameter.
func (pl *ParameterList) Add(id ParameterID, value []byte) {
	pl.Params = append(pl.Params, Parameter{ID: id, Value: value})
}

// Get returns the first value with the id. A nil list has no values.
func (pl *ParameterList) Get(id ParameterID) ([]byte, bool) {
	if pl == nil {
		return nil, false
	}
	for _, p := range pl.Params {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// GetAll returns every value with the id in order.
func (pl *ParameterList) GetAll(id ParameterID) [][]byte {
	var out [][]byte
	for _, p := range pl.Params {
		if p.ID == id {
			out = append(out, p.Value)
		}
	}
	return out
}

// Has reports whether the id is present.
func (pl *ParameterList) Has(id ParameterID) bool {
	_, ok := pl.Get(id)
	return ok
}

// Len returns the number of parameters.
func (pl *ParameterList) Len() int {
	if pl == nil {
		return 0
	}
	return len(pl.Params)
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

// EncodedSize returns the number of bytes Encode produces.
func (pl *ParameterList) EncodedSize() int {
	n := 4
	for _, p := range pl.Params {
		n += 4 + pad4(len(p.Value))
	}
	return n
}

// Encode serializes the list in the given byte order, terminated by
// PID_SENTINEL.
func (pl *ParameterList) Encode(order ByteOrder) []byte {
	out := make([]byte, 0, pl.EncodedSize())
	for _, p := range pl.Params {
		size := pad4(len(p.Value))
		out = order.AppendUint16(out, uint16(p.ID))
		out = order.AppendUint16(out, uint16(size))
		out = append(out, p.Value...)
		for i := len(p.Value); i < size; i++ {
			out = append(out, 0)
		}
	}
	out = order.AppendUint16(out, uint16(PIDSentinel))
	out = order.AppendUint16(out, 0)
	return out
}

// DecodeParameterList parses a list and returns the bytes it consumed.
// PID_PAD entries are skipped.
func DecodeParameterList(b []byte, order ByteOrder) (*ParameterList, int, error) {
	pl := &ParameterList{Order: order}
	off := 0
	for {
		if len(b)-off < 4 {
			return nil, 0, errors.Fail(errors.RetcodeBadParameter, "rtps", "DecodeParameterList", "missing sentinel")
		}
		id := ParameterID(order.Uint16(b[off:]))
		size := int(order.Uint16(b[off+2:]))
		off += 4
		if id == PIDSentinel {
			return pl, off, nil
		}
		if size > len(b)-off {
			return nil, 0, errors.Failf(errors.RetcodeBadParameter, "rtps", "DecodeParameterList",
				"parameter 0x%04x length %d exceeds buffer", uint16(id), size)
		}
		if id != PIDPad {
			v := make([]byte, size)
			copy(v, b[off:off+size])
			pl.Params = append(pl.Params, Parameter{ID: id, Value: v})
		}
		off += size
	}
}

// AddUint32 appends a 4-byte unsigned value.
func (pl *ParameterList) AddUint32(id ParameterID, v uint32) {
	pl.Add(id, pl.order().AppendUint32(nil, v))
}

// AddInt32 appends a 4-byte signed value.
func (pl *ParameterList) AddInt32(id ParameterID, v int32) {
	pl.AddUint32(id, uint32(v))
}

// AddBool appends a boolean as one octet.
func (pl *ParameterList) AddBool(id ParameterID, v bool) {
	if v {
		pl.Add(id, []byte{1})
		return
	}
	pl.Add(id, []byte{0})
}

func appendString(b []byte, order ByteOrder, s string) []byte {
	b = order.AppendUint32(b, uint32(len(s)+1))
	b = append(b, s...)
	b = append(b, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func readString(b []byte, order ByteOrder) (string, int, bool) {
	if len(b) < 4 {
		return "", 0, false
	}
	n := int(order.Uint32(b))
	if n < 0 || n > len(b)-4 {
		return "", 0, false
	}
	s := b[4 : 4+n]
	if n > 0 && s[n-1] == 0 {
		s = s[:n-1]
	}
	return string(s), pad4(4 + n), true
}

// AddString appends a CDR string.
func (pl *ParameterList) AddString(id ParameterID, s string) {
	pl.Add(id, appendString(nil, pl.order(), s))
}

// AddStrings appends a sequence of strings, as used by PID_PARTITION.
func (pl *ParameterList) AddStrings(id ParameterID, ss []string) {
	order := pl.order()
	b := order.AppendUint32(nil, uint32(len(ss)))
	for _, s := range ss {
		b = appendString(b, order, s)
	}
	pl.Add(id, b)
}

// AddBytes appends a sequence of octets.
func (pl *ParameterList) AddBytes(id ParameterID, v []byte) {
	b := pl.order().AppendUint32(nil, uint32(len(v)))
	pl.Add(id, append(b, v...))
}

// AddGUID appends a 16-byte GUID.
func (pl *ParameterList) AddGUID(id ParameterID, g GUID) {
	b := g.Bytes()
	pl.Add(id, b[:])
}

// AddLocator appends a 24-byte locator.
func (pl *ParameterList) AddLocator(id ParameterID, l Locator) {
	order := pl.order()
	b := order.AppendUint32(nil, uint32(l.Kind))
	b = order.AppendUint32(b, l.Port)
	pl.Add(id, append(b, l.Address[:]...))
}

// AddDuration appends an RTPS duration converted from d.
func (pl *ParameterList) AddDuration(id ParameterID, d time.Duration) {
	rd := FromDuration(d)
	order := pl.order()
	b := order.AppendUint32(nil, uint32(rd.Seconds))
	pl.Add(id, order.AppendUint32(b, rd.Fraction))
}

// AddSequenceNumber appends a sequence number.
func (pl *ParameterList) AddSequenceNumber(id ParameterID, sn SequenceNumber) {
	b := make([]byte, 8)
	putSequenceNumber(b, pl.order(), sn)
	pl.Add(id, b)
}

// AddKeyHash appends PID_KEY_HASH.
func (pl *ParameterList) AddKeyHash(kh KeyHash) {
	pl.Add(PIDKeyHash, append([]byte(nil), kh[:]...))
}

// AddStatusInfo appends PID_STATUS_INFO. The flags are always big-endian in
// the final octet.
func (pl *ParameterList) AddStatusInfo(flags uint32) {
	pl.Add(PIDStatusInfo, binary.BigEndian.AppendUint32(nil, flags))
}

func (pl *ParameterList) fail(id ParameterID, what string) error {
	return errors.Failf(errors.RetcodeBadParameter, "rtps", "ParameterList",
		"parameter 0x%04x: %s", uint16(id), what)
}

// Uint32 reads a 4-byte value.
func (pl *ParameterList) Uint32(id ParameterID) (uint32, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return 0, false, nil
	}
	if len(v) < 4 {
		return 0, true, pl.fail(id, "short uint32")
	}
	return pl.order().Uint32(v), true, nil
}

// Int32 reads a signed 4-byte value.
func (pl *ParameterList) Int32(id ParameterID) (int32, bool, error) {
	v, ok, err := pl.Uint32(id)
	return int32(v), ok, err
}

// Bool reads a one-octet boolean.
func (pl *ParameterList) Bool(id ParameterID) (bool, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return false, false, nil
	}
	if len(v) < 1 {
		return false, true, pl.fail(id, "short bool")
	}
	return v[0] != 0, true, nil
}

// String reads a CDR string.
func (pl *ParameterList) String(id ParameterID) (string, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return "", false, nil
	}
	s, _, good := readString(v, pl.order())
	if !good {
		return "", true, pl.fail(id, "malformed string")
	}
	return s, true, nil
}

// Strings reads a sequence of strings.
func (pl *ParameterList) Strings(id ParameterID) ([]string, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return nil, false, nil
	}
	order := pl.order()
	if len(v) < 4 {
		return nil, true, pl.fail(id, "short string sequence")
	}
	n := int(order.Uint32(v))
	if n > len(v)/4 {
		return nil, true, pl.fail(id, "string sequence count exceeds value")
	}
	out := make([]string, 0, n)
	off := 4
	for i := 0; i < n; i++ {
		s, used, good := readString(v[off:], order)
		if !good {
			return nil, true, pl.fail(id, "malformed string sequence")
		}
		out = append(out, s)
		off += used
		if off > len(v) {
			off = len(v)
		}
	}
	return out, true, nil
}

// Bytes reads a sequence of octets.
func (pl *ParameterList) Bytes(id ParameterID) ([]byte, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return nil, false, nil
	}
	if len(v) < 4 {
		return nil, true, pl.fail(id, "short octet sequence")
	}
	n := int(pl.order().Uint32(v))
	if n > len(v)-4 {
		return nil, true, pl.fail(id, "octet sequence length exceeds value")
	}
	return append([]byte(nil), v[4:4+n]...), true, nil
}

// GUID reads a 16-byte GUID.
func (pl *ParameterList) GUID(id ParameterID) (GUID, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return GUIDUnknown, false, nil
	}
	if len(v) < 16 {
		return GUIDUnknown, true, pl.fail(id, "short guid")
	}
	var b [16]byte
	copy(b[:], v)
	return GUIDFromBytes(b), true, nil
}

func (pl *ParameterList) decodeLocator(id ParameterID, v []byte) (Locator, error) {
	if len(v) < 24 {
		return LocatorInvalid, pl.fail(id, "short locator")
	}
	order := pl.order()
	l := Locator{Kind: int32(order.Uint32(v)), Port: order.Uint32(v[4:])}
	copy(l.Address[:], v[8:24])
	return l, nil
}

// Locators reads every locator with the id.
func (pl *ParameterList) Locators(id ParameterID) ([]Locator, error) {
	var out []Locator
	for _, v := range pl.GetAll(id) {
		l, err := pl.decodeLocator(id, v)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// AddLocators appends one parameter per locator.
func (pl *ParameterList) AddLocators(id ParameterID, ls []Locator) {
	for _, l := range ls {
		pl.AddLocator(id, l)
	}
}

// Duration reads an RTPS duration.
func (pl *ParameterList) Duration(id ParameterID) (time.Duration, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return 0, false, nil
	}
	if len(v) < 8 {
		return 0, true, pl.fail(id, "short duration")
	}
	order := pl.order()
	d := Duration{Seconds: int32(order.Uint32(v)), Fraction: order.Uint32(v[4:])}
	return d.ToDuration(), true, nil
}

// SequenceNumber reads a sequence number.
func (pl *ParameterList) SequenceNumber(id ParameterID) (SequenceNumber, bool, error) {
	v, ok := pl.Get(id)
	if !ok {
		return 0, false, nil
	}
	if len(v) < 8 {
		return 0, true, pl.fail(id, "short sequence number")
	}
	return readSequenceNumber(v, pl.order()), true, nil
}

// KeyHash reads PID_KEY_HASH.
func (pl *ParameterList) KeyHash() (KeyHash, bool) {
	var kh KeyHash
	v, ok := pl.Get(PIDKeyHash)
	if !ok || len(v) < len(kh) {
		return kh, false
	}
	copy(kh[:], v)
	return kh, true
}

// StatusInfo reads PID_STATUS_INFO flags; absence means zero.
func (pl *ParameterList) StatusInfo() uint32 {
	v, ok := pl.Get(PIDStatusInfo)
	if !ok || len(v) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}
