package rtps

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/c360/semdds/errors"
)

// ByteOrder reads and appends integers in one endianness. binary.LittleEndian
// and binary.BigEndian satisfy it.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// SequenceNumber orders the changes of one writer. Valid numbers start at 1.
type SequenceNumber int64

// Sequence number sentinels.
const (
	SequenceNumberUnknown SequenceNumber = -1 << 32
	SequenceNumberZero    SequenceNumber = 0
)

func putSequenceNumber(b []byte, order ByteOrder, sn SequenceNumber) {
	order.PutUint32(b[0:4], uint32(int32(int64(sn)>>32)))
	order.PutUint32(b[4:8], uint32(sn))
}

func readSequenceNumber(b []byte, order ByteOrder) SequenceNumber {
	high := int32(order.Uint32(b[0:4]))
	low := order.Uint32(b[4:8])
	return SequenceNumber(int64(high)<<32 | int64(low))
}

// MaxSetBits bounds a SequenceNumberSet.
const MaxSetBits = 256

// SequenceNumberSet is a bitmap of sequence numbers starting at Base.
type SequenceNumberSet struct {
	Base    SequenceNumber
	NumBits uint32
	Bitmap  []uint32
}

// NewSequenceNumberSet creates an empty set covering [base, base+numBits).
func NewSequenceNumberSet(base SequenceNumber, numBits uint32) SequenceNumberSet {
	if numBits > MaxSetBits {
		numBits = MaxSetBits
	}
	return SequenceNumberSet{
		Base:    base,
		NumBits: numBits,
		Bitmap:  make([]uint32, (numBits+31)/32),
	}
}

// Add sets the bit for sn. It reports false when sn is outside the range.
func (s *SequenceNumberSet) Add(sn SequenceNumber) bool {
	if sn < s.Base || sn >= s.Base+SequenceNumber(s.NumBits) {
		return false
	}
	off := uint32(sn - s.Base)
	s.Bitmap[off/32] |= 1 << (31 - off%32)
	return true
}

// Contains reports whether sn is set.
func (s SequenceNumberSet) Contains(sn SequenceNumber) bool {
	if sn < s.Base || sn >= s.Base+SequenceNumber(s.NumBits) {
		return false
	}
	off := uint32(sn - s.Base)
	if int(off/32) >= len(s.Bitmap) {
		return false
	}
	return s.Bitmap[off/32]&(1<<(31-off%32)) != 0
}

// Missing lists the set members in ascending order. In an ACKNACK these are
// the numbers the reader still needs.
func (s SequenceNumberSet) Missing() []SequenceNumber {
	var out []SequenceNumber
	for i := uint32(0); i < s.NumBits; i++ {
		sn := s.Base + SequenceNumber(i)
		if s.Contains(sn) {
			out = append(out, sn)
		}
	}
	return out
}

// Empty reports whether no bit is set.
func (s SequenceNumberSet) Empty() bool {
	for _, w := range s.Bitmap {
		if w != 0 {
			return false
		}
	}
	return true
}

// Time is an RTPS timestamp in NTP form.
type Time struct {
	Seconds  int32
	Fraction uint32
}

// Time sentinels.
var (
	TimeZero     = Time{}
	TimeInvalid  = Time{Seconds: -1, Fraction: 0xffffffff}
	TimeInfinite = Time{Seconds: 0x7fffffff, Fraction: 0xffffffff}
)

// FromTime converts a wall clock time.
func FromTime(t time.Time) Time {
	nanos := t.UnixNano()
	sec := nanos / int64(time.Second)
	rem := nanos % int64(time.Second)
	return Time{
		Seconds:  int32(sec),
		Fraction: nanosToFraction(uint64(rem)),
	}
}

// nanosToFraction rounds up so the conversion back to nanoseconds, which
// rounds down, is exact.
func nanosToFraction(nanos uint64) uint32 {
	return uint32(((nanos << 32) + uint64(time.Second) - 1) / uint64(time.Second))
}

// ToTime converts back to a wall clock time.
func (t Time) ToTime() time.Time {
	nanos := (uint64(t.Fraction) * uint64(time.Second)) >> 32
	return time.Unix(int64(t.Seconds), int64(nanos))
}

// IsValid reports whether t is not TimeInvalid.
func (t Time) IsValid() bool {
	return t != TimeInvalid
}

// Duration is an RTPS duration in NTP form.
type Duration struct {
	Seconds  int32
	Fraction uint32
}

// DurationInfinite encodes an unbounded duration.
var DurationInfinite = Duration{Seconds: 0x7fffffff, Fraction: 0xffffffff}

// FromDuration converts d. Values at or beyond the wire range, including
// math.MaxInt64, become DurationInfinite.
func FromDuration(d time.Duration) Duration {
	if d == math.MaxInt64 || d/time.Second >= math.MaxInt32 {
		return DurationInfinite
	}
	if d < 0 {
		d = 0
	}
	sec := d / time.Second
	rem := d % time.Second
	return Duration{
		Seconds:  int32(sec),
		Fraction: nanosToFraction(uint64(rem)),
	}
}

// ToDuration is the inverse of FromDuration.
func (d Duration) ToDuration() time.Duration {
	if d == DurationInfinite {
		return math.MaxInt64
	}
	nanos := (uint64(d.Fraction) * uint64(time.Second)) >> 32
	return time.Duration(d.Seconds)*time.Second + time.Duration(nanos)
}

// Locator kinds. Kinds at or above 0x8000 are vendor specific and carry
// the participant prefix in the address.
const (
	LocatorKindInvalid int32 = -1
	LocatorKindUDPv4   int32 = 1
	LocatorKindUDPv6   int32 = 2
	LocatorKindInproc  int32 = 0x8001
	LocatorKindNATS    int32 = 0x8002
)

// LocatorPortInvalid marks an unused port.
const LocatorPortInvalid uint32 = 0

// Locator addresses an endpoint on a transport.
type Locator struct {
	Kind    int32
	Port    uint32
	Address [16]byte
}

// LocatorInvalid is returned when no locator applies.
var LocatorInvalid = Locator{Kind: LocatorKindInvalid}

// NewUDPv4Locator builds a UDPv4 locator; the IPv4 address occupies the
// last four bytes.
func NewUDPv4Locator(ip net.IP, port int) Locator {
	l := Locator{Kind: LocatorKindUDPv4, Port: uint32(port)}
	if v4 := ip.To4(); v4 != nil {
		copy(l.Address[12:], v4)
	}
	return l
}

// NewPrefixLocator builds a vendor locator that addresses a participant by
// prefix.
func NewPrefixLocator(kind int32, prefix GUIDPrefix) Locator {
	l := Locator{Kind: kind}
	copy(l.Address[:12], prefix[:])
	return l
}

// Prefix returns the participant prefix held by a vendor locator.
func (l Locator) Prefix() GUIDPrefix {
	var p GUIDPrefix
	copy(p[:], l.Address[:12])
	return p
}

// IP returns the address of a UDP locator.
func (l Locator) IP() net.IP {
	switch l.Kind {
	case LocatorKindUDPv4:
		return net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
	case LocatorKindUDPv6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, l.Address[:])
		return ip
	}
	return nil
}

// UDPAddr returns the locator as a UDP address, or nil for other kinds.
func (l Locator) UDPAddr() *net.UDPAddr {
	ip := l.IP()
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: int(l.Port)}
}

// String formats the locator as scheme://address:port.
func (l Locator) String() string {
	switch l.Kind {
	case LocatorKindUDPv4:
		return fmt.Sprintf("udpv4://%s:%d", l.IP(), l.Port)
	case LocatorKindUDPv6:
		return fmt.Sprintf("udpv6://[%s]:%d", l.IP(), l.Port)
	case LocatorKindInproc:
		return "inproc://" + l.Prefix().String()
	case LocatorKindNATS:
		return "nats://" + l.Prefix().String()
	}
	return fmt.Sprintf("locator(%d)", l.Kind)
}

// ParseLocator parses the form produced by String.
func ParseLocator(s string) (Locator, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return LocatorInvalid, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseLocator", "invalid locator %q", s)
	}
	switch scheme {
	case "inproc", "nats":
		p, err := ParseGUIDPrefix(rest)
		if err != nil {
			return LocatorInvalid, err
		}
		kind := LocatorKindInproc
		if scheme == "nats" {
			kind = LocatorKindNATS
		}
		return NewPrefixLocator(kind, p), nil
	case "udpv4", "udpv6":
		addr, err := net.ResolveUDPAddr("udp", rest)
		if err != nil || addr.IP == nil {
			return LocatorInvalid, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseLocator", "invalid address %q", rest)
		}
		if scheme == "udpv4" {
			return NewUDPv4Locator(addr.IP, addr.Port), nil
		}
		l := Locator{Kind: LocatorKindUDPv6, Port: uint32(addr.Port)}
		copy(l.Address[:], addr.IP.To16())
		return l, nil
	}
	return LocatorInvalid, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseLocator", "unknown scheme %q", scheme)
}

// MarshalText encodes the locator in its String form.
func (l Locator) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses the String form.
func (l *Locator) UnmarshalText(b []byte) error {
	v, err := ParseLocator(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// KeyHash identifies an instance on the wire.
type KeyHash [16]byte

// KeyHashNil is the hash of keyless topics.
var KeyHashNil KeyHash

// ComputeKeyHash derives the key hash from the serialized key. Keys of up to
// 16 bytes are zero padded; longer keys are hashed with MD5.
func ComputeKeyHash(key []byte) KeyHash {
	var kh KeyHash
	if len(key) <= len(kh) {
		copy(kh[:], key)
		return kh
	}
	return md5.Sum(key)
}

// String returns the hash as hex.
func (k KeyHash) String() string {
	return fmt.Sprintf("%x", k[:])
}

// ParseKeyHash parses the hex form produced by String.
func ParseKeyHash(s string) (KeyHash, error) {
	var k KeyHash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseKeyHash", "invalid key hash %q", s)
	}
	copy(k[:], b)
	return k, nil
}

// MarshalText encodes the hash as hex.
func (k KeyHash) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the hex form.
func (k *KeyHash) UnmarshalText(b []byte) error {
	v, err := ParseKeyHash(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Port mapping parameters.
const (
	PortBase         = 7400
	DomainGain       = 250
	ParticipantGain  = 2
	offsetSPDPMcast  = 0
	offsetUserMcast  = 1
	offsetSPDPUcast  = 10
	offsetUserUcast  = 11
	DefaultMulticast = "239.255.0.1"
)

// SPDPMulticastPort is the discovery multicast port of a domain.
func SPDPMulticastPort(domain int) int {
	return PortBase + DomainGain*domain + offsetSPDPMcast
}

// UserMulticastPort is the user traffic multicast port of a domain.
func UserMulticastPort(domain int) int {
	return PortBase + DomainGain*domain + offsetUserMcast
}

// SPDPUnicastPort is the discovery unicast port of a participant.
func SPDPUnicastPort(domain, participantID int) int {
	return PortBase + DomainGain*domain + offsetSPDPUcast + ParticipantGain*participantID
}

// UserUnicastPort is the user traffic unicast port of a participant.
func UserUnicastPort(domain, participantID int) int {
	return PortBase + DomainGain*domain + offsetUserUcast + ParticipantGain*participantID
}
