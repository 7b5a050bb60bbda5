// Package rtps implements the RTPS wire model used by semdds: GUIDs,
// sequence numbers, time, locators, parameter lists and the DATA,
// HEARTBEAT, ACKNACK, GAP and INFO submessages.
package rtps

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/semdds/errors"
)

// VendorID identifies the RTPS implementation.
type VendorID [2]byte

// VendorSemDDS is the vendor id this implementation announces.
var VendorSemDDS = VendorID{0x01, 0x7e}

// ProtocolVersion is the RTPS protocol version.
type ProtocolVersion struct {
	Major, Minor byte
}

// Version23 is the protocol version this implementation speaks.
var Version23 = ProtocolVersion{2, 3}

// GUIDPrefix identifies a participant.
type GUIDPrefix [12]byte

// GUIDPrefixUnknown is the zero prefix.
var GUIDPrefixUnknown GUIDPrefix

// NewGUIDPrefix builds a prefix whose first two bytes are the vendor id and
// whose remaining ten bytes come from a random UUID.
func NewGUIDPrefix(vendor VendorID) GUIDPrefix {
	var p GUIDPrefix
	id := uuid.New()
	p[0], p[1] = vendor[0], vendor[1]
	copy(p[2:], id[:10])
	return p
}

// String returns the prefix as hex.
func (p GUIDPrefix) String() string {
	return hex.EncodeToString(p[:])
}

// IsUnknown reports whether p is the zero prefix.
func (p GUIDPrefix) IsUnknown() bool {
	return p == GUIDPrefixUnknown
}

// ParseGUIDPrefix parses the hex form produced by String.
func ParseGUIDPrefix(s string) (GUIDPrefix, error) {
	var p GUIDPrefix
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(p) {
		return p, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseGUIDPrefix", "invalid prefix %q", s)
	}
	copy(p[:], b)
	return p, nil
}

// EntityKind is the low byte of an EntityID.
type EntityKind byte

// Entity kinds.
const (
	KindUnknown              EntityKind = 0x00
	KindParticipant          EntityKind = 0xc1
	KindWriterWithKey        EntityKind = 0x02
	KindWriterNoKey          EntityKind = 0x03
	KindReaderNoKey          EntityKind = 0x04
	KindReaderWithKey        EntityKind = 0x07
	KindWriterGroup          EntityKind = 0x08
	KindReaderGroup          EntityKind = 0x09
	KindTopic                EntityKind = 0x0a
	KindBuiltinWriterWithKey EntityKind = 0xc2
	KindBuiltinWriterNoKey   EntityKind = 0xc3
	KindBuiltinReaderNoKey   EntityKind = 0xc4
	KindBuiltinReaderWithKey EntityKind = 0xc7
)

// IsWriter reports whether the kind denotes a writer.
func (k EntityKind) IsWriter() bool {
	switch k {
	case KindWriterWithKey, KindWriterNoKey, KindBuiltinWriterWithKey, KindBuiltinWriterNoKey:
		return true
	}
	return false
}

// IsReader reports whether the kind denotes a reader.
func (k EntityKind) IsReader() bool {
	switch k {
	case KindReaderWithKey, KindReaderNoKey, KindBuiltinReaderWithKey, KindBuiltinReaderNoKey:
		return true
	}
	return false
}

// IsBuiltin reports whether the kind is in the built-in range.
func (k EntityKind) IsBuiltin() bool {
	return k&0xc0 == 0xc0
}

// EntityID identifies an entity within a participant.
type EntityID struct {
	Key  [3]byte
	Kind EntityKind
}

// Built-in entity ids.
var (
	EntityIDUnknown     = EntityID{}
	EntityIDParticipant = EntityID{[3]byte{0, 0, 1}, KindParticipant}

	EntityIDSEDPTopicWriter         = EntityID{[3]byte{0, 0, 2}, KindBuiltinWriterWithKey}
	EntityIDSEDPTopicReader         = EntityID{[3]byte{0, 0, 2}, KindBuiltinReaderWithKey}
	EntityIDSEDPPublicationsWriter  = EntityID{[3]byte{0, 0, 3}, KindBuiltinWriterWithKey}
	EntityIDSEDPPublicationsReader  = EntityID{[3]byte{0, 0, 3}, KindBuiltinReaderWithKey}
	EntityIDSEDPSubscriptionsWriter = EntityID{[3]byte{0, 0, 4}, KindBuiltinWriterWithKey}
	EntityIDSEDPSubscriptionsReader = EntityID{[3]byte{0, 0, 4}, KindBuiltinReaderWithKey}

	EntityIDSPDPWriter = EntityID{[3]byte{0, 1, 0}, KindBuiltinWriterWithKey}
	EntityIDSPDPReader = EntityID{[3]byte{0, 1, 0}, KindBuiltinReaderWithKey}

	EntityIDParticipantMessageWriter = EntityID{[3]byte{0, 2, 0}, KindBuiltinWriterWithKey}
	EntityIDParticipantMessageReader = EntityID{[3]byte{0, 2, 0}, KindBuiltinReaderWithKey}
)

// NewEntityID builds a user entity id from a 24-bit counter.
func NewEntityID(counter uint32, kind EntityKind) EntityID {
	return EntityID{
		Key:  [3]byte{byte(counter >> 16), byte(counter >> 8), byte(counter)},
		Kind: kind,
	}
}

// String returns the id as hex.
func (e EntityID) String() string {
	return fmt.Sprintf("%02x%02x%02x.%02x", e.Key[0], e.Key[1], e.Key[2], byte(e.Kind))
}

// GUID globally identifies an entity.
type GUID struct {
	Prefix GUIDPrefix
	Entity EntityID
}

// GUIDUnknown is the zero GUID.
var GUIDUnknown GUID

// String returns "prefix|entity" in hex.
func (g GUID) String() string {
	return g.Prefix.String() + "|" + g.Entity.String()
}

// ParseGUID parses the form produced by String.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	prefix, entity, ok := strings.Cut(s, "|")
	if !ok {
		return g, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseGUID", "invalid guid %q", s)
	}
	p, err := ParseGUIDPrefix(prefix)
	if err != nil {
		return g, err
	}
	b, err := hex.DecodeString(strings.Replace(entity, ".", "", 1))
	if err != nil || len(b) != 4 {
		return g, errors.Failf(errors.RetcodeBadParameter, "rtps", "ParseGUID", "invalid entity id %q", entity)
	}
	g.Prefix = p
	copy(g.Entity.Key[:], b[:3])
	g.Entity.Kind = EntityKind(b[3])
	return g, nil
}

// Bytes returns the 16-byte wire form.
func (g GUID) Bytes() [16]byte {
	var b [16]byte
	copy(b[:12], g.Prefix[:])
	copy(b[12:15], g.Entity.Key[:])
	b[15] = byte(g.Entity.Kind)
	return b
}

// GUIDFromBytes is the inverse of Bytes.
func GUIDFromBytes(b [16]byte) GUID {
	var g GUID
	copy(g.Prefix[:], b[:12])
	copy(g.Entity.Key[:], b[12:15])
	g.Entity.Kind = EntityKind(b[15])
	return g
}

// MarshalText encodes the prefix as hex.
func (p GUIDPrefix) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the hex form.
func (p *GUIDPrefix) UnmarshalText(b []byte) error {
	v, err := ParseGUIDPrefix(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText encodes the GUID in its String form.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText parses the String form.
func (g *GUID) UnmarshalText(b []byte) error {
	v, err := ParseGUID(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}
