package qos

import (
	"fmt"
	"strings"
)

// PolicyID identifies a QoS policy in incompatibility reports.
type PolicyID int32

// Policy ids, numbered as in the DDS standard.
const (
	InvalidPolicyID PolicyID = iota
	UserDataPolicyID
	DurabilityPolicyID
	PresentationPolicyID
	DeadlinePolicyID
	LatencyBudgetPolicyID
	OwnershipPolicyID
	OwnershipStrengthPolicyID
	LivelinessPolicyID
	TimeBasedFilterPolicyID
	PartitionPolicyID
	ReliabilityPolicyID
	DestinationOrderPolicyID
	HistoryPolicyID
	ResourceLimitsPolicyID
	EntityFactoryPolicyID
	WriterDataLifecyclePolicyID
	ReaderDataLifecyclePolicyID
	TopicDataPolicyID
	GroupDataPolicyID
	TransportPriorityPolicyID
	LifespanPolicyID
	DurabilityServicePolicyID
)

var policyNames = map[PolicyID]string{
	InvalidPolicyID:             "INVALID",
	UserDataPolicyID:            "USER_DATA",
	DurabilityPolicyID:          "DURABILITY",
	PresentationPolicyID:        "PRESENTATION",
	DeadlinePolicyID:            "DEADLINE",
	LatencyBudgetPolicyID:       "LATENCY_BUDGET",
	OwnershipPolicyID:           "OWNERSHIP",
	OwnershipStrengthPolicyID:   "OWNERSHIP_STRENGTH",
	LivelinessPolicyID:          "LIVELINESS",
	TimeBasedFilterPolicyID:     "TIME_BASED_FILTER",
	PartitionPolicyID:           "PARTITION",
	ReliabilityPolicyID:         "RELIABILITY",
	DestinationOrderPolicyID:    "DESTINATION_ORDER",
	HistoryPolicyID:             "HISTORY",
	ResourceLimitsPolicyID:      "RESOURCE_LIMITS",
	EntityFactoryPolicyID:       "ENTITY_FACTORY",
	WriterDataLifecyclePolicyID: "WRITER_DATA_LIFECYCLE",
	ReaderDataLifecyclePolicyID: "READER_DATA_LIFECYCLE",
	TopicDataPolicyID:           "TOPIC_DATA",
	GroupDataPolicyID:           "GROUP_DATA",
	TransportPriorityPolicyID:   "TRANSPORT_PRIORITY",
	LifespanPolicyID:            "LIFESPAN",
	DurabilityServicePolicyID:   "DURABILITY_SERVICE",
}

func (p PolicyID) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("POLICY(%d)", int32(p))
}

// enumText maps kind values to their lower_snake names for YAML and logs.
type enumText[K ~int32] struct {
	typ   string
	names []string
}

func (e enumText[K]) name(k K) string {
	if int(k) >= 0 && int(k) < len(e.names) {
		return e.names[k]
	}
	return fmt.Sprintf("%s(%d)", e.typ, int32(k))
}

func (e enumText[K]) parse(text []byte, out *K) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range e.names {
		if n == s {
			*out = K(i)
			return nil
		}
	}
	return fmt.Errorf("unknown %s %q", e.typ, s)
}

// DurabilityKind orders how long samples outlive their writer.
type DurabilityKind int32

const (
	VolatileDurability DurabilityKind = iota
	TransientLocalDurability
	TransientDurability
	PersistentDurability
)

var durabilityText = enumText[DurabilityKind]{"durability", []string{"volatile", "transient_local", "transient", "persistent"}}

func (k DurabilityKind) String() string                { return durabilityText.name(k) }
func (k DurabilityKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *DurabilityKind) UnmarshalText(b []byte) error { return durabilityText.parse(b, k) }

// PresentationAccessScope is the scope of coherent and ordered access.
type PresentationAccessScope int32

const (
	InstancePresentation PresentationAccessScope = iota
	TopicPresentation
	GroupPresentation
)

var scopeText = enumText[PresentationAccessScope]{"access scope", []string{"instance", "topic", "group"}}

func (k PresentationAccessScope) String() string                { return scopeText.name(k) }
func (k PresentationAccessScope) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *PresentationAccessScope) UnmarshalText(b []byte) error { return scopeText.parse(b, k) }

// OwnershipKind selects shared or exclusive instance ownership.
type OwnershipKind int32

const (
	SharedOwnership OwnershipKind = iota
	ExclusiveOwnership
)

var ownershipText = enumText[OwnershipKind]{"ownership", []string{"shared", "exclusive"}}

func (k OwnershipKind) String() string                { return ownershipText.name(k) }
func (k OwnershipKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *OwnershipKind) UnmarshalText(b []byte) error { return ownershipText.parse(b, k) }

// LivelinessKind orders how liveliness is asserted.
type LivelinessKind int32

const (
	AutomaticLiveliness LivelinessKind = iota
	ManualByParticipantLiveliness
	ManualByTopicLiveliness
)

var livelinessText = enumText[LivelinessKind]{"liveliness", []string{"automatic", "manual_by_participant", "manual_by_topic"}}

func (k LivelinessKind) String() string                { return livelinessText.name(k) }
func (k LivelinessKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *LivelinessKind) UnmarshalText(b []byte) error { return livelinessText.parse(b, k) }

// ReliabilityKind orders delivery guarantees.
type ReliabilityKind int32

const (
	BestEffortReliability ReliabilityKind = iota
	ReliableReliability
)

var reliabilityText = enumText[ReliabilityKind]{"reliability", []string{"best_effort", "reliable"}}

func (k ReliabilityKind) String() string                { return reliabilityText.name(k) }
func (k ReliabilityKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *ReliabilityKind) UnmarshalText(b []byte) error { return reliabilityText.parse(b, k) }

// DestinationOrderKind selects which timestamp orders an instance's changes.
type DestinationOrderKind int32

const (
	ByReceptionTimestampDestinationOrder DestinationOrderKind = iota
	BySourceTimestampDestinationOrder
)

var orderText = enumText[DestinationOrderKind]{"destination order", []string{"by_reception_timestamp", "by_source_timestamp"}}

func (k DestinationOrderKind) String() string                { return orderText.name(k) }
func (k DestinationOrderKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *DestinationOrderKind) UnmarshalText(b []byte) error { return orderText.parse(b, k) }

// HistoryKind selects bounded or unbounded history.
type HistoryKind int32

const (
	KeepLastHistory HistoryKind = iota
	KeepAllHistory
)

var historyText = enumText[HistoryKind]{"history", []string{"keep_last", "keep_all"}}

func (k HistoryKind) String() string                { return historyText.name(k) }
func (k HistoryKind) MarshalText() ([]byte, error)  { return []byte(k.String()), nil }
func (k *HistoryKind) UnmarshalText(b []byte) error { return historyText.parse(b, k) }
