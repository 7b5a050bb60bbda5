// Package qos defines the DDS QoS policies, the per-entity QoS bundles and
// their defaults, plus the consistency, immutability and request/offer
// compatibility rules applied when entities are created, updated and
// matched. Named profiles can be loaded from YAML.
package qos

import (
	"math"
	"slices"
	"time"
)

// Infinite is the duration used for unbounded periods.
const Infinite time.Duration = math.MaxInt64

// LengthUnlimited marks an unbounded resource limit.
const LengthUnlimited int32 = -1

// UserDataQosPolicy is opaque application data attached to an entity.
type UserDataQosPolicy struct {
	Value []byte `yaml:"value,omitempty" json:"value,omitempty"`
}

// TopicDataQosPolicy is opaque application data attached to a topic.
type TopicDataQosPolicy struct {
	Value []byte `yaml:"value,omitempty" json:"value,omitempty"`
}

// GroupDataQosPolicy is opaque application data attached to a publisher or
// subscriber.
type GroupDataQosPolicy struct {
	Value []byte `yaml:"value,omitempty" json:"value,omitempty"`
}

// DurabilityQosPolicy controls whether late joiners receive earlier data.
type DurabilityQosPolicy struct {
	Kind DurabilityKind `yaml:"kind" json:"kind"`
}

// DurabilityServiceQosPolicy configures the store behind TRANSIENT and
// PERSISTENT durability.
type DurabilityServiceQosPolicy struct {
	ServiceCleanupDelay   time.Duration `yaml:"service_cleanup_delay" json:"service_cleanup_delay"`
	HistoryKind           HistoryKind   `yaml:"history_kind" json:"history_kind"`
	HistoryDepth          int32         `yaml:"history_depth" json:"history_depth"`
	MaxSamples            int32         `yaml:"max_samples" json:"max_samples"`
	MaxInstances          int32         `yaml:"max_instances" json:"max_instances"`
	MaxSamplesPerInstance int32         `yaml:"max_samples_per_instance" json:"max_samples_per_instance"`
}

// PresentationQosPolicy controls coherent and ordered access.
type PresentationQosPolicy struct {
	AccessScope    PresentationAccessScope `yaml:"access_scope" json:"access_scope"`
	CoherentAccess bool                    `yaml:"coherent_access" json:"coherent_access"`
	OrderedAccess  bool                    `yaml:"ordered_access" json:"ordered_access"`
}

// DeadlineQosPolicy is the maximum period between instance updates.
type DeadlineQosPolicy struct {
	Period time.Duration `yaml:"period" json:"period"`
}

// LatencyBudgetQosPolicy is a delivery latency hint.
type LatencyBudgetQosPolicy struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
}

// OwnershipQosPolicy selects whether several writers may update an instance.
type OwnershipQosPolicy struct {
	Kind OwnershipKind `yaml:"kind" json:"kind"`
}

// OwnershipStrengthQosPolicy ranks writers under exclusive ownership.
type OwnershipStrengthQosPolicy struct {
	Value int32 `yaml:"value" json:"value"`
}

// LivelinessQosPolicy defines how a writer shows it is alive.
type LivelinessQosPolicy struct {
	Kind          LivelinessKind `yaml:"kind" json:"kind"`
	LeaseDuration time.Duration  `yaml:"lease_duration" json:"lease_duration"`
}

// TimeBasedFilterQosPolicy limits how often a reader wants updates.
type TimeBasedFilterQosPolicy struct {
	MinimumSeparation time.Duration `yaml:"minimum_separation" json:"minimum_separation"`
}

// PartitionQosPolicy is a list of logical partition names or patterns.
type PartitionQosPolicy struct {
	Name []string `yaml:"name,omitempty" json:"name,omitempty"`
}

// ReliabilityQosPolicy selects best effort or reliable delivery.
type ReliabilityQosPolicy struct {
	Kind            ReliabilityKind `yaml:"kind" json:"kind"`
	MaxBlockingTime time.Duration   `yaml:"max_blocking_time" json:"max_blocking_time"`
}

// TransportPriorityQosPolicy is a transport hint.
type TransportPriorityQosPolicy struct {
	Value int32 `yaml:"value" json:"value"`
}

// LifespanQosPolicy bounds how long a written sample stays valid.
type LifespanQosPolicy struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
}

// DestinationOrderQosPolicy selects the ordering timestamp.
type DestinationOrderQosPolicy struct {
	Kind DestinationOrderKind `yaml:"kind" json:"kind"`
}

// HistoryQosPolicy bounds the samples kept per instance.
type HistoryQosPolicy struct {
	Kind  HistoryKind `yaml:"kind" json:"kind"`
	Depth int32       `yaml:"depth" json:"depth"`
}

// ResourceLimitsQosPolicy bounds memory use. LengthUnlimited disables a bound.
type ResourceLimitsQosPolicy struct {
	MaxSamples            int32 `yaml:"max_samples" json:"max_samples"`
	MaxInstances          int32 `yaml:"max_instances" json:"max_instances"`
	MaxSamplesPerInstance int32 `yaml:"max_samples_per_instance" json:"max_samples_per_instance"`
}

// EntityFactoryQosPolicy controls whether children are enabled on creation.
type EntityFactoryQosPolicy struct {
	AutoenableCreatedEntities bool `yaml:"autoenable_created_entities" json:"autoenable_created_entities"`
}

// WriterDataLifecycleQosPolicy controls dispose on unregister.
type WriterDataLifecycleQosPolicy struct {
	AutodisposeUnregisteredInstances bool `yaml:"autodispose_unregistered_instances" json:"autodispose_unregistered_instances"`
}

// ReaderDataLifecycleQosPolicy sets how long a reader keeps not-alive
// instances.
type ReaderDataLifecycleQosPolicy struct {
	AutopurgeNoWriterSamplesDelay time.Duration `yaml:"autopurge_nowriter_samples_delay" json:"autopurge_nowriter_samples_delay"`
	AutopurgeDisposedSamplesDelay time.Duration `yaml:"autopurge_disposed_samples_delay" json:"autopurge_disposed_samples_delay"`
}

// ParticipantFactoryQos applies to the participant factory.
type ParticipantFactoryQos struct {
	EntityFactory EntityFactoryQosPolicy `yaml:"entity_factory" json:"entity_factory"`
}

// ParticipantQos applies to a domain participant.
type ParticipantQos struct {
	UserData      UserDataQosPolicy      `yaml:"user_data" json:"user_data"`
	EntityFactory EntityFactoryQosPolicy `yaml:"entity_factory" json:"entity_factory"`
}

// TopicQos applies to a topic and seeds writer and reader QoS.
type TopicQos struct {
	TopicData         TopicDataQosPolicy         `yaml:"topic_data" json:"topic_data"`
	Durability        DurabilityQosPolicy        `yaml:"durability" json:"durability"`
	DurabilityService DurabilityServiceQosPolicy `yaml:"durability_service" json:"durability_service"`
	Deadline          DeadlineQosPolicy          `yaml:"deadline" json:"deadline"`
	LatencyBudget     LatencyBudgetQosPolicy     `yaml:"latency_budget" json:"latency_budget"`
	Liveliness        LivelinessQosPolicy        `yaml:"liveliness" json:"liveliness"`
	Reliability       ReliabilityQosPolicy       `yaml:"reliability" json:"reliability"`
	DestinationOrder  DestinationOrderQosPolicy  `yaml:"destination_order" json:"destination_order"`
	History           HistoryQosPolicy           `yaml:"history" json:"history"`
	ResourceLimits    ResourceLimitsQosPolicy    `yaml:"resource_limits" json:"resource_limits"`
	TransportPriority TransportPriorityQosPolicy `yaml:"transport_priority" json:"transport_priority"`
	Lifespan          LifespanQosPolicy          `yaml:"lifespan" json:"lifespan"`
	Ownership         OwnershipQosPolicy         `yaml:"ownership" json:"ownership"`
}

// PublisherQos applies to a publisher.
type PublisherQos struct {
	Presentation  PresentationQosPolicy  `yaml:"presentation" json:"presentation"`
	Partition     PartitionQosPolicy     `yaml:"partition" json:"partition"`
	GroupData     GroupDataQosPolicy     `yaml:"group_data" json:"group_data"`
	EntityFactory EntityFactoryQosPolicy `yaml:"entity_factory" json:"entity_factory"`
}

// SubscriberQos applies to a subscriber.
type SubscriberQos struct {
	Presentation  PresentationQosPolicy  `yaml:"presentation" json:"presentation"`
	Partition     PartitionQosPolicy     `yaml:"partition" json:"partition"`
	GroupData     GroupDataQosPolicy     `yaml:"group_data" json:"group_data"`
	EntityFactory EntityFactoryQosPolicy `yaml:"entity_factory" json:"entity_factory"`
}

// DataWriterQos applies to a data writer.
type DataWriterQos struct {
	Durability          DurabilityQosPolicy          `yaml:"durability" json:"durability"`
	DurabilityService   DurabilityServiceQosPolicy   `yaml:"durability_service" json:"durability_service"`
	Deadline            DeadlineQosPolicy            `yaml:"deadline" json:"deadline"`
	LatencyBudget       LatencyBudgetQosPolicy       `yaml:"latency_budget" json:"latency_budget"`
	Liveliness          LivelinessQosPolicy          `yaml:"liveliness" json:"liveliness"`
	Reliability         ReliabilityQosPolicy         `yaml:"reliability" json:"reliability"`
	DestinationOrder    DestinationOrderQosPolicy    `yaml:"destination_order" json:"destination_order"`
	History             HistoryQosPolicy             `yaml:"history" json:"history"`
	ResourceLimits      ResourceLimitsQosPolicy      `yaml:"resource_limits" json:"resource_limits"`
	TransportPriority   TransportPriorityQosPolicy   `yaml:"transport_priority" json:"transport_priority"`
	Lifespan            LifespanQosPolicy            `yaml:"lifespan" json:"lifespan"`
	UserData            UserDataQosPolicy            `yaml:"user_data" json:"user_data"`
	Ownership           OwnershipQosPolicy           `yaml:"ownership" json:"ownership"`
	OwnershipStrength   OwnershipStrengthQosPolicy   `yaml:"ownership_strength" json:"ownership_strength"`
	WriterDataLifecycle WriterDataLifecycleQosPolicy `yaml:"writer_data_lifecycle" json:"writer_data_lifecycle"`
}

// DataReaderQos applies to a data reader.
type DataReaderQos struct {
	Durability          DurabilityQosPolicy          `yaml:"durability" json:"durability"`
	Deadline            DeadlineQosPolicy            `yaml:"deadline" json:"deadline"`
	LatencyBudget       LatencyBudgetQosPolicy       `yaml:"latency_budget" json:"latency_budget"`
	Liveliness          LivelinessQosPolicy          `yaml:"liveliness" json:"liveliness"`
	Reliability         ReliabilityQosPolicy         `yaml:"reliability" json:"reliability"`
	DestinationOrder    DestinationOrderQosPolicy    `yaml:"destination_order" json:"destination_order"`
	History             HistoryQosPolicy             `yaml:"history" json:"history"`
	ResourceLimits      ResourceLimitsQosPolicy      `yaml:"resource_limits" json:"resource_limits"`
	UserData            UserDataQosPolicy            `yaml:"user_data" json:"user_data"`
	Ownership           OwnershipQosPolicy           `yaml:"ownership" json:"ownership"`
	TimeBasedFilter     TimeBasedFilterQosPolicy     `yaml:"time_based_filter" json:"time_based_filter"`
	ReaderDataLifecycle ReaderDataLifecycleQosPolicy `yaml:"reader_data_lifecycle" json:"reader_data_lifecycle"`
}

// Clone returns a deep copy.
func (q ParticipantQos) Clone() ParticipantQos {
	q.UserData.Value = slices.Clone(q.UserData.Value)
	return q
}

// Clone returns a deep copy.
func (q TopicQos) Clone() TopicQos {
	q.TopicData.Value = slices.Clone(q.TopicData.Value)
	return q
}

// Clone returns a deep copy.
func (q PublisherQos) Clone() PublisherQos {
	q.Partition.Name = slices.Clone(q.Partition.Name)
	q.GroupData.Value = slices.Clone(q.GroupData.Value)
	return q
}

// Clone returns a deep copy.
func (q SubscriberQos) Clone() SubscriberQos {
	q.Partition.Name = slices.Clone(q.Partition.Name)
	q.GroupData.Value = slices.Clone(q.GroupData.Value)
	return q
}

// Clone returns a deep copy.
func (q DataWriterQos) Clone() DataWriterQos {
	q.UserData.Value = slices.Clone(q.UserData.Value)
	return q
}

// Clone returns a deep copy.
func (q DataReaderQos) Clone() DataReaderQos {
	q.UserData.Value = slices.Clone(q.UserData.Value)
	return q
}

// CopyFromTopicQos overwrites the policies a writer shares with its topic.
func (q *DataWriterQos) CopyFromTopicQos(t TopicQos) {
	q.Durability = t.Durability
	q.DurabilityService = t.DurabilityService
	q.Deadline = t.Deadline
	q.LatencyBudget = t.LatencyBudget
	q.Liveliness = t.Liveliness
	q.Reliability = t.Reliability
	q.DestinationOrder = t.DestinationOrder
	q.History = t.History
	q.ResourceLimits = t.ResourceLimits
	q.TransportPriority = t.TransportPriority
	q.Lifespan = t.Lifespan
	q.Ownership = t.Ownership
}

// CopyFromTopicQos overwrites the policies a reader shares with its topic.
func (q *DataReaderQos) CopyFromTopicQos(t TopicQos) {
	q.Durability = t.Durability
	q.Deadline = t.Deadline
	q.LatencyBudget = t.LatencyBudget
	q.Liveliness = t.Liveliness
	q.Reliability = t.Reliability
	q.DestinationOrder = t.DestinationOrder
	q.History = t.History
	q.ResourceLimits = t.ResourceLimits
	q.Ownership = t.Ownership
}
