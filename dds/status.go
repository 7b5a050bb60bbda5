package dds

import "github.com/c360/semdds/qos"

// StatusMask is a set of communication status kinds.
type StatusMask uint32

// Status kinds, numbered as in the DDS standard.
const (
	StatusInconsistentTopic        StatusMask = 1 << 0
	StatusOfferedDeadlineMissed    StatusMask = 1 << 1
	StatusRequestedDeadlineMissed  StatusMask = 1 << 2
	StatusOfferedIncompatibleQos   StatusMask = 1 << 5
	StatusRequestedIncompatibleQos StatusMask = 1 << 6
	StatusSampleLost               StatusMask = 1 << 7
	StatusSampleRejected           StatusMask = 1 << 8
	StatusDataOnReaders            StatusMask = 1 << 9
	StatusDataAvailable            StatusMask = 1 << 10
	StatusLivelinessLost           StatusMask = 1 << 11
	StatusLivelinessChanged        StatusMask = 1 << 12
	StatusPublicationMatched       StatusMask = 1 << 13
	StatusSubscriptionMatched      StatusMask = 1 << 14

	StatusNone StatusMask = 0
	StatusAll  StatusMask = 0x7fe7
)

var statusNames = []struct {
	kind StatusMask
	name string
}{
	{StatusInconsistentTopic, "INCONSISTENT_TOPIC"},
	{StatusOfferedDeadlineMissed, "OFFERED_DEADLINE_MISSED"},
	{StatusRequestedDeadlineMissed, "REQUESTED_DEADLINE_MISSED"},
	{StatusOfferedIncompatibleQos, "OFFERED_INCOMPATIBLE_QOS"},
	{StatusRequestedIncompatibleQos, "REQUESTED_INCOMPATIBLE_QOS"},
	{StatusSampleLost, "SAMPLE_LOST"},
	{StatusSampleRejected, "SAMPLE_REJECTED"},
	{StatusDataOnReaders, "DATA_ON_READERS"},
	{StatusDataAvailable, "DATA_AVAILABLE"},
	{StatusLivelinessLost, "LIVELINESS_LOST"},
	{StatusLivelinessChanged, "LIVELINESS_CHANGED"},
	{StatusPublicationMatched, "PUBLICATION_MATCHED"},
	{StatusSubscriptionMatched, "SUBSCRIPTION_MATCHED"},
}

func (m StatusMask) String() string {
	if m == 0 {
		return "NONE"
	}
	out := ""
	for _, s := range statusNames {
		if m&s.kind != 0 {
			if out != "" {
				out += "|"
			}
			out += s.name
		}
	}
	return out
}

// InconsistentTopicStatus counts remote topics with the same name and a
// different type.
type InconsistentTopicStatus struct {
	TotalCount       int32
	TotalCountChange int32
}

// SampleLostStatus counts samples that never reached the reader.
type SampleLostStatus struct {
	TotalCount       int32
	TotalCountChange int32
}

// SampleRejectedReason says which resource limit rejected a sample.
type SampleRejectedReason int32

const (
	NotRejected SampleRejectedReason = iota
	RejectedByInstancesLimit
	RejectedBySamplesLimit
	RejectedBySamplesPerInstanceLimit
)

func (r SampleRejectedReason) String() string {
	switch r {
	case RejectedByInstancesLimit:
		return "instances_limit"
	case RejectedBySamplesLimit:
		return "samples_limit"
	case RejectedBySamplesPerInstanceLimit:
		return "samples_per_instance_limit"
	}
	return "not_rejected"
}

// SampleRejectedStatus counts samples refused by reader resource limits.
type SampleRejectedStatus struct {
	TotalCount         int32
	TotalCountChange   int32
	LastReason         SampleRejectedReason
	LastInstanceHandle InstanceHandle
}

// LivelinessLostStatus counts the times a writer failed to assert
// liveliness in time.
type LivelinessLostStatus struct {
	TotalCount       int32
	TotalCountChange int32
}

// LivelinessChangedStatus tracks the liveliness of matched writers.
type LivelinessChangedStatus struct {
	AliveCount            int32
	NotAliveCount         int32
	AliveCountChange      int32
	NotAliveCountChange   int32
	LastPublicationHandle InstanceHandle
}

// OfferedDeadlineMissedStatus counts instances a writer did not update
// within its deadline.
type OfferedDeadlineMissedStatus struct {
	TotalCount         int32
	TotalCountChange   int32
	LastInstanceHandle InstanceHandle
}

// RequestedDeadlineMissedStatus counts instances a reader saw no update for
// within its deadline.
type RequestedDeadlineMissedStatus struct {
	TotalCount         int32
	TotalCountChange   int32
	LastInstanceHandle InstanceHandle
}

// QosPolicyCount counts incompatibilities of one policy.
type QosPolicyCount struct {
	PolicyID qos.PolicyID
	Count    int32
}

// IncompatibleQosStatus is shared by the offered and requested variants.
type IncompatibleQosStatus struct {
	TotalCount       int32
	TotalCountChange int32
	LastPolicyID     qos.PolicyID
	Policies         []QosPolicyCount
}

// OfferedIncompatibleQosStatus is reported on writers.
type OfferedIncompatibleQosStatus = IncompatibleQosStatus

// RequestedIncompatibleQosStatus is reported on readers.
type RequestedIncompatibleQosStatus = IncompatibleQosStatus

func (s *IncompatibleQosStatus) record(policies []qos.PolicyID) {
	if len(policies) == 0 {
		return
	}
	s.TotalCount++
	s.TotalCountChange++
	s.LastPolicyID = policies[0]
	for _, id := range policies {
		found := false
		for i := range s.Policies {
			if s.Policies[i].PolicyID == id {
				s.Policies[i].Count++
				found = true
				break
			}
		}
		if !found {
			s.Policies = append(s.Policies, QosPolicyCount{PolicyID: id, Count: 1})
		}
	}
}

func (s IncompatibleQosStatus) snapshot() IncompatibleQosStatus {
	s.Policies = append([]QosPolicyCount(nil), s.Policies...)
	return s
}

// PublicationMatchedStatus tracks the readers matched with a writer.
type PublicationMatchedStatus struct {
	TotalCount             int32
	TotalCountChange       int32
	CurrentCount           int32
	CurrentCountChange     int32
	LastSubscriptionHandle InstanceHandle
}

// SubscriptionMatchedStatus tracks the writers matched with a reader.
type SubscriptionMatchedStatus struct {
	TotalCount            int32
	TotalCountChange      int32
	CurrentCount          int32
	CurrentCountChange    int32
	LastPublicationHandle InstanceHandle
}
