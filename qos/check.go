package qos

import (
	"time"

	"github.com/c360/semdds/errors"
)

func inconsistent(method string, policy PolicyID, format string, args ...any) error {
	return errors.Failf(errors.RetcodeInconsistentPolicy, "qos", method,
		policy.String()+": "+format, args...)
}

func checkNonNegative(method string, policy PolicyID, field string, d time.Duration) error {
	if d < 0 {
		return inconsistent(method, policy, "%s is negative", field)
	}
	return nil
}

func checkLimits(method string, policy PolicyID, maxSamples, maxInstances, perInstance int32) error {
	for _, v := range []int32{maxSamples, maxInstances, perInstance} {
		if v != LengthUnlimited && v <= 0 {
			return inconsistent(method, policy, "limit %d must be positive or unlimited", v)
		}
	}
	if maxSamples != LengthUnlimited && perInstance != LengthUnlimited && maxSamples < perInstance {
		return inconsistent(method, policy, "max_samples %d < max_samples_per_instance %d", maxSamples, perInstance)
	}
	return nil
}

func checkHistory(method string, policy PolicyID, kind HistoryKind, depth, perInstance int32) error {
	if kind != KeepLastHistory {
		return nil
	}
	if depth < 1 {
		return inconsistent(method, policy, "keep_last depth %d < 1", depth)
	}
	if perInstance != LengthUnlimited && depth > perInstance {
		return inconsistent(method, policy, "depth %d > max_samples_per_instance %d", depth, perInstance)
	}
	return nil
}

func checkDurabilityService(method string, ds DurabilityServiceQosPolicy) error {
	if err := checkNonNegative(method, DurabilityServicePolicyID, "service_cleanup_delay", ds.ServiceCleanupDelay); err != nil {
		return err
	}
	if err := checkLimits(method, DurabilityServicePolicyID, ds.MaxSamples, ds.MaxInstances, ds.MaxSamplesPerInstance); err != nil {
		return err
	}
	return checkHistory(method, DurabilityServicePolicyID, ds.HistoryKind, ds.HistoryDepth, ds.MaxSamplesPerInstance)
}

func checkLiveliness(method string, l LivelinessQosPolicy) error {
	if l.LeaseDuration <= 0 {
		return inconsistent(method, LivelinessPolicyID, "lease_duration must be positive")
	}
	return nil
}

type durationField struct {
	policy PolicyID
	name   string
	value  time.Duration
}

func checkDurations(method string, fields ...durationField) error {
	for _, f := range fields {
		if err := checkNonNegative(method, f.policy, f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// CheckTopicQos validates a topic QoS for internal consistency.
func CheckTopicQos(q TopicQos) error {
	const m = "CheckTopicQos"
	if err := checkDurations(m,
		durationField{DeadlinePolicyID, "period", q.Deadline.Period},
		durationField{LatencyBudgetPolicyID, "duration", q.LatencyBudget.Duration},
		durationField{ReliabilityPolicyID, "max_blocking_time", q.Reliability.MaxBlockingTime},
		durationField{LifespanPolicyID, "duration", q.Lifespan.Duration},
	); err != nil {
		return err
	}
	if err := checkLiveliness(m, q.Liveliness); err != nil {
		return err
	}
	if err := checkDurabilityService(m, q.DurabilityService); err != nil {
		return err
	}
	rl := q.ResourceLimits
	if err := checkLimits(m, ResourceLimitsPolicyID, rl.MaxSamples, rl.MaxInstances, rl.MaxSamplesPerInstance); err != nil {
		return err
	}
	return checkHistory(m, HistoryPolicyID, q.History.Kind, q.History.Depth, rl.MaxSamplesPerInstance)
}

// CheckDataWriterQos validates a writer QoS for internal consistency.
func CheckDataWriterQos(q DataWriterQos) error {
	const m = "CheckDataWriterQos"
	if err := checkDurations(m,
		durationField{DeadlinePolicyID, "period", q.Deadline.Period},
		durationField{LatencyBudgetPolicyID, "duration", q.LatencyBudget.Duration},
		durationField{ReliabilityPolicyID, "max_blocking_time", q.Reliability.MaxBlockingTime},
		durationField{LifespanPolicyID, "duration", q.Lifespan.Duration},
	); err != nil {
		return err
	}
	if err := checkLiveliness(m, q.Liveliness); err != nil {
		return err
	}
	if err := checkDurabilityService(m, q.DurabilityService); err != nil {
		return err
	}
	rl := q.ResourceLimits
	if err := checkLimits(m, ResourceLimitsPolicyID, rl.MaxSamples, rl.MaxInstances, rl.MaxSamplesPerInstance); err != nil {
		return err
	}
	return checkHistory(m, HistoryPolicyID, q.History.Kind, q.History.Depth, rl.MaxSamplesPerInstance)
}

// CheckDataReaderQos validates a reader QoS for internal consistency.
func CheckDataReaderQos(q DataReaderQos) error {
	const m = "CheckDataReaderQos"
	if err := checkDurations(m,
		durationField{DeadlinePolicyID, "period", q.Deadline.Period},
		durationField{LatencyBudgetPolicyID, "duration", q.LatencyBudget.Duration},
		durationField{ReliabilityPolicyID, "max_blocking_time", q.Reliability.MaxBlockingTime},
		durationField{TimeBasedFilterPolicyID, "minimum_separation", q.TimeBasedFilter.MinimumSeparation},
		durationField{ReaderDataLifecyclePolicyID, "autopurge_nowriter_samples_delay", q.ReaderDataLifecycle.AutopurgeNoWriterSamplesDelay},
		durationField{ReaderDataLifecyclePolicyID, "autopurge_disposed_samples_delay", q.ReaderDataLifecycle.AutopurgeDisposedSamplesDelay},
	); err != nil {
		return err
	}
	if q.Deadline.Period < q.TimeBasedFilter.MinimumSeparation {
		return inconsistent(m, DeadlinePolicyID, "period %s < time_based_filter minimum_separation %s",
			q.Deadline.Period, q.TimeBasedFilter.MinimumSeparation)
	}
	if err := checkLiveliness(m, q.Liveliness); err != nil {
		return err
	}
	rl := q.ResourceLimits
	if err := checkLimits(m, ResourceLimitsPolicyID, rl.MaxSamples, rl.MaxInstances, rl.MaxSamplesPerInstance); err != nil {
		return err
	}
	return checkHistory(m, HistoryPolicyID, q.History.Kind, q.History.Depth, rl.MaxSamplesPerInstance)
}

func checkPresentation(method string, p PresentationQosPolicy) error {
	if p.AccessScope < InstancePresentation || p.AccessScope > GroupPresentation {
		return inconsistent(method, PresentationPolicyID, "unknown access scope %d", int32(p.AccessScope))
	}
	return nil
}

// CheckPublisherQos validates a publisher QoS.
func CheckPublisherQos(q PublisherQos) error {
	return checkPresentation("CheckPublisherQos", q.Presentation)
}

// CheckSubscriberQos validates a subscriber QoS.
func CheckSubscriberQos(q SubscriberQos) error {
	return checkPresentation("CheckSubscriberQos", q.Presentation)
}

// CheckParticipantQos validates a participant QoS. Every combination is
// consistent.
func CheckParticipantQos(ParticipantQos) error {
	return nil
}

func immutable(method string, policy PolicyID) error {
	return errors.Failf(errors.RetcodeImmutablePolicy, "qos", method, "%s cannot change once enabled", policy)
}

// ChangeableTopicQos reports whether an enabled topic may move from old to
// updated.
func ChangeableTopicQos(old, updated TopicQos) error {
	const m = "ChangeableTopicQos"
	switch {
	case old.Durability != updated.Durability:
		return immutable(m, DurabilityPolicyID)
	case old.DurabilityService != updated.DurabilityService:
		return immutable(m, DurabilityServicePolicyID)
	case old.Liveliness != updated.Liveliness:
		return immutable(m, LivelinessPolicyID)
	case old.Reliability != updated.Reliability:
		return immutable(m, ReliabilityPolicyID)
	case old.DestinationOrder != updated.DestinationOrder:
		return immutable(m, DestinationOrderPolicyID)
	case old.History != updated.History:
		return immutable(m, HistoryPolicyID)
	case old.ResourceLimits != updated.ResourceLimits:
		return immutable(m, ResourceLimitsPolicyID)
	case old.Ownership != updated.Ownership:
		return immutable(m, OwnershipPolicyID)
	}
	return nil
}

// ChangeableDataWriterQos reports whether an enabled writer may move from
// old to updated.
func ChangeableDataWriterQos(old, updated DataWriterQos) error {
	const m = "ChangeableDataWriterQos"
	switch {
	case old.Durability != updated.Durability:
		return immutable(m, DurabilityPolicyID)
	case old.DurabilityService != updated.DurabilityService:
		return immutable(m, DurabilityServicePolicyID)
	case old.Liveliness != updated.Liveliness:
		return immutable(m, LivelinessPolicyID)
	case old.Reliability != updated.Reliability:
		return immutable(m, ReliabilityPolicyID)
	case old.DestinationOrder != updated.DestinationOrder:
		return immutable(m, DestinationOrderPolicyID)
	case old.History != updated.History:
		return immutable(m, HistoryPolicyID)
	case old.ResourceLimits != updated.ResourceLimits:
		return immutable(m, ResourceLimitsPolicyID)
	case old.Ownership != updated.Ownership:
		return immutable(m, OwnershipPolicyID)
	}
	return nil
}

// ChangeableDataReaderQos reports whether an enabled reader may move from
// old to updated.
func ChangeableDataReaderQos(old, updated DataReaderQos) error {
	const m = "ChangeableDataReaderQos"
	switch {
	case old.Durability != updated.Durability:
		return immutable(m, DurabilityPolicyID)
	case old.Liveliness != updated.Liveliness:
		return immutable(m, LivelinessPolicyID)
	case old.Reliability != updated.Reliability:
		return immutable(m, ReliabilityPolicyID)
	case old.DestinationOrder != updated.DestinationOrder:
		return immutable(m, DestinationOrderPolicyID)
	case old.History != updated.History:
		return immutable(m, HistoryPolicyID)
	case old.ResourceLimits != updated.ResourceLimits:
		return immutable(m, ResourceLimitsPolicyID)
	case old.Ownership != updated.Ownership:
		return immutable(m, OwnershipPolicyID)
	}
	return nil
}

// ChangeablePublisherQos reports whether an enabled publisher may move from
// old to updated.
func ChangeablePublisherQos(old, updated PublisherQos) error {
	if old.Presentation != updated.Presentation {
		return immutable("ChangeablePublisherQos", PresentationPolicyID)
	}
	return nil
}

// ChangeableSubscriberQos reports whether an enabled subscriber may move
// from old to updated.
func ChangeableSubscriberQos(old, updated SubscriberQos) error {
	if old.Presentation != updated.Presentation {
		return immutable("ChangeableSubscriberQos", PresentationPolicyID)
	}
	return nil
}
