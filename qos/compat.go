package qos

import (
	"path"
	"strings"
)

// Offered is the writer side of a match.
type Offered struct {
	Writer    DataWriterQos
	Publisher PublisherQos
}

// Requested is the reader side of a match.
type Requested struct {
	Reader     DataReaderQos
	Subscriber SubscriberQos
}

// Compatible applies the request/offer rules and returns every policy that
// fails. An empty result means the endpoints may match.
func Compatible(offered Offered, requested Requested) []PolicyID {
	var failed []PolicyID
	w, r := offered.Writer, requested.Reader
	op, rp := offered.Publisher.Presentation, requested.Subscriber.Presentation

	if w.Durability.Kind < r.Durability.Kind {
		failed = append(failed, DurabilityPolicyID)
	}
	if op.AccessScope < rp.AccessScope ||
		(rp.CoherentAccess && !op.CoherentAccess) ||
		(rp.OrderedAccess && !op.OrderedAccess) {
		failed = append(failed, PresentationPolicyID)
	}
	if w.Deadline.Period > r.Deadline.Period {
		failed = append(failed, DeadlinePolicyID)
	}
	if w.LatencyBudget.Duration > r.LatencyBudget.Duration {
		failed = append(failed, LatencyBudgetPolicyID)
	}
	if w.Ownership.Kind != r.Ownership.Kind {
		failed = append(failed, OwnershipPolicyID)
	}
	if w.Liveliness.Kind < r.Liveliness.Kind || w.Liveliness.LeaseDuration > r.Liveliness.LeaseDuration {
		failed = append(failed, LivelinessPolicyID)
	}
	if w.Reliability.Kind < r.Reliability.Kind {
		failed = append(failed, ReliabilityPolicyID)
	}
	if w.DestinationOrder.Kind < r.DestinationOrder.Kind {
		failed = append(failed, DestinationOrderPolicyID)
	}
	return failed
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func partitionMatch(a, b string) bool {
	pa, pb := isPattern(a), isPattern(b)
	switch {
	case pa && pb:
		return false
	case pa:
		ok, err := path.Match(a, b)
		return err == nil && ok
	case pb:
		ok, err := path.Match(b, a)
		return err == nil && ok
	}
	return a == b
}

// PartitionsMatch reports whether two partition lists share a partition.
// An empty list is the default partition "". Names may be fnmatch patterns
// on either side; two patterns never match each other.
func PartitionsMatch(a, b []string) bool {
	if len(a) == 0 {
		a = []string{""}
	}
	if len(b) == 0 {
		b = []string{""}
	}
	for _, x := range a {
		for _, y := range b {
			if partitionMatch(x, y) {
				return true
			}
		}
	}
	return false
}
