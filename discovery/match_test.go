package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

func testPub(prefix rtps.GUIDPrefix, n uint32) PublicationData {
	return PublicationData{
		Key:       rtps.GUID{Prefix: prefix, Entity: rtps.NewEntityID(n, rtps.KindWriterWithKey)},
		TopicName: "Square",
		TypeName:  "ShapeType",
		Writer:    qos.DefaultDataWriterQos(),
		Publisher: qos.DefaultPublisherQos(),
	}
}

func testSub(prefix rtps.GUIDPrefix, n uint32) SubscriptionData {
	return SubscriptionData{
		Key:        rtps.GUID{Prefix: prefix, Entity: rtps.NewEntityID(n, rtps.KindReaderWithKey)},
		TopicName:  "Square",
		TypeName:   "ShapeType",
		Reader:     qos.DefaultDataReaderQos(),
		Subscriber: qos.DefaultSubscriberQos(),
	}
}

func TestEvaluate(t *testing.T) {
	p := rtps.NewGUIDPrefix(rtps.VendorSemDDS)

	tests := []struct {
		name   string
		mutate func(*PublicationData, *SubscriptionData)
		ok     bool
		failed []qos.PolicyID
	}{
		{name: "defaults", mutate: func(*PublicationData, *SubscriptionData) {}, ok: true},
		{name: "topic", mutate: func(_ *PublicationData, s *SubscriptionData) { s.TopicName = "Circle" }},
		{name: "type", mutate: func(_ *PublicationData, s *SubscriptionData) { s.TypeName = "Other" }},
		{
			name: "partition",
			mutate: func(w *PublicationData, s *SubscriptionData) {
				w.Publisher.Partition.Name = []string{"east"}
				s.Subscriber.Partition.Name = []string{"west"}
			},
		},
		{
			name: "partition pattern",
			mutate: func(w *PublicationData, s *SubscriptionData) {
				w.Publisher.Partition.Name = []string{"sensors.room1"}
				s.Subscriber.Partition.Name = []string{"sensors.*"}
			},
			ok: true,
		},
		{
			name: "reliability",
			mutate: func(w *PublicationData, s *SubscriptionData) {
				w.Writer.Reliability.Kind = qos.BestEffortReliability
				s.Reader.Reliability.Kind = qos.ReliableReliability
			},
			failed: []qos.PolicyID{qos.ReliabilityPolicyID},
		},
		{
			name: "durability and ownership",
			mutate: func(w *PublicationData, s *SubscriptionData) {
				s.Reader.Durability.Kind = qos.TransientLocalDurability
				w.Writer.Ownership.Kind = qos.ExclusiveOwnership
			},
			failed: []qos.PolicyID{qos.DurabilityPolicyID, qos.OwnershipPolicyID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, sub := testPub(p, 1), testSub(p, 2)
			tt.mutate(&pub, &sub)
			ok, failed := Evaluate(pub, sub)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.failed, failed)
		})
	}
}

func TestMatcherTransitions(t *testing.T) {
	m := NewMatcher()
	p := rtps.NewGUIDPrefix(rtps.VendorSemDDS)
	pub, sub := testPub(p, 1), testSub(p, 2)

	tr := m.Consider(pub, sub)
	assert.True(t, tr.Changed())
	assert.Equal(t, Unmatched, tr.From)
	assert.Equal(t, Matched, tr.To)
	assert.Equal(t, []rtps.GUID{sub.Key}, m.MatchedReaders(pub.Key))
	assert.Equal(t, []rtps.GUID{pub.Key}, m.MatchedWriters(sub.Key))

	// Re-evaluating an unchanged pair reports no change.
	assert.False(t, m.Consider(pub, sub).Changed())

	sub.Reader.Durability.Kind = qos.PersistentDurability
	tr = m.Consider(pub, sub)
	assert.Equal(t, Matched, tr.From)
	assert.Equal(t, Matching, tr.To)
	assert.Equal(t, []qos.PolicyID{qos.DurabilityPolicyID}, tr.Incompatible)
	assert.Empty(t, m.MatchedReaders(pub.Key))

	// The incompatibility is reported once per entry into Matching.
	tr = m.Consider(pub, sub)
	assert.False(t, tr.Changed())
	assert.Empty(t, tr.Incompatible)

	sub.TopicName = "Circle"
	tr = m.Consider(pub, sub)
	assert.Equal(t, Matching, tr.From)
	assert.Equal(t, Unmatched, tr.To)
	assert.Equal(t, Unmatched, m.State(pub.Key, sub.Key))
}

func TestMatcherRemove(t *testing.T) {
	m := NewMatcher()
	local := rtps.NewGUIDPrefix(rtps.VendorSemDDS)
	remote := rtps.NewGUIDPrefix(rtps.VendorSemDDS)

	w1, w2 := testPub(local, 1), testPub(remote, 1)
	r1, r2 := testSub(local, 2), testSub(remote, 2)
	for _, w := range []PublicationData{w1, w2} {
		for _, r := range []SubscriptionData{r1, r2} {
			require.Equal(t, Matched, m.Consider(w, r).To)
		}
	}

	removed := m.Remove(w1.Key)
	assert.Len(t, removed, 2)
	for _, tr := range removed {
		assert.Equal(t, w1.Key, tr.Writer)
		assert.Equal(t, Matched, tr.From)
		assert.Equal(t, Unmatched, tr.To)
	}
	assert.Empty(t, m.MatchedReaders(w1.Key))

	removed = m.RemoveParticipant(remote)
	// Only w2 remains paired with r1 and r2.
	assert.Len(t, removed, 2)
	assert.Empty(t, m.MatchedWriters(r1.Key))
	assert.Empty(t, m.Remove(w1.Key))
}
