package qos

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
)

func TestDefaults(t *testing.T) {
	w := DefaultDataWriterQos()
	assert.Equal(t, ReliableReliability, w.Reliability.Kind)
	assert.Equal(t, 100*time.Millisecond, w.Reliability.MaxBlockingTime)
	assert.True(t, w.WriterDataLifecycle.AutodisposeUnregisteredInstances)
	assert.Equal(t, HistoryQosPolicy{Kind: KeepLastHistory, Depth: 1}, w.History)

	r := DefaultDataReaderQos()
	assert.Equal(t, BestEffortReliability, r.Reliability.Kind)
	assert.Equal(t, Infinite, r.Liveliness.LeaseDuration)
	assert.Equal(t, VolatileDurability, r.Durability.Kind)

	for name, err := range map[string]error{
		"topic":      CheckTopicQos(DefaultTopicQos()),
		"writer":     CheckDataWriterQos(w),
		"reader":     CheckDataReaderQos(r),
		"publisher":  CheckPublisherQos(DefaultPublisherQos()),
		"subscriber": CheckSubscriberQos(DefaultSubscriberQos()),
	} {
		assert.NoError(t, err, name)
	}
}

func TestCopyFromTopicQos(t *testing.T) {
	topic := DefaultTopicQos()
	topic.Durability.Kind = TransientLocalDurability
	topic.History = HistoryQosPolicy{Kind: KeepLastHistory, Depth: 7}

	w := DefaultDataWriterQos()
	w.CopyFromTopicQos(topic)
	want := DefaultDataWriterQos()
	want.Durability.Kind = TransientLocalDurability
	want.History.Depth = 7
	want.Reliability.Kind = BestEffortReliability
	if diff := cmp.Diff(want, w); diff != "" {
		t.Errorf("writer qos mismatch (-want +got):\n%s", diff)
	}

	r := DefaultDataReaderQos()
	r.CopyFromTopicQos(topic)
	assert.Equal(t, int32(7), r.History.Depth)
	assert.Equal(t, Infinite, r.ReaderDataLifecycle.AutopurgeDisposedSamplesDelay)
}

func TestClone(t *testing.T) {
	p := DefaultPublisherQos()
	p.Partition.Name = []string{"a"}
	c := p.Clone()
	c.Partition.Name[0] = "b"
	assert.Equal(t, "a", p.Partition.Name[0])
}

func TestCheckInconsistent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DataReaderQos)
	}{
		{"zero depth", func(q *DataReaderQos) { q.History.Depth = 0 }},
		{"depth above per-instance limit", func(q *DataReaderQos) {
			q.History.Depth = 10
			q.ResourceLimits.MaxSamplesPerInstance = 5
		}},
		{"max samples below per-instance", func(q *DataReaderQos) {
			q.ResourceLimits.MaxSamples = 2
			q.ResourceLimits.MaxSamplesPerInstance = 5
		}},
		{"zero limit", func(q *DataReaderQos) { q.ResourceLimits.MaxInstances = 0 }},
		{"deadline below filter", func(q *DataReaderQos) {
			q.Deadline.Period = time.Millisecond
			q.TimeBasedFilter.MinimumSeparation = time.Second
		}},
		{"negative latency", func(q *DataReaderQos) { q.LatencyBudget.Duration = -1 }},
		{"zero lease", func(q *DataReaderQos) { q.Liveliness.LeaseDuration = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := DefaultDataReaderQos()
			tt.mutate(&q)
			err := CheckDataReaderQos(q)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInconsistentPolicy)
			assert.Equal(t, errors.RetcodeInconsistentPolicy, errors.Code(err))
		})
	}

	t.Run("keep all ignores depth", func(t *testing.T) {
		q := DefaultDataReaderQos()
		q.History = HistoryQosPolicy{Kind: KeepAllHistory, Depth: 0}
		assert.NoError(t, CheckDataReaderQos(q))
	})

	t.Run("durability service", func(t *testing.T) {
		q := DefaultDataWriterQos()
		q.DurabilityService.HistoryDepth = 0
		err := CheckDataWriterQos(q)
		assert.ErrorIs(t, err, errors.ErrInconsistentPolicy)
		assert.Contains(t, err.Error(), "DURABILITY_SERVICE")
	})
}

func TestChangeable(t *testing.T) {
	old := DefaultDataWriterQos()

	updated := old
	updated.Deadline.Period = time.Second
	updated.OwnershipStrength.Value = 4
	assert.NoError(t, ChangeableDataWriterQos(old, updated))

	updated = old
	updated.Reliability.Kind = BestEffortReliability
	err := ChangeableDataWriterQos(old, updated)
	assert.ErrorIs(t, err, errors.ErrImmutablePolicy)
	assert.Contains(t, err.Error(), "RELIABILITY")

	r := DefaultDataReaderQos()
	r2 := r
	r2.History.Depth = 3
	assert.ErrorIs(t, ChangeableDataReaderQos(r, r2), errors.ErrImmutablePolicy)

	p := DefaultPublisherQos()
	p2 := p.Clone()
	p2.Partition.Name = []string{"x"}
	assert.NoError(t, ChangeablePublisherQos(p, p2))
	p2.Presentation.CoherentAccess = true
	assert.ErrorIs(t, ChangeablePublisherQos(p, p2), errors.ErrImmutablePolicy)
}

func TestCompatible(t *testing.T) {
	offered := Offered{Writer: DefaultDataWriterQos(), Publisher: DefaultPublisherQos()}
	requested := Requested{Reader: DefaultDataReaderQos(), Subscriber: DefaultSubscriberQos()}
	assert.Empty(t, Compatible(offered, requested))

	tests := []struct {
		name   string
		mutate func(*Offered, *Requested)
		want   []PolicyID
	}{
		{"reliable requested from best effort", func(o *Offered, r *Requested) {
			o.Writer.Reliability.Kind = BestEffortReliability
			r.Reader.Reliability.Kind = ReliableReliability
		}, []PolicyID{ReliabilityPolicyID}},
		{"durability", func(o *Offered, r *Requested) {
			r.Reader.Durability.Kind = TransientLocalDurability
		}, []PolicyID{DurabilityPolicyID}},
		{"deadline", func(o *Offered, r *Requested) {
			o.Writer.Deadline.Period = 2 * time.Second
			r.Reader.Deadline.Period = time.Second
		}, []PolicyID{DeadlinePolicyID}},
		{"ownership", func(o *Offered, r *Requested) {
			r.Reader.Ownership.Kind = ExclusiveOwnership
		}, []PolicyID{OwnershipPolicyID}},
		{"presentation coherent", func(o *Offered, r *Requested) {
			r.Subscriber.Presentation.CoherentAccess = true
		}, []PolicyID{PresentationPolicyID}},
		{"liveliness and order", func(o *Offered, r *Requested) {
			r.Reader.Liveliness.Kind = ManualByTopicLiveliness
			r.Reader.DestinationOrder.Kind = BySourceTimestampDestinationOrder
		}, []PolicyID{LivelinessPolicyID, DestinationOrderPolicyID}},
		{"latency", func(o *Offered, r *Requested) {
			o.Writer.LatencyBudget.Duration = time.Second
		}, []PolicyID{LatencyBudgetPolicyID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, r := offered, requested
			tt.mutate(&o, &r)
			assert.Equal(t, tt.want, Compatible(o, r))
		})
	}
}

func TestPartitionsMatch(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{nil, nil, true},
		{nil, []string{""}, true},
		{[]string{"a"}, nil, false},
		{[]string{"a"}, []string{"a"}, true},
		{[]string{"sensor*"}, []string{"sensors"}, true},
		{[]string{"plant"}, []string{"pl?nt", "x"}, true},
		{[]string{"a*"}, []string{"a*"}, false},
		{[]string{"a", "b"}, []string{"c", "b"}, true},
		{[]string{"*"}, nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PartitionsMatch(tt.a, tt.b), "%v vs %v", tt.a, tt.b)
	}
}

func TestPolicyAndKindNames(t *testing.T) {
	assert.Equal(t, "RELIABILITY", ReliabilityPolicyID.String())
	assert.Equal(t, "transient_local", TransientLocalDurability.String())

	var k HistoryKind
	require.NoError(t, k.UnmarshalText([]byte("KEEP_ALL")))
	assert.Equal(t, KeepAllHistory, k)
	assert.Error(t, k.UnmarshalText([]byte("keep_some")))
}
