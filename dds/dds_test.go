package dds

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
	"github.com/c360/semdds/transport"
	"github.com/c360/semdds/transport/inproc"
)

const waitFor = 5 * time.Second

// DDSSuite runs participants over an in-process hub.
type DDSSuite struct {
	suite.Suite
	hub     *inproc.Hub
	factory *ParticipantFactory
}

func TestDDSSuite(t *testing.T) {
	suite.Run(t, new(DDSSuite))
}

func (s *DDSSuite) SetupTest() {
	s.hub = inproc.NewHub()
	reg := transport.NewRegistry()
	s.Require().NoError(reg.RegisterFactory(inproc.Kind, s.hub.Factory()))
	inst, err := reg.CreateInst("inproc", inproc.Kind)
	s.Require().NoError(err)
	cfg, err := reg.CreateConfig(transport.DefaultConfigName)
	s.Require().NoError(err)
	cfg.Insert(inst)
	s.Require().NoError(reg.SetGlobalConfig(transport.DefaultConfigName))

	f, err := NewParticipantFactory(FactoryDeps{
		Registry:        reg,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		HeartbeatPeriod: 20 * time.Millisecond,
		TickPeriod:      10 * time.Millisecond,
		Discovery: []discovery.Option{
			discovery.WithAnnouncePeriod(50 * time.Millisecond),
			discovery.WithResendPeriod(100 * time.Millisecond),
			discovery.WithLeaseDuration(3 * time.Second),
		},
	})
	s.Require().NoError(err)
	s.factory = f
}

func (s *DDSSuite) TearDownTest() {
	s.hub.SetDropFunc(nil)
	s.NoError(s.factory.Shutdown())
}

func (s *DDSSuite) participant() *Participant {
	p, err := s.factory.CreateParticipant(0, nil, nil, StatusNone)
	s.Require().NoError(err)
	return p
}

func (s *DDSSuite) topic(p *Participant, name string) *Topic {
	if _, ok := p.LookupType("Reading"); !ok {
		ts, err := NewJSONTypeSupport("Reading", WithKeyFields("id"))
		s.Require().NoError(err)
		s.Require().NoError(p.RegisterType(ts))
	}
	t, err := p.CreateTopic(name, "Reading", nil, nil, StatusNone)
	s.Require().NoError(err)
	return t
}

func (s *DDSSuite) writer(p *Participant, t *Topic, pq *qos.PublisherQos, edit func(*qos.DataWriterQos)) *DataWriter {
	pub, err := p.CreatePublisher(pq, nil, StatusNone)
	s.Require().NoError(err)
	q := pub.GetDefaultDataWriterQos()
	if edit != nil {
		edit(&q)
	}
	w, err := pub.CreateDataWriter(t, &q, nil, StatusNone)
	s.Require().NoError(err)
	return w
}

func (s *DDSSuite) reader(p *Participant, d TopicDescription, sq *qos.SubscriberQos, edit func(*qos.DataReaderQos)) *DataReader {
	sub, err := p.CreateSubscriber(sq, nil, StatusNone)
	s.Require().NoError(err)
	q := sub.GetDefaultDataReaderQos()
	if edit != nil {
		edit(&q)
	}
	r, err := sub.CreateDataReader(d, &q, nil, StatusNone)
	s.Require().NoError(err)
	return r
}

func reliable(q *qos.DataReaderQos) { q.Reliability.Kind = qos.ReliableReliability }

func reading(id, v int) []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"v":%d}`, id, v))
}

func (s *DDSSuite) write(w *DataWriter, id, v int) {
	s.Require().NoError(w.Write(reading(id, v)))
}

func (s *DDSSuite) takeAll(r *DataReader) []Sample {
	out, err := r.Take(-1, AnySampleState, AnyViewState, AnyInstanceState)
	if errors.Code(err) == errors.RetcodeNoData {
		return nil
	}
	s.Require().NoError(err)
	return out
}

func (s *DDSSuite) waitMatched(w *DataWriter, r *DataReader) {
	s.Eventually(func() bool {
		ws, err := w.GetPublicationMatchedStatus()
		if err != nil || ws.CurrentCount == 0 {
			return false
		}
		rs, err := r.GetSubscriptionMatchedStatus()
		return err == nil && rs.CurrentCount > 0
	}, waitFor, 10*time.Millisecond)
}

// collect takes samples until n valid ones arrived.
func (s *DDSSuite) collect(r *DataReader, n int) []Sample {
	var got []Sample
	s.Eventually(func() bool {
		for _, smp := range s.takeAll(r) {
			if smp.Info.ValidData {
				got = append(got, smp)
			}
		}
		return len(got) >= n
	}, waitFor, 10*time.Millisecond)
	return got
}

func values(samples []Sample) []int64 {
	out := make([]int64, 0, len(samples))
	for _, smp := range samples {
		out = append(out, gjson.GetBytes(smp.Data, "v").Int())
	}
	return out
}

func (s *DDSSuite) TestLocalWriteAndTake() {
	p := s.participant()
	t := s.topic(p, "local")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, nil)
	s.waitMatched(w, r)

	s.write(w, 1, 10)
	s.write(w, 2, 20)

	got := s.takeAll(r)
	s.Require().Len(got, 2)
	for _, smp := range got {
		s.True(smp.Info.ValidData)
		s.Equal(NotReadSampleState, smp.Info.SampleState)
		s.Equal(NewViewState, smp.Info.ViewState)
		s.Equal(AliveInstanceState, smp.Info.InstanceState)
		s.Equal(w.GetInstanceHandle(), smp.Info.PublicationHandle)
	}
	s.ElementsMatch([]int64{10, 20}, values(got))

	_, err := r.Take(-1, AnySampleState, AnyViewState, AnyInstanceState)
	s.ErrorIs(err, errors.ErrNoData)
	_, err = r.Take(0, AnySampleState, AnyViewState, AnyInstanceState)
	s.ErrorIs(err, errors.ErrBadParameter)
}

func (s *DDSSuite) TestViewStateAndGenerations() {
	p := s.participant()
	t := s.topic(p, "views")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 4}
	})
	s.waitMatched(w, r)

	s.write(w, 1, 1)
	got, err := r.Read(-1, AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(NewViewState, got[0].Info.ViewState)

	s.write(w, 1, 2)
	got, err = r.Read(-1, NotReadSampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(NotNewViewState, got[0].Info.ViewState)

	s.Require().NoError(w.Dispose(reading(1, 0), HandleNil))
	got, err = r.Read(-1, NotReadSampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.False(got[0].Info.ValidData)
	s.Equal(NotAliveDisposedInstanceState, got[0].Info.InstanceState)

	s.write(w, 1, 3)
	got, err = r.Read(-1, NotReadSampleState, AnyViewState, AliveInstanceState)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(NewViewState, got[0].Info.ViewState)
	s.Equal(int32(1), got[0].Info.DisposedGenerationCount)
	s.Equal([]int64{3}, values(got))
}

func (s *DDSSuite) TestKeepLastDepth() {
	p := s.participant()
	t := s.topic(p, "depth")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 2}
	})
	s.waitMatched(w, r)

	for v := 1; v <= 5; v++ {
		s.write(w, 7, v)
	}
	got := s.takeAll(r)
	s.Equal([]int64{4, 5}, values(got))
	s.Equal(int32(1), got[0].Info.SampleRank)
	s.Equal(int32(0), got[1].Info.SampleRank)
}

func (s *DDSSuite) TestKeepAllRejectsOverLimit() {
	p := s.participant()
	t := s.topic(p, "limits")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory}
		q.ResourceLimits.MaxSamplesPerInstance = 2
	})
	s.waitMatched(w, r)

	for v := 1; v <= 3; v++ {
		s.write(w, 1, v)
	}
	st, err := r.GetSampleRejectedStatus()
	s.Require().NoError(err)
	s.Equal(int32(1), st.TotalCount)
	s.Equal(RejectedBySamplesPerInstanceLimit, st.LastReason)
	s.Equal([]int64{1, 2}, values(s.takeAll(r)))
}

func (s *DDSSuite) TestExclusiveOwnership() {
	p := s.participant()
	t := s.topic(p, "owned")
	exclusive := func(strength int32) func(*qos.DataWriterQos) {
		return func(q *qos.DataWriterQos) {
			q.Ownership.Kind = qos.ExclusiveOwnership
			q.OwnershipStrength.Value = strength
		}
	}
	weak := s.writer(p, t, nil, exclusive(1))
	strong := s.writer(p, t, nil, exclusive(5))
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.Ownership.Kind = qos.ExclusiveOwnership
		q.History.Depth = 10
	})
	s.waitMatched(weak, r)
	s.waitMatched(strong, r)

	s.write(weak, 1, 1)
	s.write(strong, 1, 2)
	s.write(weak, 1, 3)
	s.write(strong, 1, 4)

	got := s.takeAll(r)
	s.Equal([]int64{1, 2, 4}, values(got))
}

func (s *DDSSuite) TestTransientLocalLateJoiner() {
	p := s.participant()
	t := s.topic(p, "durable")
	w := s.writer(p, t, nil, func(q *qos.DataWriterQos) {
		q.Durability.Kind = qos.TransientLocalDurability
	})
	s.write(w, 1, 1)
	s.write(w, 1, 2)
	s.write(w, 2, 1)

	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.Durability.Kind = qos.TransientLocalDurability
		reliable(q)
	})
	s.NoError(r.WaitForHistoricalData(time.Second))
	s.ElementsMatch([]int64{2, 1}, values(s.takeAll(r)))

	volatile := s.reader(p, t, nil, reliable)
	s.waitMatched(w, volatile)
	s.Empty(s.takeAll(volatile))
}

func (s *DDSSuite) TestRemoteReliableDeliveryInOrder() {
	pa, pb := s.participant(), s.participant()
	w := s.writer(pa, s.topic(pa, "remote"), nil, func(q *qos.DataWriterQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory}
	})
	r := s.reader(pb, s.topic(pb, "remote"), nil, func(q *qos.DataReaderQos) {
		reliable(q)
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory}
	})
	s.waitMatched(w, r)

	for v := 1; v <= 20; v++ {
		s.write(w, 1, v)
	}
	got := s.collect(r, 20)
	want := make([]int64, 0, 20)
	for v := 1; v <= 20; v++ {
		want = append(want, int64(v))
	}
	s.Equal(want, values(got))
	s.NoError(w.WaitForAcknowledgments(waitFor))
}

func (s *DDSSuite) TestReliableRepairsLoss() {
	pa, pb := s.participant(), s.participant()
	w := s.writer(pa, s.topic(pa, "lossy"), nil, nil)
	r := s.reader(pb, s.topic(pb, "lossy"), nil, func(q *qos.DataReaderQos) {
		reliable(q)
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory}
	})
	s.waitMatched(w, r)

	var n atomic.Int64
	from, to := pa.GetPrefix(), pb.GetPrefix()
	s.hub.SetDropFunc(func(src, dst rtps.GUIDPrefix, _ []byte) bool {
		return src == from && dst == to && n.Add(1)%3 == 0
	})
	for v := 1; v <= 12; v++ {
		s.write(w, v, v)
	}
	got := s.collect(r, 12)
	s.Len(got, 12)
	s.NoError(w.WaitForAcknowledgments(waitFor))
}

func (s *DDSSuite) TestWaitForAcknowledgmentsTimeout() {
	pa, pb := s.participant(), s.participant()
	w := s.writer(pa, s.topic(pa, "acks"), nil, nil)
	r := s.reader(pb, s.topic(pb, "acks"), nil, reliable)
	s.waitMatched(w, r)

	from, to := pa.GetPrefix(), pb.GetPrefix()
	s.hub.SetDropFunc(func(src, dst rtps.GUIDPrefix, _ []byte) bool {
		return src == from && dst == to
	})
	s.write(w, 1, 1)
	start := time.Now()
	s.ErrorIs(w.WaitForAcknowledgments(100*time.Millisecond), errors.ErrTimeout)
	s.Less(time.Since(start), 150*time.Millisecond)
	start = time.Now()
	s.ErrorIs(w.GetPublisher().WaitForAcknowledgments(100*time.Millisecond), errors.ErrTimeout)
	s.Less(time.Since(start), 150*time.Millisecond)

	s.hub.SetDropFunc(nil)
	s.NoError(w.WaitForAcknowledgments(waitFor))
	s.Len(s.collect(r, 1), 1)
}

func (s *DDSSuite) TestCoherentSetAllOrNothing() {
	p := s.participant()
	t := s.topic(p, "coherent")
	pq := qos.DefaultPublisherQos()
	pq.Presentation.CoherentAccess = true
	sq := qos.DefaultSubscriberQos()
	sq.Presentation.CoherentAccess = true
	w := s.writer(p, t, &pq, nil)
	r := s.reader(p, t, &sq, reliable)
	s.waitMatched(w, r)

	pub := w.GetPublisher()
	s.Require().NoError(pub.BeginCoherentChanges())
	s.write(w, 1, 1)
	s.write(w, 2, 2)
	s.write(w, 3, 3)
	s.Empty(s.takeAll(r))

	s.Require().NoError(pub.EndCoherentChanges())
	s.ElementsMatch([]int64{1, 2, 3}, values(s.takeAll(r)))
	s.ErrorIs(pub.EndCoherentChanges(), errors.ErrPreconditionNotMet)
}

func (s *DDSSuite) TestRemoteCoherentSet() {
	pa, pb := s.participant(), s.participant()
	pq := qos.DefaultPublisherQos()
	pq.Presentation.CoherentAccess = true
	sq := qos.DefaultSubscriberQos()
	sq.Presentation.CoherentAccess = true
	w := s.writer(pa, s.topic(pa, "coherent"), &pq, nil)
	r := s.reader(pb, s.topic(pb, "coherent"), &sq, reliable)
	s.waitMatched(w, r)

	pub := w.GetPublisher()
	s.Require().NoError(pub.BeginCoherentChanges())
	s.write(w, 1, 1)
	s.write(w, 2, 2)
	s.Never(func() bool { return len(s.takeAll(r)) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	s.Require().NoError(pub.EndCoherentChanges())
	s.ElementsMatch([]int64{1, 2}, values(s.collect(r, 2)))
}

func (s *DDSSuite) TestIncompatibleQos() {
	p := s.participant()
	t := s.topic(p, "incompatible")
	w := s.writer(p, t, nil, func(q *qos.DataWriterQos) {
		q.Reliability.Kind = qos.BestEffortReliability
	})
	r := s.reader(p, t, nil, reliable)

	rs, err := r.GetRequestedIncompatibleQosStatus()
	s.Require().NoError(err)
	s.Equal(int32(1), rs.TotalCount)
	s.Equal(qos.ReliabilityPolicyID, rs.LastPolicyID)

	ws, err := w.GetOfferedIncompatibleQosStatus()
	s.Require().NoError(err)
	s.Equal(int32(1), ws.TotalCount)

	ms, err := r.GetSubscriptionMatchedStatus()
	s.Require().NoError(err)
	s.Zero(ms.CurrentCount)
}

func (s *DDSSuite) TestContentFilteredTopic() {
	p := s.participant()
	t := s.topic(p, "filtered")
	cft, err := p.CreateContentFilteredTopic("big", t, "v > %0", []string{"5"})
	s.Require().NoError(err)
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, cft, nil, nil)
	s.waitMatched(w, r)

	for v := 1; v <= 8; v++ {
		s.write(w, v, v)
	}
	s.ElementsMatch([]int64{6, 7, 8}, values(s.takeAll(r)))

	s.Require().NoError(cft.SetExpressionParameters([]string{"7"}))
	s.write(w, 9, 6)
	s.write(w, 10, 9)
	s.Equal([]int64{9}, values(s.takeAll(r)))
}

func (s *DDSSuite) TestQueryCondition() {
	p := s.participant()
	t := s.topic(p, "query")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, nil)
	s.waitMatched(w, r)

	qc, err := r.CreateQueryCondition(AnySampleState, AnyViewState, AnyInstanceState, "id = %0", []string{"2"})
	s.Require().NoError(err)
	s.write(w, 1, 1)
	s.write(w, 2, 2)
	s.True(qc.TriggerValue())

	got, err := r.TakeWithCondition(-1, qc)
	s.Require().NoError(err)
	s.Equal([]int64{2}, values(got))
	s.False(qc.TriggerValue())

	s.ErrorIs(r.GetSubscriber().DeleteDataReader(r), errors.ErrPreconditionNotMet)
	s.Require().NoError(r.DeleteReadCondition(qc))
	s.NoError(r.GetSubscriber().DeleteDataReader(r))
}

func (s *DDSSuite) TestWaitSetWakesOnData() {
	p := s.participant()
	t := s.topic(p, "waitset")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, nil)
	s.waitMatched(w, r)

	rc, err := r.CreateReadCondition(NotReadSampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	ws := NewWaitSet()
	s.Require().NoError(ws.AttachCondition(rc))

	_, err = ws.Wait(context.Background(), 50*time.Millisecond)
	s.ErrorIs(err, errors.ErrTimeout)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = w.Write(reading(1, 1))
	}()
	active, err := ws.Wait(context.Background(), waitFor)
	s.Require().NoError(err)
	s.Equal([]Condition{rc}, active)
}

type availability struct {
	mu    sync.Mutex
	calls int
}

func (a *availability) OnDataAvailable(*DataReader) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
}

func (a *availability) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (s *DDSSuite) TestDataAvailableListener() {
	p := s.participant()
	t := s.topic(p, "listener")
	w := s.writer(p, t, nil, nil)
	sub, err := p.CreateSubscriber(nil, nil, StatusNone)
	s.Require().NoError(err)
	l := &availability{}
	r, err := sub.CreateDataReader(t, nil, l, StatusDataAvailable)
	s.Require().NoError(err)
	s.waitMatched(w, r)

	s.write(w, 1, 1)
	s.Eventually(func() bool { return l.count() > 0 }, waitFor, 10*time.Millisecond)
	s.True(r.GetStatusChanges()&StatusDataAvailable != 0)
	s.takeAll(r)
	s.Zero(r.GetStatusChanges() & StatusDataAvailable)
}

func (s *DDSSuite) TestRemoteWriterLossMarksNoWriters() {
	pa, pb := s.participant(), s.participant()
	w := s.writer(pa, s.topic(pa, "nowriters"), nil, nil)
	r := s.reader(pb, s.topic(pb, "nowriters"), nil, reliable)
	s.waitMatched(w, r)

	s.write(w, 1, 1)
	s.Len(s.collect(r, 1), 1)

	s.Require().NoError(pa.DeleteContainedEntities())
	s.Eventually(func() bool {
		got, err := r.Read(-1, AnySampleState, AnyViewState, NotAliveInstanceState)
		return err == nil && len(got) > 0
	}, waitFor, 10*time.Millisecond)
	ms, err := r.GetSubscriptionMatchedStatus()
	s.Require().NoError(err)
	s.Zero(ms.CurrentCount)
}

func (s *DDSSuite) TestBuiltinParticipantTopic() {
	pa, pb := s.participant(), s.participant()
	br := pb.GetBuiltinSubscriber().LookupDataReader(BuiltinTopicParticipant)
	s.Require().NotNil(br)

	want := rtps.GUID{Prefix: pa.GetPrefix(), Entity: rtps.EntityIDParticipant}.String()
	s.Eventually(func() bool {
		got, err := br.Read(-1, AnySampleState, AnyViewState, AliveInstanceState)
		if err != nil {
			return false
		}
		for _, smp := range got {
			if gjson.GetBytes(smp.Data, "key").String() == want {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)

	_, err := pb.GetBuiltinSubscriber().CreateDataReader(pb.LookupTopicDescription(BuiltinTopicParticipant), nil, nil, StatusNone)
	s.ErrorIs(err, errors.ErrPreconditionNotMet)
}

func (s *DDSSuite) TestDeleteContainedEntities() {
	p := s.participant()
	t := s.topic(p, "cleanup")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, nil)
	_, err := r.CreateReadCondition(AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.waitMatched(w, r)

	s.ErrorIs(p.DeleteTopic(t), errors.ErrPreconditionNotMet)
	s.ErrorIs(s.factory.DeleteParticipant(p), errors.ErrPreconditionNotMet)
	s.Require().NoError(p.DeleteContainedEntities())
	s.False(p.ContainsEntity(w.GetInstanceHandle()))
	s.ErrorIs(w.Write(reading(1, 1)), errors.ErrAlreadyDeleted)
	s.NoError(s.factory.DeleteParticipant(p))
}

func (s *DDSSuite) TestDisabledEntities() {
	pq := qos.DefaultParticipantQos()
	pq.EntityFactory.AutoenableCreatedEntities = false
	p, err := s.factory.CreateParticipant(0, &pq, nil, StatusNone)
	s.Require().NoError(err)
	t := s.topic(p, "disabled")
	pub, err := p.CreatePublisher(nil, nil, StatusNone)
	s.Require().NoError(err)
	s.False(pub.IsEnabled())

	w, err := pub.CreateDataWriter(t, nil, nil, StatusNone)
	s.Require().NoError(err)
	s.ErrorIs(w.Write(reading(1, 1)), errors.ErrNotEnabled)
	s.ErrorIs(w.Enable(), errors.ErrPreconditionNotMet)
	s.Require().NoError(pub.Enable())
	s.ErrorIs(w.Enable(), errors.ErrPreconditionNotMet)
	s.Require().NoError(t.Enable())
	s.Require().NoError(w.Enable())
	s.NoError(w.Write(reading(1, 1)))
}

type reading2 struct {
	ID int `json:"id"`
	V  int `json:"v"`
}

func (s *DDSSuite) TestTypedWrappers() {
	p := s.participant()
	t := s.topic(p, "typed")
	w := NewTypedWriter[reading2](s.writer(p, t, nil, nil))
	r := NewTypedReader[reading2](s.reader(p, t, nil, nil))
	s.waitMatched(w.DataWriter, r.DataReader)

	s.Require().NoError(w.Write(reading2{ID: 4, V: 40}))
	got, err := r.Take(-1, AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(reading2{ID: 4, V: 40}, got[0].Value)

	s.Require().NoError(w.Dispose(reading2{ID: 4}))
	smp, err := r.TakeNextSample()
	s.Require().NoError(err)
	s.False(smp.Info.ValidData)
	s.Equal(NotAliveDisposedInstanceState, smp.Info.InstanceState)
}

func (s *DDSSuite) TestViewStatePerSample() {
	p := s.participant()
	t := s.topic(p, "batched")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 5}
	})
	s.waitMatched(w, r)

	for v := 1; v <= 3; v++ {
		s.write(w, 1, v)
	}
	got, err := r.Read(-1, AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal([]int64{1, 2, 3}, values(got))
	s.Equal(NewViewState, got[0].Info.ViewState)
	s.Equal(NotNewViewState, got[1].Info.ViewState)
	s.Equal(NotNewViewState, got[2].Info.ViewState)

	got, err = r.Read(-1, AnySampleState, NotNewViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Equal([]int64{2, 3}, values(got))
}

func (s *DDSSuite) TestCoherentSetRejectedAsUnit() {
	p := s.participant()
	t := s.topic(p, "coherent-limits")
	pq := qos.DefaultPublisherQos()
	pq.Presentation.CoherentAccess = true
	sq := qos.DefaultSubscriberQos()
	sq.Presentation.CoherentAccess = true
	w := s.writer(p, t, &pq, nil)
	r := s.reader(p, t, &sq, func(q *qos.DataReaderQos) {
		reliable(q)
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory}
		q.ResourceLimits.MaxSamples = 2
	})
	s.waitMatched(w, r)

	pub := w.GetPublisher()
	s.Require().NoError(pub.BeginCoherentChanges())
	s.write(w, 1, 1)
	s.write(w, 2, 2)
	s.write(w, 3, 3)
	s.Require().NoError(pub.EndCoherentChanges())

	s.Empty(s.takeAll(r))
	st, err := r.GetSampleRejectedStatus()
	s.Require().NoError(err)
	s.Equal(int32(3), st.TotalCount)
	s.Equal(RejectedBySamplesLimit, st.LastReason)
	lost, err := r.GetSampleLostStatus()
	s.Require().NoError(err)
	s.Equal(int32(3), lost.TotalCount)

	s.write(w, 4, 4)
	s.Equal([]int64{4}, values(s.takeAll(r)))
}

type matchRecorder struct {
	mu   sync.Mutex
	seen []PublicationMatchedStatus
}

func (m *matchRecorder) OnPublicationMatched(_ *DataWriter, st PublicationMatchedStatus) {
	m.mu.Lock()
	m.seen = append(m.seen, st)
	m.mu.Unlock()
}

func (m *matchRecorder) statuses() []PublicationMatchedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublicationMatchedStatus(nil), m.seen...)
}

func (s *DDSSuite) TestListenerSeesStatusAtEventTime() {
	p := s.participant()
	t := s.topic(p, "matched")
	pub, err := p.CreatePublisher(nil, nil, StatusNone)
	s.Require().NoError(err)
	rec := &matchRecorder{}
	w, err := pub.CreateDataWriter(t, nil, rec, StatusPublicationMatched)
	s.Require().NoError(err)

	r := s.reader(p, t, nil, nil)
	s.waitMatched(w, r)
	s.Eventually(func() bool { return len(rec.statuses()) > 0 }, waitFor, 10*time.Millisecond)

	first := rec.statuses()[0]
	s.Equal(int32(1), first.TotalCount)
	s.Equal(int32(1), first.TotalCountChange)
	s.Equal(int32(1), first.CurrentCount)
	s.Equal(int32(1), first.CurrentCountChange)
	s.Equal(r.GetInstanceHandle(), first.LastSubscriptionHandle)

	st, err := w.GetPublicationMatchedStatus()
	s.Require().NoError(err)
	s.Equal(int32(1), st.CurrentCount)
	s.Zero(st.TotalCountChange)
}

func (s *DDSSuite) TestSetQosIsAtomic() {
	p := s.participant()
	t := s.topic(p, "setqos")
	r := s.reader(p, t, nil, nil)
	before := r.GetQos()

	inconsistent := before.Clone()
	inconsistent.Deadline.Period = 10 * time.Millisecond
	inconsistent.TimeBasedFilter.MinimumSeparation = 20 * time.Millisecond
	s.ErrorIs(r.SetQos(inconsistent), errors.ErrInconsistentPolicy)
	s.Equal(before, r.GetQos())

	mixed := before.Clone()
	mixed.Deadline.Period = time.Second
	mixed.History.Depth = 9
	s.ErrorIs(r.SetQos(mixed), errors.ErrImmutablePolicy)
	s.Equal(before, r.GetQos())

	mutable := before.Clone()
	mutable.Deadline.Period = time.Second
	s.Require().NoError(r.SetQos(mutable))
	s.Equal(time.Second, r.GetQos().Deadline.Period)

	w := s.writer(p, t, nil, nil)
	wq := w.GetQos()
	changed := wq.Clone()
	changed.Reliability.Kind = qos.BestEffortReliability
	s.ErrorIs(w.SetQos(changed), errors.ErrImmutablePolicy)
	s.Equal(wq, w.GetQos())
}

func (s *DDSSuite) TestSuspendAndResumePublications() {
	p := s.participant()
	t := s.topic(p, "suspend")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		reliable(q)
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory}
	})
	s.waitMatched(w, r)

	pub := w.GetPublisher()
	s.ErrorIs(pub.ResumePublications(), errors.ErrPreconditionNotMet)
	s.Require().NoError(pub.SuspendPublications())
	s.Require().NoError(pub.SuspendPublications())
	s.write(w, 1, 1)
	s.write(w, 2, 2)
	s.Empty(s.takeAll(r))

	s.Require().NoError(pub.ResumePublications())
	s.Empty(s.takeAll(r))
	s.Require().NoError(pub.ResumePublications())
	s.Equal([]int64{1, 2}, values(s.takeAll(r)))

	s.Require().NoError(pub.SuspendPublications())
	s.write(w, 3, 3)
	s.Require().NoError(pub.DeleteDataWriter(w))
	s.Require().NoError(p.DeletePublisher(pub))
	s.Never(func() bool {
		for _, smp := range s.takeAll(r) {
			if smp.Info.ValidData {
				return true
			}
		}
		return false
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func (s *DDSSuite) TestInstanceAccess() {
	p := s.participant()
	t := s.topic(p, "instances")
	w := s.writer(p, t, nil, nil)
	r := s.reader(p, t, nil, func(q *qos.DataReaderQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 5}
	})
	s.waitMatched(w, r)

	s.write(w, 1, 10)
	s.write(w, 1, 11)
	s.write(w, 2, 20)
	s.write(w, 3, 30)
	s.Require().NoError(w.Dispose(reading(3, 0), HandleNil))

	h1 := r.LookupInstance(reading(1, 0))
	h2 := r.LookupInstance(reading(2, 0))
	h3 := r.LookupInstance(reading(3, 0))
	s.NotEqual(HandleNil, h1)
	s.NotEqual(HandleNil, h2)
	s.Equal(HandleNil, r.LookupInstance(reading(9, 0)))
	key, err := r.GetKeyValue(h2)
	s.Require().NoError(err)
	s.Equal(int64(2), gjson.GetBytes(key, "id").Int())

	got, err := r.ReadInstance(1, h1, AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Equal([]int64{10}, values(got))
	got, err = r.ReadInstance(-1, h1, NotReadSampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Equal([]int64{11}, values(got))
	_, err = r.ReadInstance(-1, h1, NotReadSampleState, AnyViewState, AnyInstanceState)
	s.ErrorIs(err, errors.ErrNoData)
	_, err = r.ReadInstance(-1, InstanceHandle(1<<40), AnySampleState, AnyViewState, AnyInstanceState)
	s.ErrorIs(err, errors.ErrBadParameter)

	_, err = r.ReadInstance(-1, h3, AnySampleState, AnyViewState, AliveInstanceState)
	s.ErrorIs(err, errors.ErrNoData)
	got, err = r.ReadInstance(-1, h3, AnySampleState, AnyViewState, NotAliveDisposedInstanceState)
	s.Require().NoError(err)
	s.NotEmpty(got)

	ordered := []InstanceHandle{h1, h2, h3}
	slices.Sort(ordered)
	got, err = r.ReadNextInstance(-1, HandleNil, AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Equal(ordered[0], got[0].Info.InstanceHandle)
	got, err = r.ReadNextInstance(-1, ordered[0], AnySampleState, AnyViewState, AnyInstanceState)
	s.Require().NoError(err)
	s.Equal(ordered[1], got[0].Info.InstanceHandle)

	got, err = r.TakeNextInstance(-1, HandleNil, AnySampleState, AnyViewState, AliveInstanceState)
	s.Require().NoError(err)
	s.NotEqual(h3, got[0].Info.InstanceHandle)
	taken := got[0].Info.InstanceHandle
	_, err = r.ReadInstance(-1, taken, AnySampleState, AnyViewState, AnyInstanceState)
	s.ErrorIs(err, errors.ErrNoData)

	got, err = r.TakeInstance(-1, h2, AnySampleState, AnyViewState, AnyInstanceState)
	if taken == h2 {
		s.ErrorIs(err, errors.ErrNoData)
	} else {
		s.Require().NoError(err)
		s.Equal([]int64{20}, values(got))
	}

	_, _ = r.Read(-1, NotReadSampleState, AnyViewState, AnyInstanceState)
	s.write(w, 4, 40)
	smp, err := r.ReadNextSample()
	s.Require().NoError(err)
	s.Equal(int64(40), gjson.GetBytes(smp.Data, "v").Int())
	smp, err = r.TakeNextSample()
	s.ErrorIs(err, errors.ErrNoData)
	s.False(smp.Info.ValidData)
}

func (s *DDSSuite) TestMultiTopicJoin() {
	p := s.participant()
	temps := s.topic(p, "temps")
	place, err := NewJSONTypeSupport("Place", WithKeyFields("id"))
	s.Require().NoError(err)
	s.Require().NoError(p.RegisterType(place))
	located, err := NewJSONTypeSupport("Located", WithKeyFields("id"))
	s.Require().NoError(err)
	s.Require().NoError(p.RegisterType(located))
	places, err := p.CreateTopic("places", "Place", nil, nil, StatusNone)
	s.Require().NoError(err)

	_, err = p.CreateMultiTopic("bad", "Located", "SELECT * FROM temps NATURAL JOIN missing", nil)
	s.ErrorIs(err, errors.ErrBadParameter)
	_, err = p.CreateMultiTopic("bad", "Unknown", "SELECT * FROM temps", nil)
	s.ErrorIs(err, errors.ErrPreconditionNotMet)

	m, err := p.CreateMultiTopic("located", "Located",
		"SELECT id, v AS celsius, room FROM temps NATURAL JOIN places WHERE v > %0", []string{"10"})
	s.Require().NoError(err)
	s.Equal([]string{"temps", "places"}, m.Topics())

	tw := s.writer(p, temps, nil, nil)
	pw := s.writer(p, places, nil, nil)
	r := s.reader(p, m, nil, func(q *qos.DataReaderQos) {
		q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 5}
	})
	for _, w := range []*DataWriter{tw, pw} {
		s.Eventually(func() bool {
			st, err := w.GetPublicationMatchedStatus()
			return err == nil && st.CurrentCount > 0
		}, waitFor, 10*time.Millisecond)
	}

	s.Require().NoError(pw.Write([]byte(`{"id":1,"room":"lab"}`)))
	s.write(tw, 1, 5)
	s.write(tw, 2, 30)
	s.write(tw, 1, 25)

	got := s.collect(r, 1)
	s.Require().Len(got, 1)
	s.JSONEq(`{"id":1,"celsius":25,"room":"lab"}`, string(got[0].Data))

	s.Require().NoError(m.SetExpressionParameters([]string{"0"}))
	s.write(tw, 1, 3)
	got = s.collect(r, 1)
	s.Equal(int64(3), gjson.GetBytes(got[0].Data, "celsius").Int())

	s.ErrorIs(p.DeleteMultiTopic(m), errors.ErrPreconditionNotMet)
}

func (s *DDSSuite) TestDefaultQosInheritance() {
	p := s.participant()

	tq := p.GetDefaultTopicQos()
	tq.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 3}
	s.Require().NoError(p.SetDefaultTopicQos(&tq))
	t := s.topic(p, "defaults")
	s.Equal(int32(3), t.GetQos().History.Depth)

	pq := p.GetDefaultPublisherQos()
	pq.Presentation.CoherentAccess = true
	s.Require().NoError(p.SetDefaultPublisherQos(&pq))
	pub, err := p.CreatePublisher(nil, nil, StatusNone)
	s.Require().NoError(err)
	s.True(pub.GetQos().Presentation.CoherentAccess)

	sq := p.GetDefaultSubscriberQos()
	sq.Presentation.OrderedAccess = true
	s.Require().NoError(p.SetDefaultSubscriberQos(&sq))
	sub, err := p.CreateSubscriber(nil, nil, StatusNone)
	s.Require().NoError(err)
	s.True(sub.GetQos().Presentation.OrderedAccess)

	wq := pub.GetDefaultDataWriterQos()
	wq.History.Depth = 7
	s.Require().NoError(pub.SetDefaultDataWriterQos(&wq))
	w, err := pub.CreateDataWriter(t, nil, nil, StatusNone)
	s.Require().NoError(err)
	s.Equal(int32(7), w.GetQos().History.Depth)

	rq := sub.GetDefaultDataReaderQos()
	reliable(&rq)
	s.Require().NoError(sub.SetDefaultDataReaderQos(&rq))
	r, err := sub.CreateDataReader(t, nil, nil, StatusNone)
	s.Require().NoError(err)
	s.Equal(qos.ReliableReliability, r.GetQos().Reliability.Kind)

	bad := rq.Clone()
	bad.Deadline.Period = 10 * time.Millisecond
	bad.TimeBasedFilter.MinimumSeparation = 20 * time.Millisecond
	s.ErrorIs(sub.SetDefaultDataReaderQos(&bad), errors.ErrInconsistentPolicy)
	s.Equal(rq, sub.GetDefaultDataReaderQos())

	s.Require().NoError(p.SetDefaultPublisherQos(nil))
	s.Equal(qos.DefaultPublisherQos(), p.GetDefaultPublisherQos())
	s.True(pub.GetQos().Presentation.CoherentAccess)
}

func (s *DDSSuite) TestIgnoreRemoteEntities() {
	pa, pb := s.participant(), s.participant()
	w := s.writer(pa, s.topic(pa, "ignored"), nil, nil)
	r := s.reader(pb, s.topic(pb, "ignored"), nil, nil)
	s.waitMatched(w, r)

	s.ErrorIs(pb.IgnorePublication(r.GetInstanceHandle()), errors.ErrBadParameter)

	pubs, err := r.GetMatchedPublications()
	s.Require().NoError(err)
	s.Require().Len(pubs, 1)
	s.Require().NoError(pb.IgnorePublication(pubs[0]))
	s.Eventually(func() bool {
		st, err := r.GetSubscriptionMatchedStatus()
		return err == nil && st.CurrentCount == 0
	}, waitFor, 10*time.Millisecond)
	s.Never(func() bool {
		st, err := r.GetSubscriptionMatchedStatus()
		return err != nil || st.CurrentCount > 0
	}, 300*time.Millisecond, 20*time.Millisecond)

	var remote InstanceHandle
	s.Eventually(func() bool {
		hs, err := pb.GetDiscoveredParticipants()
		if err != nil || len(hs) == 0 {
			return false
		}
		remote = hs[0]
		return true
	}, waitFor, 10*time.Millisecond)
	s.Require().NoError(pb.IgnoreParticipant(remote))
	s.Eventually(func() bool {
		hs, err := pb.GetDiscoveredParticipants()
		return err == nil && len(hs) == 0
	}, waitFor, 10*time.Millisecond)

	late := s.writer(pa, s.topic(pa, "ignored-late"), nil, nil)
	lr := s.reader(pb, s.topic(pb, "ignored-late"), nil, nil)
	s.Never(func() bool {
		st, err := lr.GetSubscriptionMatchedStatus()
		return err != nil || st.CurrentCount > 0
	}, 300*time.Millisecond, 20*time.Millisecond)
	s.write(late, 1, 1)
	s.Empty(s.takeAll(lr))
}
