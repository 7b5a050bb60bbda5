package discovery

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

func roundTrip(t *testing.T, pl *rtps.ParameterList, order rtps.ByteOrder) *rtps.ParameterList {
	t.Helper()
	back, _, err := rtps.DecodeParameterList(pl.Encode(order), order)
	require.NoError(t, err)
	return back
}

func TestParticipantDataRoundTrip(t *testing.T) {
	p := ParticipantData{
		Prefix:        rtps.NewGUIDPrefix(rtps.VendorSemDDS),
		DomainID:      7,
		Vendor:        rtps.VendorSemDDS,
		Version:       rtps.Version23,
		Name:          "sensor-node",
		UserData:      []byte("rack=4"),
		LeaseDuration: 3 * time.Second,
		Locators:      []rtps.Locator{rtps.NewUDPv4Locator(net.ParseIP("10.1.2.3"), 7661)},
	}
	got, err := DecodeParticipantData(roundTrip(t, p.Encode(), binary.LittleEndian))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeParticipantData(rtps.NewParameterList())
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestTopicDataRoundTrip(t *testing.T) {
	q := qos.DefaultTopicQos()
	q.Durability.Kind = qos.TransientLocalDurability
	q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 12}
	q.TopicData.Value = []byte("meta")
	q.Deadline.Period = 250 * time.Millisecond
	td := TopicData{
		Key:      rtps.GUID{Prefix: rtps.NewGUIDPrefix(rtps.VendorSemDDS), Entity: rtps.NewEntityID(1, rtps.KindTopic)},
		Name:     "Temperature",
		TypeName: "sensors::Temperature",
		Qos:      q,
	}
	got, err := DecodeTopicData(roundTrip(t, td.Encode(), binary.LittleEndian))
	require.NoError(t, err)
	assert.Equal(t, td, got)
}

func TestPublicationDataRoundTrip(t *testing.T) {
	w := qos.DefaultDataWriterQos()
	w.Durability.Kind = qos.PersistentDurability
	w.Reliability = qos.ReliabilityQosPolicy{Kind: qos.BestEffortReliability, MaxBlockingTime: 5 * time.Millisecond}
	w.Liveliness = qos.LivelinessQosPolicy{Kind: qos.ManualByTopicLiveliness, LeaseDuration: 2 * time.Second}
	w.Ownership.Kind = qos.ExclusiveOwnership
	w.OwnershipStrength.Value = 9
	w.WriterDataLifecycle.AutodisposeUnregisteredInstances = false
	w.Lifespan.Duration = time.Minute
	w.UserData.Value = []byte{1, 2, 3}

	pub := qos.DefaultPublisherQos()
	pub.Partition.Name = []string{"a", "b*"}
	pub.Presentation = qos.PresentationQosPolicy{AccessScope: qos.TopicPresentation, CoherentAccess: true}
	pub.GroupData.Value = []byte("g")

	pd := PublicationData{
		Key:       rtps.GUID{Prefix: rtps.NewGUIDPrefix(rtps.VendorSemDDS), Entity: rtps.NewEntityID(3, rtps.KindWriterWithKey)},
		TopicName: "T",
		TypeName:  "Ty",
		Writer:    w,
		Publisher: pub,
		TopicData: []byte("td"),
		Locators:  []rtps.Locator{rtps.NewUDPv4Locator(net.ParseIP("127.0.0.1"), 7411)},
	}
	got, err := DecodePublicationData(roundTrip(t, pd.Encode(), binary.LittleEndian))
	require.NoError(t, err)
	// EntityFactory is local-only and keeps its default.
	got.Publisher.EntityFactory = pub.EntityFactory
	assert.Equal(t, pd, got)
}

func TestSubscriptionDataRoundTrip(t *testing.T) {
	r := qos.DefaultDataReaderQos()
	r.Reliability.Kind = qos.ReliableReliability
	r.TimeBasedFilter.MinimumSeparation = 40 * time.Millisecond
	r.Deadline.Period = time.Second
	r.History = qos.HistoryQosPolicy{Kind: qos.KeepAllHistory, Depth: 1}

	sd := SubscriptionData{
		Key:        rtps.GUID{Prefix: rtps.NewGUIDPrefix(rtps.VendorSemDDS), Entity: rtps.NewEntityID(4, rtps.KindReaderWithKey)},
		TopicName:  "T",
		TypeName:   "Ty",
		Reader:     r,
		Subscriber: qos.DefaultSubscriberQos(),
		Filter: &ContentFilter{
			TopicName:    "HotT",
			RelatedTopic: "T",
			Expression:   "temp > %0 AND room = %1",
			Parameters:   []string{"30", "'lab'"},
		},
	}
	got, err := DecodeSubscriptionData(roundTrip(t, sd.Encode(), binary.LittleEndian))
	require.NoError(t, err)
	// The reader's ReaderDataLifecycle is local-only.
	got.Reader.ReaderDataLifecycle = r.ReaderDataLifecycle
	assert.Equal(t, sd, got)
}

func TestDecodeRejectsMissingIdentity(t *testing.T) {
	pl := rtps.NewParameterList()
	pl.AddGUID(rtps.PIDEndpointGUID, rtps.GUID{Prefix: rtps.NewGUIDPrefix(rtps.VendorSemDDS)})
	_, err := DecodePublicationData(pl)
	assert.ErrorIs(t, err, errors.ErrBadParameter)

	pl.AddString(rtps.PIDTopicName, "T")
	pl.AddString(rtps.PIDTypeName, "Ty")
	pl.Add(rtps.PIDLiveliness, []byte{1, 0})
	_, err = DecodePublicationData(pl)
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}
