package dds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// Names of the built-in topics. Their readers live in the built-in
// subscriber and deliver JSON documents keyed by the "key" field.
const (
	BuiltinTopicParticipant  = "DCPSParticipant"
	BuiltinTopicTopic        = "DCPSTopic"
	BuiltinTopicPublication  = "DCPSPublication"
	BuiltinTopicSubscription = "DCPSSubscription"
)

type builtinKind int

const (
	builtinParticipant builtinKind = iota
	builtinTopic
	builtinPublication
	builtinSubscription
	builtinCount
)

var builtinNames = [builtinCount]string{
	BuiltinTopicParticipant,
	BuiltinTopicTopic,
	BuiltinTopicPublication,
	BuiltinTopicSubscription,
}

var builtinWriters = [builtinCount]rtps.EntityID{
	rtps.EntityIDSPDPWriter,
	rtps.EntityIDSEDPTopicWriter,
	rtps.EntityIDSEDPPublicationsWriter,
	rtps.EntityIDSEDPSubscriptionsWriter,
}

// BuiltinTopicNames lists the built-in topics.
func BuiltinTopicNames() []string {
	return append([]string(nil), builtinNames[:]...)
}

// builtinTopics turns discovery events into samples of the built-in
// readers.
type builtinTopics struct {
	p       *Participant
	readers [builtinCount]*DataReader

	mu     sync.Mutex
	topics map[rtps.GUID]struct{}
}

// participantDoc is the DCPSParticipant sample.
type participantDoc struct {
	Key rtps.GUID `json:"key"`
	discovery.ParticipantData
}

type keyDoc struct {
	Key rtps.GUID `json:"key"`
}

func builtinReaderQos() qos.DataReaderQos {
	q := qos.DefaultDataReaderQos()
	q.Durability.Kind = qos.TransientLocalDurability
	q.Reliability.Kind = qos.ReliableReliability
	q.History = qos.HistoryQosPolicy{Kind: qos.KeepLastHistory, Depth: 1}
	return q
}

// createBuiltins creates the built-in subscriber with one reader per
// built-in topic.
func (p *Participant) createBuiltins() error {
	p.builtin = newSubscriber(p, qos.DefaultSubscriberQos(), nil, StatusNone, true)
	p.registerHandle(p.builtin.guid, p.builtin.handle)
	b := &builtinTopics{p: p, topics: make(map[rtps.GUID]struct{})}
	rq := builtinReaderQos()
	for kind, name := range builtinNames {
		ts, err := NewJSONTypeSupport(name, WithKeyFields("key"))
		if err != nil {
			return err
		}
		t := newTopic(p, name, ts, qos.DefaultTopicQos(), nil, StatusNone, true)
		r := newDataReader(p.builtin, t, rq, nil, StatusNone)
		p.mu.Lock()
		p.topics[name] = t
		p.mu.Unlock()
		p.registerHandle(t.guid, t.handle)
		p.registerHandle(r.guid, r.handle)
		p.builtin.mu.Lock()
		p.builtin.readers[r.handle] = r
		p.builtin.mu.Unlock()
		b.readers[kind] = r
	}
	p.builtins = b
	return nil
}

func (p *Participant) builtinTopics() *builtinTopics { return p.builtins }

func (b *builtinTopics) participant(pd discovery.ParticipantData) {
	b.write(builtinParticipant, pd.GUID(), participantDoc{Key: pd.GUID(), ParticipantData: pd})
}

func (b *builtinTopics) topic(td discovery.TopicData) {
	b.mu.Lock()
	b.topics[td.Key] = struct{}{}
	b.mu.Unlock()
	b.write(builtinTopic, td.Key, td)
}

func (b *builtinTopics) publication(pub discovery.PublicationData) {
	b.write(builtinPublication, pub.Key, pub)
}

func (b *builtinTopics) subscription(sub discovery.SubscriptionData) {
	b.write(builtinSubscription, sub.Key, sub)
}

// participantLost disposes the participant and the topics it announced.
// Its endpoints are disposed through their own removal events.
func (b *builtinTopics) participantLost(prefix rtps.GUIDPrefix) {
	b.mu.Lock()
	var lost []rtps.GUID
	for g := range b.topics {
		if g.Prefix == prefix {
			lost = append(lost, g)
			delete(b.topics, g)
		}
	}
	b.mu.Unlock()
	for _, g := range lost {
		b.dispose(builtinTopic, g)
	}
	b.dispose(builtinParticipant, rtps.GUID{Prefix: prefix, Entity: rtps.EntityIDParticipant})
}

func (b *builtinTopics) write(kind builtinKind, key rtps.GUID, v any) {
	doc, err := json.Marshal(v)
	if err != nil {
		b.p.logger.Debug("encode built-in sample", "topic", builtinNames[kind], "error", err)
		return
	}
	b.inject(kind, key, &incoming{data: doc, source: time.Now()})
}

func (b *builtinTopics) dispose(kind builtinKind, key rtps.GUID) {
	doc, err := json.Marshal(keyDoc{Key: key})
	if err != nil {
		return
	}
	in := &incoming{
		data:   doc,
		source: time.Now(),
		status: rtps.StatusInfoDisposed | rtps.StatusInfoUnregistered,
	}
	b.inject(kind, key, in)
}

func (b *builtinTopics) inject(kind builtinKind, key rtps.GUID, in *incoming) {
	r := b.readers[kind]
	if r == nil || !r.IsEnabled() {
		return
	}
	r.inject(in, rtps.GUID{Prefix: key.Prefix, Entity: builtinWriters[kind]})
}
