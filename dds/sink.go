package dds

import (
	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/rtps"
)

// participantSink feeds discovery events into the participant: endpoint
// matching and the built-in topic readers.
type participantSink struct {
	p *Participant
}

var _ discovery.Sink = participantSink{}

func (s participantSink) ParticipantDiscovered(pd discovery.ParticipantData) {
	s.p.handleOf(pd.GUID())
	s.p.builtinTopics().participant(pd)
}

func (s participantSink) ParticipantUpdated(pd discovery.ParticipantData) {
	s.p.builtinTopics().participant(pd)
}

// ParticipantLost unmatches everything the participant owned. Matched
// readers see its instances go NOT_ALIVE_NO_WRITERS.
func (s participantSink) ParticipantLost(prefix rtps.GUIDPrefix, reason string) {
	p := s.p
	p.unmatch(p.matcher.RemoveParticipant(prefix))
	p.logger.Debug("remote endpoints unmatched", "remote", prefix.String(), "reason", reason)
	p.builtinTopics().participantLost(prefix)
}

func (s participantSink) TopicDiscovered(td discovery.TopicData) {
	p := s.p
	p.mu.RLock()
	t := p.topics[td.Name]
	p.mu.RUnlock()
	if t != nil {
		t.checkRemote(td)
	}
	p.signalTopics()
	p.builtinTopics().topic(td)
}

func (s participantSink) PublicationDiscovered(pub discovery.PublicationData) {
	p := s.p
	p.handleOf(pub.Key)
	for _, r := range p.localReaders() {
		if sub, ok := r.subscriptionData(); ok && sub.TopicName == pub.TopicName && r.IsEnabled() {
			p.applyMatch(pub, sub, nil, r)
		}
	}
	p.signalTopics()
	p.builtinTopics().publication(pub)
}

func (s participantSink) PublicationRemoved(key rtps.GUID) {
	s.p.unmatch(s.p.matcher.Remove(key))
	s.p.builtinTopics().dispose(builtinPublication, key)
}

func (s participantSink) SubscriptionDiscovered(sub discovery.SubscriptionData) {
	p := s.p
	p.handleOf(sub.Key)
	for _, w := range p.localWriters() {
		if w.topic.name == sub.TopicName && w.IsEnabled() {
			p.applyMatch(w.publicationData(), sub, w, nil)
		}
	}
	p.signalTopics()
	p.builtinTopics().subscription(sub)
}

func (s participantSink) SubscriptionRemoved(key rtps.GUID) {
	s.p.unmatch(s.p.matcher.Remove(key))
	s.p.builtinTopics().dispose(builtinSubscription, key)
}

// matchWriter evaluates a local writer against every known reader of its
// topic.
func (p *Participant) matchWriter(w *DataWriter) {
	if !w.IsEnabled() || w.deleted.Load() {
		return
	}
	pub := w.publicationData()
	for _, r := range p.localReaders() {
		if sub, ok := r.subscriptionData(); ok && sub.TopicName == pub.TopicName && r.IsEnabled() {
			p.applyMatch(pub, sub, w, r)
		}
	}
	disc := p.discoverySvc()
	if disc == nil {
		return
	}
	for _, sub := range disc.Subscriptions() {
		if sub.TopicName == pub.TopicName {
			p.applyMatch(pub, sub, w, nil)
		}
	}
}

// matchReader evaluates a local reader against every known writer of its
// topic.
func (p *Participant) matchReader(r *DataReader) {
	if !r.IsEnabled() || r.deleted.Load() {
		return
	}
	sub, ok := r.subscriptionData()
	if !ok {
		return
	}
	for _, w := range p.localWriters() {
		if w.topic.name == sub.TopicName && w.IsEnabled() {
			p.applyMatch(w.publicationData(), sub, w, r)
		}
	}
	disc := p.discoverySvc()
	if disc == nil {
		return
	}
	for _, pub := range disc.Publications() {
		if pub.TopicName == sub.TopicName {
			p.applyMatch(pub, sub, nil, r)
		}
	}
}

// applyMatch records the state of one pair and tells the local sides. w or
// r is nil when that side is remote. A local reader learns of its writer
// before the writer replays history to it.
func (p *Participant) applyMatch(pub discovery.PublicationData, sub discovery.SubscriptionData, w *DataWriter, r *DataReader) {
	t := p.matcher.Consider(pub, sub)
	switch {
	case t.To == discovery.Matched && t.From != discovery.Matched:
		if r != nil {
			r.addWriter(pub, w)
		}
		if w != nil {
			w.addReader(sub, r)
		}
	case t.To == discovery.Matched:
		if r != nil {
			r.updateWriter(pub)
		}
		if w != nil {
			w.updateReader(sub)
		}
	case t.From == discovery.Matched:
		if r != nil {
			r.removeWriter(pub.Key)
		}
		if w != nil {
			w.removeReader(sub.Key)
		}
	}
	if len(t.Incompatible) > 0 {
		if w != nil {
			w.offeredIncompatible(t.Incompatible)
		}
		if r != nil {
			r.requestedIncompatible(t.Incompatible)
		}
	}
}

// unmatch applies removal transitions to the local sides.
func (p *Participant) unmatch(ts []discovery.Transition) {
	for _, t := range ts {
		if t.From != discovery.Matched {
			continue
		}
		if r := p.localReader(t.Reader); r != nil {
			r.removeWriter(t.Writer)
		}
		if w := p.localWriter(t.Writer); w != nil {
			w.removeReader(t.Reader)
		}
	}
}

func (p *Participant) localReader(g rtps.GUID) *DataReader {
	if g.Prefix != p.prefix {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readers[g.Entity]
}

func (p *Participant) localWriter(g rtps.GUID) *DataWriter {
	if g.Prefix != p.prefix {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writers[g.Entity]
}
