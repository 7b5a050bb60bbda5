package discovery

import "github.com/c360/semdds/rtps"

// Sink receives discovery events. Calls are made without internal locks
// held, from the goroutine that delivered the triggering message.
type Sink interface {
	ParticipantDiscovered(p ParticipantData)
	ParticipantUpdated(p ParticipantData)
	ParticipantLost(prefix rtps.GUIDPrefix, reason string)
	TopicDiscovered(t TopicData)
	// PublicationDiscovered is called for new and changed writers.
	PublicationDiscovered(p PublicationData)
	PublicationRemoved(key rtps.GUID)
	// SubscriptionDiscovered is called for new and changed readers.
	SubscriptionDiscovered(s SubscriptionData)
	SubscriptionRemoved(key rtps.GUID)
}

// NoopSink ignores every event. Embed it to implement a subset.
type NoopSink struct{}

func (NoopSink) ParticipantDiscovered(ParticipantData)   {}
func (NoopSink) ParticipantUpdated(ParticipantData)      {}
func (NoopSink) ParticipantLost(rtps.GUIDPrefix, string) {}
func (NoopSink) TopicDiscovered(TopicData)               {}
func (NoopSink) PublicationDiscovered(PublicationData)   {}
func (NoopSink) PublicationRemoved(rtps.GUID)            {}
func (NoopSink) SubscriptionDiscovered(SubscriptionData) {}
func (NoopSink) SubscriptionRemoved(rtps.GUID)           {}
