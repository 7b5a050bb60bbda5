package dds

// Listener receives status callbacks. A listener is any value implementing
// one or more of the callback interfaces below; an entity only calls the
// callbacks its listener implements and its mask enables. A status nobody
// listens to on the entity goes to the parent publisher or subscriber and
// then to the participant. Callbacks run on the participant's dispatch
// goroutine, one at a time, in the order the statuses changed.
type Listener any

// InconsistentTopicListener is notified of remote topics with a different
// type under the same name.
type InconsistentTopicListener interface {
	OnInconsistentTopic(t *Topic, status InconsistentTopicStatus)
}

// OfferedDeadlineMissedListener is notified when a writer misses its
// deadline for an instance.
type OfferedDeadlineMissedListener interface {
	OnOfferedDeadlineMissed(w *DataWriter, status OfferedDeadlineMissedStatus)
}

// OfferedIncompatibleQosListener is notified when a reader requests more
// than a writer offers.
type OfferedIncompatibleQosListener interface {
	OnOfferedIncompatibleQos(w *DataWriter, status OfferedIncompatibleQosStatus)
}

// LivelinessLostListener is notified when a writer fails to assert its
// liveliness in time.
type LivelinessLostListener interface {
	OnLivelinessLost(w *DataWriter, status LivelinessLostStatus)
}

// PublicationMatchedListener is notified when a writer gains or loses a
// reader.
type PublicationMatchedListener interface {
	OnPublicationMatched(w *DataWriter, status PublicationMatchedStatus)
}

// RequestedDeadlineMissedListener is notified when an instance is not
// updated within the reader's deadline.
type RequestedDeadlineMissedListener interface {
	OnRequestedDeadlineMissed(r *DataReader, status RequestedDeadlineMissedStatus)
}

// RequestedIncompatibleQosListener is notified when a writer offers less
// than the reader requests.
type RequestedIncompatibleQosListener interface {
	OnRequestedIncompatibleQos(r *DataReader, status RequestedIncompatibleQosStatus)
}

// SampleRejectedListener is notified when resource limits refuse a sample.
type SampleRejectedListener interface {
	OnSampleRejected(r *DataReader, status SampleRejectedStatus)
}

// LivelinessChangedListener is notified when a matched writer becomes
// alive or not alive.
type LivelinessChangedListener interface {
	OnLivelinessChanged(r *DataReader, status LivelinessChangedStatus)
}

// DataAvailableListener is notified when a reader has new data.
type DataAvailableListener interface {
	OnDataAvailable(r *DataReader)
}

// SubscriptionMatchedListener is notified when a reader gains or loses a
// writer.
type SubscriptionMatchedListener interface {
	OnSubscriptionMatched(r *DataReader, status SubscriptionMatchedStatus)
}

// SampleLostListener is notified when samples never reach the reader.
type SampleLostListener interface {
	OnSampleLost(r *DataReader, status SampleLostStatus)
}

// DataOnReadersListener is notified when any reader of a subscriber has
// new data. It takes precedence over DataAvailableListener.
type DataOnReadersListener interface {
	OnDataOnReaders(s *Subscriber)
}

// NoopListener implements every callback with an empty body. Embed it to
// override a few.
type NoopListener struct{}

func (NoopListener) OnInconsistentTopic(*Topic, InconsistentTopicStatus)                    {}
func (NoopListener) OnOfferedDeadlineMissed(*DataWriter, OfferedDeadlineMissedStatus)       {}
func (NoopListener) OnOfferedIncompatibleQos(*DataWriter, OfferedIncompatibleQosStatus)     {}
func (NoopListener) OnLivelinessLost(*DataWriter, LivelinessLostStatus)                     {}
func (NoopListener) OnPublicationMatched(*DataWriter, PublicationMatchedStatus)             {}
func (NoopListener) OnRequestedDeadlineMissed(*DataReader, RequestedDeadlineMissedStatus)   {}
func (NoopListener) OnRequestedIncompatibleQos(*DataReader, RequestedIncompatibleQosStatus) {}
func (NoopListener) OnSampleRejected(*DataReader, SampleRejectedStatus)                     {}
func (NoopListener) OnLivelinessChanged(*DataReader, LivelinessChangedStatus)               {}
func (NoopListener) OnDataAvailable(*DataReader)                                            {}
func (NoopListener) OnSubscriptionMatched(*DataReader, SubscriptionMatchedStatus)           {}
func (NoopListener) OnSampleLost(*DataReader, SampleLostStatus)                             {}
func (NoopListener) OnDataOnReaders(*Subscriber)                                            {}

// listenerFor walks the chain from the entity to its ancestors and returns
// the first listener that enables kind and implements L.
func listenerFor[L any](kind StatusMask, chain ...*entity) (L, bool) {
	var zero L
	for _, e := range chain {
		if e == nil {
			continue
		}
		b := e.listener.Load()
		if b == nil || b.mask&kind == 0 {
			continue
		}
		if l, ok := b.l.(L); ok {
			return l, true
		}
	}
	return zero, false
}

// notice is a status change captured under the lock that guards the
// status. It runs after the lock is released.
type notice func()

func fire(ns []notice) {
	for _, n := range ns {
		n()
	}
}

// capture records a status change of chain[0]. When a listener in the
// chain takes kind, take snapshots and resets the status now and the
// listener receives that value. Otherwise the status is raised for
// conditions and Get calls. The caller holds the lock take needs.
func capture[L, S any](p *Participant, kind StatusMask, chain []*entity, take func() S, call func(L, S)) notice {
	l, ok := listenerFor[L](kind, chain...)
	if !ok {
		return func() { chain[0].raise(kind) }
	}
	st := take()
	return func() {
		chain[0].clear(kind)
		p.dispatch(func() {
			if chain[0].deleted.Load() {
				return
			}
			call(l, st)
		})
	}
}

// notifyWith queues call on the participant's dispatch goroutine when a
// listener in the chain takes kind.
func notifyWith[L any](p *Participant, kind StatusMask, chain []*entity, call func(L)) {
	l, ok := listenerFor[L](kind, chain...)
	if !ok {
		return
	}
	p.dispatch(func() {
		if chain[0].deleted.Load() {
			return
		}
		call(l)
	})
}
