package discovery

import (
	"sync"

	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// MatchState is the state of one writer/reader pair.
type MatchState int

// Match states. A pair is Matching while it shares a topic and partition
// but the offered QoS does not satisfy the requested QoS.
const (
	Unmatched MatchState = iota
	Matching
	Matched
)

func (s MatchState) String() string {
	switch s {
	case Unmatched:
		return "unmatched"
	case Matching:
		return "matching"
	case Matched:
		return "matched"
	}
	return "unknown"
}

// Evaluate decides whether a publication and a subscription match. A topic,
// type or partition mismatch returns false with no incompatible policies.
func Evaluate(pub PublicationData, sub SubscriptionData) (bool, []qos.PolicyID) {
	if pub.TopicName != sub.TopicName || pub.TypeName != sub.TypeName {
		return false, nil
	}
	if !qos.PartitionsMatch(pub.Publisher.Partition.Name, sub.Subscriber.Partition.Name) {
		return false, nil
	}
	if failed := qos.Compatible(pub.Offered(), sub.Requested()); len(failed) > 0 {
		return false, failed
	}
	return true, nil
}

// Transition is a change of a pair's state.
type Transition struct {
	Writer       rtps.GUID
	Reader       rtps.GUID
	From         MatchState
	To           MatchState
	Incompatible []qos.PolicyID
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

type pairKey struct {
	writer, reader rtps.GUID
}

// Matcher tracks the state of every writer/reader pair it has evaluated.
// Each state change is returned exactly once.
type Matcher struct {
	mu    sync.Mutex
	pairs map[pairKey]MatchState
}

// NewMatcher creates an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{pairs: make(map[pairKey]MatchState)}
}

// Consider evaluates a pair and records its new state.
func (m *Matcher) Consider(pub PublicationData, sub SubscriptionData) Transition {
	ok, failed := Evaluate(pub, sub)
	to := Unmatched
	switch {
	case ok:
		to = Matched
	case len(failed) > 0:
		to = Matching
	}

	key := pairKey{pub.Key, sub.Key}
	m.mu.Lock()
	from := m.pairs[key]
	if to == Unmatched {
		delete(m.pairs, key)
	} else {
		m.pairs[key] = to
	}
	m.mu.Unlock()

	t := Transition{Writer: pub.Key, Reader: sub.Key, From: from, To: to}
	if to == Matching && from != Matching {
		t.Incompatible = failed
	}
	return t
}

// State returns the recorded state of a pair.
func (m *Matcher) State(writer, reader rtps.GUID) MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[pairKey{writer, reader}]
}

// Remove forgets every pair involving guid and returns the transitions of
// the pairs that were matched or matching.
func (m *Matcher) Remove(guid rtps.GUID) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transition
	for key, state := range m.pairs {
		if key.writer == guid || key.reader == guid {
			delete(m.pairs, key)
			out = append(out, Transition{Writer: key.writer, Reader: key.reader, From: state, To: Unmatched})
		}
	}
	return out
}

// RemoveParticipant forgets every pair with an endpoint of the participant.
func (m *Matcher) RemoveParticipant(prefix rtps.GUIDPrefix) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transition
	for key, state := range m.pairs {
		if key.writer.Prefix == prefix || key.reader.Prefix == prefix {
			delete(m.pairs, key)
			out = append(out, Transition{Writer: key.writer, Reader: key.reader, From: state, To: Unmatched})
		}
	}
	return out
}

// MatchedReaders returns the readers matched with a writer.
func (m *Matcher) MatchedReaders(writer rtps.GUID) []rtps.GUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rtps.GUID
	for key, state := range m.pairs {
		if key.writer == writer && state == Matched {
			out = append(out, key.reader)
		}
	}
	return out
}

// MatchedWriters returns the writers matched with a reader.
func (m *Matcher) MatchedWriters(reader rtps.GUID) []rtps.GUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rtps.GUID
	for key, state := range m.pairs {
		if key.reader == reader && state == Matched {
			out = append(out, key.writer)
		}
	}
	return out
}
