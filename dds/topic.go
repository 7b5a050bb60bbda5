package dds

import (
	"sync"

	"github.com/c360/semdds/discovery"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/filter"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// TopicDescription is what a reader can be created on: a Topic, a
// ContentFilteredTopic or a MultiTopic.
type TopicDescription interface {
	GetName() string
	GetTypeName() string
	GetParticipant() *Participant
}

// Topic names a data stream of one type within a domain.
type Topic struct {
	entity
	participant *Participant
	name        string
	ts          TypeSupport
	builtin     bool

	mu           sync.Mutex
	qos          qos.TopicQos
	inconsistent InconsistentTopicStatus
	seenRemote   map[rtps.GUID]bool
}

func newTopic(p *Participant, name string, ts TypeSupport, q qos.TopicQos, l Listener, mask StatusMask, builtin bool) *Topic {
	t := &Topic{
		participant: p,
		name:        name,
		ts:          ts,
		builtin:     builtin,
		qos:         q,
		seenRemote:  make(map[rtps.GUID]bool),
	}
	guid := rtps.GUID{Prefix: p.prefix, Entity: p.newEntityID(rtps.KindTopic)}
	t.init(t, p.factory.nextHandle(), guid, l, mask)
	return t
}

// GetName returns the topic name.
func (t *Topic) GetName() string { return t.name }

// GetTypeName returns the name of the topic's type.
func (t *Topic) GetTypeName() string { return t.ts.TypeName() }

// GetParticipant returns the participant that created the topic.
func (t *Topic) GetParticipant() *Participant { return t.participant }

// TypeSupport returns the type support of the topic's type.
func (t *Topic) TypeSupport() TypeSupport { return t.ts }

// Enable announces the topic.
func (t *Topic) Enable() error {
	if err := t.check("Topic", "Enable"); err != nil {
		return err
	}
	if !t.participant.IsEnabled() {
		return errors.Fail(errors.RetcodePreconditionNotMet, "Topic", "Enable", "participant is not enabled")
	}
	if t.enabled.Swap(true) {
		return nil
	}
	t.announce()
	return nil
}

func (t *Topic) topicData() discovery.TopicData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return discovery.TopicData{Key: t.guid, Name: t.name, TypeName: t.ts.TypeName(), Qos: t.qos.Clone()}
}

func (t *Topic) announce() {
	if t.builtin {
		return
	}
	p := t.participant
	if err := p.discoverySvc().AddTopic(p.ctx, t.topicData()); err != nil {
		p.logger.Warn("announce topic", "topic", t.name, "error", err)
	}
}

// GetQos returns the topic QoS.
func (t *Topic) GetQos() qos.TopicQos {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.qos.Clone()
}

// SetQos replaces the topic QoS. Immutable policies may only change before
// the topic is enabled.
func (t *Topic) SetQos(q qos.TopicQos) error {
	if err := t.check("Topic", "SetQos"); err != nil {
		return err
	}
	if err := qos.CheckTopicQos(q); err != nil {
		return err
	}
	t.mu.Lock()
	if t.enabled.Load() {
		if err := qos.ChangeableTopicQos(t.qos, q); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.qos = q.Clone()
	t.mu.Unlock()
	if t.enabled.Load() {
		t.announce()
	}
	return nil
}

// GetInconsistentTopicStatus returns and resets the inconsistent topic
// status.
func (t *Topic) GetInconsistentTopicStatus() (InconsistentTopicStatus, error) {
	if err := t.check("Topic", "GetInconsistentTopicStatus"); err != nil {
		return InconsistentTopicStatus{}, err
	}
	t.mu.Lock()
	st := t.takeInconsistent()
	t.mu.Unlock()
	t.clear(StatusInconsistentTopic)
	return st, nil
}

// checkRemote counts a remote topic with the same name and another type.
func (t *Topic) checkRemote(td discovery.TopicData) {
	if td.TypeName == t.ts.TypeName() {
		return
	}
	t.mu.Lock()
	if t.seenRemote[td.Key] {
		t.mu.Unlock()
		return
	}
	t.seenRemote[td.Key] = true
	t.inconsistent.TotalCount++
	t.inconsistent.TotalCountChange++
	p := t.participant
	n := capture(p, StatusInconsistentTopic, []*entity{&t.entity, &p.entity}, t.takeInconsistent,
		func(l InconsistentTopicListener, st InconsistentTopicStatus) { l.OnInconsistentTopic(t, st) })
	t.mu.Unlock()

	p.logger.Warn("inconsistent topic", "topic", t.name, "local_type", t.ts.TypeName(), "remote_type", td.TypeName)
	n()
}

// takeInconsistent snapshots and resets the inconsistent topic status.
// t.mu is held.
func (t *Topic) takeInconsistent() InconsistentTopicStatus {
	st := t.inconsistent
	t.inconsistent.TotalCountChange = 0
	return st
}

func (t *Topic) close() {
	if !t.deleted.CompareAndSwap(false, true) {
		return
	}
	if t.enabled.Load() && !t.builtin {
		p := t.participant
		if err := p.discoverySvc().RemoveTopic(p.ctx, t.guid); err != nil {
			p.logger.Debug("remove topic", "topic", t.name, "error", err)
		}
	}
	t.markDeleted()
}

// ContentFilteredTopic is a topic restricted to the samples matching a
// filter expression. Filtering happens in the reader.
type ContentFilteredTopic struct {
	name        string
	participant *Participant
	related     *Topic

	mu     sync.RWMutex
	expr   *filter.Expression
	params []string
}

// GetName returns the topic name.
func (c *ContentFilteredTopic) GetName() string { return c.name }

// GetTypeName returns the related topic's type name.
func (c *ContentFilteredTopic) GetTypeName() string { return c.related.GetTypeName() }

// GetParticipant returns the participant that created the topic.
func (c *ContentFilteredTopic) GetParticipant() *Participant { return c.participant }

// GetRelatedTopic returns the filtered topic.
func (c *ContentFilteredTopic) GetRelatedTopic() *Topic { return c.related }

// GetFilterExpression returns the filter text.
func (c *ContentFilteredTopic) GetFilterExpression() string { return c.expr.String() }

// GetExpressionParameters returns the current parameters.
func (c *ContentFilteredTopic) GetExpressionParameters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.params...)
}

// SetExpressionParameters replaces the parameters. Readers on the topic
// filter later samples with the new values and re-announce their filter.
func (c *ContentFilteredTopic) SetExpressionParameters(params []string) error {
	if err := c.expr.CheckParams(params); err != nil {
		return errors.WrapInvalid(err, "ContentFilteredTopic", "SetExpressionParameters", "check parameters")
	}
	c.mu.Lock()
	c.params = append([]string(nil), params...)
	c.mu.Unlock()
	for _, r := range c.participant.localReaders() {
		if r.cft == c && r.IsEnabled() {
			r.announce()
		}
	}
	return nil
}

// matches evaluates the filter. Samples that fail to evaluate are dropped.
func (c *ContentFilteredTopic) matches(sample []byte) bool {
	c.mu.RLock()
	params := c.params
	c.mu.RUnlock()
	ok, err := c.expr.Evaluate(sample, params)
	return err == nil && ok
}

func (c *ContentFilteredTopic) contentFilter() *discovery.ContentFilter {
	return &discovery.ContentFilter{
		TopicName:    c.name,
		RelatedTopic: c.related.name,
		Expression:   c.expr.String(),
		Parameters:   c.GetExpressionParameters(),
	}
}
