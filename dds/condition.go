package dds

import (
	"sync"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/filter"
)

// Condition is something a WaitSet can wait on.
type Condition interface {
	TriggerValue() bool
	attach(ws *WaitSet)
	detach(ws *WaitSet)
}

type condBase struct {
	mu       sync.Mutex
	waitsets map[*WaitSet]struct{}
}

func (c *condBase) attach(ws *WaitSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waitsets == nil {
		c.waitsets = make(map[*WaitSet]struct{})
	}
	c.waitsets[ws] = struct{}{}
}

func (c *condBase) detach(ws *WaitSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waitsets, ws)
}

func (c *condBase) signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ws := range c.waitsets {
		ws.wake()
	}
}

func (c *condBase) attachedTo() []*WaitSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*WaitSet, 0, len(c.waitsets))
	for ws := range c.waitsets {
		out = append(out, ws)
	}
	return out
}

// GuardCondition is triggered by the application.
type GuardCondition struct {
	condBase
	vmu     sync.Mutex
	trigger bool
}

// NewGuardCondition creates an untriggered guard condition.
func NewGuardCondition() *GuardCondition {
	return &GuardCondition{}
}

// TriggerValue reports the current trigger value.
func (g *GuardCondition) TriggerValue() bool {
	g.vmu.Lock()
	defer g.vmu.Unlock()
	return g.trigger
}

// SetTriggerValue sets the trigger and wakes attached wait sets.
func (g *GuardCondition) SetTriggerValue(v bool) {
	g.vmu.Lock()
	g.trigger = v
	g.vmu.Unlock()
	g.signal()
}

// StatusCondition triggers while the entity has a changed status in the
// enabled set.
type StatusCondition struct {
	condBase
	owner Entity

	vmu     sync.Mutex
	enabled StatusMask
}

func newStatusCondition(owner Entity) *StatusCondition {
	return &StatusCondition{owner: owner, enabled: StatusAll}
}

// TriggerValue reports whether an enabled status has changed.
func (s *StatusCondition) TriggerValue() bool {
	s.vmu.Lock()
	mask := s.enabled
	s.vmu.Unlock()
	return s.owner.GetStatusChanges()&mask != 0
}

// SetEnabledStatuses restricts the statuses the condition looks at.
func (s *StatusCondition) SetEnabledStatuses(mask StatusMask) {
	s.vmu.Lock()
	s.enabled = mask
	s.vmu.Unlock()
	s.signal()
}

// GetEnabledStatuses returns the statuses the condition looks at.
func (s *StatusCondition) GetEnabledStatuses() StatusMask {
	s.vmu.Lock()
	defer s.vmu.Unlock()
	return s.enabled
}

// GetEntity returns the entity the condition belongs to.
func (s *StatusCondition) GetEntity() Entity { return s.owner }

func (s *StatusCondition) detachAll() {
	for _, ws := range s.attachedTo() {
		_ = ws.DetachCondition(s)
	}
}

// DataCondition selects samples of one reader. ReadCondition and
// QueryCondition implement it.
type DataCondition interface {
	Condition
	GetDataReader() *DataReader
	GetSampleStateMask() SampleStateKind
	GetViewStateMask() ViewStateKind
	GetInstanceStateMask() InstanceStateKind
	selector() selector
}

// ReadCondition triggers while its reader holds a sample in the selected
// states.
type ReadCondition struct {
	condBase
	reader   *DataReader
	samples  SampleStateKind
	views    ViewStateKind
	states   InstanceStateKind
	query    *queryState
	released bool
}

// TriggerValue reports whether the reader has a matching sample.
func (c *ReadCondition) TriggerValue() bool {
	return c.reader.hasMatching(c.selector())
}

// GetDataReader returns the reader the condition was created on.
func (c *ReadCondition) GetDataReader() *DataReader { return c.reader }

// GetSampleStateMask returns the sample states the condition selects.
func (c *ReadCondition) GetSampleStateMask() SampleStateKind { return c.samples }

// GetViewStateMask returns the view states the condition selects.
func (c *ReadCondition) GetViewStateMask() ViewStateKind { return c.views }

// GetInstanceStateMask returns the instance states the condition selects.
func (c *ReadCondition) GetInstanceStateMask() InstanceStateKind { return c.states }

func (c *ReadCondition) selector() selector {
	sel := selector{samples: c.samples, views: c.views, states: c.states}
	if c.query != nil {
		sel.query = c.query.snapshot()
	}
	return sel
}

func (c *ReadCondition) detachAll() {
	for _, ws := range c.attachedTo() {
		_ = ws.DetachCondition(c)
	}
}

type queryState struct {
	mu     sync.RWMutex
	text   string
	expr   *filter.Expression
	params []string
}

type boundQuery struct {
	expr   *filter.Expression
	params []string
}

func (q *queryState) snapshot() *boundQuery {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return &boundQuery{expr: q.expr, params: q.params}
}

// QueryCondition is a ReadCondition that also filters sample content.
type QueryCondition struct {
	*ReadCondition
}

// GetQueryExpression returns the filter expression text.
func (c *QueryCondition) GetQueryExpression() string {
	c.query.mu.RLock()
	defer c.query.mu.RUnlock()
	return c.query.text
}

// GetQueryParameters returns the current expression parameters.
func (c *QueryCondition) GetQueryParameters() []string {
	c.query.mu.RLock()
	defer c.query.mu.RUnlock()
	return append([]string(nil), c.query.params...)
}

// SetQueryParameters replaces the expression parameters.
func (c *QueryCondition) SetQueryParameters(params []string) error {
	if err := c.query.expr.CheckParams(params); err != nil {
		return errors.WrapInvalid(err, "QueryCondition", "SetQueryParameters", "check parameters")
	}
	c.query.mu.Lock()
	c.query.params = append([]string(nil), params...)
	c.query.mu.Unlock()
	c.signal()
	return nil
}
