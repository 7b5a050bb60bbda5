package dds

import (
	"context"
	"sync"
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
)

// WaitSet blocks a goroutine until one of its attached conditions
// triggers. Only one goroutine may wait on a set at a time.
type WaitSet struct {
	mu      sync.Mutex
	conds   []Condition
	waiting bool
	wakeCh  chan struct{}
}

// NewWaitSet creates an empty wait set.
func NewWaitSet() *WaitSet {
	return &WaitSet{wakeCh: make(chan struct{}, 1)}
}

func (ws *WaitSet) wake() {
	select {
	case ws.wakeCh <- struct{}{}:
	default:
	}
}

// AttachCondition adds c to the set. Attaching twice is a no-op.
func (ws *WaitSet) AttachCondition(c Condition) error {
	if c == nil {
		return errors.Fail(errors.RetcodeBadParameter, "WaitSet", "AttachCondition", "condition is nil")
	}
	ws.mu.Lock()
	for _, have := range ws.conds {
		if have == c {
			ws.mu.Unlock()
			return nil
		}
	}
	ws.conds = append(ws.conds, c)
	ws.mu.Unlock()
	c.attach(ws)
	ws.wake()
	return nil
}

// DetachCondition removes c from the set.
func (ws *WaitSet) DetachCondition(c Condition) error {
	ws.mu.Lock()
	idx := -1
	for i, have := range ws.conds {
		if have == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		ws.mu.Unlock()
		return errors.Fail(errors.RetcodePreconditionNotMet, "WaitSet", "DetachCondition", "condition is not attached")
	}
	ws.conds = append(ws.conds[:idx], ws.conds[idx+1:]...)
	ws.mu.Unlock()
	c.detach(ws)
	ws.wake()
	return nil
}

// Conditions returns the attached conditions.
func (ws *WaitSet) Conditions() []Condition {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return append([]Condition(nil), ws.conds...)
}

func (ws *WaitSet) triggered() []Condition {
	ws.mu.Lock()
	conds := append([]Condition(nil), ws.conds...)
	ws.mu.Unlock()
	var out []Condition
	for _, c := range conds {
		if c.TriggerValue() {
			out = append(out, c)
		}
	}
	return out
}

// Wait returns the triggered conditions as soon as at least one attached
// condition triggers. A zero timeout polls once; qos.Infinite waits until a
// trigger or ctx ends. It fails with Timeout when nothing triggers in time.
func (ws *WaitSet) Wait(ctx context.Context, timeout time.Duration) ([]Condition, error) {
	ws.mu.Lock()
	if ws.waiting {
		ws.mu.Unlock()
		return nil, errors.Fail(errors.RetcodePreconditionNotMet, "WaitSet", "Wait", "another goroutine is waiting")
	}
	ws.waiting = true
	ws.mu.Unlock()
	defer func() {
		ws.mu.Lock()
		ws.waiting = false
		ws.mu.Unlock()
	}()

	var expired <-chan time.Time
	if timeout != qos.Infinite && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		if out := ws.triggered(); len(out) > 0 {
			return out, nil
		}
		if timeout <= 0 {
			return nil, errors.Fail(errors.RetcodeTimeout, "WaitSet", "Wait", "wait for conditions")
		}
		select {
		case <-ws.wakeCh:
		case <-expired:
			if out := ws.triggered(); len(out) > 0 {
				return out, nil
			}
			return nil, errors.Fail(errors.RetcodeTimeout, "WaitSet", "Wait", "wait for conditions")
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "WaitSet", "Wait", "wait for conditions")
		}
	}
}
