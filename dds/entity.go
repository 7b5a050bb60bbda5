package dds

import (
	"sync"
	"sync/atomic"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/rtps"
)

// Entity is the behavior shared by participants, topics, publishers,
// subscribers, writers and readers.
type Entity interface {
	Enable() error
	IsEnabled() bool
	GetStatusCondition() *StatusCondition
	GetStatusChanges() StatusMask
	GetInstanceHandle() InstanceHandle
	SetListener(l Listener, mask StatusMask) error
	GetListener() (Listener, StatusMask)
}

type listenerBinding struct {
	l    Listener
	mask StatusMask
}

// entity carries the state common to every DDS entity. Status changes are
// kept as a bit set; raising a bit wakes the status condition.
type entity struct {
	handle  InstanceHandle
	guid    rtps.GUID
	enabled atomic.Bool
	deleted atomic.Bool

	cond     *StatusCondition
	listener atomic.Pointer[listenerBinding]

	statusMu sync.Mutex
	changes  StatusMask
}

func (e *entity) init(self Entity, handle InstanceHandle, guid rtps.GUID, l Listener, mask StatusMask) {
	e.handle = handle
	e.guid = guid
	e.cond = newStatusCondition(self)
	if l != nil {
		e.listener.Store(&listenerBinding{l: l, mask: mask})
	}
}

// GetInstanceHandle returns the handle identifying the entity.
func (e *entity) GetInstanceHandle() InstanceHandle { return e.handle }

// GUID returns the RTPS identity of the entity.
func (e *entity) GUID() rtps.GUID { return e.guid }

// IsEnabled reports whether Enable has succeeded.
func (e *entity) IsEnabled() bool { return e.enabled.Load() }

// GetStatusCondition returns the condition tied to the entity's statuses.
func (e *entity) GetStatusCondition() *StatusCondition { return e.cond }

// GetStatusChanges returns the statuses changed since they were last read.
func (e *entity) GetStatusChanges() StatusMask {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.changes
}

// SetListener installs l for the statuses in mask. A nil listener removes
// the current one.
func (e *entity) SetListener(l Listener, mask StatusMask) error {
	if e.deleted.Load() {
		return errors.ErrAlreadyDeleted
	}
	if l == nil {
		e.listener.Store(nil)
		return nil
	}
	e.listener.Store(&listenerBinding{l: l, mask: mask})
	return nil
}

// GetListener returns the installed listener and its mask.
func (e *entity) GetListener() (Listener, StatusMask) {
	b := e.listener.Load()
	if b == nil {
		return nil, StatusNone
	}
	return b.l, b.mask
}

func (e *entity) raise(kind StatusMask) {
	e.statusMu.Lock()
	e.changes |= kind
	e.statusMu.Unlock()
	e.cond.signal()
}

func (e *entity) clear(kind StatusMask) {
	e.statusMu.Lock()
	e.changes &^= kind
	e.statusMu.Unlock()
	e.cond.signal()
}

func (e *entity) changed(kind StatusMask) bool {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.changes&kind != 0
}

// check guards operations that need a live entity.
func (e *entity) check(component, method string) error {
	if e.deleted.Load() {
		return errors.Fail(errors.RetcodeAlreadyDeleted, component, method, "check entity")
	}
	return nil
}

// checkEnabled guards operations that need an enabled entity.
func (e *entity) checkEnabled(component, method string) error {
	if err := e.check(component, method); err != nil {
		return err
	}
	if !e.enabled.Load() {
		return errors.Fail(errors.RetcodeNotEnabled, component, method, "check entity")
	}
	return nil
}

func (e *entity) markDeleted() {
	e.deleted.Store(true)
	e.listener.Store(nil)
	e.cond.detachAll()
}
