package discovery

import (
	"encoding/binary"
	"time"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/qos"
	"github.com/c360/semdds/rtps"
)

// fields builds a multi-field parameter value.
type fields struct {
	order rtps.ByteOrder
	b     []byte
}

func newFields(pl *rtps.ParameterList) *fields {
	return &fields{order: orderOf(pl)}
}

func orderOf(pl *rtps.ParameterList) rtps.ByteOrder {
	if pl.Order == nil {
		return binary.LittleEndian
	}
	return pl.Order
}

func (f *fields) u32(v uint32) *fields {
	f.b = f.order.AppendUint32(f.b, v)
	return f
}

func (f *fields) i32(v int32) *fields { return f.u32(uint32(v)) }

func (f *fields) dur(d time.Duration) *fields {
	rd := rtps.FromDuration(d)
	f.b = f.order.AppendUint32(f.b, uint32(rd.Seconds))
	f.b = f.order.AppendUint32(f.b, rd.Fraction)
	return f
}

func (f *fields) flag(v bool) *fields {
	var x byte
	if v {
		x = 1
	}
	f.b = append(f.b, x, 0, 0, 0)
	return f
}

// reader walks a multi-field parameter value. The first short read sets err.
type reader struct {
	id    rtps.ParameterID
	order rtps.ByteOrder
	b     []byte
	off   int
	err   error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.b) {
		r.err = errors.Failf(errors.RetcodeBadParameter, "discovery", "decode", "parameter 0x%04x is short", uint16(r.id))
		return false
	}
	return true
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := r.order.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) dur() time.Duration {
	if !r.need(8) {
		return 0
	}
	d := rtps.Duration{Seconds: int32(r.order.Uint32(r.b[r.off:])), Fraction: r.order.Uint32(r.b[r.off+4:])}
	r.off += 8
	return d.ToDuration()
}

func (r *reader) flag() bool {
	if !r.need(1) {
		return false
	}
	v := r.b[r.off] != 0
	r.off += 4
	if r.off > len(r.b) {
		r.off = len(r.b)
	}
	return v
}

// each runs fn on the parameter when present and returns the decode error.
func each(pl *rtps.ParameterList, id rtps.ParameterID, fn func(r *reader)) error {
	v, ok := pl.Get(id)
	if !ok {
		return nil
	}
	r := &reader{id: id, order: orderOf(pl), b: v}
	fn(r)
	return r.err
}

func putDurability(pl *rtps.ParameterList, p qos.DurabilityQosPolicy) {
	pl.AddUint32(rtps.PIDDurability, uint32(p.Kind))
}

func getDurability(pl *rtps.ParameterList, p *qos.DurabilityQosPolicy) error {
	return each(pl, rtps.PIDDurability, func(r *reader) { p.Kind = qos.DurabilityKind(r.i32()) })
}

func putDurabilityService(pl *rtps.ParameterList, p qos.DurabilityServiceQosPolicy) {
	f := newFields(pl).dur(p.ServiceCleanupDelay).i32(int32(p.HistoryKind)).i32(p.HistoryDepth).
		i32(p.MaxSamples).i32(p.MaxInstances).i32(p.MaxSamplesPerInstance)
	pl.Add(rtps.PIDDurabilityService, f.b)
}

func getDurabilityService(pl *rtps.ParameterList, p *qos.DurabilityServiceQosPolicy) error {
	return each(pl, rtps.PIDDurabilityService, func(r *reader) {
		p.ServiceCleanupDelay = r.dur()
		p.HistoryKind = qos.HistoryKind(r.i32())
		p.HistoryDepth = r.i32()
		p.MaxSamples = r.i32()
		p.MaxInstances = r.i32()
		p.MaxSamplesPerInstance = r.i32()
	})
}

func putPresentation(pl *rtps.ParameterList, p qos.PresentationQosPolicy) {
	pl.Add(rtps.PIDPresentation, newFields(pl).i32(int32(p.AccessScope)).flag(p.CoherentAccess).flag(p.OrderedAccess).b)
}

func getPresentation(pl *rtps.ParameterList, p *qos.PresentationQosPolicy) error {
	return each(pl, rtps.PIDPresentation, func(r *reader) {
		p.AccessScope = qos.PresentationAccessScope(r.i32())
		p.CoherentAccess = r.flag()
		p.OrderedAccess = r.flag()
	})
}

func putLiveliness(pl *rtps.ParameterList, p qos.LivelinessQosPolicy) {
	pl.Add(rtps.PIDLiveliness, newFields(pl).i32(int32(p.Kind)).dur(p.LeaseDuration).b)
}

func getLiveliness(pl *rtps.ParameterList, p *qos.LivelinessQosPolicy) error {
	return each(pl, rtps.PIDLiveliness, func(r *reader) {
		p.Kind = qos.LivelinessKind(r.i32())
		p.LeaseDuration = r.dur()
	})
}

// Reliability kinds are 1 and 2 on the wire.
func putReliability(pl *rtps.ParameterList, p qos.ReliabilityQosPolicy) {
	pl.Add(rtps.PIDReliability, newFields(pl).i32(int32(p.Kind)+1).dur(p.MaxBlockingTime).b)
}

func getReliability(pl *rtps.ParameterList, p *qos.ReliabilityQosPolicy) error {
	return each(pl, rtps.PIDReliability, func(r *reader) {
		p.Kind = qos.ReliabilityKind(r.i32() - 1)
		p.MaxBlockingTime = r.dur()
	})
}

func putHistory(pl *rtps.ParameterList, p qos.HistoryQosPolicy) {
	pl.Add(rtps.PIDHistory, newFields(pl).i32(int32(p.Kind)).i32(p.Depth).b)
}

func getHistory(pl *rtps.ParameterList, p *qos.HistoryQosPolicy) error {
	return each(pl, rtps.PIDHistory, func(r *reader) {
		p.Kind = qos.HistoryKind(r.i32())
		p.Depth = r.i32()
	})
}

func putResourceLimits(pl *rtps.ParameterList, p qos.ResourceLimitsQosPolicy) {
	pl.Add(rtps.PIDResourceLimits, newFields(pl).i32(p.MaxSamples).i32(p.MaxInstances).i32(p.MaxSamplesPerInstance).b)
}

func getResourceLimits(pl *rtps.ParameterList, p *qos.ResourceLimitsQosPolicy) error {
	return each(pl, rtps.PIDResourceLimits, func(r *reader) {
		p.MaxSamples = r.i32()
		p.MaxInstances = r.i32()
		p.MaxSamplesPerInstance = r.i32()
	})
}

func getDuration(pl *rtps.ParameterList, id rtps.ParameterID, d *time.Duration) error {
	v, ok, err := pl.Duration(id)
	if ok && err == nil {
		*d = v
	}
	return err
}

func getInt32(pl *rtps.ParameterList, id rtps.ParameterID, v *int32) error {
	x, ok, err := pl.Int32(id)
	if ok && err == nil {
		*v = x
	}
	return err
}

func getBytes(pl *rtps.ParameterList, id rtps.ParameterID, v *[]byte) error {
	x, ok, err := pl.Bytes(id)
	if ok && err == nil {
		*v = x
	}
	return err
}

func addBytesIfAny(pl *rtps.ParameterList, id rtps.ParameterID, v []byte) {
	if len(v) > 0 {
		pl.AddBytes(id, v)
	}
}

// firstErr returns the first non-nil error.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
