package dds

import (
	"encoding/json"
	"time"

	"github.com/c360/semdds/errors"
)

// TypedWriter writes values of T as JSON samples.
type TypedWriter[T any] struct {
	*DataWriter
}

// NewTypedWriter wraps w. The topic type must accept the JSON encoding of T.
func NewTypedWriter[T any](w *DataWriter) *TypedWriter[T] {
	return &TypedWriter[T]{DataWriter: w}
}

func encodeTyped[T any](method string, v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TypedWriter", method, "encode sample")
	}
	return data, nil
}

// Write publishes v.
func (w *TypedWriter[T]) Write(v T) error {
	data, err := encodeTyped("Write", v)
	if err != nil {
		return err
	}
	return w.DataWriter.Write(data)
}

// WriteWithTimestamp publishes v with an explicit source timestamp.
func (w *TypedWriter[T]) WriteWithTimestamp(v T, ts time.Time) error {
	data, err := encodeTyped("WriteWithTimestamp", v)
	if err != nil {
		return err
	}
	return w.DataWriter.WriteWithTimestamp(data, ts)
}

// RegisterInstance registers the instance of v.
func (w *TypedWriter[T]) RegisterInstance(v T) (InstanceHandle, error) {
	data, err := encodeTyped("RegisterInstance", v)
	if err != nil {
		return HandleNil, err
	}
	return w.DataWriter.RegisterInstance(data)
}

// Dispose disposes the instance of v.
func (w *TypedWriter[T]) Dispose(v T) error {
	data, err := encodeTyped("Dispose", v)
	if err != nil {
		return err
	}
	return w.DataWriter.Dispose(data, HandleNil)
}

// UnregisterInstance unregisters the instance of v.
func (w *TypedWriter[T]) UnregisterInstance(v T) error {
	data, err := encodeTyped("UnregisterInstance", v)
	if err != nil {
		return err
	}
	return w.DataWriter.UnregisterInstance(data, HandleNil)
}

// TypedSample is a decoded sample. Value is the zero T when the sample
// carries no data.
type TypedSample[T any] struct {
	Value T
	Info  SampleInfo
}

// TypedReader decodes JSON samples into T.
type TypedReader[T any] struct {
	*DataReader
}

// NewTypedReader wraps r.
func NewTypedReader[T any](r *DataReader) *TypedReader[T] {
	return &TypedReader[T]{DataReader: r}
}

func decodeTyped[T any](method string, samples []Sample) ([]TypedSample[T], error) {
	out := make([]TypedSample[T], 0, len(samples))
	for _, s := range samples {
		ts := TypedSample[T]{Info: s.Info}
		if s.Info.ValidData {
			if err := json.Unmarshal(s.Data, &ts.Value); err != nil {
				return out, errors.WrapInvalid(err, "TypedReader", method, "decode sample")
			}
		}
		out = append(out, ts)
	}
	return out, nil
}

// Read reads samples without removing them.
func (r *TypedReader[T]) Read(maxSamples int, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]TypedSample[T], error) {
	samples, err := r.DataReader.Read(maxSamples, ss, vs, is)
	if err != nil {
		return nil, err
	}
	return decodeTyped[T]("Read", samples)
}

// Take removes and returns samples.
func (r *TypedReader[T]) Take(maxSamples int, ss SampleStateKind, vs ViewStateKind, is InstanceStateKind) ([]TypedSample[T], error) {
	samples, err := r.DataReader.Take(maxSamples, ss, vs, is)
	if err != nil {
		return nil, err
	}
	return decodeTyped[T]("Take", samples)
}

// TakeNextSample takes the next unread sample.
func (r *TypedReader[T]) TakeNextSample() (TypedSample[T], error) {
	s, err := r.DataReader.TakeNextSample()
	if err != nil {
		return TypedSample[T]{}, err
	}
	out, err := decodeTyped[T]("TakeNextSample", []Sample{s})
	if err != nil {
		return TypedSample[T]{}, err
	}
	return out[0], nil
}
