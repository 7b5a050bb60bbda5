package durability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/metric"
	"github.com/c360/semdds/rtps"
)

func record(topic, key string, samples ...string) Record {
	rec := Record{Topic: topic, TypeName: "ShapeType", Key: rtps.ComputeKeyHash([]byte(key))}
	for i, s := range samples {
		rec.Samples = append(rec.Samples, Sample{
			Data:            []byte(s),
			SourceTimestamp: time.Unix(1700000000+int64(i), 0).UTC(),
			Sequence:        int64(i + 1),
		})
	}
	return rec
}

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	recs, err := s.Load(ctx, "Square")
	require.NoError(t, err)
	assert.Empty(t, recs)

	blue := record("Square", "blue", `{"x":1}`, `{"x":2}`)
	red := record("Square", "red", `{"x":9}`)
	other := record("sensors::Temp", "blue", `{"t":20}`)
	for _, r := range []Record{blue, red, other} {
		require.NoError(t, s.Put(ctx, r))
	}

	recs, err = s.Load(ctx, "Square")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byKey := map[rtps.KeyHash]Record{}
	for _, r := range recs {
		byKey[r.Key] = r
	}
	assert.Equal(t, blue, byKey[blue.Key])
	assert.Equal(t, red, byKey[red.Key])

	// Put replaces the instance.
	blue.Samples = blue.Samples[1:]
	blue.Disposed = true
	require.NoError(t, s.Put(ctx, blue))
	recs, err = s.Load(ctx, "Square")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		if r.Key == blue.Key {
			assert.True(t, r.Disposed)
			assert.Len(t, r.Samples, 1)
		}
	}

	require.NoError(t, s.Delete(ctx, "Square", red.Key))
	require.NoError(t, s.Delete(ctx, "Square", red.Key))
	recs, err = s.Load(ctx, "Square")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = s.Load(ctx, "sensors::Temp")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, other, recs[0])

	assert.ErrorIs(t, s.Put(ctx, Record{}), errors.ErrBadParameter)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	// Stored samples do not alias the caller's buffers.
	ctx := context.Background()
	rec := record("T", "k", "abc")
	require.NoError(t, s.Put(ctx, rec))
	rec.Samples[0].Data[0] = 'z'
	recs, err := s.Load(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(recs[0].Samples[0].Data))

	require.NoError(t, s.Close())
	_, err = s.Load(ctx, "T")
	assert.ErrorIs(t, err, errors.ErrAlreadyDeleted)
}

func TestLevelDBStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// Records survive a reopen.
	s, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Load(context.Background(), "sensors::Temp")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = OpenLevelDB("")
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestRecordTrim(t *testing.T) {
	rec := record("T", "k", "a", "b", "c", "d")
	rec.Trim(0)
	assert.Len(t, rec.Samples, 4)
	rec.Trim(2)
	require.Len(t, rec.Samples, 2)
	assert.Equal(t, "c", string(rec.Samples[0].Data))
	assert.Equal(t, "d", string(rec.Samples[1].Data))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.DurabilityConfig{Backend: BackendMemory}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.DurabilityConfig{Backend: BackendLevelDB, Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LevelDBStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.DurabilityConfig{Backend: BackendJetStream}, nil, nil)
	assert.ErrorIs(t, err, errors.ErrPreconditionNotMet)

	_, err = Open(ctx, config.DurabilityConfig{Backend: "tape"}, nil, nil)
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestInstrument(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := Instrument(NewMemoryStore(), registry, BackendMemory)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record("T", "k", "a")))
	_, err = s.Load(ctx, "T")
	require.NoError(t, err)
	assert.Error(t, s.Put(ctx, Record{}))

	m := s.(*instrumented).m
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("load")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("put")))

	// A second store on the same backend name collides.
	_, err = Instrument(NewMemoryStore(), registry, BackendMemory)
	assert.Error(t, err)

	plain := NewMemoryStore()
	same, err := Instrument(plain, nil, BackendMemory)
	require.NoError(t, err)
	assert.Same(t, plain, same)
}
