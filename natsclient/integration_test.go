//go:build integration

package natsclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	var got atomic.Int32
	_, err := tc.Client.Subscribe(ctx, "semdds.0.spdp", func(_ context.Context, data []byte) {
		if string(data) == "hello" {
			got.Add(1)
		}
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "semdds.0.spdp", []byte("hello")))
	require.NoError(t, tc.Client.Flush(ctx))

	assert.Eventually(t, func() bool { return got.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_KVStore(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("semdds_test"))
	ctx := context.Background()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "semdds_test"})
	require.NoError(t, err)
	kv := NewKVStore(bucket)

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	_, err = kv.Put(ctx, "Square.k1", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, kv.UpdateWithRetry(ctx, "Square.k1", func(cur []byte) ([]byte, error) {
		return append(cur, 'b'), nil
	}))
	require.NoError(t, kv.UpdateWithRetry(ctx, "Square.k2", func(cur []byte) ([]byte, error) {
		assert.Nil(t, cur)
		return []byte("new"), nil
	}))

	entry, err := kv.Get(ctx, "Square.k1")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(entry.Value))

	keys, err := kv.Keys(ctx, "Square.>")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Square.k1", "Square.k2"}, keys)

	require.NoError(t, kv.Delete(ctx, "Square.k1"))
	_, err = kv.Get(ctx, "Square.k1")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	require.NoError(t, tc.Client.DeleteKeyValueBucket(ctx, "semdds_test"))
}
