package durability

import (
	"context"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/natsclient"
	"github.com/c360/semdds/rtps"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "semdds_durability"

// JetStreamStore keeps records in a JetStream KV bucket. Keys are
// "<topic token>.<key hash hex>", so one topic is listed with a
// "<topic token>.*" filter.
type JetStreamStore struct {
	kv *natsclient.KVStore
}

// NewJetStreamStore opens or creates the bucket.
func NewJetStreamStore(ctx context.Context, client *natsclient.Client, bucket string) (*JetStreamStore, error) {
	if client == nil {
		return nil, errors.Fail(errors.RetcodeBadParameter, "durability", "NewJetStreamStore", "client is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "semdds transient and persistent samples",
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "durability", "NewJetStreamStore", "open bucket "+bucket)
	}
	return &JetStreamStore{kv: natsclient.NewKVStore(kv)}, nil
}

func kvKey(topic string, key rtps.KeyHash) string {
	return topicToken(topic) + "." + key.String()
}

// Put implements Store.
func (s *JetStreamStore) Put(ctx context.Context, rec Record) error {
	if err := validate("Put", rec.Topic); err != nil {
		return err
	}
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, kvKey(rec.Topic, rec.Key), b); err != nil {
		return errors.WrapTransient(err, "durability", "Put", "kv put")
	}
	return nil
}

// Load implements Store.
func (s *JetStreamStore) Load(ctx context.Context, topic string) ([]Record, error) {
	keys, err := s.kv.Keys(ctx, topicToken(topic)+".*")
	if err != nil {
		return nil, errors.WrapTransient(err, "durability", "Load", "kv keys")
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		entry, err := s.kv.Get(ctx, k)
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.WrapTransient(err, "durability", "Load", "kv get")
		}
		rec, err := decodeRecord(entry.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete implements Store.
func (s *JetStreamStore) Delete(ctx context.Context, topic string, key rtps.KeyHash) error {
	err := s.kv.Delete(ctx, kvKey(topic, key))
	if err != nil && !stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
		return errors.WrapTransient(err, "durability", "Delete", "kv delete")
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *JetStreamStore) Close() error { return nil }
