// Package durability keeps the samples of TRANSIENT and PERSISTENT writers
// beyond the writer's lifetime, so late-joining readers still receive them.
//
// A Store holds one Record per (topic, instance). The memory backend lives as
// long as the process; LevelDB and JetStream KV survive restarts.
package durability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/semdds/config"
	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/natsclient"
	"github.com/c360/semdds/rtps"
)

// Sample is one stored change.
type Sample struct {
	Data            []byte    `json:"data"`
	SourceTimestamp time.Time `json:"source_timestamp"`
	Writer          rtps.GUID `json:"writer"`
	Sequence        int64     `json:"sequence"`
}

// Record is the durable history of one instance, oldest sample first.
type Record struct {
	Topic    string       `json:"topic"`
	TypeName string       `json:"type_name"`
	Key      rtps.KeyHash `json:"key"`
	Samples  []Sample     `json:"samples"`
	Disposed bool         `json:"disposed,omitempty"`
}

// Trim drops the oldest samples beyond depth. A depth below one keeps all.
func (r *Record) Trim(depth int) {
	if depth > 0 && len(r.Samples) > depth {
		r.Samples = append([]Sample(nil), r.Samples[len(r.Samples)-depth:]...)
	}
}

// Store persists instance records. Implementations are safe for concurrent
// use.
type Store interface {
	// Put replaces the record of (rec.Topic, rec.Key).
	Put(ctx context.Context, rec Record) error
	// Load returns every record of a topic.
	Load(ctx context.Context, topic string) ([]Record, error)
	// Delete removes one instance. Deleting a missing instance is not an
	// error.
	Delete(ctx context.Context, topic string, key rtps.KeyHash) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory    = "memory"
	BackendLevelDB   = "leveldb"
	BackendJetStream = "jetstream"
)

// Open builds the store selected by cfg. The JetStream backend needs a
// connected client.
func Open(ctx context.Context, cfg config.DurabilityConfig, client *natsclient.Client, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "durability", "backend", cfg.Backend)

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendLevelDB:
		s, err := OpenLevelDB(cfg.Dir)
		if err != nil {
			return nil, err
		}
		logger.Info("durability store opened", "dir", cfg.Dir)
		return s, nil
	case BackendJetStream:
		if client == nil {
			return nil, errors.Fail(errors.RetcodePreconditionNotMet, "durability", "Open", "jetstream backend needs a nats client")
		}
		s, err := NewJetStreamStore(ctx, client, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		logger.Info("durability store opened", "bucket", cfg.Bucket)
		return s, nil
	}
	return nil, errors.Failf(errors.RetcodeBadParameter, "durability", "Open", "unknown backend %q", cfg.Backend)
}

func encodeRecord(rec Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.WrapInvalid(err, "durability", "encodeRecord", "marshal record")
	}
	return b, nil
}

func decodeRecord(b []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, errors.WrapInvalid(errors.ErrInvalidData, "durability", "decodeRecord", err.Error())
	}
	return rec, nil
}

// topicToken encodes a topic name into characters valid in KV keys and
// LevelDB prefixes without separators.
func topicToken(topic string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(topic))
}

func validate(method, topic string) error {
	if topic == "" {
		return errors.Fail(errors.RetcodeBadParameter, "durability", method, "topic is required")
	}
	return nil
}
