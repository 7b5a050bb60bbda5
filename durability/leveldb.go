package durability

import (
	"context"
	stderrors "errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/rtps"
)

// LevelDBStore persists records in a LevelDB directory. Keys are
// "<topic token>/<key hash hex>".
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database in dir.
func OpenLevelDB(dir string) (*LevelDBStore, error) {
	if dir == "" {
		return nil, errors.Fail(errors.RetcodeBadParameter, "durability", "OpenLevelDB", "dir is required")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.WrapFatal(err, "durability", "OpenLevelDB", "open "+dir)
	}
	return &LevelDBStore{db: db}, nil
}

func levelKey(topic string, key rtps.KeyHash) []byte {
	return []byte(topicToken(topic) + "/" + key.String())
}

// Put implements Store.
func (s *LevelDBStore) Put(_ context.Context, rec Record) error {
	if err := validate("Put", rec.Topic); err != nil {
		return err
	}
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.db.Put(levelKey(rec.Topic, rec.Key), b, nil); err != nil {
		return errors.WrapTransient(err, "durability", "Put", "leveldb put")
	}
	return nil
}

// Load implements Store. Records come back in key order.
func (s *LevelDBStore) Load(ctx context.Context, topic string) ([]Record, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(topicToken(topic)+"/")), nil)
	defer it.Release()

	var out []Record
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "durability", "Load", "iterate")
		}
		rec, err := decodeRecord(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, errors.WrapTransient(err, "durability", "Load", "leveldb iterate")
	}
	return out, nil
}

// Delete implements Store.
func (s *LevelDBStore) Delete(_ context.Context, topic string, key rtps.KeyHash) error {
	err := s.db.Delete(levelKey(topic, key), nil)
	if err != nil && !stderrors.Is(err, leveldb.ErrNotFound) {
		return errors.WrapTransient(err, "durability", "Delete", "leveldb delete")
	}
	return nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	if err := s.db.Close(); err != nil && !stderrors.Is(err, leveldb.ErrClosed) {
		return errors.Wrap(err, "durability", "Close", "close leveldb")
	}
	return nil
}
