package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/callscribe/callscribe/internal/session"
)

// BadgerStore is the default journal backend:
// - finalized sessions: key = "done:<session key>" (JSON)
// - failure markers:    key = "fail:<session key>" (JSON)
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the journal at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) PutFinalized(ctx context.Context, rec session.FinalizedSession) error {
	key := []byte("done:" + rec.Key)
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) GetFinalized(ctx context.Context, key session.Key) (session.FinalizedSession, error) {
	var out session.FinalizedSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("done:" + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

func (s *BadgerStore) PutFailure(ctx context.Context, marker FailureMarker) error {
	key := []byte("fail:" + marker.Session.Key)
	buf, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) Failures(ctx context.Context) ([]FailureMarker, error) {
	var out []FailureMarker
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("fail:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m FailureMarker
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*BadgerStore)(nil)
