package kvstore

import (
	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

// badgerStore wraps dgraph-io/badger, the alternate engine the teacher's
// storage/database/db_manager.go picks via DBType alongside LevelDB.
type badgerStore struct {
	db *badger.DB
}

func openBadger(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "kvstore: open badger")
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *badgerStore) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *badgerStore) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *badgerStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var val []byte
			if err := item.Value(func(v []byte) error {
				val = append([]byte{}, v...)
				return nil
			}); err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), val) {
				break
			}
		}
		return nil
	})
}

func (s *badgerStore) Close() error { return s.db.Close() }
