package kvstore

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelStore wraps syndtr/goleveldb, the same engine the teacher's
// storage/database/leveldb_database.go opens for its primary chain database.
type levelStore struct {
	db *leveldb.DB
}

func openLevelDB(dir string) (Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "kvstore: open leveldb")
	}
	return &levelStore{db: db}, nil
}

func (s *levelStore) Get(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *levelStore) Put(key, value []byte) error { return s.db.Put(key, value, nil) }
func (s *levelStore) Delete(key []byte) error      { return s.db.Delete(key, nil) }

func (s *levelStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (s *levelStore) Close() error { return s.db.Close() }
