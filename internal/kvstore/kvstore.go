// Package kvstore is a pluggable on-disk key-value abstraction backing the
// "optional persistent" state spec §6 names: peer roster, nonce cache,
// handshake sessions, recent tasks. Grounded directly on the teacher's
// storage/database/db_manager.go DBType-switched constructor, generalized
// from a blockchain database manager to a generic byte-string KV store.
package kvstore

import (
	"github.com/pkg/errors"
)

// Engine selects the backing store implementation, mirroring the teacher's
// database.DBType enum (LEVELDB / BADGER).
type Engine string

const (
	EngineMemory  Engine = "memory"
	EngineLevelDB Engine = "leveldb"
	EngineBadger  Engine = "badger"
)

// Store is the minimal KV contract every engine implements.
type Store interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Iterate calls fn for every key with the given prefix; stops early if
	// fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Open constructs a Store for the given engine, mirroring
// ServiceContext.OpenDatabase's switch over ctx.config.DBType in the
// teacher: an ephemeral node (no dir) gets an in-memory store regardless of
// the requested engine.
func Open(engine Engine, dir string) (Store, error) {
	if dir == "" {
		return newMemStore(), nil
	}
	switch engine {
	case EngineMemory, "":
		return newMemStore(), nil
	case EngineLevelDB:
		return openLevelDB(dir)
	case EngineBadger:
		return openBadger(dir)
	default:
		return nil, errors.Errorf("kvstore: unknown engine %q", engine)
	}
}
