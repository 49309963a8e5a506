package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStorePutGetDelete(t *testing.T) {
	s, err := Open(EngineMemory, "")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	v, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, s.Delete([]byte("k")))
	_, ok, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemStoreIteratePrefix(t *testing.T) {
	s, err := Open(EngineMemory, "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("peer:1"), []byte("a")))
	require.NoError(t, s.Put([]byte("peer:2"), []byte("b")))
	require.NoError(t, s.Put([]byte("task:1"), []byte("c")))

	seen := map[string]string{}
	err = s.Iterate([]byte("peer:"), func(k, v []byte) bool {
		seen[string(k)] = string(v)
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.Equal(t, "a", seen["peer:1"])
}

func TestOpenEmptyDirIsMemory(t *testing.T) {
	s, err := Open(EngineLevelDB, "")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
}
