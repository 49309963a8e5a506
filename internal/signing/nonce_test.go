package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyNonceReplay(t *testing.T) {
	store := NewNonceStore(1024)

	kind := VerifyNonce(store, "n1", "peer-a", 1_000, 1_000, 30_000, 60_000)
	require.Equal(t, VerifyOK, kind)

	kind = VerifyNonce(store, "n1", "peer-a", 1_000, 1_000, 30_000, 60_000)
	require.Equal(t, VerifyReplay, kind)
}

func TestVerifyNonceTimestampSkew(t *testing.T) {
	store := NewNonceStore(1024)

	maxSkew := int64(5_000)
	kind := VerifyNonce(store, "n2", "peer-a", 1_000, 1_000+10*maxSkew, maxSkew, 60_000)
	require.Equal(t, VerifyTimestampSkew, kind)
}

func TestNonceStorePrune(t *testing.T) {
	store := NewNonceStore(1024)
	now := time.Now().UnixMilli()

	store.Insert("n3", "peer-a", now-1) // already expired
	require.True(t, store.Exists("n3"))

	VerifyNonce(store, "n4", "peer-a", now, now, 30_000, 60_000) // expires 60s out
	store.Prune()
	require.False(t, store.Exists("n3"))
	require.True(t, store.Exists("n4"))
}
