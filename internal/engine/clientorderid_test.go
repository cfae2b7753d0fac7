package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientOrderIDIsDeterministic(t *testing.T) {
	first := ClientOrderID("exec-abc-123")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, ClientOrderID("exec-abc-123"))
	}
}

func TestClientOrderIDDistinctPerExecution(t *testing.T) {
	seen := make(map[string]string)
	for _, id := range []string{"exec-1", "exec-2", "exec-10", "1-exec", "Exec-1", ""} {
		key := ClientOrderID(id)
		prev, dup := seen[key]
		require.False(t, dup, "executions %q and %q collided on %s", id, prev, key)
		seen[key] = id
	}
}

func TestClientOrderIDFormat(t *testing.T) {
	key := ClientOrderID("exec-1")
	require.True(t, strings.HasPrefix(key, "twn-"))
	// Prefix plus 28 hex characters keeps the key inside the 36 character
	// limit common to exchange client order id fields.
	require.Len(t, key, 32)
}
