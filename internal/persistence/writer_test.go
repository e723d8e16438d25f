package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "state.json")

	require.NoError(t, writeJSONAtomic(path, map[string]int{"a": 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, 1, got["a"])

	entries, err := os.ReadDir(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file")
}

func TestWriterCoalescesBatchWrites(t *testing.T) {
	layout := NewLayout(t.TempDir())
	w := NewWriter(layout, zap.NewNop(), 20*time.Millisecond)
	defer w.Close()

	path := layout.StateFile()
	w.SendBatch("state", path, map[string]int{"v": 1})
	w.SendBatch("state", path, map[string]int{"v": 2})
	w.SendBatch("state", path, map[string]int{"v": 3})

	w.Flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, 3, got["v"], "only the latest coalesced value should survive")
}

func TestWriterSendMessageUncoalesced(t *testing.T) {
	layout := NewLayout(t.TempDir())
	w := NewWriter(layout, zap.NewNop(), 50*time.Millisecond)
	defer w.Close()

	path := layout.MessageFile("UID_MSG_1")
	w.SendMessage(path, map[string]string{"content": "hello"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "hello", got["content"])
}

func TestLockClaimAndStillOwns(t *testing.T) {
	layout := NewLayout(t.TempDir())

	l1, err := Claim(layout)
	require.NoError(t, err)
	require.True(t, l1.StillOwns())

	l2, err := Claim(layout)
	require.NoError(t, err)
	require.True(t, l2.StillOwns())
	require.False(t, l1.StillOwns(), "claiming again must invalidate the prior owner")
}

func TestLockRefreshKeepsOwnership(t *testing.T) {
	layout := NewLayout(t.TempDir())
	l, err := Claim(layout)
	require.NoError(t, err)

	require.NoError(t, l.Refresh())
	require.True(t, l.StillOwns())
}
