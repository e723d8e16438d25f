package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryModuleState struct {
	TopK int
}

func TestGetSetExt(t *testing.T) {
	s := NewState()

	_, ok := GetExt[memoryModuleState](s)
	require.False(t, ok)

	SetExt(s, memoryModuleState{TopK: 8})

	got, ok := GetExt[memoryModuleState](s)
	require.True(t, ok)
	require.Equal(t, 8, got.TopK)
}

func TestRemovePanelAtFixesSelection(t *testing.T) {
	s := NewState()
	s.Context = []*Panel{
		NewPanel("P1", "UID_P_1", PanelFile, "a"),
		NewPanel("P2", "UID_P_2", PanelFile, "b"),
		NewPanel("P3", "UID_P_3", PanelFile, "c"),
	}
	s.SelectedPanel = 2

	s.RemovePanelAt(2)

	require.Len(t, s.Context, 2)
	require.Equal(t, 1, s.SelectedPanel)
}

func TestIDAllocatorNeverReuses(t *testing.T) {
	a := NewIDAllocator([5]int64{})
	id1, uid1 := a.Next(KindUserMessage)
	id2, uid2 := a.Next(KindUserMessage)

	require.Equal(t, "U1", id1)
	require.Equal(t, "U2", id2)
	require.NotEqual(t, uid1, uid2)
}

func TestPanelApplyContentTracksHashAndRefresh(t *testing.T) {
	p := NewPanel("P1", "UID_P_1", PanelFile, "main.go")
	hash := func(s string) string { return s } // identity hash is fine for this test

	changed := p.ApplyContent("package main", "src-hash-1", 3, hash, 100)
	require.True(t, changed)
	require.Equal(t, int64(100), p.LastRefreshMs())

	changed = p.ApplyContent("package main", "src-hash-1", 3, hash, 200)
	require.False(t, changed)
	require.Equal(t, int64(100), p.LastRefreshMs(), "unchanged content must not bump last_refresh_ms")
}
