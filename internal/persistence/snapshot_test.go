package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contextpilot/pilot/internal/session"
)

func TestSaveLoadRoundTripsMessagesPanelsAndCounters(t *testing.T) {
	layout := NewLayout(t.TempDir())
	writer := NewWriter(layout, zap.NewNop(), 0)
	defer writer.Close()

	s := session.NewState()
	s.ActiveModules["git"] = true

	id, uid := s.IDs.Next(session.KindUserMessage)
	msg, err := session.NewMessage(id, uid, session.RoleUser, session.TextMessage, "hello")
	require.NoError(t, err)
	s.Messages = append(s.Messages, msg)

	pid, puid := s.IDs.Next(session.KindPanel)
	p := session.NewPanel(pid, puid, session.PanelFile, "main.go")
	p.ApplyContent("package main", "src-hash", 4, func(c string) string { return c }, 100)
	s.Context = append(s.Context, p)

	s.SessionTokens = 42

	SaveSnapshot(layout, writer, s)
	writer.Flush()

	loaded, err := LoadState(layout)
	require.NoError(t, err)

	require.True(t, loaded.ActiveModules["git"])
	require.Equal(t, int64(42), loaded.SessionTokens)
	require.Len(t, loaded.Messages, 1)
	require.Equal(t, "hello", loaded.Messages[0].Content())
	require.Equal(t, id, loaded.Messages[0].ID())
	require.Equal(t, uid, loaded.Messages[0].UID())

	require.Len(t, loaded.Context, 1)
	require.Equal(t, session.PanelFile, loaded.Context[0].Type())
	require.Equal(t, pid, loaded.Context[0].ID())
	content, has := loaded.Context[0].CachedContent()
	require.True(t, has)
	require.Equal(t, "package main", content)
	require.False(t, loaded.Context[0].CacheInFlight(), "in-flight never survives a restart")

	nextID, _ := loaded.IDs.Next(session.KindUserMessage)
	require.Equal(t, "U2", nextID, "ID counters must continue, never collide with what's on disk")
}

func TestLoadStateMissingFileReturnsFreshState(t *testing.T) {
	layout := NewLayout(t.TempDir())
	s, err := LoadState(layout)
	require.NoError(t, err)
	require.Empty(t, s.Messages)
	require.Empty(t, s.Context)
}

func TestSaveLoadRoundTripsDetachedHistoryPanel(t *testing.T) {
	layout := NewLayout(t.TempDir())
	writer := NewWriter(layout, zap.NewNop(), 0)
	defer writer.Close()

	s := session.NewState()
	mid, muid := s.IDs.Next(session.KindUserMessage)
	frozen, err := session.ReconstructMessage(mid, muid, session.RoleUser, session.TextMessage,
		"old turn", "", session.StatusDetached, nil, nil, 0, 0, 0, time.Now())
	require.NoError(t, err)

	pid, puid := s.IDs.Next(session.KindPanel)
	hp := session.NewPanel(pid, puid, session.PanelConversationHistory, "history")
	hp.SetHistoryMessages([]*session.Message{frozen})
	hp.ApplyContent("U1: old turn", "h", 3, func(c string) string { return c }, 50)
	s.Context = append(s.Context, hp)

	SaveSnapshot(layout, writer, s)
	writer.Flush()

	loaded, err := LoadState(layout)
	require.NoError(t, err)
	require.Len(t, loaded.Context, 1)
	require.Len(t, loaded.Context[0].HistoryMessages(), 1)
	require.Equal(t, "old turn", loaded.Context[0].HistoryMessages()[0].Content())
}
