package cache

import (
	"context"
	"testing"
	"time"

	"github.com/contextpilot/pilot/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSourceAndContentHashStable(t *testing.T) {
	require.Equal(t, SourceHash("a", "b"), SourceHash("a", "b"))
	require.NotEqual(t, SourceHash("a", "b"), SourceHash("a", "c"))
	require.Equal(t, ContentHash("x"), ContentHash("x"))
}

func TestEngineSubmitDeliversUpdate(t *testing.T) {
	e := NewEngine(zap.NewNop(), 4)
	e.Submit(context.Background(), Request{
		ContextID: "P1",
		Refresh: func(ctx context.Context) Update {
			return Update{Kind: UpdateContent, Content: "hello", TokenCount: 1}
		},
	})

	select {
	case u := <-e.Updates():
		require.Equal(t, "P1", u.ContextID)
		require.Equal(t, "hello", u.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}

type fakeRegistry struct {
	needsCache bool
	interval   int64
	hasInterval bool
	suicide    bool
}

func (r fakeRegistry) NeedsCache(session.PanelType) bool { return r.needsCache }
func (r fakeRegistry) RefreshIntervalMs(session.PanelType) (int64, bool) {
	return r.interval, r.hasInterval
}
func (r fakeRegistry) BuildCacheRequest(p *session.Panel, s *session.State) (Request, bool) {
	return Request{
		ContextID: p.ID(),
		Refresh: func(ctx context.Context) Update {
			return Update{Kind: UpdateContent, Content: "x", TokenCount: 1}
		},
	}, true
}
func (r fakeRegistry) Suicide(*session.Panel, *session.State) bool { return r.suicide }

func TestCheckTimerBasedDeprecationSeedsEmptyPanel(t *testing.T) {
	e := NewEngine(zap.NewNop(), 4)
	s := session.NewState()
	p := session.NewPanel("P1", "UID_P_1", session.PanelFile, "a")
	s.Context = []*session.Panel{p}

	CheckTimerBasedDeprecation(context.Background(), e, fakeRegistry{needsCache: true}, s, 0)

	require.True(t, e.InFlight("P1"))
}

func TestCheckTimerBasedDeprecationSuicideRemovesLongEmptyPanel(t *testing.T) {
	e := NewEngine(zap.NewNop(), 4)
	s := session.NewState()
	p := session.NewPanel("P1", "UID_P_1", session.PanelGrep, "q")
	// Simulate content having gone empty shortly after start.
	p.ApplyContent("", "src", 0, ContentHash, 1)
	s.Context = []*session.Panel{p}

	CheckTimerBasedDeprecation(context.Background(), e, fakeRegistry{needsCache: false, suicide: true}, s, 2000)

	require.Len(t, s.Context, 0)
}

func TestSeedInitialCacheRefreshesOnlyFixedTypes(t *testing.T) {
	e := NewEngine(zap.NewNop(), 4)
	s := session.NewState()
	fixed := session.NewPanel("P1", "UID_P_1", session.PanelOverview, "overview")
	dynamic := session.NewPanel("P2", "UID_P_2", session.PanelFile, "main.go")
	s.Context = []*session.Panel{fixed, dynamic}

	SeedInitialCacheRefreshes(context.Background(), e, fakeRegistry{needsCache: true}, s, 0)

	require.True(t, e.InFlight("P1"))
	require.False(t, e.InFlight("P2"))
}
