package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputHashPollerDetectsChangeAndSteadyState(t *testing.T) {
	calls := 0
	outputs := []string{"frame-1", "frame-1", "frame-2"}
	p := NewOutputHashPoller(func(ctx context.Context) (string, error) {
		out := outputs[calls]
		calls++
		return out, nil
	})

	_, changed, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	_, changed, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, changed, "identical capture must report unchanged")

	_, changed, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
}

func TestETagPollerConditionalRequests(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == "abc" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", "abc")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	p := NewETagPoller(srv.Client(), srv.URL)

	body, changed, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "body", body)

	_, changed, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, changed, "matching ETag must report unchanged")
	require.Equal(t, 2, hits)
}

func TestConditionRegistryFiresOnce(t *testing.T) {
	r := NewConditionRegistry()
	fireCount := 0
	r.Register(Waiter{
		Key:  "w1",
		Kind: ConditionAsync,
		Check: func() (interface{}, bool) {
			fireCount++
			return "done", fireCount >= 2
		},
	})

	fired := r.CheckAll()
	require.Empty(t, fired)
	require.True(t, r.Has("w1"))

	fired = r.CheckAll()
	require.Len(t, fired, 1)
	require.Equal(t, "done", fired["w1"].Result)
	require.False(t, r.Has("w1"), "a fired waiter must be removed")
}

func TestRegistryPollAllDiscardsAfterClose(t *testing.T) {
	reg := NewRegistry()
	reg.Register("k1", func(ctx context.Context) (*WatcherResult, bool) {
		return &WatcherResult{Description: "x"}, true
	})
	reg.Close("k1")

	results := reg.PollAll(context.Background())
	require.Empty(t, results)
}
