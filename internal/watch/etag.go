package watch

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ETagPoller remembers the last ETag and server-advised poll interval
// for one URL, issuing conditional GETs so an unchanged remote resource
// costs a 304 rather than a full re-fetch. Used for github-result
// panels' `gh api` pass-through per §4.3/§6.
type ETagPoller struct {
	client *http.Client
	url    string

	etag       string
	minInterval time.Duration
	lastPoll   time.Time
}

// NewETagPoller creates a poller for url using client (nil uses
// http.DefaultClient).
func NewETagPoller(client *http.Client, url string) *ETagPoller {
	if client == nil {
		client = http.DefaultClient
	}
	return &ETagPoller{client: client, url: url}
}

// Poll issues a conditional GET. It returns (body, changed, error).
// changed is false on a 304, on any non-200/non-304 response (per
// §4.3: "non-200-non-304 treated as unchanged"), or when called before
// the server-advised interval has elapsed.
func (p *ETagPoller) Poll(ctx context.Context) (body string, changed bool, err error) {
	if p.minInterval > 0 && time.Since(p.lastPoll) < p.minInterval {
		return "", false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", false, err
	}
	if p.etag != "" {
		req.Header.Set("If-None-Match", p.etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	p.lastPoll = time.Now()

	if retry := resp.Header.Get("Retry-After"); retry != "" {
		if secs, perr := time.ParseDuration(retry + "s"); perr == nil {
			p.minInterval = secs
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	if et := resp.Header.Get("ETag"); et != "" {
		p.etag = et
	}
	return string(data), true, nil
}
