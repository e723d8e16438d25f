package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// CaptureFunc produces the current raw output to compare (e.g. a tmux
// pane capture command).
type CaptureFunc func(ctx context.Context) (string, error)

// OutputHashPoller remembers the SHA-256 of the last captured output
// and reports unchanged when a new capture hashes the same, per §4.3 —
// used by tmux pane-capture panels to avoid re-rendering an idle pane.
type OutputHashPoller struct {
	capture  CaptureFunc
	lastHash string
}

// NewOutputHashPoller wraps capture.
func NewOutputHashPoller(capture CaptureFunc) *OutputHashPoller {
	return &OutputHashPoller{capture: capture}
}

// Poll runs capture and reports (output, changed, error). changed is
// false when the new output hashes identically to the last capture.
func (p *OutputHashPoller) Poll(ctx context.Context) (output string, changed bool, err error) {
	out, err := p.capture(ctx)
	if err != nil {
		return "", false, err
	}
	sum := sha256.Sum256([]byte(out))
	hash := hex.EncodeToString(sum[:])
	if hash == p.lastHash {
		return out, false, nil
	}
	p.lastHash = hash
	return out, true, nil
}
