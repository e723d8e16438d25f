package persistence

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
)

// ownerRecord is the JSON body of owner.lock: who currently owns this
// session directory, per §4.1/§6.
type ownerRecord struct {
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents this process's claim on a session directory. Claim
// unconditionally overwrites any existing owner.lock — that overwrite is
// the mechanism a restarted process uses to take over from a still-
// running old one (SPEC_FULL.md §9 reload semantics).
type Lock struct {
	layout Layout
	token  string
}

// Claim writes a fresh owner.lock recording this process as owner.
func Claim(layout Layout) (*Lock, error) {
	token := uuid.NewString()
	rec := ownerRecord{Token: token, PID: os.Getpid(), StartedAt: time.Now()}
	if err := writeJSONAtomic(layout.OwnerLockFile(), rec); err != nil {
		return nil, err
	}
	return &Lock{layout: layout, token: token}, nil
}

// Refresh rewrites the lock file with the same token and a fresh
// timestamp; called by save_state per §4.1.
func (l *Lock) Refresh() error {
	rec := ownerRecord{Token: l.token, PID: os.Getpid(), StartedAt: time.Now()}
	return writeJSONAtomic(l.layout.OwnerLockFile(), rec)
}

// StillOwns reports whether this process's token still matches the
// token on disk. A mismatch (or missing file) means ownership was lost
// — the event loop must exit cleanly on the next check (§4.1/§5).
func (l *Lock) StillOwns() bool {
	data, err := os.ReadFile(l.layout.OwnerLockFile())
	if err != nil {
		return false
	}
	var rec ownerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}
	return rec.Token == l.token
}
