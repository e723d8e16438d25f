package panel

import "time"

// nowMs is the wall-clock source every handler uses for
// last_refresh_ms/empty-duration bookkeeping.
func nowMs() int64 {
	return time.Now().UnixMilli()
}
