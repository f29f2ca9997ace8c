package syncclient

import "time"

const (
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second
)

// nextBackoff implements spec.md §4.7's reconnect schedule:
// min(30s, 500ms * 2^attempt).
func nextBackoff(attempt int) time.Duration {
	d := baseBackoff

	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}

	return d
}
