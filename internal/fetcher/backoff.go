package fetcher

import "time"

// ExponentialBackoff doubles the delay after every failed attempt, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retrying after the given 1-based attempt:
// Base × 2^(attempt−1), never more than Max.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt < 1 {
		return 0
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		next := delay * 2
		if next < delay {
			delay = b.Max
			break
		}
		delay = next
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
