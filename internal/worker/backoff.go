package worker

import "time"

// Backoff returns the delay before the next attempt, given the number of
// attempts already made. Doubles from base up to cap, with a small linear
// term so the delay stays strictly increasing even after the exponential
// part is capped:
//
//	attempt 1 → 15m + 1s  (defaults)
//	attempt 2 → 30m + 2s
//	attempt 3 → 1h  + 3s
//	attempt 5 → 4h  + 5s  (capped)
//	attempt 6 → 4h  + 6s
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d >= cap {
			break
		}
		d *= 2
	}
	if d > cap {
		d = cap
	}
	return d + time.Duration(attempts)*time.Second
}
