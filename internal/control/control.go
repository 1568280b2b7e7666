// Package control holds the poll loop's failure handling: exponential retry
// backoff and a circuit breaker over the chat source.
package control

import "time"

// MaxBackoff caps the delay between failed polls.
const MaxBackoff = 30 * time.Second

// Backoff returns the delay before retry number attempt: 1s, 2s, 4s and so
// on up to MaxBackoff. Non-positive attempts need no delay.
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return MaxBackoff
	}
	return min(time.Second<<(attempt-1), MaxBackoff)
}
