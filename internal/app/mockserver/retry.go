package mockserver

import (
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// retryFor calls do until it succeeds or duration has passed. do receives the time left.
func retryFor(do func(time.Duration) bool, delay, duration time.Duration) bool {
	attempts := uint(1)
	if delay > 0 && duration > 0 {
		attempts = uint(duration/delay) + 1
	}

	start := time.Now()
	err := retry.Do(func() error {
		timeLeft := duration - time.Since(start)
		if !do(timeLeft) {
			return errors.New("retry")
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return err != nil && time.Since(start) <= duration
		}))
	return err == nil
}
