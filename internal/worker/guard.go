package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

// TimeoutError reports that an extraction attempt outlived its budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Extraction timed out after %g seconds", e.Budget.Seconds())
}

type outcome struct {
	fields domain.Fields
	err    error
}

// runBounded runs fn on its own goroutine and waits at most budget for it.
//
// The context handed to fn is cancelled once the budget elapses, but the
// caller does not wait for fn to observe that; an extractor that ignores its
// context keeps running in the background until it returns on its own.
func runBounded(ctx context.Context, budget time.Duration, fn func(context.Context) (domain.Fields, error)) (domain.Fields, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, budget)

	// Buffered so an abandoned attempt can still deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		fields, err := fn(attemptCtx)
		done <- outcome{fields: fields, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-done:
		// fn may notice the deadline before the timer fires.
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return domain.Fields{}, &TimeoutError{Budget: budget}
		}
		return res.fields, res.err
	case <-timer.C:
		cancel()
		return domain.Fields{}, &TimeoutError{Budget: budget}
	case <-ctx.Done():
		cancel()
		return domain.Fields{}, ctx.Err()
	}
}
