package flow

import "context"

// DefaultCorrectionAttempts is the attempt bound SelfCorrect uses when the
// caller passes a non-positive value.
const DefaultCorrectionAttempts = 3

// SelfCorrect runs a bounded validate/correct loop over a candidate value.
//
// Each attempt validates the candidate; on success the current candidate is
// returned. On a failed validation with attempts remaining, correct is
// invoked with the candidate and the validation error to produce the next
// candidate. With attempts = N and a validation that never passes, correct
// runs exactly N-1 times and the final validation error is returned
// unwrapped, so callers can inspect the original cause.
//
// An error from correct itself aborts the loop immediately: a broken
// corrector is a failure of the step, not another attempt.
func SelfCorrect[T any](
	ctx context.Context,
	candidate T,
	attempts int,
	validate func(context.Context, T) error,
	correct func(context.Context, T, error) (T, error),
) (T, error) {
	if attempts <= 0 {
		attempts = DefaultCorrectionAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return candidate, err
		}

		lastErr = validate(ctx, candidate)
		if lastErr == nil {
			return candidate, nil
		}
		if attempt == attempts {
			break
		}

		next, err := correct(ctx, candidate, lastErr)
		if err != nil {
			return candidate, err
		}
		candidate = next
	}
	return candidate, lastErr
}
