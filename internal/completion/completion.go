// Package completion is the client side of the AI completion service: a
// single call that turns a prompt and a personality into reply text.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout reports that a completion did not finish before its deadline.
var ErrTimeout = errors.New("completion: timeout")

// Completer produces a reply for prompt in the voice of personality.
// Implementations should honour ctx cancellation. Callers discard replies
// that arrive after ctx is done.
type Completer interface {
	Complete(ctx context.Context, prompt, personality string) (string, error)
}

// Func adapts a plain function to Completer.
type Func func(ctx context.Context, prompt, personality string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, prompt, personality string) (string, error) {
	return f(ctx, prompt, personality)
}

// contextError converts a context failure into ErrTimeout when the deadline
// passed, and returns nil when ctx is still live.
func contextError(ctx context.Context, prefix string) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", prefix, ErrTimeout)
	case err != nil:
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

// IsTimeout reports whether err means the completion ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
