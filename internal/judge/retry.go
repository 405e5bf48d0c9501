package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/rs/zerolog/log"
)

// Retry wraps an oracle with a per-attempt timeout and linear backoff between
// attempts.
type Retry struct {
	next     game.Oracle
	clock    clockwork.Clock
	attempts int
	timeout  time.Duration
	backoff  time.Duration
}

func WithRetry(next game.Oracle, clock clockwork.Clock, attempts int, timeout, backoff time.Duration) *Retry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Retry{next: next, clock: clock, attempts: attempts, timeout: timeout, backoff: backoff}
}

func (r *Retry) Judge(ctx context.Context, prompt string, stories []game.Story) ([]game.Verdict, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		verdicts, err := r.once(ctx, prompt, stories)
		if err == nil {
			return verdicts, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("of", r.attempts).Msg("judge attempt failed")
		if attempt == r.attempts {
			break
		}
		select {
		case <-r.clock.After(r.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("judging failed after %d attempts: %w", r.attempts, lastErr)
}

func (r *Retry) once(ctx context.Context, prompt string, stories []game.Story) ([]game.Verdict, error) {
	if r.timeout <= 0 {
		return r.next.Judge(ctx, prompt, stories)
	}
	actx, cancel := clockwork.WithTimeout(ctx, r.clock, r.timeout)
	defer cancel()
	return r.next.Judge(actx, prompt, stories)
}
