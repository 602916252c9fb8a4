package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy describes retry behavior as data: attempt cap, backoff shape,
// and which errors are worth retrying at all.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	RetryableErrors []error
	Retryable       func(error) bool
	Logger          *zap.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

func Do(ctx context.Context, p Policy, operation func() error) error {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}

	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 1 && p.Logger != nil {
				p.Logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = err

		if !p.isRetryable(err) {
			if p.Logger != nil {
				p.Logger.Debug("Error not retryable",
					zap.Error(err),
					zap.Int("attempt", attempt),
				)
			}
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		if p.Logger != nil {
			p.Logger.Warn("Operation failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(delay, p.JitterFraction)):
		}

		delay = time.Duration(math.Min(float64(p.MaxDelay), float64(delay)*p.Multiplier))
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, p Policy, operation func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var err error
		result, err = operation()
		return err
	})
	return result, err
}

func (p Policy) isRetryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	if len(p.RetryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range p.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
