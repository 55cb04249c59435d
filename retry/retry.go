package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 60 * time.Second
	DefaultMaxDelay    = 300 * time.Second
	DefaultMultiplier  = 2.0
	DefaultJitter      = 0.1
)

type EventType string

const (
	EventAttempting EventType = "retry_attempt"
	EventWaiting    EventType = "retry_waiting"
	EventSucceeded  EventType = "retry_success"
	EventFailed     EventType = "retry_failed"
)

// Event describes one transition of a retried operation.
type Event struct {
	Type        EventType
	Op          string
	Attempt     int
	MaxAttempts int
	NextAttempt int
	Delay       time.Duration
	Err         error
}

// Message renders the event for end users.
func (e Event) Message() string {
	switch e.Type {
	case EventAttempting:
		return fmt.Sprintf("🔄 Thử lại lần %d/%d...", e.Attempt, e.MaxAttempts)
	case EventWaiting:
		return fmt.Sprintf("⏳ Lỗi: %q. Chờ %s rồi thử lại...", errText(e.Err), formatDelay(e.Delay))
	case EventSucceeded:
		return fmt.Sprintf("✅ Thành công sau %d lần thử!", e.Attempt)
	case EventFailed:
		return fmt.Sprintf("❌ Thất bại sau tất cả các lần thử: %s", errText(e.Err))
	}
	return "🔄 Đang xử lý..."
}

// Observer receives retry events synchronously. It must not block.
type Observer func(Event)

// Policy is the single retry abstraction used for every upstream call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter is the upper bound of the random fraction added to each delay.
	Jitter float64
	// Retryable decides whether a failure is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// ShortCircuit aborts immediately, without waiting, when it returns true.
	ShortCircuit func(error) bool
}

// Default retries transient upstream failures three times, starting at one
// minute and capped at five.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      DefaultJitter,
		Retryable:   errors.IsRetryable,
	}
}

// Fixed retries any error with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Multiplier:  1,
	}
}

// Delay returns the wait after the given failed attempt (1-based) for a
// jitter sample r in [0, 1).
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	d += d * p.Jitter * r
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

var (
	randFloat = rand.Float64
	sleep     = func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
)

// Do runs fn until it succeeds, the policy gives up, or ctx is done. The last
// error is returned unchanged so callers can still classify it.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context, attempt int) (T, error), observe Observer) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	emit := func(e Event) {
		if observe != nil {
			e.Op = op
			e.MaxAttempts = attempts
			observe(e)
		}
	}
	logger := logrus.WithFields(logrus.Fields{
		"op":           op,
		"max_attempts": attempts,
	})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 1 {
			emit(Event{Type: EventAttempting, Attempt: attempt})
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				emit(Event{Type: EventSucceeded, Attempt: attempt})
				logger.WithField("attempt", attempt).Info("Operation succeeded after retry")
			}
			return result, nil
		}
		lastErr = err

		log := logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"kind":    errors.KindOf(err),
		}).WithError(err)

		if p.ShortCircuit != nil && p.ShortCircuit(err) {
			log.Warn("Attempt failed, not retrying")
			emit(Event{Type: EventFailed, Attempt: attempt, Err: err})
			return zero, err
		}
		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			log.Warn("Attempt failed, giving up")
			emit(Event{Type: EventFailed, Attempt: attempt, Err: err})
			return zero, err
		}

		delay := p.Delay(attempt, randFloat())
		log.WithField("backoff_duration", delay).Info("Attempt failed, waiting before next attempt")
		emit(Event{
			Type:        EventWaiting,
			Attempt:     attempt,
			NextAttempt: attempt + 1,
			Delay:       delay,
			Err:         err,
		})

		if err := sleep(ctx, delay); err != nil {
			logger.WithError(err).Error("Context cancelled during retry backoff")
			return zero, err
		}
	}

	return zero, lastErr
}

func formatDelay(d time.Duration) string {
	ms := d.Milliseconds()
	minutes := ms / 60000
	seconds := int64(math.Round(float64(ms%60000) / 1000))
	if minutes > 0 {
		return fmt.Sprintf("%dp%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
