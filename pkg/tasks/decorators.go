package tasks

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Decorator wraps a Task with extra behavior.
type Decorator func(engine.Task) engine.Task

// Chain applies decorators to task. The first decorator is the outermost.
func Chain(task engine.Task, decorators ...Decorator) engine.Task {
	for i := len(decorators) - 1; i >= 0; i-- {
		if decorators[i] != nil {
			task = decorators[i](task)
		}
	}
	return task
}

// keepPlaceholder returns outer, still answering Placeholder calls when
// inner implements engine.Placeholder.
func keepPlaceholder(inner, outer engine.Task) engine.Task {
	if p, ok := inner.(engine.Placeholder); ok {
		return placeholderTask{Task: outer, p: p}
	}
	return outer
}

type placeholderTask struct {
	engine.Task
	p engine.Placeholder
}

func (t placeholderTask) Placeholder(reason string) *engine.Output {
	return t.p.Placeholder(reason)
}

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`

	// BaseDelay is the delay before the first retry. It doubles per attempt.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gte=0"`

	// MaxDelay caps a single delay.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gte=0"`

	// RateLimitedDelay is the base delay used after a rate limit error.
	RateLimitedDelay time.Duration `mapstructure:"rate_limited_delay" yaml:"rate_limited_delay" validate:"gte=0"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       2,
		BaseDelay:        200 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		RateLimitedDelay: time.Second,
	}
}

// Backoff returns the delay before retry number attempt (zero based):
// exponential in the attempt, capped at MaxDelay, plus up to 25% jitter.
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if e := engine.AsEngineError(err); e != nil && e.Code == engine.ErrCodeRateLimited && p.RateLimitedDelay > 0 {
		base = p.RateLimitedDelay
	}
	if base <= 0 {
		return 0
	}

	delay := base * time.Duration(math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	return delay + jitter
}

// WithRetry retries a task whose error is retryable (transient or timeout)
// until it succeeds, fails permanently, runs out of retries or its context
// ends. Only the last error is returned.
func WithRetry(policy RetryPolicy) Decorator {
	return func(task engine.Task) engine.Task {
		return keepPlaceholder(task, &retryTask{task: task, policy: policy})
	}
}

type retryTask struct {
	task   engine.Task
	policy RetryPolicy
}

func (t *retryTask) Execute(ctx context.Context, in engine.View) (*engine.Output, error) {
	var out *engine.Output
	var err error

	for attempt := 0; ; attempt++ {
		out, err = t.task.Execute(ctx, in)
		if err == nil || !engine.IsRetryable(err) || attempt >= t.policy.MaxRetries {
			return out, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		backoff := t.policy.Backoff(attempt, err)
		telemetry.FromContext(ctx).
			WithError(err).
			WithField("attempt", attempt+1).
			WithField("backoff", backoff.String()).
			Warnf("Retrying after failure (attempt %d/%d)", attempt+2, t.policy.MaxRetries+1)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
	}
}

// WithRateLimit makes a task wait for limiter before each execution. A wait
// that cannot finish before the context ends fails with a transient
// RATE_LIMITED error.
func WithRateLimit(limiter *rate.Limiter) Decorator {
	return func(task engine.Task) engine.Task {
		if limiter == nil {
			return task
		}
		return keepPlaceholder(task, &rateLimitTask{task: task, limiter: limiter})
	}
}

type rateLimitTask struct {
	task    engine.Task
	limiter *rate.Limiter
}

func (t *rateLimitTask) Execute(ctx context.Context, in engine.View) (*engine.Output, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.NewTransientError("rate limit exceeded", err).WithCode(engine.ErrCodeRateLimited)
	}
	return t.task.Execute(ctx, in)
}

// NewLimiter creates a token bucket limiter. A non-positive rps disables
// limiting and returns nil.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Recover converts a panicking task into a permanent PANIC error. The
// scheduler also recovers panics; this is for tasks run outside it.
func Recover() Decorator {
	return func(task engine.Task) engine.Task {
		return keepPlaceholder(task, engine.TaskFunc(func(ctx context.Context, in engine.View) (out *engine.Output, err error) {
			defer func() {
				if r := recover(); r != nil {
					out = nil
					err = engine.NewPermanentError(fmt.Sprintf("task panicked: %v", r), nil).
						WithCode(engine.ErrCodePanic)
				}
			}()
			return task.Execute(ctx, in)
		}))
	}
}
