package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// Sender sends one request. Dispatcher and Retrier both implement it.
type Sender interface {
	Send(ctx context.Context, req Request) (*Result, error)
}

// RetryPolicy controls the backoff between attempts
type RetryPolicy struct {
	// MaxAttempts includes the first attempt
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns three attempts starting one second apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
	}
}

// Retryable reports whether err came from the directory lookup. Trust and
// transport failures are never retried.
func Retryable(err error) bool {
	phase, ok := FailedPhase(err)
	return ok && phase == PhaseResolve
}

// Retrier repeats sends that failed to resolve, backing off exponentially
// between attempts. Every attempt gets a new message id.
type Retrier struct {
	sender Sender
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier wraps sender
func NewRetrier(sender Sender, policy RetryPolicy, logger *slog.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{sender: sender, policy: policy, logger: logger, sleep: sleep}
}

// Send calls the wrapped sender until it succeeds, fails with an error that
// is not Retryable, the attempts are used up or ctx is done. The last error
// is returned.
func (r *Retrier) Send(ctx context.Context, req Request) (*Result, error) {
	interval := r.policy.InitialInterval
	for attempt := 1; ; attempt++ {
		res, err := r.sender.Send(ctx, req)
		if err == nil || !Retryable(err) || attempt >= r.policy.MaxAttempts {
			return res, err
		}

		r.logger.Debug("retrying dispatch", "attempt", attempt, "delay", interval, "error", err)
		if serr := r.sleep(ctx, interval); serr != nil {
			return nil, err
		}
		interval = r.next(interval)
	}
}

func (r *Retrier) next(interval time.Duration) time.Duration {
	interval = time.Duration(float64(interval) * r.policy.Multiplier)
	if r.policy.MaxInterval > 0 && interval > r.policy.MaxInterval {
		interval = r.policy.MaxInterval
	}
	return interval
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
