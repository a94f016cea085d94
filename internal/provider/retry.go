package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"listenparty/internal/domain"
)

// Policy is a fixed-attempt exponential retry without jitter.
type Policy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt; doubles afterwards
}

// DefaultPolicy makes three attempts starting at 500ms.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// BackOff builds the backoff schedule for p bound to ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = p.BaseDelay << uint(attempts)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs op under p. Errors that are not retryable stop the loop at once
// and are returned unchanged.
func Do[T any](ctx context.Context, p Policy, operation string, op func() (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !domain.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		logrus.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
			"retry_in":  next.String(),
		}).WithError(err).Warn("Provider call failed, retrying")
	}
	return backoff.RetryNotifyWithData(wrapped, p.BackOff(ctx), notify)
}

type retrying struct {
	MusicProvider
	policy Policy
}

// WithRetry wraps p so transient failures of its calls are retried.
func WithRetry(p MusicProvider, policy Policy) MusicProvider {
	if p == nil {
		panic("MusicProvider cannot be nil for WithRetry")
	}
	return &retrying{MusicProvider: p, policy: policy}
}

func (r *retrying) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	return Do(ctx, r.policy, r.Name()+".Search", func() ([]domain.Track, error) {
		return r.MusicProvider.Search(ctx, query, limit)
	})
}

func (r *retrying) GetTrack(ctx context.Context, id string) (domain.Track, error) {
	return Do(ctx, r.policy, r.Name()+".GetTrack", func() (domain.Track, error) {
		return r.MusicProvider.GetTrack(ctx, id)
	})
}

func (r *retrying) GetStreamURL(ctx context.Context, id string) (domain.StreamInfo, error) {
	return Do(ctx, r.policy, r.Name()+".GetStreamURL", func() (domain.StreamInfo, error) {
		return r.MusicProvider.GetStreamURL(ctx, id)
	})
}
