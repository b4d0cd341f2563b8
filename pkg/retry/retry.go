// Package retry は、レート制限などの一時的なエラーに対する再試行を一か所にまとめます。
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

const (
	// DefaultMaxAttempts は指数バックオフ時の既定の試行回数（初回を含む）です。
	DefaultMaxAttempts = 5
	// DefaultBaseDelay は指数バックオフの初期待ち時間です。
	DefaultBaseDelay = 2 * time.Second
	// DefaultJitter は待ち時間に加える揺らぎの割合です。
	DefaultJitter = 0.5
)

// Policy は再試行の方針です。
type Policy struct {
	// MaxAttempts は初回を含む最大試行回数です。Schedule を指定した場合は len(Schedule)+1 が上限になります。
	MaxAttempts int
	// BaseDelay は指数バックオフの初期待ち時間です。試行ごとに 2 倍になります。
	BaseDelay time.Duration
	// Jitter は待ち時間の揺らぎ（0〜1）です。
	Jitter float64
	// Schedule が空でなければ、指数バックオフの代わりにこの固定の待ち時間列を使います。
	Schedule []time.Duration
	// Retryable が true を返すエラーだけを再試行します。nil の場合はレート制限のみ再試行します。
	Retryable func(error) bool
	// Name はログに出すステージ名です。
	Name string
}

// Exponential は base から倍々で待つ方針を返します。
func Exponential(name string, base time.Duration, maxAttempts int) Policy {
	return Policy{Name: name, BaseDelay: base, MaxAttempts: maxAttempts, Jitter: DefaultJitter}
}

// Fixed は指定した待ち時間を順に使う方針を返します（例: 2s, 4s, 8s）。
func Fixed(name string, steps ...time.Duration) Policy {
	return Policy{Name: name, Schedule: steps, MaxAttempts: len(steps) + 1}
}

// Do は op を方針に従って実行します。
// 再試行対象外のエラーは即座に、再試行を使い切った場合は最後のエラーをそのまま返します。
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = apperr.IsRateLimited
	}

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "一時的なエラーのため再試行します",
			"stage", p.Name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	return backoff.RetryNotify(wrapped, backoff.WithContext(p.backOff(), ctx), notify)
}

// DoValue は値を返す op 用の Do です。
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (p Policy) backOff() backoff.BackOff {
	if len(p.Schedule) > 0 {
		return &scheduleBackOff{steps: p.Schedule, limit: p.retries()}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultBaseDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = b.InitialInterval << 6
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(p.retries()))
}

// retries は初回を除く再試行回数です。
func (p Policy) retries() int {
	n := p.MaxAttempts
	if n <= 0 {
		n = DefaultMaxAttempts
	}
	if len(p.Schedule) > 0 && n > len(p.Schedule)+1 {
		n = len(p.Schedule) + 1
	}
	return n - 1
}

// scheduleBackOff は固定の待ち時間列を返す backoff.BackOff です。
type scheduleBackOff struct {
	steps []time.Duration
	limit int
	next  int
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.next >= s.limit || s.next >= len(s.steps) {
		return backoff.Stop
	}
	d := s.steps[s.next]
	s.next++
	return d
}

func (s *scheduleBackOff) Reset() {
	s.next = 0
}
