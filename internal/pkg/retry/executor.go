// Package retry 实现带指数退避的主/备提供方执行器
package retry

import (
	"context"
	"errors"
	"time"

	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
)

// Provider 标识最终给出结果的一方
type Provider string

const (
	ProviderPrimary  Provider = "primary"
	ProviderFallback Provider = "fallback"
)

// AlertType 是上报给告警通道的事件类型
type AlertType string

const (
	AlertFallbackTriggered AlertType = "FALLBACK_TRIGGERED"
	AlertCompleteFailure   AlertType = "COMPLETE_FAILURE"
)

// Alert 描述一次需要运维关注的执行结果
type Alert struct {
	Label       string
	Type        AlertType
	Attempts    int
	PrimaryErr  error
	FallbackErr error
}

// Alerter 是告警通道。实现必须是尽力而为的，不能阻塞太久，也不能 panic。
type Alerter interface {
	Alert(ctx context.Context, alert Alert)
}

// Policy 是一次执行的重试参数
type Policy struct {
	MaxPrimaryAttempts  int
	MaxFallbackAttempts int
	BaseDelay           time.Duration
}

// Call 是一次远程调用
type Call[T any] func(ctx context.Context) (T, error)

// Result 是成功执行的结果
type Result[T any] struct {
	Value         T
	Provider      Provider
	TotalAttempts int
}

// Executor 持有告警通道和可替换的 sleep 函数
type Executor struct {
	alerter Alerter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor 创建执行器，alerter 可以为 nil
func NewExecutor(alerter Alerter) *Executor {
	return &Executor{alerter: alerter, sleep: sleepContext}
}

// WithSleep 替换退避等待函数
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	e.sleep = sleep
	return e
}

// Backoff 返回第 attempt 次失败之后的等待时间: base * 2^(attempt-1)
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Execute 先执行 primary，瞬时错误按指数退避重试；primary 用尽后若配置了 fallback 则切换。
// 两者都失败时返回 primary 的原始错误。
func Execute[T any](ctx context.Context, e *Executor, label string, p Policy, primary, fallback Call[T]) (Result[T], error) {
	var res Result[T]
	log := logger.Ctx(ctx)

	if primary == nil {
		return res, errors.New("retry: primary call is required")
	}
	if p.MaxPrimaryAttempts < 1 {
		p.MaxPrimaryAttempts = 1
	}

	value, attempts, primaryErr := runAttempts(ctx, e, label, ProviderPrimary, p.MaxPrimaryAttempts, p.BaseDelay, primary)
	res.TotalAttempts = attempts
	if primaryErr == nil {
		res.Value = value
		res.Provider = ProviderPrimary
		metrics.RetryOutcomes.WithLabelValues(label, "primary_success").Inc()
		return res, nil
	}

	if fallback == nil || p.MaxFallbackAttempts < 1 || ctx.Err() != nil {
		metrics.RetryOutcomes.WithLabelValues(label, "failure").Inc()
		e.alert(ctx, Alert{Label: label, Type: AlertCompleteFailure, Attempts: res.TotalAttempts, PrimaryErr: primaryErr})
		return res, primaryErr
	}

	log.Warn().Err(primaryErr).
		Str("label", label).
		Int("attempts", attempts).
		Msg("Primary provider exhausted, switching to fallback")

	value, fbAttempts, fallbackErr := runAttempts(ctx, e, label, ProviderFallback, p.MaxFallbackAttempts, p.BaseDelay, fallback)
	res.TotalAttempts += fbAttempts
	if fallbackErr == nil {
		res.Value = value
		res.Provider = ProviderFallback
		metrics.RetryOutcomes.WithLabelValues(label, "fallback_success").Inc()
		e.alert(ctx, Alert{Label: label, Type: AlertFallbackTriggered, Attempts: res.TotalAttempts, PrimaryErr: primaryErr})
		return res, nil
	}

	metrics.RetryOutcomes.WithLabelValues(label, "failure").Inc()
	e.alert(ctx, Alert{Label: label, Type: AlertCompleteFailure, Attempts: res.TotalAttempts, PrimaryErr: primaryErr, FallbackErr: fallbackErr})
	return res, primaryErr
}

func runAttempts[T any](ctx context.Context, e *Executor, label string, provider Provider, maxAttempts int, base time.Duration, call Call[T]) (T, int, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := call(ctx)
		if err == nil {
			metrics.RetryAttempts.WithLabelValues(label, string(provider), "success").Inc()
			return value, attempt, nil
		}
		lastErr = err

		class := Classify(err)
		metrics.RetryAttempts.WithLabelValues(label, string(provider), class.String()).Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("label", label).
			Str("provider", string(provider)).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("class", class.String()).
			Msg("Remote call failed")

		if class == ClassPermanent || attempt == maxAttempts {
			return zero, attempt, err
		}
		if err := e.sleep(ctx, Backoff(base, attempt)); err != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, maxAttempts, lastErr
}

func (e *Executor) alert(ctx context.Context, a Alert) {
	if e.alerter == nil {
		return
	}
	e.alerter.Alert(ctx, a)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
