package application

import (
	"context"
	"fmt"
	"time"

	"printforge/internal/pkg/cooldown"
	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
	"printforge/internal/pkg/retry"
)

const cooldownTimeout = 2 * time.Second

// AlertNotifier 实现 retry.Alerter，按 (label, type) 在冷却窗口内去重
type AlertNotifier struct {
	store    cooldown.Store
	window   time.Duration
	notifier *Notifier
}

func NewAlertNotifier(store cooldown.Store, window time.Duration, notifier *Notifier) *AlertNotifier {
	return &AlertNotifier{store: store, window: window, notifier: notifier}
}

func (a *AlertNotifier) Alert(ctx context.Context, alert retry.Alert) {
	log := logger.Ctx(ctx)
	key := fmt.Sprintf("%s:%s", alert.Label, alert.Type)

	acquireCtx, cancel := context.WithTimeout(ctx, cooldownTimeout)
	defer cancel()
	ok, err := a.store.Acquire(acquireCtx, key, a.window)
	if err != nil {
		// 冷却存储不可用时宁可多发
		log.Warn().Err(err).Str("key", key).Msg("Cooldown store unavailable, sending alert anyway")
		ok = true
	}
	if !ok {
		metrics.Alerts.WithLabelValues(string(alert.Type), "debounced").Inc()
		log.Debug().Str("key", key).Msg("Alert debounced")
		return
	}

	subject, text := describeAlert(alert)
	log.Warn().Str("label", alert.Label).Str("type", string(alert.Type)).Int("attempts", alert.Attempts).Msg("🚨 " + subject)
	if a.notifier.AdminAlert(ctx, subject, text) {
		metrics.Alerts.WithLabelValues(string(alert.Type), "sent").Inc()
	} else {
		metrics.Alerts.WithLabelValues(string(alert.Type), "dropped").Inc()
	}
}

func describeAlert(alert retry.Alert) (string, string) {
	switch alert.Type {
	case retry.AlertFallbackTriggered:
		return fmt.Sprintf("[%s] fallback provider in use", alert.Label),
			fmt.Sprintf("Primary provider failed after retries (%v). Fallback succeeded after %d total attempts.",
				alert.PrimaryErr, alert.Attempts)
	default:
		text := fmt.Sprintf("All providers failed after %d attempts.\nPrimary: %v", alert.Attempts, alert.PrimaryErr)
		if alert.FallbackErr != nil {
			text += fmt.Sprintf("\nFallback: %v", alert.FallbackErr)
		}
		return fmt.Sprintf("[%s] complete failure", alert.Label), text
	}
}
