package application

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
	"printforge/internal/service/order/domain/port"
)

// Enqueuer 接收待发送的邮件，不阻塞调用方
type Enqueuer interface {
	Enqueue(ctx context.Context, msg port.EmailMessage) bool
}

type envelope struct {
	span trace.SpanContext
	msg  port.EmailMessage
}

// NotificationDispatcher 用带缓冲的 channel 和一组 worker 发送邮件。
// 队列满时直接丢弃并记录错误，发送失败只记日志。
type NotificationDispatcher struct {
	mailer      port.Mailer
	queue       chan envelope
	workers     int
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotificationDispatcher(mailer port.Mailer, queueSize, workers int, sendTimeout time.Duration) *NotificationDispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &NotificationDispatcher{
		mailer:      mailer,
		queue:       make(chan envelope, queueSize),
		workers:     workers,
		sendTimeout: sendTimeout,
	}
}

// Start 启动 worker，Stop 之前必须调用
func (d *NotificationDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Enqueue 不会阻塞；队列已满或已关闭时返回 false
func (d *NotificationDispatcher) Enqueue(ctx context.Context, msg port.EmailMessage) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	log := logger.Ctx(ctx)
	if d.closed {
		metrics.Notifications.WithLabelValues(string(msg.Kind), "dropped").Inc()
		log.Error().Str("kind", string(msg.Kind)).Msg("Notification dispatcher is stopped, message dropped")
		return false
	}

	select {
	case d.queue <- envelope{span: trace.SpanContextFromContext(ctx), msg: msg}:
		return true
	default:
		metrics.Notifications.WithLabelValues(string(msg.Kind), "dropped").Inc()
		log.Error().Str("kind", string(msg.Kind)).Strs("to", msg.To).Msg("Notification queue is full, message dropped")
		return false
	}
}

// Stop 关闭队列并等待已入队的消息发送完，ctx 到期后放弃等待
func (d *NotificationDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) run() {
	defer d.wg.Done()
	for env := range d.queue {
		d.send(env)
	}
}

func (d *NotificationDispatcher) send(env envelope) {
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), env.span)
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	log := logger.Ctx(ctx)
	defer func() {
		if r := recover(); r != nil {
			metrics.Notifications.WithLabelValues(string(env.msg.Kind), "failed").Inc()
			log.Error().Interface("panic", r).Str("kind", string(env.msg.Kind)).Msg("Mailer panicked")
		}
	}()

	if err := d.mailer.Send(ctx, env.msg); err != nil {
		metrics.Notifications.WithLabelValues(string(env.msg.Kind), "failed").Inc()
		log.Error().Err(err).Str("kind", string(env.msg.Kind)).Strs("to", env.msg.To).Msg("Failed to send notification")
		return
	}
	metrics.Notifications.WithLabelValues(string(env.msg.Kind), "sent").Inc()
	log.Debug().Str("kind", string(env.msg.Kind)).Msg("📧 Notification sent")
}
