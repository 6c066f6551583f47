package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"printforge/internal/pkg/mq"
	"printforge/internal/service/order/domain/port"
)

// NotificationKafkaAdapter 实现了 port.Mailer 接口。
// 邮件以 JSON 写入通知主题，由下游的邮件服务渲染和投递。
type NotificationKafkaAdapter struct {
	writer mq.MessageWriter
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer mq.MessageWriter) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

// Send 以邮件类型和收件人作为消息 key，保证同一收件人的消息有序
func (a *NotificationKafkaAdapter) Send(ctx context.Context, msg port.EmailMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("email %s has no recipient", msg.Kind)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}
	key := string(msg.Kind) + ":" + strings.Join(msg.To, ",")
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, []byte(key), payload)
}
