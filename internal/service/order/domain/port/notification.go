package port

import "context"

// EmailKind 标识邮件用途，模板渲染由下游负责
type EmailKind string

const (
	EmailBuyerConfirmation EmailKind = "buyer_confirmation"
	EmailPartnerOrder      EmailKind = "partner_production_order"
	EmailSellerSale        EmailKind = "seller_sale"
	EmailShipped           EmailKind = "shipped"
	EmailAdminAlert        EmailKind = "admin_alert"
)

// EmailMessage 是发送契约
type EmailMessage struct {
	Kind    EmailKind         `json:"kind"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Data    map[string]any    `json:"data,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Mailer 是邮件发送的出站端口
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}
