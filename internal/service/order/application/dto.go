// internal/service/order/application/dto.go
package application

import "printforge/internal/service/order/domain"

// AdminAction 是管理员 PATCH 接口支持的动作
type AdminAction string

const (
	ActionGeneratePrint      AdminAction = "GENERATE_PRINT"
	ActionGeneratePrintFinal AdminAction = "GENERATE_PRINT_FINAL"
	ActionInProduction       AdminAction = "IN_PRODUCTION"
	ActionShipped            AdminAction = "SHIPPED"
	ActionDelivered          AdminAction = "DELIVERED"
)

// AdminCommand 是管理员请求体
type AdminCommand struct {
	Action         AdminAction `json:"action"`
	OrderItemID    string      `json:"orderItemId,omitempty"`
	FulfillmentID  string      `json:"fulfillmentId,omitempty"`
	TrackingNumber string      `json:"trackingNumber,omitempty"`
	TrackingURL    string      `json:"trackingUrl,omitempty"`
	Carrier        string      `json:"carrier,omitempty"`
}

func (c AdminCommand) Tracking() domain.Tracking {
	return domain.Tracking{Number: c.TrackingNumber, URL: c.TrackingURL, Carrier: c.Carrier}
}

// AdminResult 是管理员请求的返回
type AdminResult struct {
	Fulfillment *domain.Fulfillment
	Asset       *domain.DesignAsset
	OrderStatus domain.OrderStatus
}

// PartnerResult 是合作方回调的处理结果
type PartnerResult struct {
	OrderID     string
	Updated     int
	OrderStatus domain.OrderStatus
}

// Outcome 是一次支付事件的处理结果
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeApplied   Outcome = "applied"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

// ProcessResult 汇总一次支付回调，用于日志、指标和测试
type ProcessResult struct {
	EventID string
	Type    string
	Branch  domain.Branch
	Outcome Outcome
	Items   []ItemOutcome
	Credits *domain.CreditResult
}
