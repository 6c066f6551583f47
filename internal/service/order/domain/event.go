// internal/service/order/domain/event.go
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventCheckoutCompleted 是唯一会触发履约的支付事件类型
const EventCheckoutCompleted = "checkout.session.completed"

// PaymentEvent 是从网关事件里取出的、履约关心的部分
type PaymentEvent struct {
	ID      string
	Type    string
	Created time.Time
	Session CheckoutSession
}

// CheckoutSession 是结账会话对象
type CheckoutSession struct {
	ID            string
	PaymentIntent string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
	Metadata      EventMetadata
}

// ExternalRef 优先使用 payment intent，没有时退回会话 ID
func (s CheckoutSession) ExternalRef() string {
	if s.PaymentIntent != "" {
		return s.PaymentIntent
	}
	return s.ID
}

// Confirmation 转换成领域层的支付确认
func (e *PaymentEvent) Confirmation(provider string) PaymentConfirmation {
	s := e.Session
	paidAt := time.Now().UTC()
	if !e.Created.IsZero() {
		paidAt = e.Created.UTC()
	}
	return PaymentConfirmation{
		Provider:    provider,
		ExternalRef: s.ExternalRef(),
		AmountCents: s.AmountTotal,
		Currency:    strings.ToUpper(s.Currency),
		PaidAt:      paidAt,
	}
}

// Branch 是支付事件对应的业务分支
type Branch string

const (
	BranchNone    Branch = "none"
	BranchCredits Branch = "credits"
	BranchDirect  Branch = "direct"
	BranchMarket  Branch = "market"
)

// EventMetadata 是结账会话上携带的元数据
type EventMetadata struct {
	OrderID         string
	MarketOrderID   string
	CreditsPurchase *CreditsPurchase
	// CreditsErr 记录 creditsPurchase 存在但无法解析的原因，此时按订单字段选择分支
	CreditsErr error
}

// Branch 多个字段同时出现时按 积分 > 直购 > 市场 的顺序选择
func (m EventMetadata) Branch() Branch {
	switch {
	case m.CreditsPurchase != nil:
		return BranchCredits
	case m.OrderID != "":
		return BranchDirect
	case m.MarketOrderID != "":
		return BranchMarket
	}
	return BranchNone
}

// ParseEventMetadata 解析网关的字符串元数据。
// creditsPurchase 是 JSON 字符串；解析失败只记在 CreditsErr 上，不影响订单字段，空对象视为不存在。
func ParseEventMetadata(raw map[string]string) EventMetadata {
	m := EventMetadata{
		OrderID:       strings.TrimSpace(raw["orderId"]),
		MarketOrderID: strings.TrimSpace(raw["marketOrderId"]),
	}
	cp := strings.TrimSpace(raw["creditsPurchase"])
	if cp == "" || cp == "null" {
		return m
	}
	var purchase CreditsPurchase
	if err := json.Unmarshal([]byte(cp), &purchase); err != nil {
		m.CreditsErr = fmt.Errorf("metadata.creditsPurchase: %w", err)
		return m
	}
	if purchase != (CreditsPurchase{}) {
		m.CreditsPurchase = &purchase
	}
	return m
}

// UnmarshalJSON 兼容 credits 为数字或数字字符串
func (p *CreditsPurchase) UnmarshalJSON(data []byte) error {
	var aux struct {
		UserID    string          `json:"userId"`
		Credits   json.RawMessage `json:"credits"`
		PackageID string          `json:"packageId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.UserID = aux.UserID
	p.PackageID = aux.PackageID

	credits := bytes.Trim(bytes.TrimSpace(aux.Credits), `"`)
	if len(credits) == 0 || bytes.Equal(credits, []byte("null")) {
		p.Credits = 0
		return nil
	}
	n, err := strconv.ParseInt(string(credits), 10, 64)
	if err != nil {
		return fmt.Errorf("credits: %w", err)
	}
	p.Credits = n
	return nil
}

// PartnerEventType 是印刷合作方回调的事件类型
type PartnerEventType string

const (
	PartnerOrderReceived     PartnerEventType = "order.received"
	PartnerOrderInProduction PartnerEventType = "order.in_production"
	PartnerOrderShipped      PartnerEventType = "order.shipped"
)

// PartnerEvent 是合作方回调的请求体
type PartnerEvent struct {
	Event           PartnerEventType `json:"event"`
	OrderID         string           `json:"orderId"`
	PartnerOrderRef string           `json:"partnerOrderRef,omitempty"`
	TrackingNumber  string           `json:"trackingNumber,omitempty"`
	TrackingURL     string           `json:"trackingUrl,omitempty"`
	Carrier         string           `json:"carrier,omitempty"`
}

func (e PartnerEvent) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidEvent)
	}
	switch e.Event {
	case PartnerOrderReceived, PartnerOrderInProduction, PartnerOrderShipped:
		return nil
	}
	return fmt.Errorf("%w: unknown partner event %q", ErrInvalidEvent, e.Event)
}

// Tracking 取出回调里的物流信息
func (e PartnerEvent) Tracking() Tracking {
	return Tracking{Number: e.TrackingNumber, URL: e.TrackingURL, Carrier: e.Carrier}
}
