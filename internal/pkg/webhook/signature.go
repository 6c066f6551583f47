// Package webhook 校验并解析支付网关(Stripe)的回调
package webhook

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrMissingSignature          = errors.New("webhook: missing signature header")
	ErrMalformedSignature        = errors.New("webhook: malformed signature header")
	ErrInvalidSignature          = errors.New("webhook: signature mismatch")
	ErrTimestampOutsideTolerance = errors.New("webhook: timestamp outside tolerance")
)

const DefaultTolerance = stripewebhook.DefaultTolerance

// Verifier 用 stripe-go 校验 Stripe-Signature 头
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify 校验签名头与原始请求体，错误统一映射成本包的哨兵错误
func (v *Verifier) Verify(body []byte, header string) error {
	err := stripewebhook.ValidatePayloadWithTolerance(body, header, v.secret, v.tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stripewebhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, stripewebhook.ErrInvalidHeader):
		return ErrMalformedSignature
	case errors.Is(err, stripewebhook.ErrTooOld):
		return ErrTimestampOutsideTolerance
	}
	return ErrInvalidSignature
}

// Sign 生成签名头，供测试和本地回放工具使用
func (v *Verifier) Sign(body []byte, at time.Time) string {
	return stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   body,
		Secret:    v.secret,
		Timestamp: at,
	}).Header
}

// Parse 解析事件信封。只有 checkout.session.completed 会解出会话对象，其他类型 session 为 nil。
func Parse(body []byte) (*stripe.Event, *stripe.CheckoutSession, error) {
	var evt stripe.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, nil, err
	}
	if evt.Type != stripe.EventTypeCheckoutSessionCompleted || evt.Data == nil || len(evt.Data.Raw) == 0 {
		return &evt, nil, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return &evt, nil, err
	}
	return &evt, &session, nil
}
