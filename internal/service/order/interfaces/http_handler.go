package interfaces

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
	"printforge/internal/pkg/webhook"
	"printforge/internal/service/order/application"
	"printforge/internal/service/order/domain"
)

const maxBodyBytes = 1 << 20

// PaymentProcessor 处理已签名的支付回调
type PaymentProcessor interface {
	Process(ctx context.Context, body []byte, signature string) (*application.ProcessResult, error)
}

type PartnerCallbackHandler interface {
	Handle(ctx context.Context, evt domain.PartnerEvent) (*application.PartnerResult, error)
}

type AdminCommandHandler interface {
	Handle(ctx context.Context, cmd application.AdminCommand) (*application.AdminResult, error)
}

// HandlerConfig 是各个入口的鉴权配置
type HandlerConfig struct {
	SignatureHeader      string
	PartnerSecretHeader  string
	PartnerWebhookSecret string
	AdminToken           string
}

// FulfillmentHandler 封装了支付回调、合作方回调和管理员接口
type FulfillmentHandler struct {
	payments PaymentProcessor
	partner  PartnerCallbackHandler
	admin    AdminCommandHandler
	cfg      HandlerConfig
}

// NewFulfillmentHandler 创建一个新的 HTTP 处理器实例
func NewFulfillmentHandler(payments PaymentProcessor, partner PartnerCallbackHandler, admin AdminCommandHandler, cfg HandlerConfig) *FulfillmentHandler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "Stripe-Signature"
	}
	if cfg.PartnerSecretHeader == "" {
		cfg.PartnerSecretHeader = "X-Partner-Secret"
	}
	return &FulfillmentHandler{payments: payments, partner: partner, admin: admin, cfg: cfg}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *FulfillmentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /webhooks/payment", h.handlePaymentWebhook)
	mux.HandleFunc("POST /webhooks/partner", h.handlePartnerWebhook)
	mux.HandleFunc("PATCH /admin/fulfillment", h.handleAdminFulfillment)
}

// handlePaymentWebhook 必须读取原始请求体，签名是对原始字节计算的
func (h *FulfillmentHandler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	res, err := h.payments.Process(ctx, body, r.Header.Get(h.cfg.SignatureHeader))
	if err != nil {
		var statusCode int
		switch {
		case errors.Is(err, webhook.ErrMissingSignature),
			errors.Is(err, webhook.ErrMalformedSignature),
			errors.Is(err, webhook.ErrInvalidSignature),
			errors.Is(err, webhook.ErrTimestampOutsideTolerance):
			statusCode = http.StatusBadRequest
		default:
			// 包括 application.ErrFinalizationFailed，返回 5xx 让网关重投
			statusCode = http.StatusInternalServerError
		}
		logger.Ctx(ctx).Warn().Err(err).Int("status", statusCode).Msg("payment webhook rejected")
		http.Error(w, err.Error(), statusCode)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"eventId":  res.EventID,
		"outcome":  res.Outcome,
	})
}

type partnerRequest struct {
	Event           string `json:"event"`
	OrderID         string `json:"orderId"`
	PartnerOrderRef string `json:"partnerOrderRef"`
	TrackingNumber  string `json:"trackingNumber"`
	TrackingURL     string `json:"trackingUrl"`
	Carrier         string `json:"carrier"`
}

func (h *FulfillmentHandler) handlePartnerWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	if !secretMatches(r.Header.Get(h.cfg.PartnerSecretHeader), h.cfg.PartnerWebhookSecret) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req partnerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.partner.Handle(ctx, domain.PartnerEvent{
		Event:           domain.PartnerEventType(req.Event),
		OrderID:         req.OrderID,
		PartnerOrderRef: req.PartnerOrderRef,
		TrackingNumber:  req.TrackingNumber,
		TrackingURL:     req.TrackingURL,
		Carrier:         req.Carrier,
	})
	if err != nil {
		statusCode := statusFor(err)
		http.Error(w, err.Error(), statusCode)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":     res.OrderID,
		"updated":     res.Updated,
		"orderStatus": res.OrderStatus,
	})
}

type fulfillmentResponse struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"orderId"`
	OrderItemID     string     `json:"orderItemId"`
	Status          string     `json:"status"`
	PartnerOrderRef string     `json:"partnerOrderRef,omitempty"`
	TrackingNumber  string     `json:"trackingNumber,omitempty"`
	TrackingURL     string     `json:"trackingUrl,omitempty"`
	Carrier         string     `json:"carrier,omitempty"`
	InternalNote    string     `json:"internalNote,omitempty"`
	ShippedAt       *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
}

type assetResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	URL         string `json:"url"`
	WidthPx     int    `json:"widthPx"`
	HeightPx    int    `json:"heightPx"`
	DPI         int    `json:"dpi"`
	Upscaled    bool   `json:"upscaled"`
	Provider    string `json:"provider,omitempty"`
	Placeholder bool   `json:"placeholder"`
}

type adminResponse struct {
	Fulfillment *fulfillmentResponse `json:"fulfillment,omitempty"`
	Asset       *assetResponse       `json:"asset,omitempty"`
	OrderStatus string               `json:"orderStatus,omitempty"`
}

func (h *FulfillmentHandler) handleAdminFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !secretMatches(token, h.cfg.AdminToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var cmd application.AdminCommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.admin.Handle(ctx, cmd)
	if err != nil {
		statusCode := statusFor(err)
		logger.Ctx(ctx).Warn().Err(err).Str("action", string(cmd.Action)).Int("status", statusCode).Msg("admin action failed")
		http.Error(w, err.Error(), statusCode)
		return
	}

	writeJSON(w, http.StatusOK, toAdminResponse(res))
}

// statusFor 把应用层和领域层的错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStaleState),
		errors.Is(err, domain.ErrOrderNotPaid):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrUnknownSize),
		errors.Is(err, application.ErrUnknownAction),
		errors.Is(err, application.ErrMissingTarget):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrGenerationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// secretMatches 做常量时间比较，未配置密钥时一律拒绝
func secretMatches(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func toAdminResponse(res *application.AdminResult) adminResponse {
	var out adminResponse
	if res == nil {
		return out
	}
	out.OrderStatus = string(res.OrderStatus)
	if f := res.Fulfillment; f != nil {
		out.Fulfillment = &fulfillmentResponse{
			ID:              f.ID,
			OrderID:         f.OrderID,
			OrderItemID:     f.OrderItemID,
			Status:          string(f.Status),
			PartnerOrderRef: f.PartnerOrderRef,
			TrackingNumber:  f.TrackingNumber,
			TrackingURL:     f.TrackingURL,
			Carrier:         f.Carrier,
			InternalNote:    f.InternalNote,
			ShippedAt:       f.ShippedAt,
			DeliveredAt:     f.DeliveredAt,
		}
	}
	if a := res.Asset; a != nil {
		out.Asset = &assetResponse{
			ID:          a.ID,
			Role:        string(a.Key.Role),
			URL:         a.URL,
			WidthPx:     a.WidthPx,
			HeightPx:    a.HeightPx,
			DPI:         a.DPI,
			Upscaled:    a.Upscaled,
			Provider:    a.Provider,
			Placeholder: a.Placeholder,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
