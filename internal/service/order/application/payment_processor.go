package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
	"printforge/internal/pkg/webhook"
	"printforge/internal/service/order/domain"
	"printforge/internal/service/order/domain/port"
)

// ErrFinalizationFailed 表示支付确认没有写入，网关应当重新投递
var ErrFinalizationFailed = errors.New("payment finalization failed")

// SignatureVerifier 校验回调签名
type SignatureVerifier interface {
	Verify(body []byte, header string) error
}

// ProcessorConfig 是支付回调处理参数
type ProcessorConfig struct {
	Provider string
	// Budget 是签名校验之后整个处理流程的时间上限，与请求连接是否断开无关
	Budget time.Duration
}

// PaymentEventProcessor 是支付回调的入口
type PaymentEventProcessor struct {
	verifier     SignatureVerifier
	orders       *OrderFinalizer
	market       *MarketFinalizer
	credits      *CreditService
	orchestrator *FulfillmentOrchestrator
	notifier     *Notifier
	locker       port.OrderLocker
	cfg          ProcessorConfig
	tracer       trace.Tracer
}

func NewPaymentEventProcessor(
	verifier SignatureVerifier,
	orders *OrderFinalizer,
	market *MarketFinalizer,
	credits *CreditService,
	orchestrator *FulfillmentOrchestrator,
	notifier *Notifier,
	locker port.OrderLocker,
	cfg ProcessorConfig,
	tracer trace.Tracer,
) *PaymentEventProcessor {
	if locker == nil {
		locker = port.NoopLocker{}
	}
	if cfg.Provider == "" {
		cfg.Provider = "stripe"
	}
	return &PaymentEventProcessor{
		verifier:     verifier,
		orders:       orders,
		market:       market,
		credits:      credits,
		orchestrator: orchestrator,
		notifier:     notifier,
		locker:       locker,
		cfg:          cfg,
		tracer:       tracer,
	}
}

// Process 校验签名后处理事件。
// 只有签名错误和支付确认写库失败会返回错误，其余问题记录日志后照常确认。
func (p *PaymentEventProcessor) Process(ctx context.Context, body []byte, signature string) (*ProcessResult, error) {
	ctx, span := p.tracer.Start(ctx, "app.ProcessPaymentEvent")
	defer span.End()

	if err := p.verifier.Verify(body, signature); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", string(domain.BranchNone), "rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "signature verification failed")
		logger.Ctx(ctx).Warn().Err(err).Msg("Rejected payment webhook with invalid signature")
		return nil, err
	}

	if p.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Budget)
		defer cancel()
	}

	res := &ProcessResult{Branch: domain.BranchNone, Outcome: OutcomeIgnored}
	defer func() {
		metrics.WebhookEvents.WithLabelValues(res.Type, string(res.Branch), string(res.Outcome)).Inc()
	}()

	raw, session, err := webhook.Parse(body)
	if err != nil {
		res.Type = "unparseable"
		logger.Ctx(ctx).Error().Err(err).Msg("Verified payment webhook has an unparseable body, acknowledging")
		return res, nil
	}
	res.EventID, res.Type = raw.ID, string(raw.Type)
	span.SetAttributes(attribute.String("event.id", raw.ID), attribute.String("event.type", res.Type))
	log := logger.Ctx(ctx).With().Str("event_id", raw.ID).Str("event_type", res.Type).Logger()

	if res.Type != domain.EventCheckoutCompleted || session == nil {
		log.Debug().Msg("Ignoring payment event type")
		return res, nil
	}

	evt := toPaymentEvent(raw, session)
	meta := evt.Session.Metadata
	if meta.CreditsErr != nil {
		log.Error().Err(meta.CreditsErr).
			Str("order_id", meta.OrderID).
			Str("market_order_id", meta.MarketOrderID).
			Msg("Malformed creditsPurchase metadata, falling back to order fields")
	}
	res.Branch = meta.Branch()
	span.SetAttributes(attribute.String("event.branch", string(res.Branch)))

	switch res.Branch {
	case domain.BranchCredits:
		err = p.handleCredits(ctx, evt, res)
	case domain.BranchDirect:
		err = p.handleDirect(ctx, evt, res)
	case domain.BranchMarket:
		err = p.handleMarket(ctx, evt, res)
	default:
		log.Warn().Str("session_id", evt.Session.ID).Msg("Checkout completed without order metadata, ignoring")
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment event processing failed")
		log.Error().Err(err).Str("branch", string(res.Branch)).Msg("❌ Payment event could not be finalized, gateway will retry")
		return res, err
	}
	log.Info().Str("branch", string(res.Branch)).Str("outcome", string(res.Outcome)).Msg("Payment event processed")
	return res, nil
}

func (p *PaymentEventProcessor) handleDirect(ctx context.Context, evt *domain.PaymentEvent, res *ProcessResult) error {
	session := evt.Session
	orderID := session.Metadata.OrderID
	log := logger.Ctx(ctx).With().Str("order_id", orderID).Logger()

	unlock := p.lock(ctx, "order:"+orderID)
	defer unlock()

	outcome, order, err := p.orders.Finalize(ctx, orderID, evt.Confirmation(p.cfg.Provider))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		res.Outcome = OutcomeNotFound
		log.Error().Err(err).Msg("Payment confirmed for an unknown order")
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrFinalizationFailed, err)
	}

	switch outcome {
	case domain.FinalizeDuplicate:
		res.Outcome = OutcomeDuplicate
		return nil
	case domain.FinalizeCanceled:
		res.Outcome = OutcomeCanceled
		log.Error().Str("external_ref", session.ExternalRef()).Msg("🚨 Payment confirmed for a CANCELED order, refund needed")
		return nil
	}

	res.Outcome = OutcomeApplied
	if order.CustomerEmail == "" {
		order.CustomerEmail = session.CustomerEmail
	}
	res.Items = p.orchestrator.ProcessOrder(ctx, order)
	p.notifier.OrderPaid(ctx, order, res.Items)
	return nil
}

func (p *PaymentEventProcessor) handleMarket(ctx context.Context, evt *domain.PaymentEvent, res *ProcessResult) error {
	session := evt.Session
	id := session.Metadata.MarketOrderID
	log := logger.Ctx(ctx).With().Str("market_order_id", id).Logger()

	unlock := p.lock(ctx, "market-order:"+id)
	defer unlock()

	outcome, sale, err := p.market.Finalize(ctx, id, evt.Confirmation(p.cfg.Provider))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		res.Outcome = OutcomeNotFound
		log.Error().Err(err).Msg("Payment confirmed for an unknown market order")
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrFinalizationFailed, err)
	}

	switch outcome {
	case domain.FinalizeDuplicate:
		res.Outcome = OutcomeDuplicate
	case domain.FinalizeCanceled:
		res.Outcome = OutcomeCanceled
		log.Error().Msg("🚨 Payment confirmed for a CANCELED market order, refund needed")
	default:
		res.Outcome = OutcomeApplied
		if sale.Order.BuyerEmail == "" {
			sale.Order.BuyerEmail = session.CustomerEmail
		}
		p.notifier.MarketSale(ctx, sale)
	}
	return nil
}

func (p *PaymentEventProcessor) handleCredits(ctx context.Context, evt *domain.PaymentEvent, res *ProcessResult) error {
	session := evt.Session
	purchase := *session.Metadata.CreditsPurchase

	unlock := p.lock(ctx, "credits:"+purchase.UserID)
	defer unlock()

	credited, err := p.credits.ApplyPurchase(ctx, purchase, session.ExternalRef())
	switch {
	case errors.Is(err, domain.ErrInvalidEvent):
		logger.Ctx(ctx).Error().Err(err).Msg("Invalid credits purchase metadata, ignoring")
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrFinalizationFailed, err)
	}
	res.Credits = credited
	if credited.Duplicate {
		res.Outcome = OutcomeDuplicate
	} else {
		res.Outcome = OutcomeApplied
	}
	return nil
}

func (p *PaymentEventProcessor) lock(ctx context.Context, key string) func() {
	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to acquire order lock, continuing without it")
		return func() {}
	}
	return unlock
}

// toPaymentEvent 取出网关事件里履约需要的字段
func toPaymentEvent(evt *stripe.Event, s *stripe.CheckoutSession) *domain.PaymentEvent {
	out := &domain.PaymentEvent{
		ID:   evt.ID,
		Type: string(evt.Type),
		Session: domain.CheckoutSession{
			ID:            s.ID,
			AmountTotal:   s.AmountTotal,
			Currency:      string(s.Currency),
			CustomerEmail: s.CustomerEmail,
			Metadata:      domain.ParseEventMetadata(s.Metadata),
		},
	}
	if evt.Created > 0 {
		out.Created = time.Unix(evt.Created, 0).UTC()
	}
	if s.PaymentIntent != nil {
		out.Session.PaymentIntent = s.PaymentIntent.ID
	}
	if out.Session.CustomerEmail == "" && s.CustomerDetails != nil {
		out.Session.CustomerEmail = s.CustomerDetails.Email
	}
	return out
}
