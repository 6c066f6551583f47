package application

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"printforge/internal/pkg/logger"
	"printforge/internal/service/order/domain"
)

// OrderFinalizer 是直购订单的幂等守卫和支付确认事务
type OrderFinalizer struct {
	orders domain.OrderRepository
	tracer trace.Tracer
}

func NewOrderFinalizer(orders domain.OrderRepository, tracer trace.Tracer) *OrderFinalizer {
	return &OrderFinalizer{orders: orders, tracer: tracer}
}

// Finalize 已支付（或更后面的状态）视为重复投递，直接返回；否则原子地写入 PAID 和支付记录。
// 返回的订单是写入之后重新加载的。
func (f *OrderFinalizer) Finalize(ctx context.Context, orderID string, conf domain.PaymentConfirmation) (domain.FinalizeOutcome, *domain.Order, error) {
	ctx, span := f.tracer.Start(ctx, "app.FinalizeOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", orderID).Logger()

	order, err := f.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load order")
		return "", nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	switch {
	case order.Status.IsPaidOrLater():
		span.AddEvent("duplicate delivery, order already paid")
		log.Info().Str("status", string(order.Status)).Msg("Order already finalized, skipping")
		return domain.FinalizeDuplicate, order, nil
	case order.Status == domain.OrderStatusCanceled:
		span.AddEvent("order canceled before payment confirmation")
		return domain.FinalizeCanceled, order, nil
	}

	if conf.AmountCents != 0 && order.TotalCents != 0 && conf.AmountCents != order.TotalCents {
		log.Warn().Int64("paid_cents", conf.AmountCents).Int64("order_total_cents", order.TotalCents).
			Msg("Paid amount differs from order total")
	}

	outcome, err := f.orders.FinalizePayment(ctx, orderID, conf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalization transaction failed")
		return "", nil, fmt.Errorf("finalize order %s: %w", orderID, err)
	}
	if outcome != domain.FinalizeApplied {
		// 并发的重复投递抢先完成了写入
		span.AddEvent("lost finalization race", trace.WithAttributes(attribute.String("outcome", string(outcome))))
		return outcome, order, nil
	}

	paid, err := f.orders.FindByID(ctx, orderID)
	if err != nil {
		// 事务已提交，重新加载失败时用内存里的订单继续
		log.Error().Err(err).Msg("Failed to reload finalized order")
		order.Status = domain.OrderStatusPaid
		paid = order
	}
	span.AddEvent("order finalized as PAID")
	log.Info().Str("external_ref", conf.ExternalRef).Msg("✅ Order finalized as PAID")
	return domain.FinalizeApplied, paid, nil
}

// MarketFinalizer 处理市场订单的支付确认
type MarketFinalizer struct {
	market domain.MarketRepository
	tracer trace.Tracer
}

func NewMarketFinalizer(market domain.MarketRepository, tracer trace.Tracer) *MarketFinalizer {
	return &MarketFinalizer{market: market, tracer: tracer}
}

func (f *MarketFinalizer) Finalize(ctx context.Context, marketOrderID string, conf domain.PaymentConfirmation) (domain.FinalizeOutcome, *domain.MarketSale, error) {
	ctx, span := f.tracer.Start(ctx, "app.FinalizeMarketOrder", trace.WithAttributes(attribute.String("market_order.id", marketOrderID)))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("market_order_id", marketOrderID).Logger()

	mo, err := f.market.FindOrder(ctx, marketOrderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load market order")
		return "", nil, fmt.Errorf("load market order %s: %w", marketOrderID, err)
	}
	switch {
	case mo.Status.IsPaidOrLater():
		log.Info().Str("status", string(mo.Status)).Msg("Market order already finalized, skipping")
		return domain.FinalizeDuplicate, nil, nil
	case mo.Status == domain.MarketOrderCanceled:
		return domain.FinalizeCanceled, nil, nil
	}

	outcome, err := f.market.FinalizePayment(ctx, marketOrderID, conf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "market finalization transaction failed")
		return "", nil, fmt.Errorf("finalize market order %s: %w", marketOrderID, err)
	}
	if outcome != domain.FinalizeApplied {
		return outcome, nil, nil
	}

	sale, err := f.market.FindSale(ctx, marketOrderID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load sale details after finalization")
		mo.Status = domain.MarketOrderPaid
		sale = &domain.MarketSale{Order: mo}
	}
	log.Info().Msg("✅ Market order finalized as PAID")
	return domain.FinalizeApplied, sale, nil
}
