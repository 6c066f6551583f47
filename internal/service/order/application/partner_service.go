package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"printforge/internal/pkg/logger"
	"printforge/internal/service/order/domain"
)

// PartnerService 处理印刷合作方的状态回调
type PartnerService struct {
	orders       domain.OrderRepository
	fulfillments domain.FulfillmentRepository
	rollup       *Rollup
	notifier     *Notifier
	tracer       trace.Tracer
	now          func() time.Time
}

func NewPartnerService(orders domain.OrderRepository, fulfillments domain.FulfillmentRepository, rollup *Rollup, notifier *Notifier, tracer trace.Tracer) *PartnerService {
	return &PartnerService{orders: orders, fulfillments: fulfillments, rollup: rollup, notifier: notifier, tracer: tracer, now: time.Now}
}

// Handle 把回调应用到订单下所有未失败的履约上，重复回调不产生变化
func (s *PartnerService) Handle(ctx context.Context, evt domain.PartnerEvent) (*PartnerResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.PartnerCallback", trace.WithAttributes(
		attribute.String("partner.event", string(evt.Event)),
		attribute.String("order.id", evt.OrderID),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", evt.OrderID).Str("event", string(evt.Event)).Logger()

	if err := evt.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.orders.FindByID(ctx, evt.OrderID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load order %s: %w", evt.OrderID, err)
	}
	list, err := s.fulfillments.ListByOrder(ctx, evt.OrderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list fulfillments")
		return nil, fmt.Errorf("list fulfillments %s: %w", evt.OrderID, err)
	}

	res := &PartnerResult{OrderID: evt.OrderID}
	var shipped *domain.Fulfillment
	for _, f := range list {
		if f.Status == domain.FulfillmentFailed {
			continue
		}
		from := f.Status
		changed, err := s.apply(f, evt)
		if err != nil {
			// 例如已经 DELIVERED 后又收到 in_production
			log.Warn().Err(err).Str("fulfillment_id", f.ID).Msg("Partner event not applicable")
			continue
		}
		if !changed {
			continue
		}
		if err := s.fulfillments.Update(ctx, f, from); err != nil {
			if errors.Is(err, domain.ErrStaleState) {
				log.Warn().Str("fulfillment_id", f.ID).Msg("Fulfillment changed concurrently, partner update skipped")
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("update fulfillment %s: %w", f.ID, err)
		}
		res.Updated++
		if evt.Event == domain.PartnerOrderShipped && f.Status == domain.FulfillmentShipped && from != domain.FulfillmentShipped {
			shipped = f
		}
	}

	order, err := s.rollup.Recompute(ctx, evt.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.OrderStatus = order.Status
	if shipped != nil {
		s.notifier.Shipped(ctx, order, shipped)
	}
	log.Info().Int("updated", res.Updated).Str("order_status", string(order.Status)).Msg("Partner callback applied")
	return res, nil
}

func (s *PartnerService) apply(f *domain.Fulfillment, evt domain.PartnerEvent) (bool, error) {
	now := s.now()
	changed := false
	if evt.PartnerOrderRef != "" && f.PartnerOrderRef != evt.PartnerOrderRef {
		f.PartnerOrderRef = evt.PartnerOrderRef
		f.UpdatedAt = now
		changed = true
	}

	var next domain.FulfillmentStatus
	switch evt.Event {
	case domain.PartnerOrderReceived:
		return changed, nil
	case domain.PartnerOrderInProduction:
		next = domain.FulfillmentInProduction
	case domain.PartnerOrderShipped:
		next = domain.FulfillmentShipped
		if f.ApplyTracking(evt.Tracking()) {
			changed = true
		}
	}

	// 状态已经越过 next 时（回调乱序）保持不变
	if f.Status != next && !f.Status.CanTransitionTo(next) {
		if changed {
			return true, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, f.Status, next)
	}
	advanced, err := f.Advance(next, now)
	return changed || advanced, err
}
