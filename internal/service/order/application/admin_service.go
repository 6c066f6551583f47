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
	"printforge/internal/service/order/domain/port"
)

var (
	ErrUnknownAction     = errors.New("unknown admin action")
	ErrMissingTarget     = errors.New("missing orderItemId or fulfillmentId")
	ErrGenerationFailure = errors.New("asset generation failed")
)

// AdminConfig 是人工补救入口的参数
type AdminConfig struct {
	Partner         string
	GenerateTimeout time.Duration
	PrintDPI        int
	FinalDPI        int
}

// AdminService 提供人工重新生成资源和推进履约状态的能力
type AdminService struct {
	orders       domain.OrderRepository
	fulfillments domain.FulfillmentRepository
	generator    port.AssetGenerator
	rollup       *Rollup
	notifier     *Notifier
	cfg          AdminConfig
	tracer       trace.Tracer
	now          func() time.Time
}

func NewAdminService(
	orders domain.OrderRepository,
	fulfillments domain.FulfillmentRepository,
	generator port.AssetGenerator,
	rollup *Rollup,
	notifier *Notifier,
	cfg AdminConfig,
	tracer trace.Tracer,
) *AdminService {
	return &AdminService{
		orders:       orders,
		fulfillments: fulfillments,
		generator:    generator,
		rollup:       rollup,
		notifier:     notifier,
		cfg:          cfg,
		tracer:       tracer,
		now:          time.Now,
	}
}

// Handle 按 action 分发管理员命令
func (s *AdminService) Handle(ctx context.Context, cmd AdminCommand) (*AdminResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdminAction", trace.WithAttributes(attribute.String("admin.action", string(cmd.Action))))
	defer span.End()

	var (
		res *AdminResult
		err error
	)
	switch cmd.Action {
	case ActionGeneratePrint:
		res, err = s.regenerate(ctx, cmd.OrderItemID, domain.RolePrint, s.cfg.PrintDPI)
	case ActionGeneratePrintFinal:
		res, err = s.regenerate(ctx, cmd.OrderItemID, domain.RolePrintFinal, s.cfg.FinalDPI)
	case ActionInProduction:
		res, err = s.advance(ctx, cmd, domain.FulfillmentInProduction)
	case ActionShipped:
		res, err = s.advance(ctx, cmd, domain.FulfillmentShipped)
	case ActionDelivered:
		res, err = s.advance(ctx, cmd, domain.FulfillmentDelivered)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admin action failed")
	}
	return res, err
}

// regenerate 不受回调时间预算限制；成功时把 FAILED 的履约恢复到 QUEUED
func (s *AdminService) regenerate(ctx context.Context, itemID string, role domain.AssetRole, dpi int) (*AdminResult, error) {
	if itemID == "" {
		return nil, ErrMissingTarget
	}
	log := logger.Ctx(ctx).With().Str("item_id", itemID).Str("role", string(role)).Logger()

	item, err := s.orders.FindItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load order item %s: %w", itemID, err)
	}
	order, err := s.orders.FindByID(ctx, item.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", item.OrderID, err)
	}
	if !order.Status.IsPaidOrLater() {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotPaid, order.ID, order.Status)
	}

	f, _, err := s.fulfillments.CreateIfAbsent(ctx, domain.NewFulfillment(order.ID, item.ID, s.cfg.Partner, s.now()))
	if err != nil {
		return nil, fmt.Errorf("load fulfillment for item %s: %w", itemID, err)
	}

	genCtx := ctx
	if s.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GenerateTimeout)
		defer cancel()
	}
	asset, genErr := s.generator.Generate(genCtx, port.GenerateRequest{
		DesignID:    item.DesignID,
		SizeCode:    item.SizeCode,
		ProductType: item.ProductType,
		Role:        role,
		DPI:         dpi,
	})

	from := f.Status
	if genErr != nil {
		log.Error().Err(genErr).Msg("❌ Admin generation failed")
		if err := f.MarkFailed(genErr.Error(), s.now()); err != nil {
			// 已经在生产或发货，不能标记失败
			log.Warn().Err(err).Msg("Fulfillment left unchanged")
		} else if err := s.fulfillments.Update(ctx, f, from); err != nil {
			log.Error().Err(err).Msg("Failed to persist FAILED fulfillment")
		}
		return &AdminResult{Fulfillment: f}, fmt.Errorf("%w: %v", ErrGenerationFailure, genErr)
	}

	if f.Status == domain.FulfillmentFailed {
		if _, err := f.Advance(domain.FulfillmentQueued, s.now()); err != nil {
			return nil, err
		}
		if err := s.fulfillments.Update(ctx, f, from); err != nil {
			return nil, fmt.Errorf("requeue fulfillment %s: %w", f.ID, err)
		}
		log.Info().Str("fulfillment_id", f.ID).Msg("🔁 Fulfillment requeued after admin generation")
	}
	return &AdminResult{Fulfillment: f, Asset: asset}, nil
}

func (s *AdminService) advance(ctx context.Context, cmd AdminCommand, next domain.FulfillmentStatus) (*AdminResult, error) {
	if cmd.FulfillmentID == "" {
		return nil, ErrMissingTarget
	}
	f, err := s.fulfillments.FindByID(ctx, cmd.FulfillmentID)
	if err != nil {
		return nil, fmt.Errorf("load fulfillment %s: %w", cmd.FulfillmentID, err)
	}

	from := f.Status
	changed, err := f.Advance(next, s.now())
	if err != nil {
		return nil, err
	}
	trackingChanged := f.ApplyTracking(cmd.Tracking())
	if changed || trackingChanged {
		if err := s.fulfillments.Update(ctx, f, from); err != nil {
			return nil, fmt.Errorf("update fulfillment %s: %w", f.ID, err)
		}
	}

	order, err := s.rollup.Recompute(ctx, f.OrderID)
	if err != nil {
		return nil, err
	}
	if changed && next == domain.FulfillmentShipped {
		s.notifier.Shipped(ctx, order, f)
	}
	logger.Ctx(ctx).Info().Str("fulfillment_id", f.ID).Str("from", string(from)).Str("to", string(f.Status)).
		Str("order_status", string(order.Status)).Msg("Fulfillment advanced by admin")
	return &AdminResult{Fulfillment: f, OrderStatus: order.Status}, nil
}
