package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
	"printforge/internal/service/order/domain"
	"printforge/internal/service/order/domain/port"
)

// ItemPath 是订单行走的处理路径
type ItemPath string

const (
	PathStandard ItemPath = "standard"
	PathPremium  ItemPath = "premium"
	PathSkipped  ItemPath = "skipped"
)

// ItemOutcome 是单个订单行的处理结果
type ItemOutcome struct {
	Item          domain.OrderItem
	FulfillmentID string
	Path          ItemPath
	Status        domain.FulfillmentStatus
	Asset         *domain.DesignAsset
	Err           error
}

// OrchestratorConfig 是履约编排的参数
type OrchestratorConfig struct {
	Partner           string
	Concurrency       int
	GenerationTimeout time.Duration
	PrintDPI          int
}

// FulfillmentOrchestrator 为每个订单行创建履约记录并生成打印资源。
// 每一行相互隔离，一行失败不会中断其他行。
type FulfillmentOrchestrator struct {
	fulfillments domain.FulfillmentRepository
	assets       domain.AssetRepository
	catalog      port.DesignCatalog
	generator    port.AssetGenerator
	sizes        port.SizePolicy
	cfg          OrchestratorConfig
	tracer       trace.Tracer
	now          func() time.Time
}

func NewFulfillmentOrchestrator(
	fulfillments domain.FulfillmentRepository,
	assets domain.AssetRepository,
	catalog port.DesignCatalog,
	generator port.AssetGenerator,
	sizes port.SizePolicy,
	cfg OrchestratorConfig,
	tracer trace.Tracer,
) *FulfillmentOrchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &FulfillmentOrchestrator{
		fulfillments: fulfillments,
		assets:       assets,
		catalog:      catalog,
		generator:    generator,
		sizes:        sizes,
		cfg:          cfg,
		tracer:       tracer,
		now:          time.Now,
	}
}

// ProcessOrder 处理订单的全部行，结果顺序与 order.Items 一致
func (o *FulfillmentOrchestrator) ProcessOrder(ctx context.Context, order *domain.Order) []ItemOutcome {
	ctx, span := o.tracer.Start(ctx, "app.ProcessOrderItems", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.items", len(order.Items)),
	))
	defer span.End()

	outcomes := make([]ItemOutcome, len(order.Items))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, item := range order.Items {
		i, item := i, item
		g.Go(func() error {
			outcomes[i] = o.processItem(ctx, order, item)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		metrics.FulfillmentItems.WithLabelValues(string(out.Path), outcomeLabel(out)).Inc()
		if out.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("order.items_failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d item(s) failed", failed))
	}
	return outcomes
}

func (o *FulfillmentOrchestrator) processItem(ctx context.Context, order *domain.Order, item domain.OrderItem) (out ItemOutcome) {
	ctx, span := o.tracer.Start(ctx, "app.ProcessOrderItem", trace.WithAttributes(
		attribute.String("order_item.id", item.ID),
		attribute.String("order_item.size", item.SizeCode),
	))
	defer span.End()
	log := logger.Ctx(ctx).With().Str("order_id", order.ID).Str("item_id", item.ID).Logger()

	out = ItemOutcome{Item: item, Path: PathStandard}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic while processing item %s: %v", item.ID, r)
			out.Status = domain.FulfillmentFailed
			log.Error().Interface("panic", r).Msg("Item processing panicked")
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "item failed")
		}
	}()

	f, created, err := o.fulfillments.CreateIfAbsent(ctx, domain.NewFulfillment(order.ID, item.ID, o.cfg.Partner, o.now()))
	if err != nil {
		out.Err = fmt.Errorf("create fulfillment: %w", err)
		log.Error().Err(err).Msg("Failed to create fulfillment")
		return out
	}
	out.FulfillmentID = f.ID
	out.Status = f.Status
	if !created && f.Status != domain.FulfillmentQueued {
		// 已经进入生产、发货或失败等待人工处理
		out.Path = PathSkipped
		span.AddEvent("fulfillment already past QUEUED, skipped")
		return out
	}

	key := domain.AssetKey{DesignID: item.DesignID, Role: domain.RolePrint, SizeCode: item.SizeCode, ProductType: item.ProductType}
	size, err := o.sizes.Resolve(item.SizeCode)
	if err != nil {
		return o.fail(ctx, f, out, fmt.Errorf("classify size %q: %w", item.SizeCode, err))
	}

	if size.Premium {
		out.Path = PathPremium
		out.Asset, out.Err = o.ensurePlaceholder(ctx, key)
		if out.Err != nil {
			// 延后生成本来就需要人工处理，这里只记录
			log.Warn().Err(out.Err).Msg("Failed to create placeholder asset for premium item")
		} else {
			log.Info().Str("size", item.SizeCode).Msg("⏸️ Premium size deferred to admin generation")
		}
		span.AddEvent("premium size deferred")
		return out
	}

	existing, err := o.assets.Find(ctx, key)
	switch {
	case err == nil && !existing.Placeholder:
		out.Asset = existing
		span.AddEvent("print asset already exists, generation skipped")
		return out
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		log.Warn().Err(err).Msg("Failed to look up existing asset, generating anyway")
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()
	asset, err := o.generator.Generate(genCtx, port.GenerateRequest{
		DesignID:    item.DesignID,
		SizeCode:    item.SizeCode,
		ProductType: item.ProductType,
		Role:        domain.RolePrint,
		DPI:         o.cfg.PrintDPI,
	})
	if err != nil {
		return o.fail(ctx, f, out, fmt.Errorf("generate print asset: %w", err))
	}
	out.Asset = asset
	log.Info().Str("asset_url", asset.URL).Msg("🖼️ Print asset generated")
	return out
}

func (o *FulfillmentOrchestrator) ensurePlaceholder(ctx context.Context, key domain.AssetKey) (*domain.DesignAsset, error) {
	existing, err := o.assets.Find(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	design, err := o.catalog.GetDesign(ctx, key.DesignID)
	if err != nil {
		return nil, fmt.Errorf("load design %s: %w", key.DesignID, err)
	}
	asset, _, err := o.assets.CreateIfAbsent(ctx, domain.NewPlaceholderAsset(key, design, o.now()))
	return asset, err
}

// fail 把履约标记为 FAILED；写库失败时只记录，结果里仍然带着原始错误
func (o *FulfillmentOrchestrator) fail(ctx context.Context, f *domain.Fulfillment, out ItemOutcome, cause error) ItemOutcome {
	log := logger.Ctx(ctx).With().Str("fulfillment_id", f.ID).Logger()
	out.Err = cause
	out.Status = domain.FulfillmentFailed

	from := f.Status
	if err := f.MarkFailed(cause.Error(), o.now()); err != nil {
		log.Error().Err(err).Msg("Fulfillment cannot move to FAILED")
		out.Status = from
		return out
	}
	// 生成可能超时，写库使用独立的 context
	saveCtx := context.WithoutCancel(ctx)
	if err := o.fulfillments.Update(saveCtx, f, from); err != nil {
		log.Error().Err(err).Msg("Failed to persist FAILED fulfillment")
	}
	log.Error().Err(cause).Msg("❌ Item failed, fulfillment marked FAILED")
	return out
}

func outcomeLabel(out ItemOutcome) string {
	switch {
	case out.Status == domain.FulfillmentFailed:
		return "failed"
	case out.Err != nil:
		return "error"
	case out.Path == PathPremium:
		return "deferred"
	case out.Path == PathSkipped:
		return "skipped"
	}
	return "ready"
}
