package application

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/metrics"
	"printforge/internal/pkg/retry"
	"printforge/internal/service/order/domain"
	"printforge/internal/service/order/domain/port"
)

const (
	labelUpscale = "upscale"
	labelRender  = "render"

	minUpscaleFactor = 2
	maxUpscaleFactor = 4
)

// AssetServiceConfig 是资源生成参数
type AssetServiceConfig struct {
	MinSourceRatio float64
	Retry          retry.Policy
}

// AssetService 实现 port.AssetGenerator：原图分辨率不足时先做 AI 超分，再渲染并按自然键保存
type AssetService struct {
	catalog  port.DesignCatalog
	renderer port.PrintRenderer
	primary  port.Upscaler
	fallback port.Upscaler
	assets   domain.AssetRepository
	sizes    port.SizePolicy
	executor *retry.Executor
	cfg      AssetServiceConfig
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAssetService fallback 可以为 nil
func NewAssetService(
	catalog port.DesignCatalog,
	renderer port.PrintRenderer,
	primary, fallback port.Upscaler,
	assets domain.AssetRepository,
	sizes port.SizePolicy,
	executor *retry.Executor,
	cfg AssetServiceConfig,
	tracer trace.Tracer,
) *AssetService {
	if cfg.MinSourceRatio <= 0 {
		cfg.MinSourceRatio = 1.0
	}
	return &AssetService{
		catalog:  catalog,
		renderer: renderer,
		primary:  primary,
		fallback: fallback,
		assets:   assets,
		sizes:    sizes,
		executor: executor,
		cfg:      cfg,
		tracer:   tracer,
		now:      time.Now,
	}
}

func (s *AssetService) Generate(ctx context.Context, req port.GenerateRequest) (*domain.DesignAsset, error) {
	ctx, span := s.tracer.Start(ctx, "app.GenerateAsset", trace.WithAttributes(
		attribute.String("design.id", req.DesignID),
		attribute.String("asset.role", string(req.Role)),
		attribute.String("asset.size", req.SizeCode),
		attribute.Int("asset.dpi", req.DPI),
	))
	defer span.End()
	start := time.Now()

	asset, err := s.generate(ctx, req)
	metrics.GenerationDuration.WithLabelValues(string(req.Role)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "asset generation failed")
		return nil, err
	}
	return asset, nil
}

func (s *AssetService) generate(ctx context.Context, req port.GenerateRequest) (*domain.DesignAsset, error) {
	log := logger.Ctx(ctx).With().Str("design_id", req.DesignID).Str("size", req.SizeCode).Str("role", string(req.Role)).Logger()

	size, err := s.sizes.Resolve(req.SizeCode)
	if err != nil {
		return nil, retry.MarkPermanent(err)
	}
	design, err := s.catalog.GetDesign(ctx, req.DesignID)
	if err != nil {
		return nil, fmt.Errorf("load design %s: %w", req.DesignID, err)
	}

	reqLong, reqShort := size.RequiredPixels(req.DPI)
	srcLong, srcShort := longShort(design.WidthPx, design.HeightPx)

	sourceURL := design.SourceURL
	upscaled := false
	provider := ""
	if factor, needed := UpscaleFactor(srcLong, srcShort, reqLong, reqShort, s.cfg.MinSourceRatio); needed {
		log.Info().Int("factor", factor).Int("source_long_px", srcLong).Int("required_long_px", reqLong).
			Msg("Source resolution too low, upscaling")
		res, err := retry.Execute(ctx, s.executor, labelUpscale, s.cfg.Retry,
			s.upscaleCall(s.primary, design, factor),
			s.upscaleCall(s.fallback, design, factor),
		)
		if err != nil {
			return nil, fmt.Errorf("upscale design %s: %w", design.ID, err)
		}
		sourceURL = res.Value.URL
		upscaled = true
		provider = res.Value.Provider
		trace.SpanFromContext(ctx).AddEvent("upscaled", trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.Int("attempts", res.TotalAttempts),
		))
	}

	// 渲染尺寸跟随原图方向
	width, height := reqLong, reqShort
	if design.HeightPx > design.WidthPx {
		width, height = reqShort, reqLong
	}
	renderPolicy := s.cfg.Retry
	renderPolicy.MaxFallbackAttempts = 0
	rendered, err := retry.Execute(ctx, s.executor, labelRender, renderPolicy,
		func(ctx context.Context) (*port.RenderResult, error) {
			return s.renderer.Render(ctx, port.RenderRequest{
				DesignID:    design.ID,
				SourceURL:   sourceURL,
				SizeCode:    req.SizeCode,
				ProductType: req.ProductType,
				Role:        req.Role,
				WidthPx:     width,
				HeightPx:    height,
				DPI:         req.DPI,
			})
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("render design %s: %w", design.ID, err)
	}

	now := s.now()
	asset, err := s.assets.Upsert(ctx, &domain.DesignAsset{
		ID:        uuid.NewString(),
		Key:       req.Key(),
		URL:       rendered.Value.URL,
		WidthPx:   rendered.Value.WidthPx,
		HeightPx:  rendered.Value.HeightPx,
		DPI:       req.DPI,
		Upscaled:  upscaled,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}
	return asset, nil
}

type upscaled struct {
	URL      string
	Provider string
}

func (s *AssetService) upscaleCall(up port.Upscaler, design *domain.Design, factor int) retry.Call[upscaled] {
	if up == nil {
		return nil
	}
	return func(ctx context.Context) (upscaled, error) {
		res, err := up.Upscale(ctx, port.UpscaleRequest{DesignID: design.ID, SourceURL: design.SourceURL, Factor: factor})
		if err != nil {
			return upscaled{}, err
		}
		return upscaled{URL: res.URL, Provider: up.Name()}, nil
	}
}

// UpscaleFactor 原图任一边低于所需像素 * minRatio 时需要超分，倍数向上取整并限制在 [2,4]
func UpscaleFactor(srcLong, srcShort, reqLong, reqShort int, minRatio float64) (int, bool) {
	if srcLong <= 0 || srcShort <= 0 {
		return maxUpscaleFactor, true
	}
	if float64(srcLong) >= float64(reqLong)*minRatio && float64(srcShort) >= float64(reqShort)*minRatio {
		return 0, false
	}
	ratio := math.Max(float64(reqLong)/float64(srcLong), float64(reqShort)/float64(srcShort))
	factor := int(math.Ceil(ratio))
	if factor < minUpscaleFactor {
		factor = minUpscaleFactor
	}
	if factor > maxUpscaleFactor {
		factor = maxUpscaleFactor
	}
	return factor, true
}

func longShort(w, h int) (int, int) {
	if w >= h {
		return w, h
	}
	return h, w
}
