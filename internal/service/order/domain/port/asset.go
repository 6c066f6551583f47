package port

import (
	"context"

	"printforge/internal/service/order/domain"
)

// GenerateRequest 描述需要生成的打印资源
type GenerateRequest struct {
	DesignID    string
	SizeCode    string
	ProductType domain.ProductType
	Role        domain.AssetRole
	DPI         int
}

// Key 返回资源的自然键
func (r GenerateRequest) Key() domain.AssetKey {
	return domain.AssetKey{DesignID: r.DesignID, Role: r.Role, SizeCode: r.SizeCode, ProductType: r.ProductType}
}

// AssetGenerator 是资源生成服务的端口。调用方必须假设它又慢又不可靠。
type AssetGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*domain.DesignAsset, error)
}

// DesignCatalog 提供设计稿的原图信息
type DesignCatalog interface {
	GetDesign(ctx context.Context, designID string) (*domain.Design, error)
}

type UpscaleRequest struct {
	DesignID  string
	SourceURL string
	Factor    int
}

type UpscaleResult struct {
	URL      string
	WidthPx  int
	HeightPx int
}

// Upscaler 是 AI 超分辨率服务，主备两个实现
type Upscaler interface {
	Name() string
	Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error)
}

type RenderRequest struct {
	DesignID    string
	SourceURL   string
	SizeCode    string
	ProductType domain.ProductType
	Role        domain.AssetRole
	WidthPx     int
	HeightPx    int
	DPI         int
}

type RenderResult struct {
	URL      string
	WidthPx  int
	HeightPx int
}

// PrintRenderer 把原图渲染成可直接打印的文件
type PrintRenderer interface {
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
}
