package adapter

import (
	"context"
	"strings"

	"printforge/internal/pkg/httpclient"
	"printforge/internal/service/order/domain/port"
)

type renderRequest struct {
	DesignID    string `json:"designId"`
	SourceURL   string `json:"sourceUrl"`
	SizeCode    string `json:"sizeCode"`
	ProductType string `json:"productType"`
	Role        string `json:"role"`
	WidthPx     int    `json:"widthPx"`
	HeightPx    int    `json:"heightPx"`
	DPI         int    `json:"dpi"`
}

type imageResponse struct {
	URL      string `json:"url"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

// RendererHTTPAdapter 实现了 port.PrintRenderer 接口。
type RendererHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewRendererHTTPAdapter(client *httpclient.Client, baseURL string) *RendererHTTPAdapter {
	return &RendererHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *RendererHTTPAdapter) Render(ctx context.Context, req port.RenderRequest) (*port.RenderResult, error) {
	body := renderRequest{
		DesignID:    req.DesignID,
		SourceURL:   req.SourceURL,
		SizeCode:    req.SizeCode,
		ProductType: string(req.ProductType),
		Role:        string(req.Role),
		WidthPx:     req.WidthPx,
		HeightPx:    req.HeightPx,
		DPI:         req.DPI,
	}
	var resp imageResponse
	if err := a.client.PostJSON(ctx, a.baseURL+"/render", nil, body, &resp); err != nil {
		return nil, err
	}
	return &port.RenderResult{URL: resp.URL, WidthPx: resp.WidthPx, HeightPx: resp.HeightPx}, nil
}
