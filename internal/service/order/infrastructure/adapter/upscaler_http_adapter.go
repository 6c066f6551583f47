package adapter

import (
	"context"
	"errors"
	"strings"

	"printforge/internal/pkg/httpclient"
	"printforge/internal/service/order/domain/port"
)

var errEmptyUpscaleResult = errors.New("upscaler returned no image url")

type upscaleRequest struct {
	ImageURL string `json:"imageUrl"`
	Scale    int    `json:"scale"`
}

// UpscalerHTTPAdapter 实现了 port.Upscaler 接口，主备服务各一个实例
type UpscalerHTTPAdapter struct {
	client  *httpclient.Client
	name    string
	baseURL string
	apiKey  string
}

func NewUpscalerHTTPAdapter(client *httpclient.Client, name, baseURL, apiKey string) *UpscalerHTTPAdapter {
	return &UpscalerHTTPAdapter{
		client:  client,
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (a *UpscalerHTTPAdapter) Name() string {
	return a.name
}

// Upscale 的错误保持 httpclient.StatusError 原样，交给重试执行器分类
func (a *UpscalerHTTPAdapter) Upscale(ctx context.Context, req port.UpscaleRequest) (*port.UpscaleResult, error) {
	var headers map[string]string
	if a.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + a.apiKey}
	}
	var resp imageResponse
	err := a.client.PostJSON(ctx, a.baseURL+"/upscale", headers, upscaleRequest{ImageURL: req.SourceURL, Scale: req.Factor}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, errEmptyUpscaleResult
	}
	return &port.UpscaleResult{URL: resp.URL, WidthPx: resp.WidthPx, HeightPx: resp.HeightPx}, nil
}
