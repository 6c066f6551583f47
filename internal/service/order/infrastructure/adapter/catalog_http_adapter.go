package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"printforge/internal/pkg/httpclient"
	"printforge/internal/service/order/domain"
)

type designResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	SourceURL string `json:"sourceUrl"`
	WidthPx   int    `json:"widthPx"`
	HeightPx  int    `json:"heightPx"`
}

// CatalogHTTPAdapter 实现了 port.DesignCatalog 接口。
type CatalogHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewCatalogHTTPAdapter(client *httpclient.Client, baseURL string) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// GetDesign 查询设计稿原图，404 映射为 domain.ErrNotFound
func (a *CatalogHTTPAdapter) GetDesign(ctx context.Context, designID string) (*domain.Design, error) {
	var resp designResponse
	err := a.client.GetJSON(ctx, a.baseURL+"/designs/"+url.PathEscape(designID), nil, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode() == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = designID
	}
	return &domain.Design{
		ID:        resp.ID,
		OwnerID:   resp.OwnerID,
		SourceURL: resp.SourceURL,
		WidthPx:   resp.WidthPx,
		HeightPx:  resp.HeightPx,
	}, nil
}
