// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"printforge/internal/pkg/logger"
)

// Client 封装 go-redis 的 UniversalClient。
// 单个地址时为单机模式，多个地址时为集群模式。
type Client struct {
	client goredis.UniversalClient
}

// NewClient 创建客户端并 Ping 一次以尽早暴露连接问题
func NewClient(ctx context.Context, addrs []string, password string, db int) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %v failed: %w", addrs, err)
	}
	logger.L().Info().Strs("addrs", addrs).Msg("✅ Successfully connected to Redis.")
	return &Client{client: rdb}, nil
}

// Wrap 用已有的 UniversalClient 构造 Client
func Wrap(rdb goredis.UniversalClient) *Client {
	return &Client{client: rdb}
}

// GetClient 返回底层客户端
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
