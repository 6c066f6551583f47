package port

import (
	"context"

	"printforge/internal/service/order/domain"
)

// SizePolicy 决定尺寸是否属于需要延后生成的大尺寸。
// 未知尺寸返回 domain.ErrUnknownSize。
type SizePolicy interface {
	Resolve(code string) (domain.PrintSize, error)
}

// OrderLocker 在多实例间串行化同一订单的并发回调。
// 正确性由条件更新保证，锁只减少无效竞争。
type OrderLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker 单实例部署时使用
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
