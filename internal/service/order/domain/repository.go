// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// FindByID 加载订单、订单行和支付记录。
	FindByID(ctx context.Context, id string) (*Order, error)

	FindItem(ctx context.Context, itemID string) (*OrderItem, error)

	// FinalizePayment 在一个事务里把订单置为 PAID 并写入支付记录。
	// 只有处于 DRAFT/AWAITING_PAYMENT 的订单会被修改，否则返回 duplicate 或 canceled。
	FinalizePayment(ctx context.Context, orderID string, conf PaymentConfirmation) (FinalizeOutcome, error)

	// AdvanceStatus 是条件更新，订单当前状态不是 from 时返回 false。
	AdvanceStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error)
}

// FulfillmentRepository 以 order_item_id 唯一约束保证每个订单行只有一条履约记录
type FulfillmentRepository interface {
	// CreateIfAbsent 返回已存在或新建的记录，以及是否新建。
	CreateIfAbsent(ctx context.Context, f *Fulfillment) (*Fulfillment, bool, error)
	FindByID(ctx context.Context, id string) (*Fulfillment, error)
	FindByOrderItem(ctx context.Context, orderItemID string) (*Fulfillment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Fulfillment, error)

	// Update 保存 f，要求数据库里的状态仍然是 from，否则返回 ErrStaleState。
	Update(ctx context.Context, f *Fulfillment, from FulfillmentStatus) error
}

// AssetRepository 以 (design, role, size, product type) 为自然键
type AssetRepository interface {
	Find(ctx context.Context, key AssetKey) (*DesignAsset, error)
	CreateIfAbsent(ctx context.Context, a *DesignAsset) (*DesignAsset, bool, error)
	// Upsert 按自然键写入，覆盖占位资源。
	Upsert(ctx context.Context, a *DesignAsset) (*DesignAsset, error)
}

type MarketRepository interface {
	FindOrder(ctx context.Context, id string) (*MarketOrder, error)

	// FinalizePayment 在一个事务里完成 PENDING -> PAID，并标记原作售出或累加印刷销量。
	FinalizePayment(ctx context.Context, id string, conf PaymentConfirmation) (FinalizeOutcome, error)

	FindSale(ctx context.Context, id string) (*MarketSale, error)
}

type CreditRepository interface {
	HasPurchase(ctx context.Context, userID string) (bool, error)

	// RecordPurchase 在一个事务里写入购买流水和可选的奖励流水并更新余额。
	// 购买流水重复时返回 ErrDuplicate；奖励重复时静默跳过。
	RecordPurchase(ctx context.Context, purchase, bonus *CreditTransaction) (*CreditResult, error)
}
