// internal/service/order/domain/state.go
package domain

// OrderStatus 定义了订单的生命周期状态
type OrderStatus string

const (
	OrderStatusDraft           OrderStatus = "DRAFT"            // 结账会话已创建
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT" // 等待支付网关确认
	OrderStatusPaid            OrderStatus = "PAID"
	OrderStatusInProduction    OrderStatus = "IN_PRODUCTION"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCanceled        OrderStatus = "CANCELED" // 发货前任意状态都可以取消
)

var orderRank = map[OrderStatus]int{
	OrderStatusDraft:           0,
	OrderStatusAwaitingPayment: 1,
	OrderStatusPaid:            2,
	OrderStatusInProduction:    3,
	OrderStatusShipped:         4,
	OrderStatusDelivered:       5,
}

// FinalizableOrderStatuses 是可以被支付确认推进到 PAID 的状态
var FinalizableOrderStatuses = []OrderStatus{OrderStatusDraft, OrderStatusAwaitingPayment}

func (s OrderStatus) rank() int {
	if r, ok := orderRank[s]; ok {
		return r
	}
	return -1
}

// IsPaidOrLater 判断订单是否已经完成支付确认
func (s OrderStatus) IsPaidOrLater() bool {
	return s != OrderStatusCanceled && s.rank() >= orderRank[OrderStatusPaid]
}

// CanAdvanceTo 状态只能前进；CANCELED 只能从发货前的状态进入
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s == OrderStatusCanceled || s.rank() < 0 {
		return false
	}
	if next == OrderStatusCanceled {
		return s.rank() < orderRank[OrderStatusShipped]
	}
	return next.rank() > s.rank()
}

// FulfillmentStatus 是单个订单行的生产/物流状态
type FulfillmentStatus string

const (
	FulfillmentQueued       FulfillmentStatus = "QUEUED"
	FulfillmentInProduction FulfillmentStatus = "IN_PRODUCTION"
	FulfillmentShipped      FulfillmentStatus = "SHIPPED"
	FulfillmentDelivered    FulfillmentStatus = "DELIVERED"
	FulfillmentFailed       FulfillmentStatus = "FAILED"
)

var fulfillmentRank = map[FulfillmentStatus]int{
	FulfillmentQueued:       0,
	FulfillmentInProduction: 1,
	FulfillmentShipped:      2,
	FulfillmentDelivered:    3,
}

// CanTransitionTo 描述履约状态机:
// QUEUED -> IN_PRODUCTION -> SHIPPED -> DELIVERED 只能前进（允许跳过中间状态），
// QUEUED/IN_PRODUCTION -> FAILED，FAILED -> QUEUED（管理员重新生成）。
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	switch {
	case s == FulfillmentFailed:
		return next == FulfillmentQueued
	case next == FulfillmentFailed:
		return s == FulfillmentQueued || s == FulfillmentInProduction
	}
	cur, ok := fulfillmentRank[s]
	if !ok {
		return false
	}
	target, ok := fulfillmentRank[next]
	return ok && target > cur
}

func (s FulfillmentStatus) Valid() bool {
	_, ok := fulfillmentRank[s]
	return ok || s == FulfillmentFailed
}
