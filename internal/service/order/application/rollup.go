package application

import (
	"context"
	"fmt"

	"printforge/internal/pkg/logger"
	"printforge/internal/service/order/domain"
)

const rollupAttempts = 3

// Rollup 重新读取订单所有行的履约状态来推进订单状态，不做增量计数
type Rollup struct {
	orders       domain.OrderRepository
	fulfillments domain.FulfillmentRepository
}

func NewRollup(orders domain.OrderRepository, fulfillments domain.FulfillmentRepository) *Rollup {
	return &Rollup{orders: orders, fulfillments: fulfillments}
}

// Recompute 返回重新计算后的订单。条件更新失败说明订单被并发修改，重新读取后再算一次。
func (r *Rollup) Recompute(ctx context.Context, orderID string) (*domain.Order, error) {
	for attempt := 1; ; attempt++ {
		order, settled, err := r.recomputeOnce(ctx, orderID)
		if err != nil || settled || attempt == rollupAttempts {
			return order, err
		}
	}
}

func (r *Rollup) recomputeOnce(ctx context.Context, orderID string) (*domain.Order, bool, error) {
	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("rollup load order %s: %w", orderID, err)
	}
	list, err := r.fulfillments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("rollup list fulfillments %s: %w", orderID, err)
	}

	byItem := make(map[string]domain.FulfillmentStatus, len(list))
	for _, f := range list {
		byItem[f.OrderItemID] = f.Status
	}
	statuses := make([]domain.FulfillmentStatus, 0, len(order.Items))
	for _, item := range order.Items {
		st, ok := byItem[item.ID]
		if !ok {
			// 还没有履约记录的行按排队处理
			st = domain.FulfillmentQueued
		}
		statuses = append(statuses, st)
	}

	target, changed := domain.RollupStatus(order.Status, statuses)
	if !changed {
		return order, true, nil
	}
	ok, err := r.orders.AdvanceStatus(ctx, orderID, order.Status, target)
	if err != nil {
		return nil, false, fmt.Errorf("rollup advance order %s: %w", orderID, err)
	}
	if !ok {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("Order status changed concurrently, recomputing rollup")
		return order, false, nil
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).
		Str("from", string(order.Status)).Str("to", string(target)).
		Msg("📦 Order status rolled up")
	order.Status = target
	return order, true, nil
}
