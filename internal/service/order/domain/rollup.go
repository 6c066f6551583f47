package domain

// RollupStatus 根据所有订单行的履约状态计算订单状态。
// 全部 SHIPPED/DELIVERED 才到 SHIPPED，全部 DELIVERED 才到 DELIVERED，
// 任意一行开始生产即到 IN_PRODUCTION。只前进，不碰已取消或未支付的订单。
func RollupStatus(current OrderStatus, items []FulfillmentStatus) (OrderStatus, bool) {
	if len(items) == 0 || !current.IsPaidOrLater() {
		return current, false
	}

	allShipped, allDelivered, anyStarted := true, true, false
	for _, st := range items {
		switch st {
		case FulfillmentDelivered:
			anyStarted = true
		case FulfillmentShipped:
			anyStarted = true
			allDelivered = false
		case FulfillmentInProduction:
			anyStarted = true
			allShipped, allDelivered = false, false
		default:
			allShipped, allDelivered = false, false
		}
	}

	target := current
	switch {
	case allDelivered:
		target = OrderStatusDelivered
	case allShipped:
		target = OrderStatusShipped
	case anyStarted:
		target = OrderStatusInProduction
	}
	if target != current && current.CanAdvanceTo(target) {
		return target, true
	}
	return current, false
}
