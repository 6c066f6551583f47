package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollupStatus(t *testing.T) {
	tests := []struct {
		name    string
		current OrderStatus
		items   []FulfillmentStatus
		want    OrderStatus
		changed bool
	}{
		{"all queued stays paid", OrderStatusPaid, []FulfillmentStatus{FulfillmentQueued, FulfillmentQueued}, OrderStatusPaid, false},
		{"one in production", OrderStatusPaid, []FulfillmentStatus{FulfillmentInProduction, FulfillmentQueued}, OrderStatusInProduction, true},
		{"mixed shipped and delivered", OrderStatusInProduction, []FulfillmentStatus{FulfillmentShipped, FulfillmentDelivered}, OrderStatusShipped, true},
		{"all delivered", OrderStatusShipped, []FulfillmentStatus{FulfillmentDelivered, FulfillmentDelivered}, OrderStatusDelivered, true},
		{"one failed blocks shipped", OrderStatusInProduction, []FulfillmentStatus{FulfillmentShipped, FulfillmentFailed}, OrderStatusInProduction, false},
		{"never moves backwards", OrderStatusShipped, []FulfillmentStatus{FulfillmentShipped, FulfillmentInProduction}, OrderStatusShipped, false},
		{"canceled untouched", OrderStatusCanceled, []FulfillmentStatus{FulfillmentDelivered}, OrderStatusCanceled, false},
		{"unpaid untouched", OrderStatusAwaitingPayment, []FulfillmentStatus{FulfillmentShipped}, OrderStatusAwaitingPayment, false},
		{"no items", OrderStatusPaid, nil, OrderStatusPaid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := RollupStatus(tt.current, tt.items)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

// 对任意 N，只要有一行低于 SHIPPED，订单就不会被标记为 SHIPPED
func TestRollupStatus_ShippedRequiresEveryItem(t *testing.T) {
	below := []FulfillmentStatus{FulfillmentQueued, FulfillmentInProduction, FulfillmentFailed}
	for n := 1; n <= 6; n++ {
		for idx := 0; idx < n; idx++ {
			for _, st := range below {
				items := make([]FulfillmentStatus, n)
				for i := range items {
					items[i] = FulfillmentShipped
				}
				items[idx] = st
				got, _ := RollupStatus(OrderStatusPaid, items)
				assert.NotEqual(t, OrderStatusShipped, got, "n=%d idx=%d status=%s", n, idx, st)
				assert.NotEqual(t, OrderStatusDelivered, got)
			}
		}

		all := make([]FulfillmentStatus, n)
		for i := range all {
			all[i] = FulfillmentShipped
		}
		got, changed := RollupStatus(OrderStatusPaid, all)
		assert.True(t, changed)
		assert.Equal(t, OrderStatusShipped, got, "n=%d", n)
	}
}
