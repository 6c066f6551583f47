// internal/service/order/domain/order.go
package domain

import "time"

// ProductType 是商品形态
type ProductType string

const (
	ProductPoster ProductType = "POSTER"
	ProductFramed ProductType = "FRAMED"
	ProductCanvas ProductType = "CANVAS"
)

// Order 是订单聚合的根实体
type Order struct {
	ID            string
	CustomerID    string
	CustomerEmail string
	Status        OrderStatus
	Currency      string
	SubtotalCents int64
	ShippingCents int64
	TotalCents    int64
	Items         []OrderItem
	Payment       *Payment
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem 在订单创建后不可变
type OrderItem struct {
	ID             string
	OrderID        string
	DesignID       string
	SizeCode       string
	ProductType    ProductType
	FrameOption    string
	PaperOption    string
	Quantity       int
	LineTotalCents int64
}

// Payment 与订单一对一，只在支付确认时写入一次
type Payment struct {
	ID          string
	OrderID     string
	Provider    string
	ExternalRef string
	AmountCents int64
	Currency    string
	PaidAt      *time.Time
}

// PaymentConfirmation 是支付网关确认的内容
type PaymentConfirmation struct {
	Provider    string
	ExternalRef string
	AmountCents int64
	Currency    string
	PaidAt      time.Time
}

// FinalizeOutcome 是一次支付确认的处理结果
type FinalizeOutcome string

const (
	FinalizeApplied   FinalizeOutcome = "applied"
	FinalizeDuplicate FinalizeOutcome = "duplicate"
	FinalizeCanceled  FinalizeOutcome = "canceled"
)

// Item 按 ID 查找订单行
func (o *Order) Item(id string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return OrderItem{}, false
}
