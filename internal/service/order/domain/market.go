package domain

import "time"

// MarketOrderStatus 是市场订单的状态
type MarketOrderStatus string

const (
	MarketOrderPending      MarketOrderStatus = "PENDING"
	MarketOrderPaid         MarketOrderStatus = "PAID"
	MarketOrderInProduction MarketOrderStatus = "IN_PRODUCTION"
	MarketOrderShipped      MarketOrderStatus = "SHIPPED"
	MarketOrderDelivered    MarketOrderStatus = "DELIVERED"
	MarketOrderCanceled     MarketOrderStatus = "CANCELED"
)

// IsPaidOrLater 判断市场订单是否已完成支付确认
func (s MarketOrderStatus) IsPaidOrLater() bool {
	switch s {
	case MarketOrderPaid, MarketOrderInProduction, MarketOrderShipped, MarketOrderDelivered:
		return true
	}
	return false
}

// ListingKind 区分孤品原作和不限量印刷
type ListingKind string

const (
	ListingOriginal    ListingKind = "ORIGINAL"
	ListingOpenEdition ListingKind = "OPEN_EDITION"
)

type MarketOrder struct {
	ID          string
	ListingID   string
	ArtistID    string
	BuyerID     string
	BuyerEmail  string
	Status      MarketOrderStatus
	AmountCents int64
	Currency    string
	PaymentRef  string
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Listing struct {
	ID         string
	ArtistID   string
	Title      string
	Kind       ListingKind
	Sold       bool
	PrintsSold int
}

type Artist struct {
	ID    string
	Name  string
	Email string
}

// MarketSale 聚合了发送通知所需的市场订单信息
type MarketSale struct {
	Order   *MarketOrder
	Listing *Listing
	Artist  *Artist
}
