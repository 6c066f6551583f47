package infrastructure

import (
	"database/sql"
	"time"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	CustomerID    string `gorm:"size:64;index"`
	CustomerEmail string `gorm:"size:255"`
	Status        string `gorm:"size:32;index"`
	Currency      string `gorm:"size:3"`
	SubtotalCents int64
	ShippingCents int64
	TotalCents    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Items   []OrderItemModel `gorm:"foreignKey:OrderID"`
	Payment *PaymentModel    `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应 order_items 表，创建后不再修改
type OrderItemModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	OrderID        string `gorm:"size:36;index"`
	DesignID       string `gorm:"size:64"`
	SizeCode       string `gorm:"size:16"`
	ProductType    string `gorm:"size:16"`
	FrameOption    string `gorm:"size:32"`
	PaperOption    string `gorm:"size:32"`
	Quantity       int
	LineTotalCents int64
}

func (OrderItemModel) TableName() string {
	return "order_items"
}

// PaymentModel 与订单一对一
type PaymentModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	OrderID     string `gorm:"size:36;uniqueIndex"`
	Provider    string `gorm:"size:32"`
	ExternalRef string `gorm:"size:128;index"`
	AmountCents int64
	Currency    string `gorm:"size:3"`
	PaidAt      sql.NullTime
}

func (PaymentModel) TableName() string {
	return "payments"
}

// FulfillmentModel 的 order_item_id 唯一索引保证 "不存在才创建"
type FulfillmentModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	OrderID         string `gorm:"size:36;index"`
	OrderItemID     string `gorm:"size:36;uniqueIndex"`
	Status          string `gorm:"size:32;index"`
	Partner         string `gorm:"size:64"`
	PartnerOrderRef string `gorm:"size:128"`
	TrackingNumber  string `gorm:"size:128"`
	TrackingURL     string `gorm:"size:512"`
	Carrier         string `gorm:"size:64"`
	InternalNote    string `gorm:"size:1000"`
	ShippedAt       sql.NullTime
	DeliveredAt     sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (FulfillmentModel) TableName() string {
	return "fulfillments"
}

// DesignAssetModel 以 (design_id, role, size_code, product_type) 为唯一键
type DesignAssetModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	DesignID    string `gorm:"size:64;uniqueIndex:uk_design_asset,priority:1"`
	Role        string `gorm:"size:16;uniqueIndex:uk_design_asset,priority:2"`
	SizeCode    string `gorm:"size:16;uniqueIndex:uk_design_asset,priority:3"`
	ProductType string `gorm:"size:16;uniqueIndex:uk_design_asset,priority:4"`
	URL         string `gorm:"size:1024"`
	WidthPx     int
	HeightPx    int
	DPI         int
	Upscaled    bool
	Provider    string `gorm:"size:64"`
	Placeholder bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DesignAssetModel) TableName() string {
	return "design_assets"
}

type MarketOrderModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	ListingID   string `gorm:"size:36;index"`
	ArtistID    string `gorm:"size:36;index"`
	BuyerID     string `gorm:"size:64"`
	BuyerEmail  string `gorm:"size:255"`
	Status      string `gorm:"size:32;index"`
	AmountCents int64
	Currency    string `gorm:"size:3"`
	PaymentRef  string `gorm:"size:128"`
	PaidAt      sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MarketOrderModel) TableName() string {
	return "market_orders"
}

type ListingModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	ArtistID   string `gorm:"size:36;index"`
	Title      string `gorm:"size:255"`
	Kind       string `gorm:"size:16"`
	Sold       bool
	PrintsSold int
}

func (ListingModel) TableName() string {
	return "listings"
}

type ArtistModel struct {
	ID    string `gorm:"primaryKey;size:36"`
	Name  string `gorm:"size:128"`
	Email string `gorm:"size:255"`
}

func (ArtistModel) TableName() string {
	return "artists"
}

// CreditTransactionModel 中 external_ref 和 bonus_key 都是可空的唯一列
type CreditTransactionModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"size:64;index"`
	Type        string `gorm:"size:16"`
	Amount      int64
	PackageID   string         `gorm:"size:64"`
	ExternalRef sql.NullString `gorm:"size:128;uniqueIndex"`
	BonusKey    sql.NullString `gorm:"size:128;uniqueIndex"`
	CreatedAt   time.Time
}

func (CreditTransactionModel) TableName() string {
	return "credit_transactions"
}

type CreditBalanceModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Balance   int64
	UpdatedAt time.Time
}

func (CreditBalanceModel) TableName() string {
	return "credit_balances"
}

// allModels 用于自动迁移
func allModels() []any {
	return []any{
		&OrderModel{}, &OrderItemModel{}, &PaymentModel{},
		&FulfillmentModel{}, &DesignAssetModel{},
		&MarketOrderModel{}, &ListingModel{}, &ArtistModel{},
		&CreditTransactionModel{}, &CreditBalanceModel{},
	}
}
