package infrastructure

import (
	"database/sql"
	"time"

	"printforge/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(m *OrderModel) *domain.Order {
	if m == nil {
		return nil
	}
	o := &domain.Order{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		CustomerEmail: m.CustomerEmail,
		Status:        domain.OrderStatus(m.Status),
		Currency:      m.Currency,
		SubtotalCents: m.SubtotalCents,
		ShippingCents: m.ShippingCents,
		TotalCents:    m.TotalCents,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for i := range m.Items {
		o.Items = append(o.Items, ToDomainOrderItem(&m.Items[i]))
	}
	if m.Payment != nil {
		o.Payment = &domain.Payment{
			ID:          m.Payment.ID,
			OrderID:     m.Payment.OrderID,
			Provider:    m.Payment.Provider,
			ExternalRef: m.Payment.ExternalRef,
			AmountCents: m.Payment.AmountCents,
			Currency:    m.Payment.Currency,
			PaidAt:      fromNullTime(m.Payment.PaidAt),
		}
	}
	return o
}

func ToDomainOrderItem(m *OrderItemModel) domain.OrderItem {
	return domain.OrderItem{
		ID:             m.ID,
		OrderID:        m.OrderID,
		DesignID:       m.DesignID,
		SizeCode:       m.SizeCode,
		ProductType:    domain.ProductType(m.ProductType),
		FrameOption:    m.FrameOption,
		PaperOption:    m.PaperOption,
		Quantity:       m.Quantity,
		LineTotalCents: m.LineTotalCents,
	}
}

func ToDomainFulfillment(m *FulfillmentModel) *domain.Fulfillment {
	if m == nil {
		return nil
	}
	return &domain.Fulfillment{
		ID:              m.ID,
		OrderID:         m.OrderID,
		OrderItemID:     m.OrderItemID,
		Status:          domain.FulfillmentStatus(m.Status),
		Partner:         m.Partner,
		PartnerOrderRef: m.PartnerOrderRef,
		TrackingNumber:  m.TrackingNumber,
		TrackingURL:     m.TrackingURL,
		Carrier:         m.Carrier,
		InternalNote:    m.InternalNote,
		ShippedAt:       fromNullTime(m.ShippedAt),
		DeliveredAt:     fromNullTime(m.DeliveredAt),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func FromDomainFulfillment(f *domain.Fulfillment) *FulfillmentModel {
	return &FulfillmentModel{
		ID:              f.ID,
		OrderID:         f.OrderID,
		OrderItemID:     f.OrderItemID,
		Status:          string(f.Status),
		Partner:         f.Partner,
		PartnerOrderRef: f.PartnerOrderRef,
		TrackingNumber:  f.TrackingNumber,
		TrackingURL:     f.TrackingURL,
		Carrier:         f.Carrier,
		InternalNote:    f.InternalNote,
		ShippedAt:       toNullTime(f.ShippedAt),
		DeliveredAt:     toNullTime(f.DeliveredAt),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

func ToDomainAsset(m *DesignAssetModel) *domain.DesignAsset {
	if m == nil {
		return nil
	}
	return &domain.DesignAsset{
		ID: m.ID,
		Key: domain.AssetKey{
			DesignID:    m.DesignID,
			Role:        domain.AssetRole(m.Role),
			SizeCode:    m.SizeCode,
			ProductType: domain.ProductType(m.ProductType),
		},
		URL:         m.URL,
		WidthPx:     m.WidthPx,
		HeightPx:    m.HeightPx,
		DPI:         m.DPI,
		Upscaled:    m.Upscaled,
		Provider:    m.Provider,
		Placeholder: m.Placeholder,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func FromDomainAsset(a *domain.DesignAsset) *DesignAssetModel {
	return &DesignAssetModel{
		ID:          a.ID,
		DesignID:    a.Key.DesignID,
		Role:        string(a.Key.Role),
		SizeCode:    a.Key.SizeCode,
		ProductType: string(a.Key.ProductType),
		URL:         a.URL,
		WidthPx:     a.WidthPx,
		HeightPx:    a.HeightPx,
		DPI:         a.DPI,
		Upscaled:    a.Upscaled,
		Provider:    a.Provider,
		Placeholder: a.Placeholder,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func ToDomainMarketOrder(m *MarketOrderModel) *domain.MarketOrder {
	return &domain.MarketOrder{
		ID:          m.ID,
		ListingID:   m.ListingID,
		ArtistID:    m.ArtistID,
		BuyerID:     m.BuyerID,
		BuyerEmail:  m.BuyerEmail,
		Status:      domain.MarketOrderStatus(m.Status),
		AmountCents: m.AmountCents,
		Currency:    m.Currency,
		PaymentRef:  m.PaymentRef,
		PaidAt:      fromNullTime(m.PaidAt),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func ToDomainListing(m *ListingModel) *domain.Listing {
	return &domain.Listing{
		ID:         m.ID,
		ArtistID:   m.ArtistID,
		Title:      m.Title,
		Kind:       domain.ListingKind(m.Kind),
		Sold:       m.Sold,
		PrintsSold: m.PrintsSold,
	}
}

func ToDomainArtist(m *ArtistModel) *domain.Artist {
	return &domain.Artist{ID: m.ID, Name: m.Name, Email: m.Email}
}

func FromDomainCreditTransaction(tx *domain.CreditTransaction) *CreditTransactionModel {
	return &CreditTransactionModel{
		ID:          tx.ID,
		UserID:      tx.UserID,
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		PackageID:   tx.PackageID,
		ExternalRef: toNullString(tx.ExternalRef),
		BonusKey:    toNullString(tx.BonusKey),
		CreatedAt:   tx.CreatedAt,
	}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// toNullString 空字符串存成 NULL，唯一索引不会把多个空值视为冲突
func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
