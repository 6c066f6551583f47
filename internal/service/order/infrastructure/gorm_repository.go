package infrastructure

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"printforge/internal/pkg/logger"
	"printforge/internal/service/order/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByID 预加载订单行和支付记录
func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Preload("Payment").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrapf(err, "load order %s", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindItem(ctx context.Context, itemID string) (*domain.OrderItem, error) {
	var model OrderItemModel
	if err := r.db.WithContext(ctx).Where("id = ?", itemID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrapf(err, "load order item %s", itemID)
	}
	item := ToDomainOrderItem(&model)
	return &item, nil
}

// FinalizePayment 条件更新订单状态并写入支付记录，二者在同一个事务里。
// 条件更新没有命中时重新读取状态，用来区分重复回调、已取消和不存在。
func (r *GormOrderRepository) FinalizePayment(ctx context.Context, orderID string, conf domain.PaymentConfirmation) (domain.FinalizeOutcome, error) {
	var outcome domain.FinalizeOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status IN ?", orderID, statusStrings(domain.FinalizableOrderStatuses)).
			Updates(map[string]interface{}{
				"status":     string(domain.OrderStatusPaid),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "mark order paid")
		}
		if res.RowsAffected == 0 {
			var current OrderModel
			if err := tx.Select("id", "status").Where("id = ?", orderID).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNotFound
				}
				return errors.Wrap(err, "reload order status")
			}
			if domain.OrderStatus(current.Status) == domain.OrderStatusCanceled {
				outcome = domain.FinalizeCanceled
			} else {
				outcome = domain.FinalizeDuplicate
			}
			return nil
		}

		payment := PaymentModel{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			Provider:    conf.Provider,
			ExternalRef: conf.ExternalRef,
			AmountCents: conf.AmountCents,
			Currency:    conf.Currency,
			PaidAt:      toNullTime(&conf.PaidAt),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"provider", "external_ref", "amount_cents", "currency", "paid_at"}),
		}).Create(&payment).Error
		if err != nil {
			return errors.Wrap(err, "upsert payment")
		}
		outcome = domain.FinalizeApplied
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *GormOrderRepository) AdvanceStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", orderID, string(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "advance order %s", orderID)
	}
	return res.RowsAffected == 1, nil
}

// GormFulfillmentRepository 是 FulfillmentRepository 的 GORM 实现
type GormFulfillmentRepository struct {
	db *gorm.DB
}

func NewGormFulfillmentRepository(db *gorm.DB) *GormFulfillmentRepository {
	return &GormFulfillmentRepository{db: db}
}

// CreateIfAbsent 依赖 order_item_id 唯一索引，冲突时读取已有记录
func (r *GormFulfillmentRepository) CreateIfAbsent(ctx context.Context, f *domain.Fulfillment) (*domain.Fulfillment, bool, error) {
	model := FromDomainFulfillment(f)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "create fulfillment")
	}
	if res.RowsAffected == 1 {
		return ToDomainFulfillment(model), true, nil
	}
	existing, err := r.FindByOrderItem(ctx, f.OrderItemID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *GormFulfillmentRepository) FindByID(ctx context.Context, id string) (*domain.Fulfillment, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormFulfillmentRepository) FindByOrderItem(ctx context.Context, orderItemID string) (*domain.Fulfillment, error) {
	return r.findOne(ctx, "order_item_id = ?", orderItemID)
}

func (r *GormFulfillmentRepository) findOne(ctx context.Context, query string, arg string) (*domain.Fulfillment, error) {
	var model FulfillmentModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "load fulfillment")
	}
	return ToDomainFulfillment(&model), nil
}

func (r *GormFulfillmentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Fulfillment, error) {
	var models []FulfillmentModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "list fulfillments of %s", orderID)
	}
	out := make([]*domain.Fulfillment, 0, len(models))
	for i := range models {
		out = append(out, ToDomainFulfillment(&models[i]))
	}
	return out, nil
}

// Update 以 status = from 作为乐观锁条件
func (r *GormFulfillmentRepository) Update(ctx context.Context, f *domain.Fulfillment, from domain.FulfillmentStatus) error {
	m := FromDomainFulfillment(f)
	updateData := map[string]interface{}{
		"status":            m.Status,
		"partner":           m.Partner,
		"partner_order_ref": m.PartnerOrderRef,
		"tracking_number":   m.TrackingNumber,
		"tracking_url":      m.TrackingURL,
		"carrier":           m.Carrier,
		"internal_note":     m.InternalNote,
		"shipped_at":        m.ShippedAt,
		"delivered_at":      m.DeliveredAt,
		"updated_at":        f.UpdatedAt,
	}
	res := r.db.WithContext(ctx).Model(&FulfillmentModel{}).
		Where("id = ? AND status = ?", f.ID, string(from)).
		Updates(updateData)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update fulfillment %s", f.ID)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	// 没有影响行数时可能是写入的值与库中一致，此时状态仍是 from
	current, err := r.FindByID(ctx, f.ID)
	if err != nil {
		return err
	}
	if current.Status == from && current.Status == f.Status {
		return nil
	}
	return domain.ErrStaleState
}

// GormAssetRepository 是 AssetRepository 的 GORM 实现
type GormAssetRepository struct {
	db *gorm.DB
}

func NewGormAssetRepository(db *gorm.DB) *GormAssetRepository {
	return &GormAssetRepository{db: db}
}

func (r *GormAssetRepository) Find(ctx context.Context, key domain.AssetKey) (*domain.DesignAsset, error) {
	var model DesignAssetModel
	err := r.db.WithContext(ctx).
		Where("design_id = ? AND role = ? AND size_code = ? AND product_type = ?",
			key.DesignID, string(key.Role), key.SizeCode, string(key.ProductType)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "load design asset")
	}
	return ToDomainAsset(&model), nil
}

func (r *GormAssetRepository) CreateIfAbsent(ctx context.Context, a *domain.DesignAsset) (*domain.DesignAsset, bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(newAssetModel(a))
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "create design asset")
	}
	stored, err := r.Find(ctx, a.Key)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected == 1, nil
}

// Upsert 在自然键冲突时覆盖内容字段，保留原来的 id 和 created_at
func (r *GormAssetRepository) Upsert(ctx context.Context, a *domain.DesignAsset) (*domain.DesignAsset, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "design_id"}, {Name: "role"}, {Name: "size_code"}, {Name: "product_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"url", "width_px", "height_px", "dpi", "upscaled", "provider", "placeholder", "updated_at",
		}),
	}).Create(newAssetModel(a)).Error
	if err != nil {
		return nil, errors.Wrap(err, "upsert design asset")
	}
	return r.Find(ctx, a.Key)
}

// newAssetModel 为还没有 id 的资源生成一个；冲突更新不会改写已有行的 id
func newAssetModel(a *domain.DesignAsset) *DesignAssetModel {
	m := FromDomainAsset(a)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return m
}

// GormMarketRepository 是 MarketRepository 的 GORM 实现
type GormMarketRepository struct {
	db *gorm.DB
}

func NewGormMarketRepository(db *gorm.DB) *GormMarketRepository {
	return &GormMarketRepository{db: db}
}

func (r *GormMarketRepository) FindOrder(ctx context.Context, id string) (*domain.MarketOrder, error) {
	var model MarketOrderModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrapf(err, "load market order %s", id)
	}
	return ToDomainMarketOrder(&model), nil
}

// FinalizePayment 完成 PENDING -> PAID 并更新作品的售出状态。
// 原作已售出时不回滚支付结果，只记录日志交由人工处理。
func (r *GormMarketRepository) FinalizePayment(ctx context.Context, id string, conf domain.PaymentConfirmation) (domain.FinalizeOutcome, error) {
	var outcome domain.FinalizeOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order MarketOrderModel
		if err := tx.Where("id = ?", id).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return errors.Wrap(err, "load market order")
		}

		now := time.Now()
		res := tx.Model(&MarketOrderModel{}).
			Where("id = ? AND status = ?", id, string(domain.MarketOrderPending)).
			Updates(map[string]interface{}{
				"status":      string(domain.MarketOrderPaid),
				"payment_ref": conf.ExternalRef,
				"paid_at":     conf.PaidAt,
				"updated_at":  now,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "mark market order paid")
		}
		if res.RowsAffected == 0 {
			if domain.MarketOrderStatus(order.Status) == domain.MarketOrderCanceled {
				outcome = domain.FinalizeCanceled
			} else {
				outcome = domain.FinalizeDuplicate
			}
			return nil
		}

		var listing ListingModel
		if err := tx.Where("id = ?", order.ListingID).First(&listing).Error; err != nil {
			return errors.Wrap(err, "load listing")
		}
		switch domain.ListingKind(listing.Kind) {
		case domain.ListingOriginal:
			res := tx.Model(&ListingModel{}).Where("id = ? AND sold = ?", listing.ID, false).Update("sold", true)
			if res.Error != nil {
				return errors.Wrap(res.Error, "mark listing sold")
			}
			if res.RowsAffected == 0 {
				logOversold(ctx, id, listing.ID)
			}
		default:
			err := tx.Model(&ListingModel{}).Where("id = ?", listing.ID).
				Update("prints_sold", gorm.Expr("prints_sold + ?", 1)).Error
			if err != nil {
				return errors.Wrap(err, "increment prints sold")
			}
		}
		outcome = domain.FinalizeApplied
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *GormMarketRepository) FindSale(ctx context.Context, id string) (*domain.MarketSale, error) {
	order, err := r.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	var listing ListingModel
	if err := r.db.WithContext(ctx).Where("id = ?", order.ListingID).First(&listing).Error; err != nil {
		return nil, errors.Wrap(err, "load listing")
	}
	var artist ArtistModel
	if err := r.db.WithContext(ctx).Where("id = ?", order.ArtistID).First(&artist).Error; err != nil {
		return nil, errors.Wrap(err, "load artist")
	}
	return &domain.MarketSale{
		Order:   order,
		Listing: ToDomainListing(&listing),
		Artist:  ToDomainArtist(&artist),
	}, nil
}

// GormCreditRepository 是 CreditRepository 的 GORM 实现
type GormCreditRepository struct {
	db *gorm.DB
}

func NewGormCreditRepository(db *gorm.DB) *GormCreditRepository {
	return &GormCreditRepository{db: db}
}

func (r *GormCreditRepository) HasPurchase(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CreditTransactionModel{}).
		Where("user_id = ? AND type = ?", userID, string(domain.CreditPurchase)).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "count credit purchases")
	}
	return count > 0, nil
}

// RecordPurchase 写入购买流水、可选的首购奖励，并累加余额
func (r *GormCreditRepository) RecordPurchase(ctx context.Context, purchase, bonus *domain.CreditTransaction) (*domain.CreditResult, error) {
	result := &domain.CreditResult{Credited: purchase.Amount}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(FromDomainCreditTransaction(purchase)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicate
			}
			return errors.Wrap(err, "insert credit purchase")
		}
		delta := purchase.Amount

		if bonus != nil && bonus.Amount > 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(FromDomainCreditTransaction(bonus))
			if res.Error != nil {
				return errors.Wrap(res.Error, "insert credit bonus")
			}
			if res.RowsAffected == 1 {
				result.Bonus = bonus.Amount
				delta += bonus.Amount
			}
		}

		now := time.Now()
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", delta),
				"updated_at": now,
			}),
		}).Create(&CreditBalanceModel{UserID: purchase.UserID, Balance: delta, UpdatedAt: now}).Error
		if err != nil {
			return errors.Wrap(err, "update credit balance")
		}

		var balance CreditBalanceModel
		if err := tx.Where("user_id = ?", purchase.UserID).First(&balance).Error; err != nil {
			return errors.Wrap(err, "reload credit balance")
		}
		result.Balance = balance.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func logOversold(ctx context.Context, marketOrderID, listingID string) {
	logger.Ctx(ctx).Error().
		Str("market_order_id", marketOrderID).
		Str("listing_id", listingID).
		Msg("🚨 original listing was already sold, payment kept for manual refund")
}
