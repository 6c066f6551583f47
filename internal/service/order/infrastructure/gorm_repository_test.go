package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"printforge/internal/service/order/domain"
)

// newTestDB 打开一个内存 sqlite，和生产环境一样开启错误翻译并自动迁移
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 每个连接都是独立的内存库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(allModels()...))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, id string, status domain.OrderStatus) {
	t.Helper()
	now := time.Now()
	require.NoError(t, db.Create(&OrderModel{
		ID:         id,
		CustomerID: "cust-1",
		Status:     string(status),
		Currency:   "EUR",
		TotalCents: 9000,
		CreatedAt:  now,
		UpdatedAt:  now,
		Items: []OrderItemModel{
			{ID: id + "-a", DesignID: "d1", SizeCode: "30x40", ProductType: string(domain.ProductPoster), Quantity: 1},
		},
	}).Error)
}

func confirmation(ref string) domain.PaymentConfirmation {
	return domain.PaymentConfirmation{
		Provider:    "stripe",
		ExternalRef: ref,
		AmountCents: 9000,
		Currency:    "EUR",
		PaidAt:      time.Unix(1772359200, 0).UTC(),
	}
}

func TestGormOrderRepository_FinalizePayment(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormOrderRepository(db)
	seedOrder(t, db, "ord-1", domain.OrderStatusAwaitingPayment)

	outcome, err := repo.FinalizePayment(ctx, "ord-1", confirmation("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeApplied, outcome)

	outcome, err = repo.FinalizePayment(ctx, "ord-1", confirmation("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeDuplicate, outcome)

	var payments int64
	require.NoError(t, db.Model(&PaymentModel{}).Where("order_id = ?", "ord-1").Count(&payments).Error)
	assert.Equal(t, int64(1), payments)

	order, err := repo.FindByID(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	require.Len(t, order.Items, 1)
	require.NotNil(t, order.Payment)
	assert.Equal(t, "pi_1", order.Payment.ExternalRef)
	assert.Equal(t, int64(1772359200), order.Payment.PaidAt.Unix())
}

func TestGormOrderRepository_FinalizePayment_CanceledAndMissing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormOrderRepository(db)
	seedOrder(t, db, "ord-1", domain.OrderStatusCanceled)

	outcome, err := repo.FinalizePayment(ctx, "ord-1", confirmation("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeCanceled, outcome)

	var payments int64
	require.NoError(t, db.Model(&PaymentModel{}).Count(&payments).Error)
	assert.Zero(t, payments)

	_, err = repo.FinalizePayment(ctx, "ord-missing", confirmation("pi_2"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGormOrderRepository_AdvanceStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormOrderRepository(db)
	seedOrder(t, db, "ord-1", domain.OrderStatusPaid)

	moved, err := repo.AdvanceStatus(ctx, "ord-1", domain.OrderStatusPaid, domain.OrderStatusInProduction)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.AdvanceStatus(ctx, "ord-1", domain.OrderStatusPaid, domain.OrderStatusInProduction)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestGormFulfillmentRepository_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewGormFulfillmentRepository(newTestDB(t))
	now := time.Now()

	first, created, err := repo.CreateIfAbsent(ctx, domain.NewFulfillment("ord-1", "ord-1-a", "printlab", now))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.CreateIfAbsent(ctx, domain.NewFulfillment("ord-1", "ord-1-a", "printlab", now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	all, err := repo.ListByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGormFulfillmentRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewGormFulfillmentRepository(newTestDB(t))
	now := time.Now()

	f, _, err := repo.CreateIfAbsent(ctx, domain.NewFulfillment("ord-1", "ord-1-a", "printlab", now))
	require.NoError(t, err)

	f.Status = domain.FulfillmentInProduction
	f.PartnerOrderRef = "PL-1"
	f.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Update(ctx, f, domain.FulfillmentQueued))

	stored, err := repo.FindByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentInProduction, stored.Status)
	assert.Equal(t, "PL-1", stored.PartnerOrderRef)

	stale := *f
	stale.Status = domain.FulfillmentShipped
	assert.ErrorIs(t, repo.Update(ctx, &stale, domain.FulfillmentQueued), domain.ErrStaleState)

	missing := domain.NewFulfillment("ord-2", "ord-2-a", "printlab", now)
	assert.ErrorIs(t, repo.Update(ctx, missing, domain.FulfillmentQueued), domain.ErrNotFound)
}

func TestGormAssetRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAssetRepository(newTestDB(t))
	keyA := domain.AssetKey{DesignID: "d1", Role: domain.RolePrint, SizeCode: "30x40", ProductType: domain.ProductPoster}
	keyB := domain.AssetKey{DesignID: "d2", Role: domain.RolePrint, SizeCode: "50x70", ProductType: domain.ProductPoster}

	a, err := repo.Upsert(ctx, &domain.DesignAsset{Key: keyA, URL: "https://cdn.test/d1.png", DPI: 150})
	require.NoError(t, err)
	b, err := repo.Upsert(ctx, &domain.DesignAsset{Key: keyB, URL: "https://cdn.test/d2.png", DPI: 150})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)

	again, err := repo.Upsert(ctx, &domain.DesignAsset{ID: "ignored-on-conflict", Key: keyA, URL: "https://cdn.test/d1-v2.png", DPI: 300, Upscaled: true})
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID, "existing row keeps its id")
	assert.Equal(t, "https://cdn.test/d1-v2.png", again.URL)
	assert.Equal(t, 300, again.DPI)

	stillB, err := repo.Find(ctx, keyB)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/d2.png", stillB.URL)
}

func TestGormAssetRepository_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewGormAssetRepository(newTestDB(t))
	key := domain.AssetKey{DesignID: "d1", Role: domain.RolePrint, SizeCode: "30x40", ProductType: domain.ProductPoster}
	design := &domain.Design{ID: "d1", SourceURL: "https://src.test/d1.png", WidthPx: 1000, HeightPx: 1500}

	first, created, err := repo.CreateIfAbsent(ctx, domain.NewPlaceholderAsset(key, design, time.Now()))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Placeholder)

	second, created, err := repo.CreateIfAbsent(ctx, &domain.DesignAsset{Key: key, URL: "https://cdn.test/other.png"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "https://src.test/d1.png", second.URL)

	_, err = repo.Find(ctx, domain.AssetKey{DesignID: "d9", Role: domain.RolePrint, SizeCode: "30x40", ProductType: domain.ProductPoster})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func seedMarket(t *testing.T, db *gorm.DB, kind domain.ListingKind, orderIDs ...string) {
	t.Helper()
	require.NoError(t, db.Create(&ArtistModel{ID: "a-1", Name: "Mira", Email: "mira@example.com"}).Error)
	require.NoError(t, db.Create(&ListingModel{ID: "l-1", ArtistID: "a-1", Title: "Harbour at Dusk", Kind: string(kind)}).Error)
	for _, id := range orderIDs {
		require.NoError(t, db.Create(&MarketOrderModel{
			ID: id, ListingID: "l-1", ArtistID: "a-1", Status: string(domain.MarketOrderPending), AmountCents: 45000, Currency: "EUR",
		}).Error)
	}
}

func TestGormMarketRepository_FinalizeOriginal(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormMarketRepository(db)
	seedMarket(t, db, domain.ListingOriginal, "mo-1", "mo-2")

	outcome, err := repo.FinalizePayment(ctx, "mo-1", confirmation("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeApplied, outcome)

	outcome, err = repo.FinalizePayment(ctx, "mo-1", confirmation("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeDuplicate, outcome)

	// 原作已售出：第二笔支付仍然记账，作品保持已售
	outcome, err = repo.FinalizePayment(ctx, "mo-2", confirmation("pi_2"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeApplied, outcome)

	sale, err := repo.FindSale(ctx, "mo-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketOrderPaid, sale.Order.Status)
	assert.Equal(t, "pi_1", sale.Order.PaymentRef)
	assert.True(t, sale.Listing.Sold)
	assert.Equal(t, "mira@example.com", sale.Artist.Email)
}

func TestGormMarketRepository_FinalizeOpenEdition(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormMarketRepository(db)
	seedMarket(t, db, domain.ListingOpenEdition, "mo-1", "mo-2")

	for _, id := range []string{"mo-1", "mo-2", "mo-1"} {
		_, err := repo.FinalizePayment(ctx, id, confirmation("pi_"+id))
		require.NoError(t, err)
	}

	sale, err := repo.FindSale(ctx, "mo-2")
	require.NoError(t, err)
	assert.Equal(t, 2, sale.Listing.PrintsSold)
	assert.False(t, sale.Listing.Sold)
}

func TestGormMarketRepository_FinalizeCanceledAndMissing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewGormMarketRepository(db)
	seedMarket(t, db, domain.ListingOriginal, "mo-1")
	require.NoError(t, db.Model(&MarketOrderModel{}).Where("id = ?", "mo-1").Update("status", string(domain.MarketOrderCanceled)).Error)

	outcome, err := repo.FinalizePayment(ctx, "mo-1", confirmation("pi_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizeCanceled, outcome)

	_, err = repo.FinalizePayment(ctx, "mo-missing", confirmation("pi_2"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGormCreditRepository_RecordPurchase(t *testing.T) {
	ctx := context.Background()
	repo := NewGormCreditRepository(newTestDB(t))
	now := time.Now()

	has, err := repo.HasPurchase(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, has)

	purchase := domain.CreditsPurchase{UserID: "u1", Credits: 100, PackageID: "p100"}
	first, err := repo.RecordPurchase(ctx, domain.NewPurchaseTransaction(purchase, "pi_1", now), domain.NewFirstPurchaseBonus("u1", 20, now))
	require.NoError(t, err)
	assert.Equal(t, int64(20), first.Bonus)
	assert.Equal(t, int64(120), first.Balance)

	has, err = repo.HasPurchase(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, has)

	// 并发场景下第二笔也可能带着首购奖励进来，bonus_key 唯一索引只让它生效一次
	purchase.Credits = 50
	second, err := repo.RecordPurchase(ctx, domain.NewPurchaseTransaction(purchase, "pi_2", now), domain.NewFirstPurchaseBonus("u1", 20, now))
	require.NoError(t, err)
	assert.Zero(t, second.Bonus)
	assert.Equal(t, int64(170), second.Balance)

	_, err = repo.RecordPurchase(ctx, domain.NewPurchaseTransaction(purchase, "pi_2", now), nil)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	third, err := repo.RecordPurchase(ctx, domain.NewPurchaseTransaction(domain.CreditsPurchase{UserID: "u1", Credits: 1}, "pi_3", now), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(171), third.Balance, "the rejected replay left the balance untouched")
}
