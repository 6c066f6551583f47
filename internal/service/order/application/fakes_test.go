package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"printforge/internal/service/order/domain"
	"printforge/internal/service/order/domain/port"
)

var testTracer trace.Tracer = noop.NewTracerProvider().Tracer("test")

// memOrders 是 OrderRepository 的内存实现，条件更新语义与 gorm 实现一致
type memOrders struct {
	mu            sync.Mutex
	orders        map[string]*domain.Order
	paymentWrites int
	finalizeErr   error
}

func newMemOrders(orders ...*domain.Order) *memOrders {
	m := &memOrders{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return &c
}

func (m *memOrders) FindByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (m *memOrders) FindItem(_ context.Context, itemID string) (*domain.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if it, ok := o.Item(itemID); ok {
			return &it, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrders) FinalizePayment(_ context.Context, id string, conf domain.PaymentConfirmation) (domain.FinalizeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return "", m.finalizeErr
	}
	o, ok := m.orders[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	switch o.Status {
	case domain.OrderStatusDraft, domain.OrderStatusAwaitingPayment:
	case domain.OrderStatusCanceled:
		return domain.FinalizeCanceled, nil
	default:
		return domain.FinalizeDuplicate, nil
	}
	o.Status = domain.OrderStatusPaid
	paidAt := conf.PaidAt
	o.Payment = &domain.Payment{OrderID: id, Provider: conf.Provider, ExternalRef: conf.ExternalRef, AmountCents: conf.AmountCents, PaidAt: &paidAt}
	m.paymentWrites++
	return domain.FinalizeApplied, nil
}

func (m *memOrders) AdvanceStatus(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (m *memOrders) status(id string) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

type memFulfillments struct {
	mu     sync.Mutex
	byID   map[string]*domain.Fulfillment
	byItem map[string]string
}

func newMemFulfillments() *memFulfillments {
	return &memFulfillments{byID: map[string]*domain.Fulfillment{}, byItem: map[string]string{}}
}

func (m *memFulfillments) CreateIfAbsent(_ context.Context, f *domain.Fulfillment) (*domain.Fulfillment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byItem[f.OrderItemID]; ok {
		c := *m.byID[id]
		return &c, false, nil
	}
	c := *f
	m.byID[f.ID] = &c
	m.byItem[f.OrderItemID] = f.ID
	out := c
	return &out, true, nil
}

func (m *memFulfillments) FindByID(_ context.Context, id string) (*domain.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (m *memFulfillments) FindByOrderItem(_ context.Context, itemID string) (*domain.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byItem[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *m.byID[id]
	return &c, nil
}

func (m *memFulfillments) ListByOrder(_ context.Context, orderID string) ([]*domain.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Fulfillment
	for _, f := range m.byID {
		if f.OrderID == orderID {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memFulfillments) Update(_ context.Context, f *domain.Fulfillment, from domain.FulfillmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[f.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return domain.ErrStaleState
	}
	c := *f
	m.byID[f.ID] = &c
	return nil
}

func (m *memFulfillments) forItem(itemID string) *domain.Fulfillment {
	f, _ := m.FindByOrderItem(context.Background(), itemID)
	return f
}

func (m *memFulfillments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memAssets struct {
	mu     sync.Mutex
	assets map[domain.AssetKey]*domain.DesignAsset
}

func newMemAssets() *memAssets {
	return &memAssets{assets: map[domain.AssetKey]*domain.DesignAsset{}}
}

func (m *memAssets) Find(_ context.Context, key domain.AssetKey) (*domain.DesignAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *memAssets) CreateIfAbsent(_ context.Context, a *domain.DesignAsset) (*domain.DesignAsset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.assets[a.Key]; ok {
		c := *existing
		return &c, false, nil
	}
	if a.ID == "" {
		return nil, false, fmt.Errorf("design asset %v inserted without id", a.Key)
	}
	c := *a
	m.assets[a.Key] = &c
	return a, true, nil
}

func (m *memAssets) Upsert(_ context.Context, a *domain.DesignAsset) (*domain.DesignAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	if existing, ok := m.assets[a.Key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else if c.ID == "" {
		return nil, fmt.Errorf("design asset %v inserted without id", a.Key)
	}
	m.assets[a.Key] = &c
	out := c
	return &out, nil
}

func (m *memAssets) count(role domain.AssetRole) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.assets {
		if k.Role == role {
			n++
		}
	}
	return n
}

type memMarket struct {
	mu       sync.Mutex
	orders   map[string]*domain.MarketOrder
	listings map[string]*domain.Listing
	artists  map[string]*domain.Artist
}

func (m *memMarket) FindOrder(_ context.Context, id string) (*domain.MarketOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *memMarket) FinalizePayment(_ context.Context, id string, conf domain.PaymentConfirmation) (domain.FinalizeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.Status != domain.MarketOrderPending {
		return domain.FinalizeDuplicate, nil
	}
	l := m.listings[o.ListingID]
	if l.Kind == domain.ListingOriginal {
		if l.Sold {
			return "", errors.New("original already sold")
		}
		l.Sold = true
	} else {
		l.PrintsSold++
	}
	o.Status = domain.MarketOrderPaid
	o.PaymentRef = conf.ExternalRef
	return domain.FinalizeApplied, nil
}

func (m *memMarket) FindSale(_ context.Context, id string) (*domain.MarketSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *m.orders[id]
	l := *m.listings[o.ListingID]
	a := *m.artists[o.ArtistID]
	return &domain.MarketSale{Order: &o, Listing: &l, Artist: &a}, nil
}

type memCredits struct {
	mu        sync.Mutex
	txs       []*domain.CreditTransaction
	refs      map[string]bool
	bonusKeys map[string]bool
	balances  map[string]int64
}

func newMemCredits() *memCredits {
	return &memCredits{refs: map[string]bool{}, bonusKeys: map[string]bool{}, balances: map[string]int64{}}
}

func (m *memCredits) HasPurchase(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.Type == domain.CreditPurchase {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCredits) RecordPurchase(_ context.Context, purchase, bonus *domain.CreditTransaction) (*domain.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[purchase.ExternalRef] {
		return nil, domain.ErrDuplicate
	}
	m.refs[purchase.ExternalRef] = true
	m.txs = append(m.txs, purchase)
	res := &domain.CreditResult{Credited: purchase.Amount}
	m.balances[purchase.UserID] += purchase.Amount
	if bonus != nil && !m.bonusKeys[bonus.BonusKey] {
		m.bonusKeys[bonus.BonusKey] = true
		m.txs = append(m.txs, bonus)
		m.balances[bonus.UserID] += bonus.Amount
		res.Bonus = bonus.Amount
	}
	res.Balance = m.balances[purchase.UserID]
	return res, nil
}

type fakeCatalog struct {
	designs map[string]*domain.Design
}

func (c *fakeCatalog) GetDesign(_ context.Context, id string) (*domain.Design, error) {
	d, ok := c.designs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// stubGenerator 记录调用，failFor 里的设计稿生成失败
type stubGenerator struct {
	mu      sync.Mutex
	assets  *memAssets
	failFor map[string]error
	calls   []port.GenerateRequest
}

func (g *stubGenerator) Generate(ctx context.Context, req port.GenerateRequest) (*domain.DesignAsset, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	err := g.failFor[req.DesignID]
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.assets.Upsert(ctx, &domain.DesignAsset{
		ID:  uuid.NewString(),
		Key: req.Key(),
		URL: fmt.Sprintf("https://cdn.test/%s/%s/%s.png", req.DesignID, req.Role, req.SizeCode),
		DPI: req.DPI,
	})
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// recordingQueue 同步记录入队的邮件
type recordingQueue struct {
	mu   sync.Mutex
	msgs []port.EmailMessage
}

func (q *recordingQueue) Enqueue(_ context.Context, msg port.EmailMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return true
}

func (q *recordingQueue) byKind(kind port.EmailKind) []port.EmailMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []port.EmailMessage
	for _, m := range q.msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// MockMailer 是 port.Mailer 的 testify mock
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg port.EmailMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockUpscaler 是 port.Upscaler 的 testify mock
type MockUpscaler struct {
	mock.Mock
	name string
}

func (m *MockUpscaler) Name() string { return m.name }

func (m *MockUpscaler) Upscale(ctx context.Context, req port.UpscaleRequest) (*port.UpscaleResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.UpscaleResult), args.Error(1)
}

// MockRenderer 是 port.PrintRenderer 的 testify mock
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, req port.RenderRequest) (*port.RenderResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.RenderResult), args.Error(1)
}

// tableSizes 是测试用的尺寸策略
type tableSizes map[string]domain.PrintSize

func (t tableSizes) Resolve(code string) (domain.PrintSize, error) {
	s, ok := t[code]
	if !ok {
		return domain.PrintSize{}, fmt.Errorf("%w: %s", domain.ErrUnknownSize, code)
	}
	return s, nil
}

var testSizes = tableSizes{
	"30x40":  {Code: "30x40", WidthCM: 30, HeightCM: 40},
	"50x70":  {Code: "50x70", WidthCM: 50, HeightCM: 70},
	"70x100": {Code: "70x100", WidthCM: 70, HeightCM: 100, Premium: true},
}
