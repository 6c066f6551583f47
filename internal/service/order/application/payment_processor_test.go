package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printforge/internal/pkg/webhook"
	"printforge/internal/service/order/domain"
	"printforge/internal/service/order/domain/port"
)

const testSecret = "whsec_test"

type pipeline struct {
	orders       *memOrders
	fulfillments *memFulfillments
	assets       *memAssets
	market       *memMarket
	credits      *memCredits
	generator    *stubGenerator
	queue        *recordingQueue
	verifier     *webhook.Verifier
	processor    *PaymentEventProcessor
}

func newPipeline(t *testing.T, orders ...*domain.Order) *pipeline {
	t.Helper()
	p := &pipeline{
		orders:       newMemOrders(orders...),
		fulfillments: newMemFulfillments(),
		assets:       newMemAssets(),
		market: &memMarket{
			orders:   map[string]*domain.MarketOrder{},
			listings: map[string]*domain.Listing{},
			artists:  map[string]*domain.Artist{},
		},
		credits:  newMemCredits(),
		queue:    &recordingQueue{},
		verifier: webhook.NewVerifier(testSecret, time.Minute),
	}
	p.generator = &stubGenerator{assets: p.assets, failFor: map[string]error{}}
	catalog := &fakeCatalog{designs: map[string]*domain.Design{
		"d-premium": {ID: "d-premium", SourceURL: "https://src.test/d-premium.png", WidthPx: 1024, HeightPx: 1536},
	}}

	notifier := NewNotifier(p.queue, NotifierConfig{PartnerName: "printlab", PartnerEmail: "orders@printlab.test", AdminEmail: "ops@printforge.test"})
	orchestrator := NewFulfillmentOrchestrator(p.fulfillments, p.assets, catalog, p.generator, testSizes,
		OrchestratorConfig{Partner: "printlab", Concurrency: 2, GenerationTimeout: time.Second, PrintDPI: 150}, testTracer)
	p.processor = NewPaymentEventProcessor(
		p.verifier,
		NewOrderFinalizer(p.orders, testTracer),
		NewMarketFinalizer(p.market, testTracer),
		NewCreditService(p.credits, 20, testTracer),
		orchestrator,
		notifier,
		nil,
		ProcessorConfig{Provider: "stripe", Budget: 5 * time.Second},
		testTracer,
	)
	return p
}

func (p *pipeline) deliver(t *testing.T, body []byte) (*ProcessResult, error) {
	t.Helper()
	return p.processor.Process(context.Background(), body, p.verifier.Sign(body, time.Now()))
}

func checkoutEvent(t *testing.T, id, ref string, metadata map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    domain.EventCheckoutCompleted,
		"created": time.Now().Unix(),
		"data": map[string]any{"object": map[string]any{
			"id":             "cs_" + id,
			"object":         "checkout.session",
			"payment_intent": ref,
			"amount_total":   9000,
			"currency":       "eur",
			"customer_email": "buyer@example.com",
			"metadata":       metadata,
		}},
	})
	require.NoError(t, err)
	return body
}

func newOrder(id string, sizes ...string) *domain.Order {
	o := &domain.Order{
		ID:            id,
		CustomerID:    "cust-1",
		CustomerEmail: "buyer@example.com",
		Status:        domain.OrderStatusAwaitingPayment,
		Currency:      "EUR",
		TotalCents:    9000,
	}
	for i, size := range sizes {
		o.Items = append(o.Items, domain.OrderItem{
			ID:          id + "-item-" + string(rune('a'+i)),
			OrderID:     id,
			DesignID:    "d" + string(rune('1'+i)),
			SizeCode:    size,
			ProductType: domain.ProductPoster,
			Quantity:    1,
		})
	}
	return o
}

func TestProcess_RejectsInvalidSignature(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "30x40"))
	body := checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"})

	res, err := p.processor.Process(context.Background(), body, "t=1,v1=deadbeef")

	assert.Nil(t, res)
	assert.True(t, errors.Is(err, webhook.ErrInvalidSignature) || errors.Is(err, webhook.ErrTimestampOutsideTolerance))
	assert.Equal(t, domain.OrderStatusAwaitingPayment, p.orders.status("ord-1"))
	assert.Zero(t, p.fulfillments.count())
}

func TestProcess_IgnoresOtherEventTypes(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "30x40"))
	body := []byte(`{"id":"evt_2","type":"payment_intent.created","data":{"object":{"metadata":{"orderId":"ord-1"}}}}`)

	res, err := p.deliver(t, body)

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, domain.OrderStatusAwaitingPayment, p.orders.status("ord-1"))
}

func TestProcess_DirectOrderEndToEnd(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "30x40", "50x70"))

	res, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"}))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.BranchDirect, res.Branch)
	assert.Equal(t, domain.OrderStatusPaid, p.orders.status("ord-1"))
	assert.Equal(t, 1, p.orders.paymentWrites)

	assert.Equal(t, 2, p.fulfillments.count())
	for _, item := range []string{"ord-1-item-a", "ord-1-item-b"} {
		f := p.fulfillments.forItem(item)
		require.NotNil(t, f, item)
		assert.Equal(t, domain.FulfillmentQueued, f.Status)
		assert.Equal(t, "printlab", f.Partner)
	}
	assert.Equal(t, 2, p.assets.count(domain.RolePrint))

	assert.Len(t, p.queue.byKind(port.EmailBuyerConfirmation), 1)
	partner := p.queue.byKind(port.EmailPartnerOrder)
	require.Len(t, partner, 1)
	assert.Contains(t, partner[0].Text, "https://cdn.test/d1/PRINT/30x40.png")
	assert.Contains(t, partner[0].Text, "https://cdn.test/d2/PRINT/50x70.png")
}

func TestProcess_DuplicateDeliveryIsNoop(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "30x40", "50x70"))
	body := checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"})

	first, err := p.deliver(t, body)
	require.NoError(t, err)
	second, err := p.deliver(t, body)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, 1, p.orders.paymentWrites)
	assert.Equal(t, 2, p.fulfillments.count())
	assert.Equal(t, 2, p.generator.callCount())
	assert.Len(t, p.queue.byKind(port.EmailBuyerConfirmation), 1)
	assert.Len(t, p.queue.byKind(port.EmailPartnerOrder), 1)
}

func TestProcess_ItemFailureIsIsolated(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "30x40", "30x40", "50x70"))
	p.generator.failFor["d2"] = errors.New("renderer: 503 service unavailable")

	res, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"}))

	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, domain.FulfillmentQueued, p.fulfillments.forItem("ord-1-item-a").Status)
	assert.Equal(t, domain.FulfillmentQueued, p.fulfillments.forItem("ord-1-item-c").Status)

	failed := p.fulfillments.forItem("ord-1-item-b")
	assert.Equal(t, domain.FulfillmentFailed, failed.Status)
	assert.Contains(t, failed.InternalNote, "503 service unavailable")

	assert.Equal(t, domain.OrderStatusPaid, p.orders.status("ord-1"))
	partner := p.queue.byKind(port.EmailPartnerOrder)
	require.Len(t, partner, 1)
	assert.Contains(t, partner[0].Text, pendingAssetLink)
}

func TestProcess_PremiumSizeIsDeferred(t *testing.T) {
	order := newOrder("ord-1", "70x100")
	order.Items[0].DesignID = "d-premium"
	p := newPipeline(t, order)

	res, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"}))

	require.NoError(t, err)
	assert.Zero(t, p.generator.callCount(), "premium sizes never generate synchronously")
	assert.Equal(t, domain.FulfillmentQueued, p.fulfillments.forItem("ord-1-item-a").Status)

	asset, err := p.assets.Find(context.Background(), domain.AssetKey{
		DesignID: "d-premium", Role: domain.RolePrint, SizeCode: "70x100", ProductType: domain.ProductPoster,
	})
	require.NoError(t, err)
	assert.True(t, asset.Placeholder)
	assert.Equal(t, "https://src.test/d-premium.png", asset.URL)

	want := []ItemPath{PathPremium}
	got := []ItemPath{res.Items[0].Path}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("item paths mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, p.queue.byKind(port.EmailPartnerOrder)[0].Text, pendingAssetLink)
}

func TestProcess_UnknownSizeFailsItem(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "99x99"))

	_, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"}))

	require.NoError(t, err)
	f := p.fulfillments.forItem("ord-1-item-a")
	assert.Equal(t, domain.FulfillmentFailed, f.Status)
	assert.Contains(t, f.InternalNote, "unknown size code")
}

func TestProcess_FinalizationErrorIsReturned(t *testing.T) {
	p := newPipeline(t, newOrder("ord-1", "30x40"))
	p.orders.finalizeErr = errors.New("deadlock found when trying to get lock")

	res, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"}))

	require.ErrorIs(t, err, ErrFinalizationFailed)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, p.fulfillments.count())
	assert.Empty(t, p.queue.msgs)
}

func TestProcess_CanceledAndUnknownOrders(t *testing.T) {
	canceled := newOrder("ord-1", "30x40")
	canceled.Status = domain.OrderStatusCanceled
	p := newPipeline(t, canceled)

	res, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.Equal(t, domain.OrderStatusCanceled, p.orders.status("ord-1"))

	res, err = p.deliver(t, checkoutEvent(t, "evt_2", "pi_2", map[string]string{"orderId": "ord-missing"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestProcess_MalformedCreditsFallsBackToOrder(t *testing.T) {
	tests := []struct {
		name    string
		credits string
	}{
		{"fractional credits", `{"userId":"u1","credits":"12.5"}`},
		{"not json", `{userId`},
		{"empty object", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, newOrder("ord-1", "30x40"))

			res, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", map[string]string{"orderId": "ord-1", "creditsPurchase": tt.credits}))
			require.NoError(t, err)
			assert.Equal(t, domain.BranchDirect, res.Branch)
			assert.Equal(t, OutcomeApplied, res.Outcome)
			assert.Equal(t, domain.OrderStatusPaid, p.orders.status("ord-1"))
			assert.Equal(t, 1, p.fulfillments.count())
			assert.Empty(t, p.credits.balances)
		})
	}
}

func TestProcess_CreditsFirstPurchaseBonus(t *testing.T) {
	p := newPipeline(t)
	purchase := map[string]string{"creditsPurchase": `{"userId":"u1","credits":100,"packageId":"p100"}`}

	first, err := p.deliver(t, checkoutEvent(t, "evt_1", "pi_1", purchase))
	require.NoError(t, err)
	require.NotNil(t, first.Credits)
	assert.Equal(t, int64(100), first.Credits.Credited)
	assert.Equal(t, int64(20), first.Credits.Bonus)
	assert.Equal(t, int64(120), first.Credits.Balance)

	second, err := p.deliver(t, checkoutEvent(t, "evt_2", "pi_2", purchase))
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Credits.Bonus)
	assert.Equal(t, int64(220), second.Credits.Balance)

	replay, err := p.deliver(t, checkoutEvent(t, "evt_2", "pi_2", purchase))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, replay.Outcome)
	assert.Equal(t, int64(220), p.credits.balances["u1"])
}

func TestProcess_MarketOrder(t *testing.T) {
	p := newPipeline(t)
	p.market.orders["mo-1"] = &domain.MarketOrder{ID: "mo-1", ListingID: "l-1", ArtistID: "a-1", BuyerEmail: "collector@example.com", Status: domain.MarketOrderPending, AmountCents: 45000}
	p.market.listings["l-1"] = &domain.Listing{ID: "l-1", ArtistID: "a-1", Title: "Harbour at Dusk", Kind: domain.ListingOriginal}
	p.market.artists["a-1"] = &domain.Artist{ID: "a-1", Name: "Mira", Email: "mira@example.com"}
	body := checkoutEvent(t, "evt_1", "pi_1", map[string]string{"marketOrderId": "mo-1"})

	res, err := p.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, p.market.listings["l-1"].Sold)
	assert.Equal(t, domain.MarketOrderPaid, p.market.orders["mo-1"].Status)
	assert.Zero(t, p.fulfillments.count(), "marketplace orders skip the asset pipeline")

	sellers := p.queue.byKind(port.EmailSellerSale)
	require.Len(t, sellers, 1)
	assert.Equal(t, []string{"mira@example.com"}, sellers[0].To)
	assert.Len(t, p.queue.byKind(port.EmailPartnerOrder), 0)

	res, err = p.deliver(t, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Len(t, p.queue.byKind(port.EmailSellerSale), 1)
}
