package application

import (
	"context"
	"fmt"
	"strings"

	"printforge/internal/pkg/logger"
	"printforge/internal/service/order/domain"
	"printforge/internal/service/order/domain/port"
)

const pendingAssetLink = "pending"

// NotifierConfig 是收件人配置
type NotifierConfig struct {
	PartnerName  string
	PartnerEmail string
	AdminEmail   string
}

// Notifier 构造各类通知并交给 Enqueuer 异步发送
type Notifier struct {
	queue Enqueuer
	cfg   NotifierConfig
}

func NewNotifier(queue Enqueuer, cfg NotifierConfig) *Notifier {
	return &Notifier{queue: queue, cfg: cfg}
}

// OrderPaid 发送买家确认和合作方生产单
func (n *Notifier) OrderPaid(ctx context.Context, order *domain.Order, outcomes []ItemOutcome) {
	if order.CustomerEmail != "" {
		n.queue.Enqueue(ctx, port.EmailMessage{
			Kind:    port.EmailBuyerConfirmation,
			To:      []string{order.CustomerEmail},
			Subject: fmt.Sprintf("Order %s confirmed", order.ID),
			Text:    fmt.Sprintf("Thanks for your order. %d item(s) are going into production.", len(order.Items)),
			Data: map[string]any{
				"orderId":    order.ID,
				"totalCents": order.TotalCents,
				"currency":   order.Currency,
			},
			Tags: map[string]string{"order_id": order.ID},
		})
	} else {
		logger.Ctx(ctx).Warn().Str("order_id", order.ID).Msg("Order has no customer email, skipping buyer confirmation")
	}

	if n.cfg.PartnerEmail == "" {
		logger.Ctx(ctx).Warn().Str("order_id", order.ID).Msg("Partner email not configured, skipping production order")
		return
	}

	lines := make([]map[string]any, 0, len(outcomes))
	var text strings.Builder
	fmt.Fprintf(&text, "Production order %s\n", order.ID)
	for _, o := range outcomes {
		link := pendingAssetLink
		if o.Asset != nil && !o.Asset.Placeholder && o.Status != domain.FulfillmentFailed {
			link = o.Asset.URL
		}
		lines = append(lines, map[string]any{
			"orderItemId":   o.Item.ID,
			"fulfillmentId": o.FulfillmentID,
			"sizeCode":      o.Item.SizeCode,
			"productType":   o.Item.ProductType,
			"frame":         o.Item.FrameOption,
			"paper":         o.Item.PaperOption,
			"quantity":      o.Item.Quantity,
			"download":      link,
		})
		fmt.Fprintf(&text, "- %s %s x%d: %s\n", o.Item.SizeCode, o.Item.ProductType, o.Item.Quantity, link)
	}
	n.queue.Enqueue(ctx, port.EmailMessage{
		Kind:    port.EmailPartnerOrder,
		To:      []string{n.cfg.PartnerEmail},
		Subject: fmt.Sprintf("[%s] New production order %s", n.cfg.PartnerName, order.ID),
		Text:    text.String(),
		Data:    map[string]any{"orderId": order.ID, "items": lines},
		Tags:    map[string]string{"order_id": order.ID},
	})
}

// MarketSale 发送买家确认和卖家售出通知
func (n *Notifier) MarketSale(ctx context.Context, sale *domain.MarketSale) {
	mo := sale.Order
	title := mo.ListingID
	if sale.Listing != nil && sale.Listing.Title != "" {
		title = sale.Listing.Title
	}

	if mo.BuyerEmail != "" {
		n.queue.Enqueue(ctx, port.EmailMessage{
			Kind:    port.EmailBuyerConfirmation,
			To:      []string{mo.BuyerEmail},
			Subject: fmt.Sprintf("Your purchase of %q is confirmed", title),
			Text:    "Thanks for supporting the artist. They will prepare your piece for shipping.",
			Data:    map[string]any{"marketOrderId": mo.ID, "amountCents": mo.AmountCents, "currency": mo.Currency},
			Tags:    map[string]string{"market_order_id": mo.ID},
		})
	}

	if sale.Artist == nil || sale.Artist.Email == "" {
		logger.Ctx(ctx).Warn().Str("market_order_id", mo.ID).Msg("Artist has no email, skipping sale notice")
		return
	}
	n.queue.Enqueue(ctx, port.EmailMessage{
		Kind:    port.EmailSellerSale,
		To:      []string{sale.Artist.Email},
		Subject: fmt.Sprintf("You sold %q", title),
		Text:    fmt.Sprintf("Hi %s, your listing %q has been purchased.", sale.Artist.Name, title),
		Data:    map[string]any{"marketOrderId": mo.ID, "listingId": mo.ListingID, "amountCents": mo.AmountCents},
		Tags:    map[string]string{"market_order_id": mo.ID},
	})
}

// Shipped 通知买家已发货
func (n *Notifier) Shipped(ctx context.Context, order *domain.Order, f *domain.Fulfillment) {
	if order.CustomerEmail == "" {
		return
	}
	text := "Your order is on its way."
	if f.TrackingNumber != "" {
		text = fmt.Sprintf("Your order is on its way with %s, tracking number %s.", f.Carrier, f.TrackingNumber)
	}
	n.queue.Enqueue(ctx, port.EmailMessage{
		Kind:    port.EmailShipped,
		To:      []string{order.CustomerEmail},
		Subject: fmt.Sprintf("Order %s has shipped", order.ID),
		Text:    text,
		Data: map[string]any{
			"orderId":        order.ID,
			"trackingNumber": f.TrackingNumber,
			"trackingUrl":    f.TrackingURL,
			"carrier":        f.Carrier,
		},
		Tags: map[string]string{"order_id": order.ID, "fulfillment_id": f.ID},
	})
}

// AdminAlert 给运维发告警邮件
func (n *Notifier) AdminAlert(ctx context.Context, subject, text string) bool {
	if n.cfg.AdminEmail == "" {
		logger.Ctx(ctx).Warn().Str("subject", subject).Msg("Admin email not configured, alert only logged")
		return false
	}
	return n.queue.Enqueue(ctx, port.EmailMessage{
		Kind:    port.EmailAdminAlert,
		To:      []string{n.cfg.AdminEmail},
		Subject: subject,
		Text:    text,
	})
}
