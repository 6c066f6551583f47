package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxNoteLength 与 fulfillments.internal_note 列宽一致
const maxNoteLength = 1000

// Fulfillment 跟踪单个订单行的生产与物流
type Fulfillment struct {
	ID              string
	OrderID         string
	OrderItemID     string
	Status          FulfillmentStatus
	Partner         string
	PartnerOrderRef string
	TrackingNumber  string
	TrackingURL     string
	Carrier         string
	InternalNote    string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Tracking 是物流信息，空字段表示不修改
type Tracking struct {
	Number  string
	URL     string
	Carrier string
}

func NewFulfillment(orderID, orderItemID, partner string, now time.Time) *Fulfillment {
	return &Fulfillment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		OrderItemID: orderItemID,
		Status:      FulfillmentQueued,
		Partner:     partner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance 将履约推进到 next。已处于 next 时返回 false 且不报错。
func (f *Fulfillment) Advance(next FulfillmentStatus, now time.Time) (bool, error) {
	if f.Status == next {
		return false, nil
	}
	if !f.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: fulfillment %s %s -> %s", ErrInvalidTransition, f.ID, f.Status, next)
	}
	prev := f.Status
	f.Status = next
	f.UpdatedAt = now
	switch next {
	case FulfillmentShipped:
		f.ShippedAt = &now
	case FulfillmentDelivered:
		f.DeliveredAt = &now
		if f.ShippedAt == nil {
			f.ShippedAt = &now
		}
	case FulfillmentQueued:
		if prev == FulfillmentFailed {
			f.InternalNote = ""
		}
	}
	return true, nil
}

// MarkFailed 记录失败原因。已经是 FAILED 时只更新备注。
func (f *Fulfillment) MarkFailed(reason string, now time.Time) error {
	if f.Status != FulfillmentFailed {
		if _, err := f.Advance(FulfillmentFailed, now); err != nil {
			return err
		}
	}
	if len(reason) > maxNoteLength {
		reason = reason[:maxNoteLength]
	}
	f.InternalNote = reason
	f.UpdatedAt = now
	return nil
}

// ApplyTracking 合并非空的物流字段，返回是否有变化
func (f *Fulfillment) ApplyTracking(t Tracking) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&f.TrackingNumber, t.Number)
	set(&f.TrackingURL, t.URL)
	set(&f.Carrier, t.Carrier)
	return changed
}
