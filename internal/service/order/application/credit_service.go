package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"printforge/internal/pkg/logger"
	"printforge/internal/service/order/domain"
)

// CreditService 处理积分充值，首次购买额外赠送奖励积分
type CreditService struct {
	credits domain.CreditRepository
	bonus   int64
	tracer  trace.Tracer
	now     func() time.Time
}

func NewCreditService(credits domain.CreditRepository, firstPurchaseBonus int64, tracer trace.Tracer) *CreditService {
	return &CreditService{credits: credits, bonus: firstPurchaseBonus, tracer: tracer, now: time.Now}
}

// ApplyPurchase 同一个 externalRef 只入账一次，首购奖励由唯一的 bonus key 保证每个用户最多一次
func (s *CreditService) ApplyPurchase(ctx context.Context, p domain.CreditsPurchase, externalRef string) (*domain.CreditResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.ApplyCreditsPurchase", trace.WithAttributes(
		attribute.String("user.id", p.UserID),
		attribute.Int64("credits", p.Credits),
	))
	defer span.End()

	if p.UserID == "" || p.Credits <= 0 {
		return nil, fmt.Errorf("%w: credits purchase needs userId and positive credits", domain.ErrInvalidEvent)
	}

	hadPurchase, err := s.credits.HasPurchase(ctx, p.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("check purchase history for %s: %w", p.UserID, err)
	}

	now := s.now()
	purchase := domain.NewPurchaseTransaction(p, externalRef, now)
	var bonus *domain.CreditTransaction
	if !hadPurchase && s.bonus > 0 {
		bonus = domain.NewFirstPurchaseBonus(p.UserID, s.bonus, now)
	}

	res, err := s.credits.RecordPurchase(ctx, purchase, bonus)
	if errors.Is(err, domain.ErrDuplicate) {
		logger.Ctx(ctx).Info().Str("user_id", p.UserID).Str("external_ref", externalRef).Msg("Credits purchase already recorded")
		return &domain.CreditResult{Duplicate: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("record credits purchase for %s: %w", p.UserID, err)
	}

	logger.Ctx(ctx).Info().Str("user_id", p.UserID).Int64("credited", res.Credited).Int64("bonus", res.Bonus).
		Int64("balance", res.Balance).Msg("💰 Credits added")
	return res, nil
}
