package domain

import (
	"time"

	"github.com/google/uuid"
)

type CreditTxType string

const (
	CreditPurchase CreditTxType = "PURCHASE"
	CreditBonus    CreditTxType = "BONUS"
)

// CreditTransaction 是积分流水。
// PURCHASE 以 ExternalRef 去重，首购奖励以 BonusKey 去重。
type CreditTransaction struct {
	ID          string
	UserID      string
	Type        CreditTxType
	Amount      int64
	PackageID   string
	ExternalRef string
	BonusKey    string
	CreatedAt   time.Time
}

// CreditsPurchase 是支付事件元数据里的积分购买信息
type CreditsPurchase struct {
	UserID    string `json:"userId"`
	Credits   int64  `json:"credits"`
	PackageID string `json:"packageId"`
}

// CreditResult 是一次积分入账的结果
type CreditResult struct {
	Credited  int64
	Bonus     int64
	Balance   int64
	Duplicate bool
}

// FirstPurchaseBonusKey 每个用户只有一个首购奖励
func FirstPurchaseBonusKey(userID string) string {
	return "first-purchase:" + userID
}

func NewPurchaseTransaction(p CreditsPurchase, externalRef string, now time.Time) *CreditTransaction {
	return &CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Type:        CreditPurchase,
		Amount:      p.Credits,
		PackageID:   p.PackageID,
		ExternalRef: externalRef,
		CreatedAt:   now,
	}
}

func NewFirstPurchaseBonus(userID string, amount int64, now time.Time) *CreditTransaction {
	return &CreditTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      CreditBonus,
		Amount:    amount,
		BonusKey:  FirstPurchaseBonusKey(userID),
		CreatedAt: now,
	}
}
