package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// AssetRole 区分标准打印稿和开始生产后的高精度终稿
type AssetRole string

const (
	RolePrint      AssetRole = "PRINT"
	RolePrintFinal AssetRole = "PRINT_FINAL"
)

// AssetKey 是 DesignAsset 的自然键
type AssetKey struct {
	DesignID    string
	Role        AssetRole
	SizeCode    string
	ProductType ProductType
}

type DesignAsset struct {
	ID          string
	Key         AssetKey
	URL         string
	WidthPx     int
	HeightPx    int
	DPI         int
	Upscaled    bool
	Provider    string
	Placeholder bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPlaceholderAsset 指向未处理的原图，等待管理员生成
func NewPlaceholderAsset(key AssetKey, design *Design, now time.Time) *DesignAsset {
	return &DesignAsset{
		ID:          uuid.NewString(),
		Key:         key,
		URL:         design.SourceURL,
		WidthPx:     design.WidthPx,
		HeightPx:    design.HeightPx,
		Placeholder: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Design 是用户生成的设计稿，只读
type Design struct {
	ID        string
	OwnerID   string
	SourceURL string
	WidthPx   int
	HeightPx  int
}

// PrintSize 是一个物理尺寸，Premium 表示生成耗时超出回调时间预算
type PrintSize struct {
	Code     string
	WidthCM  float64
	HeightCM float64
	Premium  bool
}

const cmPerInch = 2.54

// LongEdgeCM 返回长边
func (s PrintSize) LongEdgeCM() float64 {
	return math.Max(s.WidthCM, s.HeightCM)
}

// RequiredPixels 返回给定 DPI 下长边和短边所需的像素数
func (s PrintSize) RequiredPixels(dpi int) (long, short int) {
	toPx := func(cm float64) int {
		return int(math.Ceil(cm / cmPerInch * float64(dpi)))
	}
	return toPx(math.Max(s.WidthCM, s.HeightCM)), toPx(math.Min(s.WidthCM, s.HeightCM))
}
