// Package panel はページ画像をコマ（矩形領域）に分割します。
package panel

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/shouni/go-manga-lens/pkg/domain"
)

// デフォルト値の定義です。
const (
	DefaultThreshold       = 230
	DefaultErodeKernel     = 3
	DefaultErodeIterations = 2
	DefaultMinAreaRatio    = 0.02
	DefaultMaxAreaRatio    = 0.88
	DefaultMinAspect       = 0.1
	DefaultMaxAspect       = 10.0
	DefaultPadding         = 5
	DefaultNestedRatio     = 0.50
	DefaultRowBand         = 100
)

// Config はコマ検出のパラメータです。
type Config struct {
	// Threshold より明るい画素を背景として扱います。
	Threshold       float32
	ErodeKernel     int
	ErodeIterations int
	// MinAreaRatio / MaxAreaRatio はページ面積に対する候補矩形の面積比の範囲（両端を含まない）です。
	MinAreaRatio float64
	MaxAreaRatio float64
	MinAspect    float64
	MaxAspect    float64
	// Padding は収縮で縮んだ分を戻すための余白（px）です。
	Padding int
	// NestedRatio を超えて既存のコマに含まれる候補は捨てます。
	NestedRatio float64
	// RowBand は読み順ソートで同じ段とみなす y の幅（px）です。
	RowBand int
}

// DefaultConfig は推奨されるデフォルト設定を返します。
func DefaultConfig() Config {
	return Config{
		Threshold:       DefaultThreshold,
		ErodeKernel:     DefaultErodeKernel,
		ErodeIterations: DefaultErodeIterations,
		MinAreaRatio:    DefaultMinAreaRatio,
		MaxAreaRatio:    DefaultMaxAreaRatio,
		MinAspect:       DefaultMinAspect,
		MaxAspect:       DefaultMaxAspect,
		Padding:         DefaultPadding,
		NestedRatio:     DefaultNestedRatio,
		RowBand:         DefaultRowBand,
	}
}

// Detector は二値化・収縮・輪郭抽出でコマを検出します。
type Detector struct {
	cfg Config
}

// NewDetector は Detector を生成します。
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect はページ画像からコマを読み順で返します。
// 真っ白なページや、内部に余白を持たない 1 枚絵のページはコマ 0 件になります。
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]domain.Panel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	boxes, err := contourBoxes(img, d.cfg)
	if err != nil {
		return nil, fmt.Errorf("輪郭抽出に失敗しました: %w", err)
	}

	panels := selectPanels(boxes, bounds.Dx(), bounds.Dy(), d.cfg)
	slog.DebugContext(ctx, "コマ検出が完了しました",
		"contours", len(boxes),
		"panels", len(panels),
	)
	return panels, nil
}
