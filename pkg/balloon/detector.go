package balloon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// デフォルト値の定義です。
const (
	DefaultConfidence = 0.15
	// DefaultEpsilonRatio は輪郭の周長に対する簡略化の許容誤差の割合です。
	DefaultEpsilonRatio = 0.003
)

// Config は吹き出し検出の後処理パラメータです。
type Config struct {
	MinConfidence float64
	EpsilonRatio  float64
}

// DefaultConfig は推奨されるデフォルト設定を返します。
func DefaultConfig() Config {
	return Config{
		MinConfidence: DefaultConfidence,
		EpsilonRatio:  DefaultEpsilonRatio,
	}
}

// Detector は Engine の生の検出結果を Balloon に整えます。
type Detector struct {
	engine     Engine
	cfg        Config
	simplifier Simplifier
}

// NewDetector は Detector を生成します。simplifier が nil の場合は OpenCV の ApproxPolyDP を使います。
func NewDetector(engine Engine, cfg Config, simplifier Simplifier) *Detector {
	if simplifier == nil {
		simplifier = ApproxPolyDP{}
	}
	return &Detector{engine: engine, cfg: cfg, simplifier: simplifier}
}

// Detect はページの吹き出しを検出します。width / height はクランプに使うページ寸法です。
// 戻り値の順序に意味はなく、ID はこの呼び出し内の連番です。
func (d *Detector) Detect(ctx context.Context, src Source, width, height int) ([]domain.Balloon, error) {
	n, err := geometry.NewNormalizer(width, height)
	if err != nil {
		return nil, err
	}

	raws, err := d.engine.Detect(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("吹き出し検出に失敗しました: %w", err)
	}

	balloons := make([]domain.Balloon, 0, len(raws))
	for _, raw := range raws {
		if raw.Confidence < d.cfg.MinConfidence {
			continue
		}
		b, ok := d.toBalloon(ctx, n, raw)
		if !ok {
			continue
		}
		b.ID = len(balloons)
		balloons = append(balloons, b)
	}

	slog.DebugContext(ctx, "吹き出し検出が完了しました",
		"raw", len(raws),
		"balloons", len(balloons),
	)
	return balloons, nil
}

func (d *Detector) toBalloon(ctx context.Context, n geometry.Normalizer, raw RawDetection) (domain.Balloon, bool) {
	box := n.ClampBox(geometry.BoxFromCorners(int(raw.X1), int(raw.Y1), int(raw.X2), int(raw.Y2)))
	if box.Empty() {
		return domain.Balloon{}, false
	}

	return domain.Balloon{
		Confidence: raw.Confidence,
		Box:        box,
		Polygon:    n.ClampPolygon(d.outline(ctx, box, raw.Contour)),
	}, true
}

// outline は輪郭ポリゴンを決めます。
// 簡略化の結果が 3 点以上ならそれを、2 点以下なら元の輪郭を使い、
// 簡略化自体が失敗した場合は矩形の 4 隅を使います。
func (d *Detector) outline(ctx context.Context, box geometry.Box, contour geometry.Polygon) geometry.Polygon {
	if len(contour) == 0 {
		return box.Corners()
	}

	simplified, err := d.simplifier.Simplify(contour, d.cfg.EpsilonRatio)
	if err != nil {
		slog.DebugContext(ctx, "輪郭の簡略化に失敗したため矩形を使います", "error", err)
		return box.Corners()
	}
	if len(simplified) > 2 {
		return simplified
	}
	return contour.Clone()
}
