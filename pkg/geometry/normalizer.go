package geometry

import (
	"github.com/shouni/go-manga-lens/pkg/apperr"
)

// Convention は曖昧なキー（box / polygon / points）をどちらの座標規約として読むかを指定します。
type Convention int

const (
	// ConventionPixel は絶対ピクセル（box は [x,y,w,h]）です。検出エンジン由来のデータの規約です。
	ConventionPixel Convention = iota
	// ConventionNormalized は 0–1000 の正規化座標（box は [ymin,xmin,ymax,xmax]）です。
	ConventionNormalized
)

// Geometry はパイプライン内部で扱う唯一のジオメトリ型です（絶対ピクセル）。
type Geometry struct {
	Box     Box
	Polygon Polygon
}

// Normalizer は 1 枚のページ寸法に束縛された座標変換器です。
type Normalizer struct {
	width  int
	height int
}

// NewNormalizer はページ寸法から Normalizer を作ります。
func NewNormalizer(width, height int) (Normalizer, error) {
	if width <= 0 || height <= 0 {
		return Normalizer{}, apperr.Errorf(apperr.KindValidationFailed, "invalid page size %dx%d", width, height)
	}
	return Normalizer{width: width, height: height}, nil
}

// Width はページ幅です。
func (n Normalizer) Width() int { return n.width }

// Height はページ高さです。
func (n Normalizer) Height() int { return n.height }

// ToPixelX は正規化 x 座標をピクセルに変換します（coord * dimension / 1000）。
func (n Normalizer) ToPixelX(v float64) float64 { return v * float64(n.width) / Scale }

// ToPixelY は正規化 y 座標をピクセルに変換します。
func (n Normalizer) ToPixelY(v float64) float64 { return v * float64(n.height) / Scale }

// BoxToPixels は正規化矩形をページ内にクランプしたピクセル矩形に変換します。
// 端数は切り捨てます。
func (n Normalizer) BoxToPixels(nb NormBox) Box {
	x1 := int(n.ToPixelX(nb.XMin))
	y1 := int(n.ToPixelY(nb.YMin))
	x2 := int(n.ToPixelX(nb.XMax))
	y2 := int(n.ToPixelY(nb.YMax))
	return BoxFromCorners(x1, y1, x2, y2).Clamp(n.width, n.height)
}

// BoxToNormalized はピクセル矩形を正規化矩形に変換します。
func (n Normalizer) BoxToNormalized(b Box) NormBox {
	return NormBox{
		YMin: float64(b.Y) * Scale / float64(n.height),
		XMin: float64(b.X) * Scale / float64(n.width),
		YMax: float64(b.Y+b.H) * Scale / float64(n.height),
		XMax: float64(b.X+b.W) * Scale / float64(n.width),
	}
}

// PolygonToPixels は正規化ポリゴンをピクセルに変換し、ページ内にクランプします。
func (n Normalizer) PolygonToPixels(p Polygon) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = n.clampPoint(Point{X: n.ToPixelX(pt.X), Y: n.ToPixelY(pt.Y)})
	}
	return out
}

// PolygonToNormalized はピクセルポリゴンを正規化座標に変換します。
func (n Normalizer) PolygonToNormalized(p Polygon) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = Point{X: pt.X * Scale / float64(n.width), Y: pt.Y * Scale / float64(n.height)}
	}
	return out
}

// ClampBox はピクセル矩形をページ内に収めます。
func (n Normalizer) ClampBox(b Box) Box {
	return b.Clamp(n.width, n.height)
}

// ClampPolygon はピクセルポリゴンの各点をページ内に収めます。
func (n Normalizer) ClampPolygon(p Polygon) Polygon {
	out := make(Polygon, len(p))
	for i, pt := range p {
		out[i] = n.clampPoint(pt)
	}
	return out
}

func (n Normalizer) clampPoint(pt Point) Point {
	return Point{X: clamp(pt.X, 0, float64(n.width)), Y: clamp(pt.Y, 0, float64(n.height))}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LegacyShape は既存クライアントが送ってくる複数のジオメトリ表現をまとめて受け付けます。
// box_2d / bounding_box は常に正規化 [ymin,xmin,ymax,xmax]、box / polygon / points は
// 呼び出し側が指定する Convention で解釈します。
type LegacyShape struct {
	Box2D       []float64 `json:"box_2d,omitempty"`
	BoundingBox []float64 `json:"bounding_box,omitempty"`
	Box         []float64 `json:"box,omitempty"`
	Polygon     Polygon   `json:"polygon,omitempty"`
	Points      Polygon   `json:"points,omitempty"`
}

// Ingest はレガシー表現をピクセル座標の Geometry に一度だけ変換します。
// ポリゴンがあればそれを優先し、矩形はその外接矩形とします。ポリゴンが無ければ矩形の 4 隅を使います。
func (n Normalizer) Ingest(s LegacyShape, conv Convention) (Geometry, error) {
	poly := s.Polygon
	if len(poly) == 0 {
		poly = s.Points
	}

	var (
		box    Box
		hasBox bool
	)
	switch {
	case len(s.Box2D) > 0:
		nb, err := NormBoxFromSlice(s.Box2D)
		if err != nil {
			return Geometry{}, apperr.New(apperr.KindValidationFailed, "invalid box_2d", err)
		}
		box, hasBox = n.BoxToPixels(nb), true
	case len(s.BoundingBox) > 0:
		nb, err := NormBoxFromSlice(s.BoundingBox)
		if err != nil {
			return Geometry{}, apperr.New(apperr.KindValidationFailed, "invalid bounding_box", err)
		}
		box, hasBox = n.BoxToPixels(nb), true
	case len(s.Box) > 0:
		b, err := n.boxFromConvention(s.Box, conv)
		if err != nil {
			return Geometry{}, err
		}
		box, hasBox = b, true
	}

	if len(poly) > 0 {
		var px Polygon
		if conv == ConventionNormalized {
			px = n.PolygonToPixels(poly)
		} else {
			px = n.ClampPolygon(poly)
		}
		if !hasBox {
			box = n.ClampBox(px.Bounds())
		}
		return Geometry{Box: box, Polygon: px}, nil
	}

	if !hasBox {
		return Geometry{}, apperr.Errorf(apperr.KindValidationFailed, "shape has neither box nor polygon")
	}
	if box.Empty() {
		return Geometry{}, apperr.Errorf(apperr.KindValidationFailed, "degenerate box %+v", box)
	}
	return Geometry{Box: box, Polygon: box.Corners()}, nil
}

func (n Normalizer) boxFromConvention(v []float64, conv Convention) (Box, error) {
	if conv == ConventionNormalized {
		nb, err := NormBoxFromSlice(v)
		if err != nil {
			return Box{}, apperr.New(apperr.KindValidationFailed, "invalid normalized box", err)
		}
		return n.BoxToPixels(nb), nil
	}
	if len(v) != 4 {
		return Box{}, apperr.Errorf(apperr.KindValidationFailed, "pixel box needs 4 values, got %d", len(v))
	}
	return n.ClampBox(Box{X: int(v[0]), Y: int(v[1]), W: int(v[2]), H: int(v[3])}), nil
}
