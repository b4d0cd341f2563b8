// Package geometry は、ページ全体の検出で使う正規化座標（0–1000 の [ymin,xmin,ymax,xmax]）と
// バルーンの切り出しで使う絶対ピクセル座標（[x,y,w,h]）の橋渡しを一手に引き受けます。
// 他のパッケージはどちらかの規約を前提にせず、必ずここを通して変換します。
package geometry

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
)

// Scale は正規化座標系の一辺の長さです。
const Scale = 1000.0

// Point は 2 次元の点です。座標系は保持するコンテナによって決まります。
type Point struct {
	X float64
	Y float64
}

// MarshalJSON は [x, y] 形式で出力します。
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON は [x, y] と {"x":..,"y":..} の両方を受け付けます。
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) < 2 {
			return fmt.Errorf("point needs 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unsupported point shape %s: %w", string(data), err)
	}
	p.X, p.Y = obj.X, obj.Y
	return nil
}

// Box は絶対ピクセルの矩形 [x, y, w, h] です。
type Box struct {
	X int
	Y int
	W int
	H int
}

// BoxFromCorners は左上・右下の角から Box を作ります。角の順序が逆でも正規化します。
func BoxFromCorners(x1, y1, x2, y2 int) Box {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// BoxFromRect は image.Rectangle から Box を作ります。
func BoxFromRect(r image.Rectangle) Box {
	r = r.Canon()
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Rect は image.Rectangle に変換します。
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Area は面積を返します。
func (b Box) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Empty は面積が 0 のとき true です。
func (b Box) Empty() bool {
	return b.Area() == 0
}

// Clamp は幅 w・高さ h の画像内に収まるよう矩形を切り詰めます。
func (b Box) Clamp(w, h int) Box {
	return BoxFromRect(b.Rect().Intersect(image.Rect(0, 0, w, h)))
}

// Pad は各辺を pad ピクセル広げ、画像内にクランプします。
func (b Box) Pad(pad, w, h int) Box {
	r := image.Rect(b.X-pad, b.Y-pad, b.X+b.W+pad, b.Y+b.H+pad)
	return BoxFromRect(r.Intersect(image.Rect(0, 0, w, h)))
}

// IntersectionArea は o との重なり面積を返します。
func (b Box) IntersectionArea(o Box) int {
	return BoxFromRect(b.Rect().Intersect(o.Rect())).Area()
}

// Corners は時計回りの 4 隅をポリゴンとして返します。
func (b Box) Corners() Polygon {
	x1, y1 := float64(b.X), float64(b.Y)
	x2, y2 := float64(b.X+b.W), float64(b.Y+b.H)
	return Polygon{{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}}
}

// MarshalJSON は [x, y, w, h] 形式で出力します。
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.W, b.H})
}

// UnmarshalJSON は [x, y, w, h] を受け付けます。小数は切り捨てます。
func (b *Box) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("box needs 4 values, got %d", len(v))
	}
	*b = Box{X: int(v[0]), Y: int(v[1]), W: int(v[2]), H: int(v[3])}
	return nil
}

// NormBox は 0–1000 スケールの [ymin, xmin, ymax, xmax] です。
type NormBox struct {
	YMin float64
	XMin float64
	YMax float64
	XMax float64
}

// NormBoxFromSlice は [ymin, xmin, ymax, xmax] の配列から NormBox を作ります。
// 上下・左右が逆転している場合は並べ替えます。
func NormBoxFromSlice(v []float64) (NormBox, error) {
	if len(v) != 4 {
		return NormBox{}, fmt.Errorf("normalized box needs 4 values, got %d", len(v))
	}
	return NormBox{
		YMin: math.Min(v[0], v[2]),
		XMin: math.Min(v[1], v[3]),
		YMax: math.Max(v[0], v[2]),
		XMax: math.Max(v[1], v[3]),
	}, nil
}

// MarshalJSON は [ymin, xmin, ymax, xmax] 形式で出力します。
func (n NormBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{n.YMin, n.XMin, n.YMax, n.XMax})
}

// UnmarshalJSON は [ymin, xmin, ymax, xmax] を受け付けます。
func (n *NormBox) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	nb, err := NormBoxFromSlice(v)
	if err != nil {
		return err
	}
	*n = nb
	return nil
}

// Polygon は点列です。
type Polygon []Point

// Bounds は外接矩形を返します。
func (p Polygon) Bounds() Box {
	if len(p) == 0 {
		return Box{}
	}
	minX, minY := p[0].X, p[0].Y
	maxX, maxY := p[0].X, p[0].Y
	for _, pt := range p[1:] {
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}
	return BoxFromCorners(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// ImagePoints は整数座標に丸めた点列を返します。
func (p Polygon) ImagePoints() []image.Point {
	out := make([]image.Point, len(p))
	for i, pt := range p {
		out[i] = image.Pt(int(math.Round(pt.X)), int(math.Round(pt.Y)))
	}
	return out
}

// PolygonFromImagePoints は整数座標の点列からポリゴンを作ります。
func PolygonFromImagePoints(pts []image.Point) Polygon {
	out := make(Polygon, len(pts))
	for i, pt := range pts {
		out[i] = Point{X: float64(pt.X), Y: float64(pt.Y)}
	}
	return out
}

// Clone はコピーを返します。
func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	out := make(Polygon, len(p))
	copy(out, p)
	return out
}
