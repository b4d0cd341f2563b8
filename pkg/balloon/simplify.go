package balloon

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// Simplifier は輪郭ポリゴンの点数を減らします。
// epsilonRatio は閉じた輪郭の周長に対する許容誤差の割合です。
type Simplifier interface {
	Simplify(contour geometry.Polygon, epsilonRatio float64) (geometry.Polygon, error)
}

// ApproxPolyDP は OpenCV の Douglas-Peucker 実装を使う Simplifier です。
type ApproxPolyDP struct{}

// Simplify は周長 × epsilonRatio を許容誤差として輪郭を簡略化します。結果の点数は入力を超えません。
func (ApproxPolyDP) Simplify(contour geometry.Polygon, epsilonRatio float64) (geometry.Polygon, error) {
	if len(contour) == 0 {
		return nil, fmt.Errorf("empty contour")
	}

	pv := gocv.NewPointVectorFromPoints(contour.ImagePoints())
	defer pv.Close()

	epsilon := epsilonRatio * gocv.ArcLength(pv, true)
	approx := gocv.ApproxPolyDP(pv, epsilon, true)
	defer approx.Close()

	out := geometry.PolygonFromImagePoints(approx.ToPoints())
	if len(out) > len(contour) {
		return nil, fmt.Errorf("simplification grew the contour from %d to %d points", len(contour), len(out))
	}
	return out, nil
}
