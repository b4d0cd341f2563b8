// Package mask は、吹き出しのジオメトリ群を 1 枚の二値マスクにラスタライズします。
package mask

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// DefaultKernelSize は膨張に使う矩形カーネルの一辺（ピクセル）です。
const DefaultKernelSize = 25

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Shape はマスク対象の 1 領域です。座標はどちらも 0–1000 の正規化スケールです。
// Polygon が 3 点以上あればそれを塗り、無ければ Box を塗ります。
type Shape struct {
	Polygon geometry.Polygon  `json:"polygon,omitempty"`
	Box     *geometry.NormBox `json:"box_2d,omitempty"`
}

// Builder はマスクを構築します。
type Builder struct {
	KernelSize int
}

// NewBuilder は既定のカーネルで Builder を生成します。
func NewBuilder() *Builder {
	return &Builder{KernelSize: DefaultKernelSize}
}

// Build は width x height のページに shapes を塗り、膨張させたマスクを返します。
// どの Shape も画素を覆わなかった場合は nil を返します。呼び出し側はクリーン処理を省略してください。
func (b *Builder) Build(width, height int, shapes []Shape) (*image.Gray, error) {
	raw, err := Rasterize(width, height, shapes)
	if err != nil || raw == nil {
		return nil, err
	}
	return Dilate(raw, b.kernel())
}

func (b *Builder) kernel() int {
	if b == nil || b.KernelSize <= 0 {
		return DefaultKernelSize
	}
	return b.KernelSize
}

// Rasterize は shapes を膨張前の二値マスクに塗ります。覆った画素が無ければ nil を返します。
func Rasterize(width, height int, shapes []Shape) (*image.Gray, error) {
	norm, err := geometry.NewNormalizer(width, height)
	if err != nil {
		return nil, err
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	defer mat.Close()
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))

	for _, s := range shapes {
		paint(&mat, norm, s)
	}

	if gocv.CountNonZero(mat) == 0 {
		return nil, nil
	}
	return toGray(mat)
}

func paint(mat *gocv.Mat, norm geometry.Normalizer, s Shape) {
	if len(s.Polygon) >= 3 {
		pts := norm.PolygonToPixels(s.Polygon).ImagePoints()
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		defer pv.Close()
		gocv.FillPoly(mat, pv, white)
		return
	}
	if s.Box == nil {
		return
	}
	box := norm.BoxToPixels(*s.Box)
	if box.Empty() {
		return
	}
	// cv::rectangle は終点を含むため 1 画素内側を指定します。
	gocv.Rectangle(mat, image.Rect(box.X, box.Y, box.X+box.W-1, box.Y+box.H-1), white, -1)
}

// Dilate は mask の白領域を size x size の矩形カーネルで膨張させた新しいマスクを返します。
func Dilate(mask *image.Gray, size int) (*image.Gray, error) {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, compact(mask))
	if err != nil {
		return nil, fmt.Errorf("Mat の生成に失敗しました: %w", err)
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(size, size))
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Dilate(src, &dst, kernel)
	return toGray(dst)
}

// Covered は mask の非ゼロ画素数を返します。
func Covered(mask *image.Gray) int {
	if mask == nil {
		return 0
	}
	n := 0
	for _, v := range compact(mask) {
		if v != 0 {
			n++
		}
	}
	return n
}

func toGray(mat gocv.Mat) (*image.Gray, error) {
	w, h := mat.Cols(), mat.Rows()
	pix := mat.ToBytes()
	if len(pix) != w*h {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, "unexpected mask buffer size %d for %dx%d", len(pix), w, h)
	}
	return &image.Gray{Pix: pix, Stride: w, Rect: image.Rect(0, 0, w, h)}, nil
}

// compact は行間の余白を含まない画素列を返します。
func compact(g *image.Gray) []byte {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if g.Stride == w && g.Rect.Min == (image.Point{}) {
		return g.Pix[:w*h]
	}
	out := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(g.Rect.Min.X, g.Rect.Min.Y+y)
		out = append(out, g.Pix[off:off+w]...)
	}
	return out
}

// ShapesFromBalloons はピクセル座標の吹き出しを正規化 Shape に変換します。
func ShapesFromBalloons(balloons []domain.Balloon, width, height int) ([]Shape, error) {
	norm, err := geometry.NewNormalizer(width, height)
	if err != nil {
		return nil, err
	}
	shapes := make([]Shape, 0, len(balloons))
	for _, b := range balloons {
		nb := norm.BoxToNormalized(norm.ClampBox(b.Box))
		s := Shape{Box: &nb}
		if len(b.Polygon) >= 3 {
			s.Polygon = norm.PolygonToNormalized(norm.ClampPolygon(b.Polygon))
		}
		shapes = append(shapes, s)
	}
	return shapes, nil
}

// ShapesFromLegacy は互換形式のジオメトリ記述を Shape に変換します。
// 解釈できない記述は捨て、その件数を返します。
func ShapesFromLegacy(items []geometry.LegacyShape, width, height int, conv geometry.Convention) ([]Shape, int, error) {
	norm, err := geometry.NewNormalizer(width, height)
	if err != nil {
		return nil, 0, err
	}
	shapes := make([]Shape, 0, len(items))
	skipped := 0
	for _, item := range items {
		g, err := norm.Ingest(item, conv)
		if err != nil {
			skipped++
			continue
		}
		nb := norm.BoxToNormalized(g.Box)
		s := Shape{Box: &nb}
		if len(item.Polygon) >= 3 || len(item.Points) >= 3 {
			s.Polygon = norm.PolygonToNormalized(g.Polygon)
		}
		shapes = append(shapes, s)
	}
	return shapes, skipped, nil
}
