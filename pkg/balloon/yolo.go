package balloon

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// YOLO セグメンテーションモデルの入出力に関する定数です。
const (
	DefaultInputSize = 640
	DefaultIoU       = 0.45
	maskThreshold    = 0.5
	letterboxFill    = 114
)

// letterbox は縦横比を保ったまま正方形の入力に縮小し、余白を灰色で埋めた結果です。
type letterbox struct {
	scale float64
	padX  int
	padY  int
	size  int
}

func newLetterbox(w, h, size int) letterbox {
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return letterbox{scale: scale, padX: (size - nw) / 2, padY: (size - nh) / 2, size: size}
}

// toOriginal はモデル入力座標を元画像の座標に戻します。
func (lb letterbox) toOriginal(x, y float64) (float64, float64) {
	return (x - float64(lb.padX)) / lb.scale, (y - float64(lb.padY)) / lb.scale
}

// tensor は画像を NCHW の float32（0〜1 の RGB）に変換します。
func (lb letterbox) tensor(img image.Image) []float32 {
	b := img.Bounds()
	nw := int(math.Round(float64(b.Dx()) * lb.scale))
	nh := int(math.Round(float64(b.Dy()) * lb.scale))
	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(lb.size, lb.size, color.NRGBA{R: letterboxFill, G: letterboxFill, B: letterboxFill, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(lb.padX, lb.padY))

	plane := lb.size * lb.size
	out := make([]float32, 3*plane)
	for y := 0; y < lb.size; y++ {
		for x := 0; x < lb.size; x++ {
			i := canvas.PixOffset(x, y)
			idx := y*lb.size + x
			out[idx] = float32(canvas.Pix[i]) / 255
			out[plane+idx] = float32(canvas.Pix[i+1]) / 255
			out[2*plane+idx] = float32(canvas.Pix[i+2]) / 255
		}
	}
	return out
}

// candidate はモデル入力座標系での検出候補です。
type candidate struct {
	x1, y1, x2, y2 float64
	score          float64
	coeffs         []float32
}

func (c candidate) area() float64 {
	return math.Max(0, c.x2-c.x1) * math.Max(0, c.y2-c.y1)
}

func iou(a, b candidate) float64 {
	ix := math.Max(0, math.Min(a.x2, b.x2)-math.Max(a.x1, b.x1))
	iy := math.Max(0, math.Min(a.y2, b.y2)-math.Max(a.y1, b.y1))
	inter := ix * iy
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// decodeCandidates は [1, 4+nc+nm, anchors] の出力から信頼度 minScore 以上の候補を取り出します。
func decodeCandidates(data []float32, shape []int64, numMasks int, minScore float64) []candidate {
	if len(shape) != 3 {
		return nil
	}
	rows, anchors := int(shape[1]), int(shape[2])
	numClasses := rows - 4 - numMasks
	if numClasses <= 0 || len(data) < rows*anchors {
		return nil
	}

	at := func(r, a int) float32 { return data[r*anchors+a] }

	var out []candidate
	for a := 0; a < anchors; a++ {
		best := float32(0)
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, a); s > best {
				best = s
			}
		}
		if float64(best) < minScore {
			continue
		}
		cx, cy, w, h := float64(at(0, a)), float64(at(1, a)), float64(at(2, a)), float64(at(3, a))
		cand := candidate{
			x1:    cx - w/2,
			y1:    cy - h/2,
			x2:    cx + w/2,
			y2:    cy + h/2,
			score: float64(best),
		}
		if numMasks > 0 {
			cand.coeffs = make([]float32, numMasks)
			for m := 0; m < numMasks; m++ {
				cand.coeffs[m] = at(4+numClasses+m, a)
			}
		}
		out = append(out, cand)
	}
	return out
}

// nms は信頼度の高い順に、IoU が閾値を超える候補を抑制します。
func nms(cands []candidate, threshold float64) []candidate {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	kept := make([]candidate, 0, len(sorted))
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if iou(c, k) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

// instanceMask は係数とプロトタイプマスク [nm, mh, mw] からインスタンスの二値マスクを作ります。
// 候補矩形の外側は 0 にします。
func instanceMask(c candidate, protos []float32, nm, mh, mw, inputSize int) []byte {
	sx := float64(mw) / float64(inputSize)
	sy := float64(mh) / float64(inputSize)
	x1 := clampInt(int(math.Floor(c.x1*sx)), 0, mw)
	y1 := clampInt(int(math.Floor(c.y1*sy)), 0, mh)
	x2 := clampInt(int(math.Ceil(c.x2*sx)), 0, mw)
	y2 := clampInt(int(math.Ceil(c.y2*sy)), 0, mh)

	plane := mh * mw
	mask := make([]byte, plane)
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			idx := y*mw + x
			var v float64
			for m := 0; m < nm; m++ {
				v += float64(c.coeffs[m]) * float64(protos[m*plane+idx])
			}
			if sigmoid(v) > maskThreshold {
				mask[idx] = 255
			}
		}
	}
	return mask
}

// maskContour は二値マスクの最大外側輪郭を返します（マスク座標系）。
func maskContour(mask []byte, mh, mw int) ([]image.Point, error) {
	mat, err := gocv.NewMatFromBytes(mh, mw, gocv.MatTypeCV8UC1, mask)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var (
		best     []image.Point
		bestArea float64
	)
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if area := gocv.ContourArea(c); area > bestArea || best == nil {
			bestArea = area
			best = c.ToPoints()
		}
	}
	return best, nil
}

// toDetection は候補を元画像座標の RawDetection に変換します。
func (lb letterbox) toDetection(c candidate, contour []image.Point, maskScale float64) RawDetection {
	x1, y1 := lb.toOriginal(c.x1, c.y1)
	x2, y2 := lb.toOriginal(c.x2, c.y2)
	d := RawDetection{Confidence: c.score, X1: x1, Y1: y1, X2: x2, Y2: y2}
	if len(contour) > 0 {
		d.Contour = make(geometry.Polygon, len(contour))
		for i, p := range contour {
			px, py := lb.toOriginal(float64(p.X)*maskScale, float64(p.Y)*maskScale)
			d.Contour[i] = geometry.Point{X: px, Y: py}
		}
	}
	return d
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
