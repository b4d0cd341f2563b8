package panel

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// contourBoxes は二値化・収縮したページから全階層の輪郭を取り出し、その外接矩形を返します。
func contourBoxes(img image.Image, cfg Config) ([]geometry.Box, error) {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}

	src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, nrgba.Pix)
	if err != nil {
		return nil, fmt.Errorf("Mat の生成に失敗しました: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBAToGray)

	// 閾値より暗い画素を内容（255）、明るい画素を背景（0）にします。
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, cfg.Threshold, 255, gocv.ThresholdBinaryInv)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(cfg.ErodeKernel, cfg.ErodeKernel))
	defer kernel.Close()

	// 収縮でコマ間の細い余白を広げ、隣接するコマが 1 つの輪郭につながらないようにします。
	eroded := thresh.Clone()
	for i := 0; i < cfg.ErodeIterations; i++ {
		next := gocv.NewMat()
		gocv.Erode(eroded, &next, kernel)
		eroded.Close()
		eroded = next
	}
	defer eroded.Close()

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()
	contours := gocv.FindContoursWithParams(eroded, &hierarchy, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]geometry.Box, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, geometry.BoxFromRect(gocv.BoundingRect(contours.At(i))))
	}
	return boxes, nil
}
