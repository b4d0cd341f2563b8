// Package ocr は、吹き出しのテキスト認識とページ全体のレイアウト解析を行います。
package ocr

import (
	"image"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/shouni/go-manga-lens/pkg/domain"
)

const (
	// AtlasPadding はクロップ同士とシート端の余白です。
	AtlasPadding = 20
	// labelHeight は "ID: k" ラベル 1 行分の高さです。
	labelHeight = 16
)

// Atlas は複数の吹き出しクロップを縦に並べた 1 枚のシートです。
// Index[k] はラベル "ID: k" のクロップが元の吹き出しスライスの何番目かを表します。
type Atlas struct {
	Image *image.NRGBA
	Index []int
}

// Len はアトラスに並べたクロップ数を返します。
func (a *Atlas) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Index)
}

// BuildAtlas は indices で指定した吹き出しを img から切り出してアトラスにします。
// 矩形は画像内にクランプし、面積ゼロになったものは飛ばします。並べるものが無ければ nil を返します。
func BuildAtlas(img image.Image, balloons []domain.Balloon, indices []int) *Atlas {
	bounds := img.Bounds()

	type crop struct {
		img *image.NRGBA
		src int
	}
	crops := make([]crop, 0, len(indices))
	width := 0
	for _, i := range indices {
		r := balloons[i].Box.Rect().Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			continue
		}
		c := imaging.Crop(img, r)
		crops = append(crops, crop{img: c, src: i})
		width = max(width, c.Bounds().Dx())
	}
	if len(crops) == 0 {
		return nil
	}

	width = max(width, labelWidth(len(crops)-1)) + 2*AtlasPadding
	height := AtlasPadding
	for _, c := range crops {
		height += labelHeight + c.img.Bounds().Dy() + AtlasPadding
	}

	sheet := imaging.New(width, height, color.White)
	index := make([]int, len(crops))
	y := AtlasPadding
	for k, c := range crops {
		drawLabel(sheet, AtlasPadding, y+basicfont.Face7x13.Ascent, labelText(k))
		y += labelHeight
		sheet = imaging.Paste(sheet, c.img, image.Pt(AtlasPadding, y))
		y += c.img.Bounds().Dy() + AtlasPadding
		index[k] = c.src
	}
	return &Atlas{Image: sheet, Index: index}
}

func labelText(k int) string {
	return "ID: " + strconv.Itoa(k)
}

func labelWidth(k int) int {
	return font.MeasureString(basicfont.Face7x13, labelText(k)).Ceil()
}

func drawLabel(dst *image.NRGBA, x, baseline int, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}
