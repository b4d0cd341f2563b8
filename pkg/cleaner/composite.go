package cleaner

import (
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Composite は original を土台に、mask が非ゼロの画素だけ generated で置き換えた画像を返します。
// generated の解像度が異なる場合は Lanczos で original と同じ大きさに合わせます。
// mask が 0 の画素は original と同じ値のまま残ります。
func Composite(original, generated image.Image, mask *image.Gray) *image.NRGBA {
	ob := original.Bounds()
	w, h := ob.Dx(), ob.Dy()

	dst := imaging.Clone(original)
	gen := Resample(generated, w, h)

	// Src はマスク外を透明で上書きするため Over を使います。不透明な gen は mask=255 で完全に置き換わります。
	draw.DrawMask(dst, dst.Bounds(), gen, gen.Bounds().Min, mask, mask.Bounds().Min, draw.Over)
	return dst
}

// Resample は img を w x h に合わせた NRGBA を返します。大きさが同じ場合は複製のみ行います。
func Resample(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}
