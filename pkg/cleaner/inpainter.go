package cleaner

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/llm"
)

const (
	// DefaultPrompt は補完エンジンに渡す固定プロンプトです。
	DefaultPrompt = "Remove text bubbles. Fill with background texture. Maintain art style."
	// DefaultNegativePrompt は補完結果に含めたくない要素です。
	DefaultNegativePrompt = "text, bubbles, artifacts"
)

// Inpainter は mask の白領域を描き直した画像候補を返します。候補が無ければ空のスライスを返します。
type Inpainter interface {
	Inpaint(ctx context.Context, original image.Image, mask *image.Gray, prompt string) ([]image.Image, error)
}

// EditorInpainter は llm.ImageEditor を Inpainter として使うためのアダプタです。
type EditorInpainter struct {
	Editor         llm.ImageEditor
	NegativePrompt string
}

// NewEditorInpainter は EditorInpainter を生成します。
func NewEditorInpainter(editor llm.ImageEditor) *EditorInpainter {
	return &EditorInpainter{Editor: editor, NegativePrompt: DefaultNegativePrompt}
}

// Inpaint は画像とマスクを PNG にして編集エンジンへ送り、返ってきた画像をデコードします。
func (e *EditorInpainter) Inpaint(ctx context.Context, original image.Image, mask *image.Gray, prompt string) ([]image.Image, error) {
	imgPNG, err := encodePNG(original)
	if err != nil {
		return nil, err
	}
	maskPNG, err := encodePNG(mask)
	if err != nil {
		return nil, err
	}

	outs, err := e.Editor.EditImage(ctx, llm.EditRequest{
		Image:          imgPNG,
		MIMEType:       "image/png",
		Mask:           maskPNG,
		Prompt:         prompt,
		NegativePrompt: e.NegativePrompt,
	})
	if err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(outs))
	for i, b := range outs {
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			slog.WarnContext(ctx, "補完結果のデコードに失敗しました", "index", i, "error", err)
			continue
		}
		images = append(images, img)
	}
	if len(outs) > 0 && len(images) == 0 {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, "inpainting returned %d undecodable images", len(outs))
	}
	return images, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("PNG エンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
