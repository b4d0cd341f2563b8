package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
	"github.com/shouni/go-manga-lens/pkg/llm"
	"github.com/shouni/go-manga-lens/pkg/llmjson"
	"github.com/shouni/go-manga-lens/pkg/prompts"
	"github.com/shouni/go-manga-lens/pkg/retry"
)

// minLayoutTextLen より短いテキストの検出はノイズとして捨てます。
const minLayoutTextLen = 2

// LayoutAnalyzer はページ全体を画像つき生成に渡し、吹き出しの位置とテキストを同時に得ます。
// 検出モデルを使わない簡易経路です。
type LayoutAnalyzer struct {
	gen     llm.VisionGenerator
	prompts prompts.PromptBuilder
	policy  retry.Policy
}

// NewLayoutAnalyzer は LayoutAnalyzer を生成します。
func NewLayoutAnalyzer(gen llm.VisionGenerator, pb prompts.PromptBuilder, policy retry.Policy) *LayoutAnalyzer {
	return &LayoutAnalyzer{gen: gen, prompts: pb, policy: policy}
}

type layoutItem struct {
	Text        any       `json:"text"`
	Box2D       []float64 `json:"box_2d"`
	Box         []float64 `json:"box"`
	BoundingBox []float64 `json:"bounding_box"`
}

// Analyze は img のレイアウトを解析し、ピクセル座標の吹き出しを返します。
func (a *LayoutAnalyzer) Analyze(ctx context.Context, img image.Image) ([]domain.Balloon, error) {
	b := img.Bounds()
	norm, err := geometry.NewNormalizer(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	prompt, err := a.prompts.Build(prompts.ModeLayout, prompts.TemplateData{})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("ページのエンコードに失敗しました: %w", err)
	}

	raw, err := retry.DoValue(ctx, a.policy, func(ctx context.Context) (string, error) {
		return a.gen.GenerateFromImage(ctx, prompt, buf.Bytes(), "image/jpeg")
	})
	if err != nil {
		return nil, err
	}

	var items []layoutItem
	if err := llmjson.DecodeArray(raw, &items); err != nil {
		return nil, err
	}
	return toBalloons(ctx, norm, items), nil
}

func toBalloons(ctx context.Context, norm geometry.Normalizer, items []layoutItem) []domain.Balloon {
	out := make([]domain.Balloon, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(textOf(it.Text))
		if utf8.RuneCountInString(text) < minLayoutTextLen {
			continue
		}
		box := it.Box2D
		if len(box) == 0 {
			box = it.Box
		}
		if len(box) == 0 {
			box = it.BoundingBox
		}
		if len(box) != 4 {
			continue
		}
		g, err := norm.Ingest(geometry.LegacyShape{Box2D: box}, geometry.ConventionNormalized)
		if err != nil {
			slog.DebugContext(ctx, "解釈できない矩形を捨てます", "box", box, "error", err)
			continue
		}
		out = append(out, domain.Balloon{
			ID:         len(out),
			Confidence: 1,
			Box:        g.Box,
			Polygon:    g.Polygon,
			Text:       text,
		})
	}
	return out
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
