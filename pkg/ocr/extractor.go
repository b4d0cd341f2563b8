package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/llm"
	"github.com/shouni/go-manga-lens/pkg/llmjson"
	"github.com/shouni/go-manga-lens/pkg/prompts"
	"github.com/shouni/go-manga-lens/pkg/retry"
)

// DefaultChunkSize は 1 枚のアトラスに並べる吹き出しの上限です。
const DefaultChunkSize = 10

// Config は Extractor の設定です。
type Config struct {
	ChunkSize int
	Retry     retry.Policy
}

// DefaultConfig は既定の設定を返します。
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Retry:     retry.Exponential("ocr", retry.DefaultBaseDelay, retry.DefaultMaxAttempts),
	}
}

// Extractor は吹き出しのクロップをアトラスにまとめ、画像つき生成で一括してテキストを読み取ります。
type Extractor struct {
	gen     llm.VisionGenerator
	prompts prompts.PromptBuilder
	cfg     Config
}

// NewExtractor は Extractor を生成します。
func NewExtractor(gen llm.VisionGenerator, pb prompts.PromptBuilder, cfg Config) *Extractor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Retry.MaxAttempts <= 0 && len(cfg.Retry.Schedule) == 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	return &Extractor{gen: gen, prompts: pb, cfg: cfg}
}

// ocrItem は応答配列の 1 要素です。
type ocrItem struct {
	Index flexInt `json:"index"`
	Text  *string `json:"text"`
}

// flexInt は数値と数値文字列のどちらでも受け付けます。
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid index %s: %w", data, err)
	}
	*f = flexInt(n)
	return nil
}

// Extract は balloons の各テキストを埋めた新しいスライスを返します。入力のスライスは変更しません。
// 読み取りに失敗したチャンクの吹き出しは元のまま返し、失敗は error として返します。
// 返されるスライスはエラー時も常に有効です。
func (e *Extractor) Extract(ctx context.Context, img image.Image, balloons []domain.Balloon) ([]domain.Balloon, error) {
	out := domain.Balloons(balloons).Clone()
	if len(out) == 0 {
		return out, nil
	}

	var errs []error
	for start := 0; start < len(out); start += e.cfg.ChunkSize {
		end := min(start+e.cfg.ChunkSize, len(out))
		indices := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			indices = append(indices, i)
		}

		texts, atlas, err := e.readChunk(ctx, img, out, indices)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.WarnContext(ctx, "吹き出しの読み取りに失敗したため元のまま返します",
				"from", start, "to", end, "kind", apperr.KindOf(err), "error", err)
			errs = append(errs, err)
			continue
		}
		if atlas == nil {
			continue
		}
		for k, src := range atlas.Index {
			out[src].Text = strings.TrimSpace(texts[k])
		}
	}

	if len(errs) > 0 {
		return out, apperr.New(apperr.KindOf(errs[0]), "一部の吹き出しを読み取れませんでした", errors.Join(errs...))
	}
	return out, nil
}

// readChunk は 1 チャンク分のアトラスを送り、アトラス上の番号 → テキストの対応を返します。
// 応答に無い番号は空文字になります。
func (e *Extractor) readChunk(ctx context.Context, img image.Image, balloons []domain.Balloon, indices []int) (map[int]string, *Atlas, error) {
	atlas := BuildAtlas(img, balloons, indices)
	if atlas == nil {
		return nil, nil, nil
	}

	prompt, err := e.prompts.Build(prompts.ModeOCR, prompts.TemplateData{Count: atlas.Len()})
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, atlas.Image); err != nil {
		return nil, nil, fmt.Errorf("アトラスのエンコードに失敗しました: %w", err)
	}

	slog.InfoContext(ctx, "アトラスを送信します", "crops", atlas.Len(), "bytes", buf.Len())
	raw, err := retry.DoValue(ctx, e.cfg.Retry, func(ctx context.Context) (string, error) {
		return e.gen.GenerateFromImage(ctx, prompt, buf.Bytes(), "image/png")
	})
	if err != nil {
		return nil, nil, err
	}

	texts, err := parseItems(raw, atlas.Len())
	if err != nil {
		return nil, nil, err
	}
	return texts, atlas, nil
}

// parseItems は [{index, text}] を番号 → テキストの対応に変換します。範囲外の番号は捨てます。
func parseItems(raw string, n int) (map[int]string, error) {
	var items []ocrItem
	if err := llmjson.DecodeArray(raw, &items); err != nil {
		return nil, err
	}
	texts := make(map[int]string, n)
	for _, it := range items {
		k := int(it.Index)
		if k < 0 || k >= n {
			continue
		}
		if it.Text != nil {
			texts[k] = *it.Text
		}
	}
	return texts, nil
}
