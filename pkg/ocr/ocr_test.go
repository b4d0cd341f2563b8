package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
	"github.com/shouni/go-manga-lens/pkg/prompts"
	"github.com/shouni/go-manga-lens/pkg/retry"
)

type fakeVision struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	images    [][]byte
}

func (f *fakeVision) GenerateFromImage(ctx context.Context, prompt string, img []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.images = append(f.images, img)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func page(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func testConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, Retry: retry.Exponential("ocr", time.Millisecond, 5)}
}

func builder(t *testing.T) *prompts.TextPromptBuilder {
	t.Helper()
	b, err := prompts.NewTextPromptBuilder()
	if err != nil {
		t.Fatalf("NewTextPromptBuilder: %v", err)
	}
	return b
}

func TestBuildAtlas(t *testing.T) {
	balloons := []domain.Balloon{
		{Box: geometry.Box{X: 10, Y: 10, W: 30, H: 20}},
		{Box: geometry.Box{X: 500, Y: 500, W: 30, H: 20}}, // ページ外
		{Box: geometry.Box{X: 90, Y: 90, W: 50, H: 50}},  // 一部がはみ出す
	}
	atlas := BuildAtlas(page(100, 100), balloons, []int{0, 1, 2})
	if atlas == nil {
		t.Fatal("アトラスが作られていません")
	}
	if diff := cmp.Diff([]int{0, 2}, atlas.Index); diff != "" {
		t.Errorf("対応表が一致しません (-want +got):\n%s", diff)
	}
	wantH := AtlasPadding + (labelHeight + 20 + AtlasPadding) + (labelHeight + 10 + AtlasPadding)
	if got := atlas.Image.Bounds().Dy(); got != wantH {
		t.Errorf("高さ: 期待値 %d, 実際の値 %d", wantH, got)
	}

	// ラベル行に黒い画素が描かれていること
	dark := false
	for y := AtlasPadding; y < AtlasPadding+labelHeight && !dark; y++ {
		for x := 0; x < atlas.Image.Bounds().Dx(); x++ {
			if atlas.Image.NRGBAAt(x, y).R < 128 {
				dark = true
				break
			}
		}
	}
	if !dark {
		t.Error("ラベルが描画されていません")
	}

	if BuildAtlas(page(100, 100), balloons, []int{1}) != nil {
		t.Error("有効なクロップが無ければ nil のはずです")
	}
}

func TestExtractor_Extract(t *testing.T) {
	ctx := context.Background()
	img := page(200, 200)
	balloons := []domain.Balloon{
		{ID: 0, Box: geometry.Box{X: 10, Y: 10, W: 40, H: 30}, Text: "stale"},
		{ID: 1, Box: geometry.Box{X: 60, Y: 60, W: 40, H: 30}, Text: "stale"},
	}

	t.Run("応答に無い番号は空文字になること", func(t *testing.T) {
		gen := &fakeVision{responses: []string{`[{"index":0,"text":" Hi "}]`}}
		got, err := NewExtractor(gen, builder(t), testConfig()).Extract(ctx, img, balloons)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if diff := cmp.Diff([]string{"Hi", ""}, domain.Balloons(got).Texts()); diff != "" {
			t.Errorf("テキストが一致しません (-want +got):\n%s", diff)
		}
		if balloons[0].Text != "stale" {
			t.Error("入力のスライスが書き換えられています")
		}
		if gen.calls != 1 {
			t.Errorf("1 回のリクエストのはずです: %d", gen.calls)
		}
		if _, err := png.Decode(bytes.NewReader(gen.images[0])); err != nil {
			t.Errorf("アトラスが PNG ではありません: %v", err)
		}
	})

	t.Run("コードフェンスや末尾カンマを許容すること", func(t *testing.T) {
		gen := &fakeVision{responses: []string{"```json\n[{\"index\":\"1\",\"text\":\"B\"},{\"index\":0,\"text\":\"A\"},]\n```"}}
		got, err := NewExtractor(gen, builder(t), testConfig()).Extract(ctx, img, balloons)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if diff := cmp.Diff([]string{"A", "B"}, domain.Balloons(got).Texts()); diff != "" {
			t.Errorf("テキストが一致しません (-want +got):\n%s", diff)
		}
	})

	t.Run("レート制限は再試行されること", func(t *testing.T) {
		limited := apperr.Errorf(apperr.KindRateLimited, "429")
		gen := &fakeVision{errs: []error{limited, limited}, responses: []string{"", "", `[{"index":0,"text":"ok"},{"index":1,"text":"ok2"}]`}}
		got, err := NewExtractor(gen, builder(t), testConfig()).Extract(ctx, img, balloons)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if gen.calls != 3 {
			t.Errorf("期待値 3 回, 実際の値 %d 回", gen.calls)
		}
		if got[1].Text != "ok2" {
			t.Errorf("テキストが一致しません: %q", got[1].Text)
		}
	})

	t.Run("解析できない応答なら元のまま返すこと", func(t *testing.T) {
		gen := &fakeVision{responses: []string{"I cannot read this"}}
		got, err := NewExtractor(gen, builder(t), testConfig()).Extract(ctx, img, balloons)
		if !errors.Is(err, apperr.ErrParseFailed) {
			t.Errorf("ParseFailed を期待しましたが %v でした", err)
		}
		if diff := cmp.Diff(balloons, got); diff != "" {
			t.Errorf("吹き出しが変更されています (-want +got):\n%s", diff)
		}
	})

	t.Run("チャンクごとにリクエストすること", func(t *testing.T) {
		many := make([]domain.Balloon, 12)
		for i := range many {
			many[i] = domain.Balloon{ID: i, Box: geometry.Box{X: 5, Y: i * 15, W: 20, H: 10}}
		}
		gen := &fakeVision{responses: []string{`[{"index":0,"text":"first"}]`, `[{"index":1,"text":"last"}]`}}
		got, err := NewExtractor(gen, builder(t), testConfig()).Extract(ctx, img, many)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if gen.calls != 2 {
			t.Errorf("期待値 2 回, 実際の値 %d 回", gen.calls)
		}
		if got[0].Text != "first" || got[11].Text != "last" || got[10].Text != "" {
			t.Errorf("チャンクの対応が一致しません: %q %q %q", got[0].Text, got[10].Text, got[11].Text)
		}
	})
}

func TestLayoutAnalyzer_Analyze(t *testing.T) {
	resp := `[
		{"text": "Olá, tudo bem?", "box_2d": [100, 100, 200, 300]},
		{"text": "!", "box_2d": [0, 0, 10, 10]},
		{"text": "Legacy", "bounding_box": [500, 500, 600, 700]},
		{"text": "Broken", "box": [1, 2, 3]}
	]`
	gen := &fakeVision{responses: []string{resp}}
	a := NewLayoutAnalyzer(gen, builder(t), retry.Exponential("layout", time.Millisecond, 2))

	img := image.NewRGBA(image.Rect(0, 0, 1000, 2000))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.Black)

	got, err := a.Analyze(context.Background(), img)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期待値 2 件, 実際の値 %d 件: %+v", len(got), got)
	}
	if diff := cmp.Diff(geometry.Box{X: 100, Y: 200, W: 200, H: 200}, got[0].Box); diff != "" {
		t.Errorf("矩形が一致しません (-want +got):\n%s", diff)
	}
	if got[1].ID != 1 || got[1].Text != "Legacy" {
		t.Errorf("想定外の吹き出し: %+v", got[1])
	}
}
