package workflow

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/asset"
	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/cleaner"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
	"github.com/shouni/go-manga-lens/pkg/mask"
	"github.com/shouni/go-manga-lens/pkg/translate"
)

type fakePanels struct{ err error }

func (f fakePanels) Detect(ctx context.Context, img image.Image) ([]domain.Panel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Panel{{ID: 0, Box: geometry.Box{X: 0, Y: 0, W: 50, H: 50}, Label: domain.PanelLabel}}, nil
}

type fakeBalloons struct {
	got balloon.Source
}

func (f *fakeBalloons) Detect(ctx context.Context, src balloon.Source, w, h int) ([]domain.Balloon, error) {
	f.got = src
	return []domain.Balloon{
		{ID: 0, Confidence: 0.9, Box: geometry.Box{X: 10, Y: 10, W: 20, H: 10}},
		{ID: 1, Confidence: 0.8, Box: geometry.Box{X: 40, Y: 40, W: 20, H: 10}},
	}, nil
}

type fakeLayout struct{}

func (fakeLayout) Analyze(ctx context.Context, img image.Image) ([]domain.Balloon, error) {
	return []domain.Balloon{{ID: 0, Confidence: 1, Box: geometry.Box{X: 5, Y: 5, W: 10, H: 10}, Text: "こんにちは"}}, nil
}

type fakeExtractor struct {
	texts []string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, img image.Image, balloons []domain.Balloon) ([]domain.Balloon, error) {
	f.calls++
	out := domain.Balloons(balloons).Clone()
	for i := range out {
		if i < len(f.texts) {
			out[i].Text = f.texts[i]
		}
	}
	return out, f.err
}

type fakeTranslator struct {
	req    translate.Request
	result translate.Result
	err    error
	calls  int
}

func (f *fakeTranslator) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	f.calls++
	f.req = req
	if f.result.Translations == nil && f.err == nil {
		out := make([]string, len(req.Texts))
		for i, t := range req.Texts {
			out[i] = "[" + t + "]"
		}
		return translate.Result{Translations: out, Success: true}, nil
	}
	return f.result, f.err
}

type fakeCleaner struct {
	shapes []mask.Shape
	err    error
}

func (f *fakeCleaner) Clean(ctx context.Context, ref string, shapes []mask.Shape) (cleaner.Result, error) {
	f.shapes = shapes
	if f.err != nil {
		return cleaner.Result{}, f.err
	}
	return cleaner.Result{CleanedRef: "clean_" + ref, MaskRef: "mask_x.png"}, nil
}

func newLoader(t *testing.T) *asset.ImageLoader {
	t.Helper()
	lib, tmp := t.TempDir(), t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.White)
		}
	}
	if err := asset.SaveImage(filepath.Join(lib, "page.png"), img); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	return asset.NewImageLoader(asset.NewResolver(lib, tmp), nil)
}

func TestManager_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("全ステージを順に実行すること", func(t *testing.T) {
		det := &fakeBalloons{}
		ext := &fakeExtractor{texts: []string{"Hello there", ""}}
		tr := &fakeTranslator{}
		cl := &fakeCleaner{}
		m, err := New(ManagerArgs{
			Config:     DefaultConfig(),
			Loader:     newLoader(t),
			Panels:     fakePanels{},
			Balloons:   det,
			Extractor:  ext,
			Translator: tr,
			Cleaner:    cl,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		res, err := m.Process(ctx, PageRequest{Ref: "page.png", TargetLanguage: "pt-br"})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Page.Width != 100 || res.Page.Height != 80 {
			t.Errorf("ページ寸法: %+v", res.Page)
		}
		if det.got.Path == "" || det.got.Image == nil {
			t.Errorf("検出エンジンにパスと画像が渡っていません: %+v", det.got)
		}
		if len(res.Panels) != 1 {
			t.Errorf("コマ数: %d", len(res.Panels))
		}
		if res.SourceLanguage != "en" {
			t.Errorf("判定言語: %q", res.SourceLanguage)
		}
		// テキストが空の吹き出しは翻訳に回さないこと
		if diff := cmp.Diff([]string{"Hello there"}, tr.req.Texts); diff != "" {
			t.Errorf("翻訳入力が一致しません (-want +got):\n%s", diff)
		}
		if tr.req.Target != "pt-br" || tr.req.Context == "" {
			t.Errorf("翻訳要求: %+v", tr.req)
		}
		if res.Balloons[0].TranslatedText != "[Hello there]" || res.Balloons[1].TranslatedText != "" {
			t.Errorf("訳の対応が一致しません: %+v", res.Balloons)
		}
		if len(cl.shapes) != 2 || res.CleanedRef != "clean_page.png" || res.MaskRef != "mask_x.png" {
			t.Errorf("文字除去の結果: %+v / shapes=%d", res, len(cl.shapes))
		}
		if len(res.Errors) != 0 {
			t.Errorf("想定外のステージエラー: %+v", res.Errors)
		}
	})

	t.Run("失敗したステージ以外の結果を保持すること", func(t *testing.T) {
		ext := &fakeExtractor{texts: []string{"Olá, você está bem?"}, err: apperr.Errorf(apperr.KindParseFailed, "bad chunk")}
		tr := &fakeTranslator{}
		m, _ := New(ManagerArgs{
			Config:     DefaultConfig(),
			Loader:     newLoader(t),
			Panels:     fakePanels{err: apperr.Errorf(apperr.KindValidationFailed, "broken")},
			Balloons:   &fakeBalloons{},
			Extractor:  ext,
			Translator: tr,
			Cleaner:    &fakeCleaner{err: apperr.Errorf(apperr.KindGenerationFailed, "no images")},
		})

		res, err := m.Process(ctx, PageRequest{Ref: "page.png"})
		if !errors.Is(err, apperr.ErrValidationFailed) {
			t.Errorf("最初の失敗の種別を期待しましたが %v でした", err)
		}
		want := []string{StagePanels, StageOCR, StageClean}
		got := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			got[i] = e.Stage
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("失敗したステージが一致しません (-want +got):\n%s", diff)
		}
		if res.Errors[2].Kind != string(apperr.KindGenerationFailed) {
			t.Errorf("種別: %+v", res.Errors[2])
		}
		// OCR の一部失敗でも読めたテキストは翻訳されること
		if tr.calls != 1 || res.SourceLanguage != "pt-br" || res.Balloons[0].TranslatedText == "" {
			t.Errorf("翻訳されていません: %+v", res)
		}
		if len(res.Balloons) != 2 {
			t.Errorf("吹き出しが失われています: %d", len(res.Balloons))
		}
	})

	t.Run("翻訳の失敗は理由を記録すること", func(t *testing.T) {
		tr := &fakeTranslator{
			result: translate.Result{Translations: []string{}, Error: "Rate limit exceeded"},
			err:    apperr.Errorf(apperr.KindRateLimited, "Rate limit exceeded"),
		}
		m, _ := New(ManagerArgs{
			Config:     DefaultConfig(),
			Loader:     newLoader(t),
			Balloons:   &fakeBalloons{},
			Extractor:  &fakeExtractor{texts: []string{"Hello", "World"}},
			Translator: tr,
		})
		res, err := m.Process(ctx, PageRequest{Ref: "page.png", TargetLanguage: "ja"})
		if !errors.Is(err, apperr.ErrRateLimited) {
			t.Errorf("RateLimited を期待しましたが %v でした", err)
		}
		if res.TranslationError != "Rate limit exceeded" {
			t.Errorf("理由: %q", res.TranslationError)
		}
		for _, b := range res.Balloons {
			if b.TranslatedText != "" {
				t.Errorf("部分的な訳が入っています: %+v", b)
			}
		}
	})

	t.Run("同じ言語なら翻訳しないこと", func(t *testing.T) {
		tr := &fakeTranslator{}
		m, _ := New(ManagerArgs{
			Config:     DefaultConfig(),
			Loader:     newLoader(t),
			Layout:     fakeLayout{},
			Extractor:  &fakeExtractor{},
			Translator: tr,
		})
		res, err := m.Process(ctx, PageRequest{Ref: "page.png", TargetLanguage: "ja"})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if tr.calls != 0 || res.SourceLanguage != "ja" {
			t.Errorf("翻訳が呼ばれています: calls=%d lang=%q", tr.calls, res.SourceLanguage)
		}
		if res.Balloons[0].Text != "こんにちは" {
			t.Errorf("レイアウト解析のテキストが失われています: %+v", res.Balloons)
		}
	})

	t.Run("読み込めないページは NotFound で止まること", func(t *testing.T) {
		m, _ := New(ManagerArgs{Config: DefaultConfig(), Loader: newLoader(t), Panels: fakePanels{}})
		res, err := m.Process(ctx, PageRequest{Ref: "missing.png"})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("NotFound を期待しましたが %v でした", err)
		}
		if len(res.Errors) != 1 || res.Errors[0].Stage != StageLoad {
			t.Errorf("記録: %+v", res.Errors)
		}
	})

	t.Run("Loader が無ければ初期化に失敗すること", func(t *testing.T) {
		if _, err := New(ManagerArgs{}); err == nil {
			t.Error("エラーを期待しました")
		}
	})
}
