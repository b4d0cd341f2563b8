// Package workflow は、1 ページ分の解析・文字除去・翻訳のステージを順に実行します。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/asset"
	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/langdetect"
	"github.com/shouni/go-manga-lens/pkg/mask"
	"github.com/shouni/go-manga-lens/pkg/translate"
)

// ManagerArgs は Manager の依存です。Loader 以外は nil にするとそのステージを実行しません。
type ManagerArgs struct {
	Config Config
	Loader *asset.ImageLoader

	Panels     PanelDetector
	Balloons   BalloonDetector
	Layout     LayoutAnalyzer
	Extractor  TextExtractor
	Translator Translator
	Cleaner    PageCleaner
}

// Manager はページ単位のパイプラインを実行します。
// 状態を持たないため、複数ページから並行に呼び出せます。
type Manager struct {
	cfg        Config
	loader     *asset.ImageLoader
	panels     PanelDetector
	balloons   BalloonDetector
	layout     LayoutAnalyzer
	extractor  TextExtractor
	translator Translator
	cleaner    PageCleaner
}

// New は依存を検証して Manager を初期化します。
func New(args ManagerArgs) (*Manager, error) {
	if args.Loader == nil {
		return nil, fmt.Errorf("Loader は必須です")
	}
	cfg := args.Config
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = DefaultTargetLanguage
	}
	return &Manager{
		cfg:        cfg,
		loader:     args.Loader,
		panels:     args.Panels,
		balloons:   args.Balloons,
		layout:     args.Layout,
		extractor:  args.Extractor,
		translator: args.Translator,
		cleaner:    args.Cleaner,
	}, nil
}

// Process は req.Ref のページを処理します。
// ページを読み込めない場合を除き、途中のステージが失敗しても後続のステージは実行され、
// 得られた結果はすべて返します。失敗したステージは PageResult.Errors に記録し、まとめてエラーとしても返します。
func (m *Manager) Process(ctx context.Context, req PageRequest) (domain.PageResult, error) {
	if m.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.PageTimeout)
		defer cancel()
	}

	logger := slog.With("ref", req.Ref)
	start := time.Now()
	res := domain.PageResult{Page: domain.Page{Ref: req.Ref}}
	rec := &recorder{logger: logger}

	path, err := m.loader.Resolver().Resolve(req.Ref)
	if err != nil {
		rec.fail(ctx, StageLoad, err)
		res.Errors = rec.errs
		return res, err
	}
	img, err := m.loader.LoadPath(ctx, path)
	if err != nil {
		rec.fail(ctx, StageLoad, err)
		res.Errors = rec.errs
		return res, err
	}
	bounds := img.Bounds()
	res.Page.Width, res.Page.Height = bounds.Dx(), bounds.Dy()
	logger.InfoContext(ctx, "ページ処理を開始します", "width", res.Page.Width, "height", res.Page.Height)

	// 1. コマ検出
	if m.panels != nil && !req.SkipPanels {
		panels, err := m.panels.Detect(ctx, img)
		if err != nil {
			rec.fail(ctx, StagePanels, err)
		} else {
			res.Panels = panels
		}
	}

	// 2. 吹き出し検出（検出エンジンが無ければレイアウト解析で代替）
	var balloons []domain.Balloon
	withText := false
	switch {
	case m.balloons != nil:
		balloons, err = m.balloons.Detect(ctx, balloon.Source{Path: path, Image: img}, res.Page.Width, res.Page.Height)
		if err != nil {
			rec.fail(ctx, StageBalloons, err)
		}
	case m.layout != nil:
		balloons, err = m.layout.Analyze(ctx, img)
		if err != nil {
			rec.fail(ctx, StageLayout, err)
		}
		withText = true
	}

	// 3. テキスト読み取り。失敗したチャンク以外の結果は使います。
	if m.extractor != nil && !req.SkipOCR && !withText && len(balloons) > 0 {
		read, err := m.extractor.Extract(ctx, img, balloons)
		if err != nil {
			rec.fail(ctx, StageOCR, err)
		}
		if read != nil {
			balloons = read
		}
	}

	// 4. 言語判定と翻訳
	if !req.SkipTranslate {
		m.translateBalloons(ctx, req, &res, balloons, rec)
	}

	// 5. 文字除去
	if m.cleaner != nil && !req.SkipClean {
		m.cleanPage(ctx, req.Ref, &res, balloons, rec)
	}

	res.Balloons = balloons
	res.Errors = rec.errs
	logger.InfoContext(ctx, "ページ処理が完了しました",
		"panels", len(res.Panels),
		"balloons", len(res.Balloons),
		"failed_stages", len(rec.errs),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, rec.err()
}

func (m *Manager) translateBalloons(ctx context.Context, req PageRequest, res *domain.PageResult, balloons []domain.Balloon, rec *recorder) {
	indices := domain.Balloons(balloons).WithText()
	if len(indices) == 0 {
		return
	}
	texts := make([]string, len(indices))
	for k, i := range indices {
		texts[k] = balloons[i].Text
	}

	source := req.SourceLanguage
	if source == "" {
		source = langdetect.Code(texts)
	}
	res.SourceLanguage = source

	target := req.TargetLanguage
	if target == "" {
		target = m.cfg.TargetLanguage
	}
	if m.translator == nil {
		return
	}
	if strings.EqualFold(source, target) {
		rec.logger.InfoContext(ctx, "原文と翻訳先の言語が同じため翻訳をスキップします", "language", source)
		return
	}

	hint := req.Context
	if hint == "" {
		hint = m.cfg.Context
	}
	out, err := m.translator.Translate(ctx, translate.Request{
		Texts:    texts,
		Source:   source,
		Target:   target,
		Context:  hint,
		Glossary: req.Glossary,
	})
	if err != nil || !out.Success {
		if err == nil {
			err = apperr.Errorf(apperr.KindGenerationFailed, "%s", out.Error)
		}
		res.TranslationError = out.Error
		rec.fail(ctx, StageTranslate, err)
		return
	}
	for k, i := range indices {
		balloons[i].TranslatedText = out.Translations[k]
	}
}

func (m *Manager) cleanPage(ctx context.Context, ref string, res *domain.PageResult, balloons []domain.Balloon, rec *recorder) {
	if len(balloons) == 0 {
		res.CleanedRef = ref
		return
	}
	shapes, err := mask.ShapesFromBalloons(balloons, res.Page.Width, res.Page.Height)
	if err != nil {
		rec.fail(ctx, StageClean, err)
		return
	}
	out, err := m.cleaner.Clean(ctx, ref, shapes)
	if err != nil {
		rec.fail(ctx, StageClean, err)
		return
	}
	res.CleanedRef = out.CleanedRef
	res.MaskRef = out.MaskRef
}

// recorder はステージの失敗を記録します。
type recorder struct {
	logger *slog.Logger
	errs   []domain.StageError
	causes []error
}

func (r *recorder) fail(ctx context.Context, stage string, err error) {
	kind := apperr.KindOf(err)
	r.logger.ErrorContext(ctx, "ステージが失敗しました", "stage", stage, "kind", kind, "error", err)
	r.errs = append(r.errs, domain.StageError{Stage: stage, Kind: string(kind), Message: err.Error()})
	r.causes = append(r.causes, fmt.Errorf("%s: %w", stage, err))
}

// err は記録した失敗をまとめたエラーを返します。種別は最初に失敗したステージのものです。
func (r *recorder) err() error {
	if len(r.causes) == 0 {
		return nil
	}
	stages := make([]string, len(r.errs))
	for i, e := range r.errs {
		stages[i] = e.Stage
	}
	return apperr.New(apperr.KindOf(r.causes[0]), "失敗したステージ: "+strings.Join(stages, ", "), errors.Join(r.causes...))
}
