package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/shouni/go-manga-lens/internal/builder"
	"github.com/shouni/go-manga-lens/internal/config"
	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/asset"
	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/geometry"
	"github.com/shouni/go-manga-lens/pkg/jobs"
	"github.com/shouni/go-manga-lens/pkg/langdetect"
	"github.com/shouni/go-manga-lens/pkg/mask"
	"github.com/shouni/go-manga-lens/pkg/translate"
	"github.com/shouni/go-manga-lens/pkg/workflow"
)

// ExecutePanels はページのコマを検出し、読み順に並べた結果を出力します。
func ExecutePanels(ctx context.Context, cfg *config.Config, ref string) error {
	appCtx, err := setupAppContext(cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	page, img, _, err := loadPage(ctx, appCtx, ref)
	if err != nil {
		return err
	}
	panels, err := builder.BuildPanelDetector(appCtx).Detect(ctx, img)
	if err != nil {
		return fmt.Errorf("コマ検出に失敗しました: %w", err)
	}

	slog.Info("コマ検出が完了しました", "ref", ref, "panels", len(panels))
	return writeJSON(cfg.Options.OutputFile, domain.PageResult{Page: page, Panels: panels})
}

// ExecuteBalloons はページの吹き出しを検出して出力します。
func ExecuteBalloons(ctx context.Context, cfg *config.Config, ref string) error {
	appCtx, err := setupAppContext(cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	page, img, path, err := loadPage(ctx, appCtx, ref)
	if err != nil {
		return err
	}
	balloons, err := detectBalloons(ctx, appCtx, path, img, page)
	if err != nil {
		return err
	}

	slog.Info("吹き出し検出が完了しました", "ref", ref, "balloons", len(balloons))
	return writeJSON(cfg.Options.OutputFile, domain.PageResult{Page: page, Balloons: balloons})
}

// ExecuteOCR は吹き出しを検出し、各吹き出しのテキストを読み取って出力します。
// 一部のチャンクだけが失敗した場合も、読み取れた結果は出力してからエラーを返します。
func ExecuteOCR(ctx context.Context, cfg *config.Config, ref string) error {
	appCtx, err := setupAppContext(cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	page, img, path, err := loadPage(ctx, appCtx, ref)
	if err != nil {
		return err
	}
	balloons, err := detectBalloons(ctx, appCtx, path, img, page)
	if err != nil {
		return err
	}

	// レイアウト解析の結果はすでにテキストを持っています。
	if cfg.DetectEngine != config.EngineLayout {
		ext, err := builder.BuildExtractor(ctx, appCtx)
		if err != nil {
			return fmt.Errorf("OCR の初期化に失敗しました: %w", err)
		}
		read, ocrErr := ext.Extract(ctx, img, balloons)
		if read != nil {
			balloons = read
		}
		if ocrErr != nil {
			res := domain.PageResult{Page: page, Balloons: balloons}
			res.Errors = append(res.Errors, domain.StageError{
				Stage:   workflow.StageOCR,
				Kind:    string(apperr.KindOf(ocrErr)),
				Message: ocrErr.Error(),
			})
			if err := writeJSON(cfg.Options.OutputFile, res); err != nil {
				return err
			}
			return fmt.Errorf("OCR の一部が失敗しました: %w", ocrErr)
		}
	}

	slog.Info("OCR が完了しました", "ref", ref, "balloons", len(balloons))
	return writeJSON(cfg.Options.OutputFile, domain.PageResult{
		Page:           page,
		Balloons:       balloons,
		SourceLanguage: langdetect.Code(domain.Balloons(balloons).Texts()),
	})
}

// ExecuteClean はページから吹き出しの文字を消したクリーン画像を生成します。
// --shapes が指定された場合はそのジオメトリを使い、無ければ吹き出しを検出してマスクを作ります。
func ExecuteClean(ctx context.Context, cfg *config.Config, ref string) error {
	appCtx, err := setupAppContext(cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	page, img, path, err := loadPage(ctx, appCtx, ref)
	if err != nil {
		return err
	}

	var shapes []mask.Shape
	if cfg.Options.ShapesFile != "" {
		shapes, err = loadShapes(cfg.Options.ShapesFile, page, cfg.Options.ShapesPixel)
	} else {
		var balloons []domain.Balloon
		balloons, err = detectBalloons(ctx, appCtx, path, img, page)
		if err == nil {
			shapes, err = mask.ShapesFromBalloons(balloons, page.Width, page.Height)
		}
	}
	if err != nil {
		return err
	}

	cl, err := builder.BuildCleaner(ctx, appCtx)
	if err != nil {
		return fmt.Errorf("文字除去の初期化に失敗しました: %w", err)
	}
	res, err := cl.Clean(ctx, ref, shapes)
	if err != nil {
		return fmt.Errorf("文字除去に失敗しました: %w", err)
	}
	if cfg.Options.DiscardMask {
		if err := cl.RemoveArtifacts(res); err != nil {
			slog.WarnContext(ctx, "マスクを削除できませんでした", "error", err)
		} else {
			res.MaskRef = ""
		}
	}

	slog.Info("文字除去が完了しました", "ref", ref, "clean", res.CleanedRef, "no_op", res.NoOp)
	return writeJSON(cfg.Options.OutputFile, res)
}

// ExecuteTranslate は引数または --input の JSON 配列で渡されたテキストを翻訳します。
// 失敗した場合も、失敗を表す結果を出力してからエラーを返します。
func ExecuteTranslate(ctx context.Context, cfg *config.Config, texts []string) error {
	appCtx, err := setupAppContext(cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts := cfg.Options
	if opts.InputFile != "" {
		texts, err = readTexts(opts.InputFile)
		if err != nil {
			return err
		}
	}
	glossary, err := loadGlossary(opts.GlossaryFile)
	if err != nil {
		return err
	}

	wcfg := builder.WorkflowConfig(appCtx)
	req := translate.Request{
		Texts:    texts,
		Source:   opts.SourceLanguage,
		Target:   wcfg.TargetLanguage,
		Context:  wcfg.Context,
		Glossary: glossary,
	}
	if req.Source == "" {
		req.Source = langdetect.Code(texts)
	}

	tr, err := builder.BuildTranslator(ctx, appCtx)
	if err != nil {
		return fmt.Errorf("翻訳エンジンの初期化に失敗しました: %w", err)
	}
	res, trErr := tr.Translate(ctx, req)
	if err := writeJSON(opts.OutputFile, res); err != nil {
		return err
	}
	if trErr != nil {
		return fmt.Errorf("翻訳に失敗しました: %w", trErr)
	}
	slog.Info("翻訳が完了しました", "source", req.Source, "target", req.Target, "texts", len(texts))
	return nil
}

// LanguageReport は detect-lang コマンドの出力です。
type LanguageReport struct {
	Language string `json:"language"`
	Name     string `json:"name"`
	Samples  int    `json:"samples"`
}

// ExecuteDetectLang はテキストの言語を判定して出力します。外部サービスは使いません。
func ExecuteDetectLang(ctx context.Context, cfg *config.Config, texts []string) error {
	if cfg.Options.InputFile != "" {
		var err error
		texts, err = readTexts(cfg.Options.InputFile)
		if err != nil {
			return err
		}
	}
	return writeJSON(cfg.Options.OutputFile, detectLanguage(texts))
}

func detectLanguage(texts []string) LanguageReport {
	code := langdetect.Code(texts)
	return LanguageReport{
		Language: code,
		Name:     translate.DisplayName(code),
		Samples:  len(texts),
	}
}

// ExecuteProcess は複数のページを全ステージに通します。
// 各ページはジョブとして同時実行数の上限内で処理され、結果は指定した順に出力されます。
func ExecuteProcess(ctx context.Context, cfg *config.Config, refs []string) error {
	appCtx, err := setupAppContext(cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts := cfg.Options
	glossary, err := loadGlossary(opts.GlossaryFile)
	if err != nil {
		return err
	}
	wf, err := builder.BuildManager(ctx, appCtx)
	if err != nil {
		return err
	}

	jobCfg := jobs.DefaultConfig()
	if cfg.JobConcurrency > 0 {
		jobCfg.Concurrency = cfg.JobConcurrency
	}
	manager := jobs.NewManager[domain.PageResult](jobCfg)

	slog.Info("ページ処理を開始します", "pages", len(refs), "concurrency", jobCfg.Concurrency)
	results, err := runJobs(ctx, manager, refs, func(ctx context.Context, ref string) (domain.PageResult, error) {
		return wf.Process(ctx, workflow.PageRequest{
			Ref:            ref,
			SourceLanguage: opts.SourceLanguage,
			TargetLanguage: opts.TargetLanguage,
			Context:        opts.Context,
			Glossary:       glossary,
			SkipPanels:     opts.SkipPanels,
			SkipOCR:        opts.SkipOCR,
			SkipTranslate:  opts.SkipTranslate,
			SkipClean:      opts.SkipClean,
		})
	})
	if err != nil {
		return err
	}
	failed := 0
	for _, job := range results {
		if job.State == jobs.StateFailed {
			failed++
		}
	}
	if err := writeJSON(opts.OutputFile, results); err != nil {
		return err
	}

	slog.Info("ページ処理が完了しました", "pages", len(refs), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d/%d ページの処理に失敗しました", failed, len(refs))
	}
	return nil
}

// runJobs は refs をそれぞれジョブとして投入し、全ジョブの終了後に投入順で記録を回収します。
func runJobs[T any](ctx context.Context, manager *jobs.Manager[T], refs []string, process func(context.Context, string) (T, error)) ([]jobs.Job[T], error) {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = manager.Submit(ctx, ref, func(ctx context.Context) (T, error) {
			return process(ctx, ref)
		})
	}
	manager.Wait()

	results := make([]jobs.Job[T], len(ids))
	for i, id := range ids {
		job, err := manager.Get(id)
		if err != nil {
			return nil, fmt.Errorf("ジョブ %s (%s) の記録を取得できません: %w", id, refs[i], err)
		}
		results[i] = job
	}
	return results, nil
}

// setupAppContext は設定から AppContext を初期化します。呼び出し側で Close してください。
func setupAppContext(cfg *config.Config) (*builder.AppContext, error) {
	appCtx, err := builder.NewAppContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("アプリケーションの初期化に失敗しました: %w", err)
	}
	return appCtx, nil
}

func loadPage(ctx context.Context, appCtx *builder.AppContext, ref string) (domain.Page, image.Image, string, error) {
	path, err := appCtx.Loader.Resolver().Resolve(ref)
	if err != nil {
		return domain.Page{}, nil, "", err
	}
	img, err := appCtx.Loader.LoadPath(ctx, path)
	if err != nil {
		return domain.Page{}, nil, "", err
	}
	b := img.Bounds()
	return domain.Page{Ref: ref, Width: b.Dx(), Height: b.Dy()}, img, path, nil
}

// detectBalloons は設定された検出エンジン、または DETECT_ENGINE=layout ならレイアウト解析で吹き出しを得ます。
func detectBalloons(ctx context.Context, appCtx *builder.AppContext, path string, img image.Image, page domain.Page) ([]domain.Balloon, error) {
	if det := builder.BuildBalloonDetector(appCtx); det != nil {
		balloons, err := det.Detect(ctx, balloon.Source{Path: path, Image: img}, page.Width, page.Height)
		if err != nil {
			return nil, fmt.Errorf("吹き出し検出に失敗しました: %w", err)
		}
		return balloons, nil
	}
	layout, err := builder.BuildLayoutAnalyzer(ctx, appCtx)
	if err != nil {
		return nil, fmt.Errorf("レイアウト解析の初期化に失敗しました: %w", err)
	}
	balloons, err := layout.Analyze(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("レイアウト解析に失敗しました: %w", err)
	}
	return balloons, nil
}

// loadShapes はクライアントが保存したジオメトリ（box_2d / box / polygon などの混在）を読み込みます。
// 解釈できない要素は読み飛ばし、件数をログに残します。
func loadShapes(path string, page domain.Page, pixel bool) ([]mask.Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ジオメトリファイルの読み込みに失敗しました: %w", err)
	}
	var items []geometry.LegacyShape
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperr.New(apperr.KindValidationFailed, "ジオメトリファイルの JSON パースに失敗しました", err)
	}
	conv := geometry.ConventionNormalized
	if pixel {
		conv = geometry.ConventionPixel
	}
	shapes, skipped, err := mask.ShapesFromLegacy(items, page.Width, page.Height, conv)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		slog.Warn("解釈できないジオメトリを読み飛ばしました", "file", path, "skipped", skipped)
	}
	return shapes, nil
}

func loadGlossary(path string) ([]domain.GlossaryTerm, error) {
	if path == "" {
		return nil, nil
	}
	return domain.LoadGlossary(path)
}

// readTexts は JSON の文字列配列を読み込みます。"-" は標準入力です。
func readTexts(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("入力ファイルの読み込みに失敗しました: %w", err)
		}
		defer f.Close()
		r = f
	}
	var texts []string
	if err := json.NewDecoder(r).Decode(&texts); err != nil {
		return nil, apperr.New(apperr.KindValidationFailed, "入力は JSON の文字列配列である必要があります", err)
	}
	return texts, nil
}

// writeJSON は v を整形済み JSON として書き出します。path が "-" または空なら標準出力です。
func writeJSON(path string, v any) error {
	encode := func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("JSON の書き出しに失敗しました: %w", err)
		}
		return nil
	}
	if path == "" || path == config.DefaultOutputFile {
		return encode(os.Stdout)
	}
	if err := asset.WriteAtomic(path, encode); err != nil {
		return err
	}
	slog.Info("結果を保存しました", "path", path)
	return nil
}
