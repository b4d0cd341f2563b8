package builder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/go-http-kit/httpkit"

	"github.com/shouni/go-manga-lens/internal/config"
	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/cleaner"
	"github.com/shouni/go-manga-lens/pkg/llm"
	"github.com/shouni/go-manga-lens/pkg/mask"
	"github.com/shouni/go-manga-lens/pkg/ocr"
	"github.com/shouni/go-manga-lens/pkg/panel"
	"github.com/shouni/go-manga-lens/pkg/retry"
	"github.com/shouni/go-manga-lens/pkg/translate"
	"github.com/shouni/go-manga-lens/pkg/workflow"
)

const (
	healthCheckTimeout = 3 * time.Second
	detectMaxRetries   = 2
)

// WorkflowConfig は既定のステージ設定に CLI の指定を反映した設定を返します。
func WorkflowConfig(appCtx *AppContext) workflow.Config {
	cfg := workflow.DefaultConfig()
	opts := appCtx.Options
	if opts.TargetLanguage != "" {
		cfg.TargetLanguage = opts.TargetLanguage
	}
	if opts.Context != "" {
		cfg.Context = opts.Context
	}
	if opts.Prompt != "" {
		cfg.Cleaner.Prompt = opts.Prompt
	}
	cfg.Cleaner.KeepIntermediate = opts.KeepIntermediate
	if opts.PageTimeout > 0 {
		cfg.PageTimeout = opts.PageTimeout
	}
	return cfg
}

// BuildPanelDetector はコマ検出を担当する Detector を構築します。
func BuildPanelDetector(appCtx *AppContext) *panel.Detector {
	return panel.NewDetector(WorkflowConfig(appCtx).Panel)
}

// BuildBalloonDetector は共有検出エンジンを使う吹き出し Detector を構築します。
// DETECT_ENGINE=layout の場合は検出エンジンを使わないため nil を返します。
func BuildBalloonDetector(appCtx *AppContext) *balloon.Detector {
	if appCtx.Config.DetectEngine == config.EngineLayout {
		return nil
	}
	return balloon.NewDetector(appCtx.Engine, WorkflowConfig(appCtx).Balloon, nil)
}

// BuildLayoutAnalyzer はページ全体のレイアウト解析を担当する Analyzer を構築します。
func BuildLayoutAnalyzer(ctx context.Context, appCtx *AppContext) (*ocr.LayoutAnalyzer, error) {
	client, err := appCtx.GenAI(ctx)
	if err != nil {
		return nil, err
	}
	policy := retry.Exponential("layout", retry.DefaultBaseDelay, retry.DefaultMaxAttempts)
	return ocr.NewLayoutAnalyzer(client, appCtx.Prompts, policy), nil
}

// BuildExtractor はアトラス方式の OCR を担当する Extractor を構築します。
func BuildExtractor(ctx context.Context, appCtx *AppContext) (*ocr.Extractor, error) {
	client, err := appCtx.GenAI(ctx)
	if err != nil {
		return nil, err
	}
	return ocr.NewExtractor(client, appCtx.Prompts, WorkflowConfig(appCtx).OCR), nil
}

// BuildTranslator は翻訳を担当する Translator を構築します。
// 両方のプロバイダの資格情報がある場合は、選択したものを優先し失敗時にもう一方へ切り替えます。
func BuildTranslator(ctx context.Context, appCtx *AppContext) (*translate.Translator, error) {
	cfg := appCtx.Config

	var gens []llm.TextGenerator
	var geminiGen, openaiGen llm.TextGenerator
	if cfg.GeminiAPIKey != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		geminiGen = llm.NewGeminiText(client, cfg.GeminiModel, appCtx.Limiter)
	}
	if cfg.OpenAIAPIKey != "" {
		gen, err := llm.NewOpenAIText(ctx, llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, appCtx.Limiter)
		if err != nil {
			return nil, err
		}
		openaiGen = gen
	}

	switch cfg.TranslateProvider {
	case config.ProviderOpenAI:
		gens = appendGenerators(gens, openaiGen, geminiGen)
	case config.ProviderGemini, "":
		gens = appendGenerators(gens, geminiGen, openaiGen)
	default:
		return nil, apperr.Errorf(apperr.KindValidationFailed, "unknown translate provider %q", cfg.TranslateProvider)
	}
	if len(gens) == 0 {
		return nil, apperr.Errorf(apperr.KindModelUnavailable, "翻訳エンジンの資格情報がありません (GEMINI_API_KEY または OPENAI_API_KEY)")
	}

	slog.Debug("翻訳エンジンを構築しました", "provider", cfg.TranslateProvider, "engines", len(gens))
	var gen llm.TextGenerator = llm.Fallback(gens)
	if len(gens) == 1 {
		gen = gens[0]
	}
	return translate.New(gen, appCtx.Prompts), nil
}

func appendGenerators(dst []llm.TextGenerator, gens ...llm.TextGenerator) []llm.TextGenerator {
	for _, g := range gens {
		if g != nil {
			dst = append(dst, g)
		}
	}
	return dst
}

// BuildCleaner は Imagen による文字除去を担当する PageCleaner を構築します。
func BuildCleaner(ctx context.Context, appCtx *AppContext) (*cleaner.PageCleaner, error) {
	client, err := appCtx.GenAI(ctx)
	if err != nil {
		return nil, err
	}
	return cleaner.New(appCtx.Loader, mask.NewBuilder(), cleaner.NewEditorInpainter(client), WorkflowConfig(appCtx).Cleaner), nil
}

// BuildManager は CLI の指定に応じたステージだけを持つ workflow.Manager を構築します。
func BuildManager(ctx context.Context, appCtx *AppContext) (*workflow.Manager, error) {
	opts := appCtx.Options
	args := workflow.ManagerArgs{
		Config: WorkflowConfig(appCtx),
		Loader: appCtx.Loader,
	}

	if !opts.SkipPanels {
		args.Panels = BuildPanelDetector(appCtx)
	}
	if det := BuildBalloonDetector(appCtx); det != nil {
		args.Balloons = det
	} else {
		layout, err := BuildLayoutAnalyzer(ctx, appCtx)
		if err != nil {
			return nil, fmt.Errorf("レイアウト解析の初期化に失敗しました: %w", err)
		}
		args.Layout = layout
	}
	if !opts.SkipOCR {
		ext, err := BuildExtractor(ctx, appCtx)
		if err != nil {
			return nil, fmt.Errorf("OCR の初期化に失敗しました: %w", err)
		}
		args.Extractor = ext
	}
	if !opts.SkipTranslate {
		tr, err := BuildTranslator(ctx, appCtx)
		if err != nil {
			return nil, fmt.Errorf("翻訳エンジンの初期化に失敗しました: %w", err)
		}
		args.Translator = tr
	}
	if !opts.SkipClean {
		cl, err := BuildCleaner(ctx, appCtx)
		if err != nil {
			return nil, fmt.Errorf("文字除去の初期化に失敗しました: %w", err)
		}
		args.Cleaner = cl
	}
	return workflow.New(args)
}

// newDetectEngine は DETECT_ENGINE に応じた検出エンジンを生成します。
// SharedEngine のファクトリとして、最初の検出要求時に一度だけ呼ばれます。
// HTTP エンジンは疎通を確認しますが、失敗しても警告のみで検出時のエラーに任せます。
func newDetectEngine(ctx context.Context, appCtx *AppContext) (balloon.Engine, error) {
	cfg := appCtx.Config
	switch cfg.DetectEngine {
	case config.EngineHTTP, "":
		slog.InfoContext(ctx, "HTTP 検出エンジンを使います", "url", cfg.DetectURL)
		// 検出サービスは通常 localhost で動くため SSRF 検証は外します。
		client := httpkit.New(balloon.DefaultHTTPTimeout,
			httpkit.WithSkipNetworkValidation(true),
			httpkit.WithMaxRetries(detectMaxRetries),
		)
		engine := balloon.NewHTTPEngine(cfg.DetectURL, client)
		hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		if err := engine.CheckHealth(hctx); err != nil {
			slog.WarnContext(ctx, "検出サービスの疎通確認に失敗しました", "url", cfg.DetectURL, "error", err)
		}
		return engine, nil
	case config.EngineExec:
		slog.Info("検出スクリプトを使います", "python", cfg.DetectPython, "script", cfg.DetectScript)
		return balloon.NewExecEngine(cfg.DetectPython, []string{cfg.DetectScript}, balloon.DefaultExecTimeout, cfg.TempDir), nil
	case config.EngineONNX:
		if cfg.ONNXModelPath == "" {
			return nil, apperr.Errorf(apperr.KindModelUnavailable, "ONNX_MODEL_PATH is not set")
		}
		return balloon.NewONNXEngine(balloon.ONNXConfig{
			ModelPath:   cfg.ONNXModelPath,
			RuntimeLib:  cfg.ONNXRuntimeLib,
			MinScore:    balloon.DefaultConfidence,
			Concurrency: cfg.ONNXConcurrency,
		}, appCtx.Loader)
	default:
		return nil, apperr.Errorf(apperr.KindValidationFailed, "unknown detect engine %q", cfg.DetectEngine)
	}
}
