package config

import (
	"strconv"
	"time"

	"github.com/shouni/go-utils/envutil"

	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/jobs"
	"github.com/shouni/go-manga-lens/pkg/llm"
)

// デフォルト値の定義です。
const (
	DefaultTranslateProvider = ProviderGemini
	DefaultDetectEngine      = EngineHTTP
	DefaultDetectURL         = "http://127.0.0.1:8001/detect"
	DefaultDetectScript      = "scripts/run_yolo.py"
	DefaultDetectPython      = "python3"
	DefaultLibraryDir        = "library"
	DefaultTempDir           = "temp"
	DefaultTargetLanguage    = "en"
	DefaultOutputFile        = "-"
	DefaultPollInterval      = 500 * time.Millisecond
)

// 翻訳に使うテキスト生成エンジンです。
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// 吹き出し検出エンジンの種類です。
const (
	EngineHTTP   = "http"
	EngineExec   = "exec"
	EngineONNX   = "onnx"
	EngineLayout = "layout"
)

// Config はアプリケーション全体の環境設定（API キー、モデル、ストレージ）を保持する構造体です。
type Config struct {
	ProjectID    string
	LocationID   string
	GeminiAPIKey string
	GeminiModel  string
	ImagenModel  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	TranslateProvider string

	DetectEngine    string
	DetectURL       string
	DetectScript    string
	DetectPython    string
	ONNXModelPath   string
	ONNXRuntimeLib  string
	ONNXConcurrency int64

	LibraryDir string
	TempDir    string

	RateInterval   time.Duration
	JobConcurrency int

	Options GenerateOptions
}

// LoadConfig は環境変数から設定を読み込み、構造体を返します。
func LoadConfig() *Config {
	cfg := &Config{
		ProjectID:    envutil.GetEnv("PROJECT_ID", ""),
		LocationID:   envutil.GetEnv("REGION", ""),
		GeminiAPIKey: envutil.GetEnv("GEMINI_API_KEY", ""),
		GeminiModel:  envutil.GetEnv("GEMINI_MODEL", llm.DefaultVisionModel),
		ImagenModel:  envutil.GetEnv("IMAGEN_MODEL", llm.DefaultEditModel),

		OpenAIAPIKey:  envutil.GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: envutil.GetEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   envutil.GetEnv("OPENAI_MODEL", llm.DefaultOpenAIModel),

		TranslateProvider: envutil.GetEnv("TRANSLATE_PROVIDER", DefaultTranslateProvider),

		DetectEngine:    envutil.GetEnv("DETECT_ENGINE", DefaultDetectEngine),
		DetectURL:       envutil.GetEnv("DETECT_URL", DefaultDetectURL),
		DetectScript:    envutil.GetEnv("DETECT_SCRIPT", DefaultDetectScript),
		DetectPython:    envutil.GetEnv("DETECT_PYTHON", DefaultDetectPython),
		ONNXModelPath:   envutil.GetEnv("ONNX_MODEL_PATH", ""),
		ONNXRuntimeLib:  envutil.GetEnv("ONNX_RUNTIME_LIB", ""),
		ONNXConcurrency: int64(envInt("ONNX_CONCURRENCY", balloon.DefaultONNXConcurrency)),

		LibraryDir: envutil.GetEnv("LIBRARY_DIR", DefaultLibraryDir),
		TempDir:    envutil.GetEnv("TEMP_DIR", DefaultTempDir),

		RateInterval:   envDuration("RATE_INTERVAL", llm.DefaultRateInterval),
		JobConcurrency: envInt("JOB_CONCURRENCY", jobs.DefaultConcurrency),
	}
	return cfg
}

// GenerateOptions は CLI フラグから渡される実行時のパラメータです。
type GenerateOptions struct {
	// 入出力
	OutputFile string // --output, -o ("-" で標準出力)
	InputFile  string // --input, -i (翻訳対象テキストの JSON 配列)

	// 翻訳
	SourceLanguage string // --source
	TargetLanguage string // --target
	Context        string // --context
	GlossaryFile   string // --glossary

	// 文字除去
	Prompt           string // --prompt
	KeepIntermediate bool   // --keep-intermediate
	DiscardMask      bool   // --discard-mask
	ShapesFile       string // --shapes
	ShapesPixel      bool   // --pixel

	// ステージ制御（process）
	SkipPanels    bool
	SkipOCR       bool
	SkipTranslate bool
	SkipClean     bool

	// 実行制御
	PageTimeout time.Duration // --page-timeout
}

func envInt(key string, def int) int {
	v := envutil.GetEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := envutil.GetEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
