package workflow

import (
	"time"

	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/cleaner"
	"github.com/shouni/go-manga-lens/pkg/ocr"
	"github.com/shouni/go-manga-lens/pkg/panel"
	"github.com/shouni/go-manga-lens/pkg/prompts"
)

// デフォルト値の定義です。
const (
	DefaultTargetLanguage = "en"
	DefaultPageTimeout    = 10 * time.Minute
)

// Config はページ処理の各ステージを動作させるための基本設定です。
type Config struct {
	// --- Stage Settings ---
	Panel   panel.Config
	Balloon balloon.Config
	OCR     ocr.Config
	Cleaner cleaner.Config

	// --- Translation Settings ---
	TargetLanguage string
	Context        string

	// --- Timeout ---
	// PageTimeout は 1 ページ分の処理全体にかける上限です。0 以下なら上限を設けません。
	PageTimeout time.Duration
}

// DefaultConfig は推奨されるデフォルト設定を返します。
func DefaultConfig() Config {
	return Config{
		Panel:          panel.DefaultConfig(),
		Balloon:        balloon.DefaultConfig(),
		OCR:            ocr.DefaultConfig(),
		Cleaner:        cleaner.DefaultConfig(),
		TargetLanguage: DefaultTargetLanguage,
		Context:        prompts.DefaultContext,
		PageTimeout:    DefaultPageTimeout,
	}
}
