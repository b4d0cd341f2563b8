package workflow

import (
	"github.com/shouni/go-manga-lens/pkg/domain"
)

// ステージ名です。StageError.Stage に入ります。
const (
	StageLoad      = "load"
	StagePanels    = "panels"
	StageBalloons  = "balloons"
	StageLayout    = "layout"
	StageOCR       = "ocr"
	StageLanguage  = "langdetect"
	StageTranslate = "translate"
	StageClean     = "clean"
)

// PageRequest は 1 ページ分の処理要求です。
type PageRequest struct {
	Ref string
	// SourceLanguage が空の場合は読み取ったテキストから判定します。
	SourceLanguage string
	// TargetLanguage が空の場合は Config.TargetLanguage を使います。
	TargetLanguage string
	Context        string
	Glossary       []domain.GlossaryTerm

	SkipPanels    bool
	SkipOCR       bool
	SkipTranslate bool
	SkipClean     bool
}
