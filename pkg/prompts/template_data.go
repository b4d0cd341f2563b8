package prompts

import (
	_ "embed"

	"github.com/shouni/go-manga-lens/pkg/domain"
)

const (
	ModeOCR       = "ocr"
	ModeLayout    = "layout"
	ModeTranslate = "translate"

	// DefaultContext は翻訳時に文脈の指定が無い場合のヒントです。
	DefaultContext = "Comic book speech bubbles"
)

// TemplateData はプロンプトテンプレートに渡すデータ構造です。
type TemplateData struct {
	// Count はアトラスに並べたクロップ数です（ocr）。
	Count int
	// Texts は番号付きで翻訳する原文です（translate）。
	Texts      []string
	SourceName string
	TargetName string
	Context    string
	Glossary   []domain.GlossaryTerm
}

var (
	//go:embed ocr.md
	OCRPrompt string
	//go:embed layout.md
	LayoutPrompt string
	//go:embed translate.md
	TranslatePrompt string
)

// allTemplates はモードとテンプレート文字列を紐づけるマップです。
var allTemplates = map[string]string{
	ModeOCR:       OCRPrompt,
	ModeLayout:    LayoutPrompt,
	ModeTranslate: TranslatePrompt,
}
