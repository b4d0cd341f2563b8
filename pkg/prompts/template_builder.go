package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

// PromptBuilder は、吹き出しの読み取り・レイアウト解析・翻訳に渡す指示文を組み立てます。
type PromptBuilder interface {
	Build(mode string, data TemplateData) (string, error)
}

// TextPromptBuilder は埋め込みの Markdown テンプレートを mode ごとに解析済みで持ちます。
type TextPromptBuilder struct {
	templates map[string]*template.Template
}

// NewTextPromptBuilder は埋め込みテンプレートをすべて解析します。
// 未定義のフィールドを参照するテンプレートは実行時にエラーになります。
func NewTextPromptBuilder() (*TextPromptBuilder, error) {
	parsed := make(map[string]*template.Template, len(allTemplates))
	for mode, content := range allTemplates {
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("%s 用の指示文テンプレートが埋め込まれていません", mode)
		}
		tmpl, err := template.New(mode).Option("missingkey=error").Parse(content)
		if err != nil {
			return nil, fmt.Errorf("%s 用の指示文テンプレートを解析できません: %w", mode, err)
		}
		parsed[mode] = tmpl
	}
	return &TextPromptBuilder{templates: parsed}, nil
}

// Build は mode のテンプレートに data を流し込みます。
// 文脈が空なら DefaultContext を使い、末尾の空白は改行 1 つにそろえます。
func (b *TextPromptBuilder) Build(mode string, data TemplateData) (string, error) {
	tmpl, ok := b.templates[mode]
	if !ok {
		return "", apperr.Errorf(apperr.KindValidationFailed, "unknown prompt mode %q", mode)
	}
	if err := validate(mode, data); err != nil {
		return "", err
	}
	if data.Context == "" {
		data.Context = DefaultContext
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", mode, err)
	}
	return strings.TrimSpace(sb.String()) + "\n", nil
}

// validate は mode ごとに欠かせない入力がそろっているかを確かめます。
func validate(mode string, data TemplateData) error {
	switch mode {
	case ModeOCR:
		if data.Count <= 0 {
			return apperr.Errorf(apperr.KindValidationFailed, "ocr prompt needs at least one crop, got %d", data.Count)
		}
	case ModeTranslate:
		if len(data.Texts) == 0 {
			return apperr.Errorf(apperr.KindValidationFailed, "translate prompt has no source texts")
		}
		if data.TargetName == "" {
			return apperr.Errorf(apperr.KindValidationFailed, "translate prompt has no target language")
		}
	}
	return nil
}
