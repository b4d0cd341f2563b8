// Package translate は、吹き出しテキストの一括翻訳を行います。
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/llm"
	"github.com/shouni/go-manga-lens/pkg/llmjson"
	"github.com/shouni/go-manga-lens/pkg/prompts"
	"github.com/shouni/go-manga-lens/pkg/retry"
)

// DefaultSchedule はレート制限時の待ち時間列です。
var DefaultSchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Request は翻訳の入力です。
type Request struct {
	Texts    []string
	Source   string
	Target   string
	Context  string
	Glossary []domain.GlossaryTerm
}

// Result は翻訳の結果です。Success が false の場合 Translations は常に空で、Error に理由が入ります。
type Result struct {
	Translations []string `json:"translations"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
}

// Translator はテキスト生成エンジンで一括翻訳を行います。
type Translator struct {
	gen     llm.TextGenerator
	prompts prompts.PromptBuilder
	policy  retry.Policy
}

// New は Translator を生成します。
func New(gen llm.TextGenerator, pb prompts.PromptBuilder) *Translator {
	return &Translator{gen: gen, prompts: pb, policy: retry.Fixed("translate", DefaultSchedule...)}
}

// WithPolicy は再試行の方針を差し替えた Translator を返します。
func (t *Translator) WithPolicy(p retry.Policy) *Translator {
	c := *t
	c.policy = p
	return &c
}

// Translate は req.Texts を順序を保って翻訳します。
// 成功時の Translations は必ず入力と同じ長さです。足りない分は原文で埋め、余分は切り捨てます。
// 失敗時は理由付きの Result と、種別付きのエラーを返します。
func (t *Translator) Translate(ctx context.Context, req Request) (Result, error) {
	if len(req.Texts) == 0 {
		slog.WarnContext(ctx, "翻訳対象のテキストがありません")
		return Result{Translations: []string{}, Success: true}, nil
	}

	prompt, err := t.prompts.Build(prompts.ModeTranslate, prompts.TemplateData{
		Texts:      req.Texts,
		SourceName: DisplayName(req.Source),
		TargetName: DisplayName(req.Target),
		Context:    req.Context,
		Glossary:   req.Glossary,
	})
	if err != nil {
		return failure(err), err
	}

	slog.InfoContext(ctx, "翻訳します", "count", len(req.Texts), "source", req.Source, "target", req.Target, "glossary", len(req.Glossary))
	raw, err := retry.DoValue(ctx, t.policy, func(ctx context.Context) (string, error) {
		return t.gen.GenerateText(ctx, prompt)
	})
	if err != nil {
		if apperr.IsRateLimited(err) {
			err = apperr.New(apperr.KindRateLimited, "Rate limit exceeded. Please wait a moment and try again.", err)
		}
		slog.ErrorContext(ctx, "翻訳に失敗しました", "kind", apperr.KindOf(err), "error", err)
		return failure(err), err
	}

	translations, err := parseTranslations(raw)
	if err != nil {
		slog.ErrorContext(ctx, "翻訳結果の解析に失敗しました", "error", err)
		return failure(err), err
	}
	if len(translations) != len(req.Texts) {
		slog.WarnContext(ctx, "翻訳結果の件数が一致しません", "got", len(translations), "expected", len(req.Texts))
	}
	return Result{Translations: Align(translations, req.Texts), Success: true}, nil
}

// Align は translations を originals と同じ長さに揃えます。
// 足りない位置は原文で埋め、余分は切り捨てます。
func Align(translations, originals []string) []string {
	out := make([]string, len(originals))
	for i := range originals {
		if i < len(translations) {
			out[i] = translations[i]
		} else {
			out[i] = originals[i]
		}
	}
	return out
}

// DisplayName は言語コードを英語の表示名に変換します（例: "pt-br" → "Brazilian Portuguese"）。
// 解釈できないコードはそのまま返します。
func DisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return code
	}
	return name
}

func parseTranslations(raw string) ([]string, error) {
	var items []any
	if err := llmjson.DecodeArray(raw, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case nil:
			out = append(out, "")
		default:
			out = append(out, strings.TrimSpace(fmt.Sprint(v)))
		}
	}
	return out, nil
}

func failure(err error) Result {
	return Result{Translations: []string{}, Success: false, Error: err.Error()}
}
