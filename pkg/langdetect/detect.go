// Package langdetect は、抽出済みテキストの主要な言語を外部呼び出し無しで推定します。
package langdetect

import (
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// 判定に使う文字種の割合のしきい値です。
const (
	KanaThreshold   = 0.10
	HangulThreshold = 0.10
	HanThreshold    = 0.20
	ArabicThreshold = 0.10
	LatinThreshold  = 0.30
)

// lexicon はラテン文字の言語を見分ける手掛かりです。
// words は単語単位、fragments は部分文字列で照合します。
type lexicon struct {
	tag       language.Tag
	words     []string
	fragments []string
}

// lexicons は照合順に並んでいます。最初に一致したものを採用します。
var lexicons = []lexicon{
	{tag: language.BrazilianPortuguese, words: []string{"você", "não", "está", "são"}, fragments: []string{"ção", "ões"}},
	{tag: language.Spanish, words: []string{"está", "usted"}, fragments: []string{"ñ", "¿", "¡"}},
	{tag: language.French, words: []string{"vous", "c'est", "est-ce"}, fragments: []string{"qu'"}},
	{tag: language.German, words: []string{"ist", "nicht", "für", "über"}, fragments: []string{"ß"}},
	{tag: language.Italian, words: []string{"perché", "così", "quello"}, fragments: []string{"è"}},
}

type counts struct {
	total, kana, hangul, han, arabic, latin int
}

// Detect は samples をまとめて文字種を数え、言語タグを返します。
// 判定できない場合は language.Und を返します。
func Detect(samples []string) language.Tag {
	valid := make([]string, 0, len(samples))
	for _, s := range samples {
		if s = strings.TrimSpace(s); s != "" {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		slog.Warn("言語判定をスキップします: 有効なテキストがありません")
		return language.Und
	}

	tag := classify(norm.NFC.String(strings.Join(valid, " ")))
	if tag == language.Und {
		slog.Warn("言語を判定できませんでした", "samples", len(valid))
	} else {
		slog.Info("言語を判定しました", "language", tag.String(), "samples", len(valid))
	}
	return tag
}

// Code は Detect の結果を小文字の言語コードで返します（例: "ja", "pt-br", "und"）。
func Code(samples []string) string {
	return strings.ToLower(Detect(samples).String())
}

func classify(text string) language.Tag {
	c := count(text)
	if c.total == 0 {
		return language.Und
	}
	total := float64(c.total)

	switch {
	case float64(c.kana) > total*KanaThreshold:
		return language.Japanese
	case float64(c.hangul) > total*HangulThreshold:
		return language.Korean
	case float64(c.han) > total*HanThreshold && c.kana == 0:
		return language.Chinese
	case float64(c.arabic) > total*ArabicThreshold:
		return language.Arabic
	case float64(c.latin) > total*LatinThreshold:
		return latinLanguage(strings.ToLower(text))
	}
	return language.Und
}

func count(text string) counts {
	var c counts
	for _, r := range text {
		c.total++
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			c.kana++
		case unicode.Is(unicode.Hangul, r):
			c.hangul++
		case unicode.Is(unicode.Han, r):
			c.han++
		case unicode.Is(unicode.Arabic, r):
			c.arabic++
		case unicode.Is(unicode.Latin, r):
			c.latin++
		}
	}
	return c
}

func latinLanguage(lower string) language.Tag {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	}) {
		words[w] = struct{}{}
	}
	for _, lx := range lexicons {
		for _, w := range lx.words {
			if _, ok := words[w]; ok {
				return lx.tag
			}
		}
		for _, f := range lx.fragments {
			if strings.Contains(lower, f) {
				return lx.tag
			}
		}
	}
	return language.English
}
