// Package llmjson は生成モデルが返す「ほぼ JSON」なテキストを寛容にデコードします。
//
// デコードは次の順に試し、最初に成功したものを採用します。
//  1. コードフェンスを外した全文をそのまま厳密にパース
//  2. 括弧の対応を取って [...] / {...} 部分を切り出して厳密にパース
//  3. 既知の崩れ（未エスケープのバックスラッシュ、閉じ括弧直前のカンマ）を修復して再パース
//
// すべて失敗した場合は apperr.KindParseFailed を返します。
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

var (
	jsonBlockRegex     = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*\\S)\\s*```")
	trailingCommaRegex = regexp.MustCompile(`,\s*([\]}])`)
)

// DecodeArray は raw から JSON 配列を探して v にデコードします。
func DecodeArray(raw string, v any) error {
	return decode(raw, '[', ']', v)
}

// DecodeObject は raw から JSON オブジェクトを探して v にデコードします。
func DecodeObject(raw string, v any) error {
	return decode(raw, '{', '}', v)
}

func decode(raw string, open, close byte, v any) error {
	body := StripFence(raw)
	if body == "" {
		return apperr.Errorf(apperr.KindParseFailed, "empty response")
	}

	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}

	candidate, ok := Extract(body, open, close)
	if !ok {
		return apperr.Errorf(apperr.KindParseFailed, "no %c...%c block in response %q", open, close, truncate(raw, 200))
	}
	firstErr := json.Unmarshal([]byte(candidate), v)
	if firstErr == nil {
		return nil
	}

	if err := json.Unmarshal([]byte(Sanitize(candidate)), v); err == nil {
		return nil
	}
	return apperr.New(apperr.KindParseFailed, "JSON の解析に失敗しました (応答抜粋: "+truncate(raw, 200)+")", firstErr)
}

// StripFence は ```json ... ``` で囲まれていれば中身を、そうでなければ前後の空白を除いた全文を返します。
func StripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := jsonBlockRegex.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// Extract は最初の open から対応する close までを切り出します。
// 文字列リテラル内の括弧は数えません。対応が取れない場合は最初の open から最後の close までを返します。
func Extract(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return Span(s, open, close)
}

// Span は最初の open から最後の close までを返します。
func Span(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// Sanitize は生成モデルがよく出す JSON の崩れを修復します。
func Sanitize(s string) string {
	s = escapeStrayBackslashes(s)
	return trailingCommaRegex.ReplaceAllString(s, "$1")
}

// escapeStrayBackslashes は有効なエスケープシーケンスを構成しないバックスラッシュを二重化します。
func escapeStrayBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && isEscape(s, i+1) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

// isEscape は s[i] から始まる文字列が JSON のエスケープとして有効かを返します。
// \u は 4 桁の 16 進数が続く場合だけ有効です。
func isEscape(s string, i int) bool {
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+5 > len(s) {
			return false
		}
		for _, h := range []byte(s[i+1 : i+5]) {
			if !isHex(h) {
				return false
			}
		}
		return true
	}
	return false
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
