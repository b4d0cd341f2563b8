package asset

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// CleanPrefix はクリーン済み画像のファイル名に付ける接頭辞です。
	CleanPrefix = "clean_"
	cleanMarker = "clean"

	// SessionTokenLength はクリーン処理 1 回ごとの成果物名に使うトークンの長さです。
	SessionTokenLength = 12
)

// HasCleanMarker はファイル名にクリーン済みマーカーが含まれるか判定します。
// マーカーは拡張子を除いた名前の中で "_" か "-" で区切られた "clean" の語です。
// "clean_page.png" や "page_clean.png" は該当し、"mycleanbook.png" は該当しません。
func HasCleanMarker(name string) bool {
	stem, _ := splitExt(filepath.Base(name))
	for _, word := range splitWords(stem) {
		if word == cleanMarker {
			return true
		}
	}
	return false
}

// StripCleanMarker はファイル名からクリーン済みマーカーの語を区切り文字ごと取り除きます。
func StripCleanMarker(name string) string {
	stem, ext := splitExt(filepath.Base(name))
	var b strings.Builder
	start := 0
	for i := 0; i <= len(stem); i++ {
		if i < len(stem) && !isWordSeparator(stem[i]) {
			continue
		}
		if stem[start:i] != cleanMarker {
			b.WriteString(stem[start:i])
			if i < len(stem) {
				b.WriteByte(stem[i])
			}
		}
		start = i + 1
	}
	return strings.TrimRight(b.String(), "_-") + ext
}

func splitExt(base string) (string, string) {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

func splitWords(stem string) []string {
	return strings.FieldsFunc(stem, func(r rune) bool {
		return r < 0x80 && isWordSeparator(byte(r))
	})
}

func isWordSeparator(c byte) bool {
	return c == '_' || c == '-'
}

// CleanName は元画像のファイル名からクリーン済み画像のファイル名を返します。
func CleanName(source string) string {
	return CleanPrefix + StripCleanMarker(source)
}

// MaskName はセッショントークンからマスク画像のファイル名を返します。
func MaskName(token string) string {
	return "mask_" + token + ".png"
}

// InpaintName はセッショントークンから補完結果の一時ファイル名を返します。
func InpaintName(token string) string {
	return "temp_ai_" + token + ".png"
}

// NewSessionToken は並行するクリーン処理同士で衝突しないトークンを生成します。
func NewSessionToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:SessionTokenLength]
}
