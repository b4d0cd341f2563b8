package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// GlossaryTerm は翻訳時に必ず使う訳語の組です。
type GlossaryTerm struct {
	Original    string `json:"original"`
	Translation string `json:"translation"`
}

// String は "original → translation" 形式で返します。
func (g GlossaryTerm) String() string {
	return fmt.Sprintf("%s → %s", g.Original, g.Translation)
}

// LoadGlossary は指定されたファイルパスから用語集 JSON を読み込みます。
func LoadGlossary(path string) ([]GlossaryTerm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("用語集ファイルの読み込みに失敗しました: %w", err)
	}
	return ParseGlossary(data)
}

// ParseGlossary は JSON バイト列から用語集をパースします。
// [{"original":..,"translation":..}] の配列と {"original":"translation"} のマップの両方を受け付けます。
// 空の原文・訳語は捨て、結果は原文の長い順に並べます。
func ParseGlossary(data []byte) ([]GlossaryTerm, error) {
	var terms []GlossaryTerm
	if err := json.Unmarshal(data, &terms); err != nil {
		var m map[string]string
		if errMap := json.Unmarshal(data, &m); errMap != nil {
			return nil, fmt.Errorf("用語集の JSON パースに失敗しました: %w", err)
		}
		for k, v := range m {
			terms = append(terms, GlossaryTerm{Original: k, Translation: v})
		}
	}

	out := make([]GlossaryTerm, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t.Original = strings.TrimSpace(t.Original)
		t.Translation = strings.TrimSpace(t.Translation)
		if t.Original == "" || t.Translation == "" {
			continue
		}
		if _, ok := seen[t.Original]; ok {
			continue
		}
		seen[t.Original] = struct{}{}
		out = append(out, t)
	}

	// 部分一致する短い語より長い語を先に提示するため、決定論的に並べます。
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Original) != len(out[j].Original) {
			return len(out[i].Original) > len(out[j].Original)
		}
		return out[i].Original < out[j].Original
	})
	return out, nil
}
