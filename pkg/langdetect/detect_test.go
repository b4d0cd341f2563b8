package langdetect

import (
	"testing"

	"golang.org/x/text/language"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		samples []string
		want    language.Tag
	}{
		{"かなを含む日本語", []string{"今日は晴れです", "行くぞ！"}, language.Japanese},
		{"ハングル", []string{"안녕하세요", "괜찮아?"}, language.Korean},
		{"かなを含まない漢字", []string{"你好世界", "我们走吧"}, language.Chinese},
		{"アラビア文字", []string{"مرحبا بالعالم"}, language.Arabic},
		{"ポルトガル語", []string{"Você não vai acreditar!"}, language.BrazilianPortuguese},
		{"スペイン語", []string{"¿Dónde vives, señor?"}, language.Spanish},
		{"フランス語", []string{"Qu'est-ce que vous faites?"}, language.French},
		{"ドイツ語", []string{"Das ist nicht gut."}, language.German},
		{"イタリア語", []string{"Perché quello è così?"}, language.Italian},
		{"手掛かりの無いラテン文字は英語", []string{"Hello there, my friend!"}, language.English},
		{"単語の一部には反応しないこと", []string{"The artist is here."}, language.English},
		{"記号と数字だけなら未判定", []string{"123 !!! ???"}, language.Und},
		{"空の入力は未判定", []string{"", "   "}, language.Und},
		{"入力なしは未判定", nil, language.Und},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.samples); got != tt.want {
				t.Errorf("期待値 %v, 実際の値 %v", tt.want, got)
			}
		})
	}
}

func TestDetect_CascadeOrder(t *testing.T) {
	// かなが 10% を超えれば、ハングルが多くても日本語が先に決まります。
	mixed := []string{"あいう안녕하세요하세요"}
	if got := Detect(mixed); got != language.Japanese {
		t.Errorf("期待値 ja, 実際の値 %v", got)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		samples []string
		want    string
	}{
		{[]string{"Você não sabe"}, "pt-br"},
		{[]string{"こんにちは"}, "ja"},
		{nil, "und"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Code(tt.samples); got != tt.want {
				t.Errorf("期待値 %q, 実際の値 %q", tt.want, got)
			}
		})
	}
}
