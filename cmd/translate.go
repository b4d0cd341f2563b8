package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shouni/go-manga-lens/internal/pipeline"
)

// translateCmd はテキストの配列を翻訳します。
var translateCmd = &cobra.Command{
	Use:   "translate [text...]",
	Short: "テキストを翻訳します。",
	Long: `引数、または --input で渡した JSON の文字列配列を翻訳します。
訳は入力と同じ順序・同じ件数で出力されます。TRANSLATE_PROVIDER で gemini か openai を選べます。`,
	Example: `  manga-lens translate -t pt-br "こんにちは" "ありがとう"
  manga-lens translate -i texts.json -g glossary.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && opts.InputFile == "" {
			return fmt.Errorf("翻訳するテキストか --input を指定してください")
		}
		return pipeline.ExecuteTranslate(cmd.Context(), loadConfig(), args)
	},
}

// detectLangCmd はテキストの言語を判定します。外部サービスは使いません。
var detectLangCmd = &cobra.Command{
	Use:   "detect-lang [text...]",
	Short: "テキストの言語を判定します。",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && opts.InputFile == "" {
			return fmt.Errorf("判定するテキストか --input を指定してください")
		}
		return pipeline.ExecuteDetectLang(cmd.Context(), loadConfig(), args)
	},
}

func init() {
	addTranslateFlags(translateCmd)
	translateCmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "テキストの JSON 配列ファイル（'-' で標準入力）")
	detectLangCmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "テキストの JSON 配列ファイル（'-' で標準入力）")
}
