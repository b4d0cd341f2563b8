package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shouni/go-manga-lens/internal/pipeline"
)

// panelsCmd はページのコマを検出します。外部サービスは使いません。
var panelsCmd = &cobra.Command{
	Use:     "panels <page>",
	Short:   "ページのコマを検出して読み順に出力します。",
	Args:    cobra.ExactArgs(1),
	Example: "  manga-lens panels page01.png -o panels.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.ExecutePanels(cmd.Context(), loadConfig(), args[0])
	},
}

// balloonsCmd はページの吹き出しを検出します。
var balloonsCmd = &cobra.Command{
	Use:   "balloons <page>",
	Short: "ページの吹き出しを検出します。",
	Long: `DETECT_ENGINE で選んだ検出エンジン（http, exec, onnx）で吹き出しを検出します。
DETECT_ENGINE=layout の場合は Gemini のレイアウト解析を使います。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.ExecuteBalloons(cmd.Context(), loadConfig(), args[0])
	},
}
