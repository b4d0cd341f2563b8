package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shouni/go-manga-lens/internal/pipeline"
	"github.com/shouni/go-manga-lens/pkg/workflow"
)

// processCmd は複数のページを全ステージに通します。
var processCmd = &cobra.Command{
	Use:   "process <page>...",
	Short: "ページをコマ検出から文字除去まで一括で処理します。",
	Long: `各ページに対して、コマ検出、吹き出し検出、OCR、言語判定、翻訳、文字除去を順に実行します。
ページはジョブとして JOB_CONCURRENCY の上限内で並行処理されます。
途中のステージが失敗しても、ほかのステージの結果は出力に残ります。`,
	Example: "  manga-lens process page01.png page02.png -t en -o result.json",
	Args:    cobra.MinimumNArgs(1),
	PreRunE: preRunGenAI,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		slog.Info("一括処理を起動します",
			"pages", len(args),
			"engine", cfg.DetectEngine,
			"provider", cfg.TranslateProvider,
			"target", opts.TargetLanguage)
		return pipeline.ExecuteProcess(cmd.Context(), cfg, args)
	},
}

func init() {
	addTranslateFlags(processCmd)
	addCleanFlags(processCmd)
	processCmd.Flags().BoolVar(&opts.SkipPanels, "skip-panels", false, "コマ検出を行いません")
	processCmd.Flags().BoolVar(&opts.SkipOCR, "skip-ocr", false, "OCR を行いません")
	processCmd.Flags().BoolVar(&opts.SkipTranslate, "skip-translate", false, "翻訳を行いません")
	processCmd.Flags().BoolVar(&opts.SkipClean, "skip-clean", false, "文字除去を行いません")
	processCmd.Flags().DurationVar(&opts.PageTimeout, "page-timeout", workflow.DefaultPageTimeout, "1 ページあたりの処理時間の上限")
}
