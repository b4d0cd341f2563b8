package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shouni/go-manga-lens/internal/config"
)

// opts は各サブコマンドのフラグが書き込む実行時オプションです。
var opts config.GenerateOptions

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "manga-lens",
	Short: "漫画ページのコマ・吹き出し検出、OCR、翻訳、文字除去を行います。",
	Long: `漫画ページの画像からコマと吹き出しを検出し、吹き出しのテキストを読み取って翻訳します。
吹き出しの文字を消したクリーン画像の生成も行います。結果は JSON で出力します。`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
}

// addAppFlags はすべてのサブコマンドに共通するフラグを定義します。
func addAppFlags(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().StringVarP(&opts.OutputFile, "output", "o", config.DefaultOutputFile, "結果 JSON の保存先（'-' で標準出力）")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "ログレベル (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "ログを JSON 形式で出力します")
}

// addTranslateFlags は翻訳を伴うサブコマンドのフラグを定義します。
func addTranslateFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&opts.SourceLanguage, "source", "s", "", "原文の言語コード（省略時は自動判定）")
	cmd.Flags().StringVarP(&opts.TargetLanguage, "target", "t", config.DefaultTargetLanguage, "翻訳先の言語コード")
	cmd.Flags().StringVar(&opts.Context, "context", "", "翻訳時に添える作品の文脈")
	cmd.Flags().StringVarP(&opts.GlossaryFile, "glossary", "g", "", "用語集 JSON のパス")
}

// addCleanFlags は文字除去を伴うサブコマンドのフラグを定義します。
func addCleanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "補完エンジンに渡すプロンプト")
	cmd.Flags().BoolVar(&opts.KeepIntermediate, "keep-intermediate", false, "補完エンジンの生の出力を残します")
}

// setupLogger は --log-level と --log-json に従って既定のロガーを設定します。
func setupLogger(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("不正なログレベルです: %q", logLevel)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// preRunGenAI は Gemini / Vertex AI を使うコマンドの実行前に資格情報の有無を確認します。
func preRunGenAI(cmd *cobra.Command, args []string) error {
	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("PROJECT_ID") == "" {
		return fmt.Errorf("環境変数 GEMINI_API_KEY または PROJECT_ID が設定されていません")
	}
	return nil
}

// loadConfig は環境変数の設定にフラグの指定を反映して返します。
func loadConfig() *config.Config {
	cfg := config.LoadConfig()
	cfg.Options = opts
	return cfg
}

// Execute はアプリケーションのエントリポイントです。main.go から呼び出されます。
func Execute() {
	addAppFlags(rootCmd)
	rootCmd.AddCommand(
		panelsCmd,
		balloonsCmd,
		ocrCmd,
		cleanCmd,
		translateCmd,
		detectLangCmd,
		processCmd,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
