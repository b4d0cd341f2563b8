package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shouni/go-manga-lens/internal/pipeline"
)

var ocrCmd = &cobra.Command{
	Use:     "ocr <page>",
	Short:   "吹き出しを検出し、各吹き出しのテキストを読み取ります。",
	Args:    cobra.ExactArgs(1),
	PreRunE: preRunGenAI,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.ExecuteOCR(cmd.Context(), loadConfig(), args[0])
	},
}
