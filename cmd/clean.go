package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shouni/go-manga-lens/internal/pipeline"
)

// cleanCmd は吹き出しの文字を消したクリーン画像を生成します。
var cleanCmd = &cobra.Command{
	Use:   "clean <page>",
	Short: "吹き出しの文字を消したクリーン画像を生成します。",
	Long: `吹き出しの領域からマスクを作り、Imagen で文字を消した画像を clean_<元ファイル名> として保存します。
--shapes を指定すると検出を行わず、そのファイルのジオメトリ（box_2d, box, polygon など）を使います。`,
	Example: "  manga-lens clean page01.png --shapes balloons.json --discard-mask",
	Args:    cobra.ExactArgs(1),
	PreRunE: preRunGenAI,
	RunE: func(cmd *cobra.Command, args []string) error {
		return pipeline.ExecuteClean(cmd.Context(), loadConfig(), args[0])
	},
}

func init() {
	addCleanFlags(cleanCmd)
	cleanCmd.Flags().StringVar(&opts.ShapesFile, "shapes", "", "マスクに使うジオメトリ JSON のパス")
	cleanCmd.Flags().BoolVar(&opts.ShapesPixel, "pixel", false, "--shapes の box / polygon を絶対ピクセルとして読みます（既定は 0-1000 の正規化座標）")
	cleanCmd.Flags().BoolVar(&opts.DiscardMask, "discard-mask", false, "処理後にマスク画像を削除します")
}
