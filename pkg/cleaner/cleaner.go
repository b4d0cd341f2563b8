// Package cleaner は、吹き出しの文字を消したクリーン済みページを生成します。
package cleaner

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/asset"
	"github.com/shouni/go-manga-lens/pkg/mask"
)

// Config は PageCleaner の設定です。
type Config struct {
	Prompt string
	// KeepIntermediate が true の場合、補完エンジンの生の出力を temp_ai_<token>.png として残します。
	KeepIntermediate bool
}

// DefaultConfig は既定の設定を返します。
func DefaultConfig() Config {
	return Config{Prompt: DefaultPrompt}
}

// Result はクリーン処理の結果です。
// NoOp が true の場合は塗る領域が無かったため、CleanedRef は入力の参照のままです。
type Result struct {
	CleanedRef  string `json:"clean_image"`
	MaskRef     string `json:"mask_image,omitempty"`
	CleanedPath string `json:"-"`
	MaskPath    string `json:"-"`
	NoOp        bool   `json:"no_op"`
}

// PageCleaner はマスク構築・補完・合成・保存を順に行います。
type PageCleaner struct {
	resolver  *asset.Resolver
	loader    *asset.ImageLoader
	builder   *mask.Builder
	inpainter Inpainter
	cfg       Config
}

// New は PageCleaner を生成します。
func New(loader *asset.ImageLoader, builder *mask.Builder, inpainter Inpainter, cfg Config) *PageCleaner {
	if builder == nil {
		builder = mask.NewBuilder()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	return &PageCleaner{
		resolver:  loader.Resolver(),
		loader:    loader,
		builder:   builder,
		inpainter: inpainter,
		cfg:       cfg,
	}
}

// Clean は ref のページから shapes の領域を消し、clean_<元ファイル名> として一時領域に保存します。
// ref がクリーン済み画像を指す場合は元画像から処理し直します。
func (c *PageCleaner) Clean(ctx context.Context, ref string, shapes []mask.Shape) (Result, error) {
	source, err := c.resolver.ResolveSource(ref)
	if err != nil {
		return Result{}, err
	}
	original, err := c.loader.LoadPath(ctx, source)
	if err != nil {
		return Result{}, err
	}
	b := original.Bounds()

	slog.InfoContext(ctx, "マスクを構築します", "source", source, "shapes", len(shapes))
	m, err := c.builder.Build(b.Dx(), b.Dy(), shapes)
	if err != nil {
		return Result{}, err
	}
	if m == nil {
		slog.WarnContext(ctx, "消去対象の領域が無いためクリーン処理を省略します", "source", source)
		return Result{CleanedRef: ref, NoOp: true}, nil
	}

	token := asset.NewSessionToken()
	maskName := asset.MaskName(token)
	maskPath, err := c.resolver.OutputPath(maskName)
	if err != nil {
		return Result{}, err
	}
	if err := asset.SaveImage(maskPath, m); err != nil {
		return Result{}, fmt.Errorf("マスクの保存に失敗しました: %w", err)
	}

	images, err := c.inpainter.Inpaint(ctx, original, m, c.cfg.Prompt)
	if err != nil {
		return Result{}, err
	}
	if len(images) == 0 {
		return Result{}, apperr.Errorf(apperr.KindGenerationFailed, "inpainting returned no image for %s", filepath.Base(source))
	}
	generated := images[0]
	if c.cfg.KeepIntermediate {
		c.saveIntermediate(ctx, token, generated)
	}

	cleaned := Composite(original, generated, m)

	cleanName := asset.CleanName(filepath.Base(source))
	cleanPath, err := c.resolver.OutputPath(cleanName)
	if err != nil {
		return Result{}, err
	}
	if err := asset.SaveImage(cleanPath, cleaned); err != nil {
		return Result{}, fmt.Errorf("クリーン済み画像の保存に失敗しました: %w", err)
	}
	c.loader.Forget(cleanPath)

	slog.InfoContext(ctx, "クリーン済み画像を保存しました", "path", cleanPath, "mask", maskPath)
	return Result{
		CleanedRef:  cleanName,
		MaskRef:     maskName,
		CleanedPath: cleanPath,
		MaskPath:    maskPath,
	}, nil
}

func (c *PageCleaner) saveIntermediate(ctx context.Context, token string, img image.Image) {
	path, err := c.resolver.OutputPath(asset.InpaintName(token))
	if err != nil {
		return
	}
	if err := asset.SaveImage(path, img); err != nil {
		slog.WarnContext(ctx, "補完結果の保存に失敗しました", "path", path, "error", err)
	}
}

// RemoveArtifacts はクリーン処理が残したマスクと中間ファイルを削除します。
func (c *PageCleaner) RemoveArtifacts(res Result) error {
	if res.MaskPath == "" {
		return nil
	}
	if err := os.Remove(res.MaskPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("マスクの削除に失敗しました: %w", err)
	}
	return nil
}
