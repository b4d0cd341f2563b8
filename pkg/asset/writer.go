package asset

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// JPEGQuality はクリーン済み画像を JPEG で保存するときの品質です。
const JPEGQuality = 95

// WriteAtomic は同じディレクトリの一時ファイルに書き込んでから rename で置き換えます。
// 読み手が書きかけのファイルを観測することはありません。
func WriteAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("一時ファイルの同期に失敗しました: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("ファイルの置き換えに失敗しました: %w", err)
	}
	committed = true
	return nil
}

// SaveImage は拡張子に応じたフォーマットで画像をアトミックに保存します。
// .jpg/.jpeg は JPEGQuality、それ以外は PNG で書き出します。
func SaveImage(path string, img image.Image) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return Encode(w, img, filepath.Ext(path))
	})
}

// Encode は拡張子に応じて画像をエンコードします。
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return fmt.Errorf("JPEG エンコードに失敗しました: %w", err)
		}
	default:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("PNG エンコードに失敗しました: %w", err)
		}
	}
	return nil
}
