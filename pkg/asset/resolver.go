package asset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shouni/go-utils/urlpath"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

// Resolver は参照文字列をローカルで読めるファイルパスに解決します。
// 優先順位は「存在する絶対パス」>「一次ストレージ（ライブラリ）」>「二次ストレージ（一時領域）」です。
type Resolver struct {
	LibraryDir string
	TempDir    string
}

// NewResolver は Resolver を生成します。
func NewResolver(libraryDir, tempDir string) *Resolver {
	return &Resolver{LibraryDir: libraryDir, TempDir: tempDir}
}

// Resolve は ref をローカルパスに解決します。見つからない場合は apperr.KindNotFound を返します。
// ref には絶対パス、ファイル名、"/static/temp/page.png" や "http://host/files/page.png" のような URL 風文字列を渡せます。
func (r *Resolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperr.Errorf(apperr.KindValidationFailed, "empty image reference")
	}

	if filepath.IsAbs(ref) && exists(ref) {
		return ref, nil
	}

	name := baseName(ref)
	if name == "" || name == "." || name == "/" {
		return "", apperr.Errorf(apperr.KindNotFound, "image not found: %s", ref)
	}
	if p, ok := r.lookup(name); ok {
		return p, nil
	}
	return "", apperr.Errorf(apperr.KindNotFound, "image not found: %s", ref)
}

// ResolveSource はクリーン処理の入力となる元画像を解決します。
// 参照がすでにクリーン済みの画像（ファイル名に clean マーカーを含む）であれば、
// マーカーを外した名前でライブラリ、一時領域の順に探し直します。見つからなければ参照先をそのまま使います。
func (r *Resolver) ResolveSource(ref string) (string, error) {
	local, err := r.Resolve(ref)
	if err != nil {
		return "", err
	}

	name := filepath.Base(local)
	if !HasCleanMarker(name) {
		return local, nil
	}

	original := StripCleanMarker(name)
	if p, ok := r.lookup(original); ok {
		slog.Info("クリーン済み画像への要求のため元画像に切り替えます", "requested", name, "source", p)
		return p, nil
	}
	slog.Warn("クリーン済み画像の元画像が見つかりません。参照先をそのまま使います", "requested", name)
	return local, nil
}

// OutputPath は一時領域に置く成果物のパスを返します。
func (r *Resolver) OutputPath(fileName string) (string, error) {
	if r.TempDir == "" {
		return "", fmt.Errorf("一時領域が設定されていません")
	}
	return ResolveOutputPath(r.TempDir, fileName)
}

func (r *Resolver) lookup(name string) (string, bool) {
	for _, dir := range []string{r.LibraryDir, r.TempDir} {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		if exists(p) {
			return p, true
		}
	}
	return "", false
}

// ResolveOutputPath は、ベースとなるディレクトリパスとファイル名から最終的な出力パスを生成します。
func ResolveOutputPath(baseDir, fileName string) (string, error) {
	return urlpath.ResolveOutputPath(baseDir, fileName)
}

// baseName は URL 風文字列やパスから末尾のファイル名を取り出します。
func baseName(ref string) string {
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file") {
		return path.Base(u.Path)
	}
	ref = strings.ReplaceAll(ref, "\\", "/")
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	return path.Base(ref)
}

func exists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("ファイルの確認に失敗しました", "path", p, "error", err)
		}
		return false
	}
	return !info.IsDir()
}
