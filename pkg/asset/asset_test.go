package asset

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestResolver_Resolve(t *testing.T) {
	lib, tmp := t.TempDir(), t.TempDir()
	r := NewResolver(lib, tmp)

	libPage := touch(t, lib, "page.png")
	touch(t, tmp, "page.png")
	tmpOnly := touch(t, tmp, "scan.jpg")

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{name: "存在する絶対パスはそのまま", ref: tmpOnly, want: tmpOnly},
		{name: "ライブラリが一時領域より優先されること", ref: "page.png", want: libPage},
		{name: "URL 風の参照はファイル名で探すこと", ref: "/static/temp/scan.jpg", want: tmpOnly},
		{name: "http URL もファイル名で探すこと", ref: "http://localhost:8000/library/page.png?v=2", want: libPage},
		{name: "存在しない絶対パスはファイル名で探し直すこと", ref: "/gone/page.png", want: libPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.ref)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("期待値 %s, 実際の値 %s", tt.want, got)
			}
		})
	}

	t.Run("見つからなければ NotFound", func(t *testing.T) {
		_, err := r.Resolve("missing.png")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("NotFound を期待しましたが %v でした", err)
		}
	})
}

func TestResolver_ResolveSource(t *testing.T) {
	lib, tmp := t.TempDir(), t.TempDir()
	r := NewResolver(lib, tmp)

	original := touch(t, lib, "page.png")
	touch(t, tmp, "clean_page.png")
	orphan := touch(t, tmp, "clean_orphan.png")
	touch(t, lib, "mybook.png")
	cleanbook := touch(t, lib, "mycleanbook.png")

	t.Run("クリーン済み画像の要求は元画像に戻ること", func(t *testing.T) {
		got, err := r.ResolveSource("clean_page.png")
		if err != nil {
			t.Fatalf("ResolveSource: %v", err)
		}
		if got != original {
			t.Errorf("期待値 %s, 実際の値 %s", original, got)
		}
	})

	t.Run("語の一部に clean を含むだけの名前は書き換えないこと", func(t *testing.T) {
		got, err := r.ResolveSource("mycleanbook.png")
		if err != nil {
			t.Fatalf("ResolveSource: %v", err)
		}
		if got != cleanbook {
			t.Errorf("期待値 %s, 実際の値 %s", cleanbook, got)
		}
	})

	t.Run("元画像が無ければ参照先をそのまま使うこと", func(t *testing.T) {
		got, err := r.ResolveSource("clean_orphan.png")
		if err != nil {
			t.Fatalf("ResolveSource: %v", err)
		}
		if got != orphan {
			t.Errorf("期待値 %s, 実際の値 %s", orphan, got)
		}
	})
}

func TestNaming(t *testing.T) {
	if got := StripCleanMarker("clean_page.png"); got != "page.png" {
		t.Errorf("StripCleanMarker: %s", got)
	}
	if got := StripCleanMarker("page_clean.png"); got != "page.png" {
		t.Errorf("StripCleanMarker: %s", got)
	}
	if got := StripCleanMarker("vol1-clean-p03.webp"); got != "vol1-p03.webp" {
		t.Errorf("StripCleanMarker: %s", got)
	}
	if got := CleanName("clean_page.png"); got != "clean_page.png" {
		t.Errorf("CleanName は接頭辞を重ねないはずです: %s", got)
	}
	for name, want := range map[string]bool{
		"page.png":         false,
		"mycleanbook.png":  false,
		"cleaner_01.png":   false,
		"clean.png":        true,
		"clean_page.png":   true,
		"page_clean.png":   true,
		"vol1-clean-p3.jp": true,
		"/lib/clean/p.png": false,
	} {
		if got := HasCleanMarker(name); got != want {
			t.Errorf("HasCleanMarker(%q): 期待値 %v, 実際の値 %v", name, want, got)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewSessionToken()
		if len(tok) != SessionTokenLength {
			t.Fatalf("トークン長が一致しません: %q", tok)
		}
		if seen[tok] {
			t.Fatalf("トークンが重複しました: %q", tok)
		}
		seen[tok] = true
	}
	if MaskName("abc") != "mask_abc.png" || InpaintName("abc") != "temp_ai_abc.png" {
		t.Error("成果物名が一致しません")
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "clean_page.png")

	t.Run("書き込みに失敗したら何も残らないこと", func(t *testing.T) {
		err := WriteAtomic(path, func(w io.Writer) error { return errors.New("boom") })
		if err == nil {
			t.Fatal("エラーを期待しました")
		}
		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 0 {
			t.Errorf("一時ファイルが残っています: %v", entries)
		}
	})

	t.Run("画像を保存して読み戻せること", func(t *testing.T) {
		img := image.NewGray(image.Rect(0, 0, 3, 2))
		img.SetGray(1, 1, color.Gray{Y: 200})
		if err := SaveImage(path, img); err != nil {
			t.Fatalf("SaveImage: %v", err)
		}
		loader := NewImageLoader(NewResolver("", filepath.Dir(path)), nil)
		got, err := loader.Load(context.Background(), "clean_page.png")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Bounds() != img.Bounds() {
			t.Errorf("サイズが一致しません: %v", got.Bounds())
		}
		if c := color.GrayModel.Convert(got.At(1, 1)).(color.Gray); c.Y != 200 {
			t.Errorf("画素値が一致しません: %d", c.Y)
		}
	})
}

func TestImageLoader_Concurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.png")
	if err := SaveImage(path, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	loader := NewImageLoader(NewResolver(dir, ""), nil)

	var wg sync.WaitGroup
	results := make([]image.Image, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := loader.Load(context.Background(), "page.png")
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			results[i] = img
		}(i)
	}
	wg.Wait()

	if loader.cache.ItemCount() != 1 {
		t.Errorf("キャッシュは 1 件のはずです: %d", loader.cache.ItemCount())
	}
	loader.Forget(path)
	if loader.cache.ItemCount() != 0 {
		t.Errorf("Forget 後もキャッシュが残っています: %d", loader.cache.ItemCount())
	}

	t.Run("デコードできないファイルは ValidationFailed", func(t *testing.T) {
		touch(t, dir, "broken.png")
		_, err := loader.Load(context.Background(), "broken.png")
		if !errors.Is(err, apperr.ErrValidationFailed) {
			t.Errorf("ValidationFailed を期待しましたが %v でした", err)
		}
	})
}
