package asset

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

const (
	DefaultCacheExpiration = 30 * time.Minute
	CacheCleanupInterval   = 1 * time.Hour
)

// ImageLoader は参照文字列からページ画像をデコードして返します。
// デコード結果はパスと更新時刻をキーにキャッシュし、同じ画像への同時要求は 1 回のデコードにまとめます。
type ImageLoader struct {
	resolver *Resolver
	cache    *cache.Cache
	group    singleflight.Group
}

// NewImageLoader は ImageLoader を生成します。c が nil の場合は既定の有効期限でキャッシュを作ります。
func NewImageLoader(resolver *Resolver, c *cache.Cache) *ImageLoader {
	if c == nil {
		c = cache.New(DefaultCacheExpiration, CacheCleanupInterval)
	}
	return &ImageLoader{resolver: resolver, cache: c}
}

// Resolver はローダーが使う Resolver を返します。
func (l *ImageLoader) Resolver() *Resolver {
	return l.resolver
}

// Load は ref を解決してデコード済みの画像を返します。
func (l *ImageLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	path, err := l.resolver.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return l.LoadPath(ctx, path)
}

// LoadPath は解決済みのローカルパスから画像を読み込みます。
func (l *ImageLoader) LoadPath(ctx context.Context, path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "画像が見つかりません: "+path, err)
	}
	key := fmt.Sprintf("%s@%d:%d", path, info.ModTime().UnixNano(), info.Size())

	if v, ok := l.cache.Get(key); ok {
		if img, ok := v.(image.Image); ok {
			return img, nil
		}
	}

	val, err, shared := l.group.Do(key, func() (interface{}, error) {
		// 待機中に別のゴルーチンがデコードを終えている可能性がある
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
		img, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		l.cache.SetDefault(key, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.DebugContext(ctx, "画像のデコード結果を共有しました", "path", path)
	}

	img, ok := val.(image.Image)
	if !ok {
		return nil, fmt.Errorf("unexpected return type from singleflight: %T", val)
	}
	return img, nil
}

// Forget は path に対応するキャッシュを破棄します。
func (l *ImageLoader) Forget(path string) {
	for key := range l.cache.Items() {
		if strings.HasPrefix(key, path+"@") {
			l.cache.Delete(key)
		}
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "画像を開けません: "+path, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, apperr.New(apperr.KindValidationFailed, "画像のデコードに失敗しました: "+path, err)
	}
	slog.Debug("画像をデコードしました", "path", path, "format", format, "bounds", img.Bounds())
	return img, nil
}
