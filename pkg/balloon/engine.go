// Package balloon は外部のインスタンスセグメンテーションエンジンを包み、
// 生の検出結果を信頼度でふるい分けた矩形と簡略化した輪郭ポリゴンに整えます。
package balloon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"sync"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// Source は検出エンジンへの入力です。Path と Image の少なくとも一方が設定されている必要があります。
// ファイルを必要とするエンジンは Path を、画素を必要とするエンジンは Image を使います。
type Source struct {
	Path  string
	Image image.Image
}

// Bytes はエンコード済みの画像バイト列を返します。Path があればファイルをそのまま読みます。
func (s Source) Bytes() ([]byte, string, error) {
	if s.Path != "" {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, "", apperr.New(apperr.KindNotFound, "ページ画像を読み込めません", err)
		}
		return data, s.Path, nil
	}
	if s.Image == nil {
		return nil, "", apperr.Errorf(apperr.KindValidationFailed, "source has neither path nor image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Image); err != nil {
		return nil, "", fmt.Errorf("PNG エンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), "page.png", nil
}

// RawDetection はエンジンが返す 1 件分の検出結果（絶対ピクセル）です。
type RawDetection struct {
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
	// Contour はインスタンスごとの輪郭です。エンジンが提供しない場合は空です。
	Contour geometry.Polygon
}

// Engine はページ画像から吹き出しを検出します。
type Engine interface {
	Detect(ctx context.Context, src Source) ([]RawDetection, error)
}

// EngineFactory は Engine を生成します。重いモデルのロードはここで行います。
type EngineFactory func(ctx context.Context) (Engine, error)

// SharedEngine はプロセス内で一度だけ生成され、並行する呼び出しで共有される Engine です。
// 最初の Detect（または Acquire）でファクトリを呼び出し、参照カウントで寿命を管理します。
// Close 後に最後の参照が解放された時点で、内部エンジンが io.Closer なら閉じます。
type SharedEngine struct {
	factory EngineFactory

	mu      sync.Mutex
	engine  Engine
	initErr error
	refs    int
	closed  bool
}

// NewSharedEngine は SharedEngine を生成します。この時点ではモデルをロードしません。
func NewSharedEngine(factory EngineFactory) *SharedEngine {
	return &SharedEngine{factory: factory}
}

// Acquire はエンジンへの参照を取得します。使い終わったら release を必ず呼び出してください。
func (s *SharedEngine) Acquire(ctx context.Context) (Engine, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, apperr.Errorf(apperr.KindModelUnavailable, "detection engine is closed")
	}
	if s.engine == nil {
		if s.initErr != nil {
			return nil, nil, s.initErr
		}
		if s.factory == nil {
			return nil, nil, apperr.Errorf(apperr.KindModelUnavailable, "detection engine is not configured")
		}
		engine, err := s.factory(ctx)
		if err != nil {
			s.initErr = apperr.New(apperr.KindModelUnavailable, "検出エンジンの初期化に失敗しました", err)
			return nil, nil, s.initErr
		}
		s.engine = engine
	}

	s.refs++
	var once sync.Once
	release := func() {
		once.Do(s.release)
	}
	return s.engine, release, nil
}

func (s *SharedEngine) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.closed && s.refs == 0 {
		s.closeEngine()
	}
}

// Detect は共有エンジンで検出を実行します。
func (s *SharedEngine) Detect(ctx context.Context, src Source) ([]RawDetection, error) {
	engine, release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return engine.Detect(ctx, src)
}

// Refs は現在の参照数を返します。
func (s *SharedEngine) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Close は以降の取得を拒否し、参照が残っていなければエンジンを閉じます。
func (s *SharedEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.refs == 0 {
		return s.closeEngine()
	}
	return nil
}

func (s *SharedEngine) closeEngine() error {
	if s.engine == nil {
		return nil
	}
	engine := s.engine
	s.engine = nil
	if c, ok := engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
