package builder

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/shouni/go-manga-lens/internal/config"
	"github.com/shouni/go-manga-lens/pkg/asset"
	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/llm"
	"github.com/shouni/go-manga-lens/pkg/prompts"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持します。
// これを各 Build 関数に渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config  *config.Config         // Config は、環境変数から読み込まれたグローバルな設定です（API キー、エンジン種別など）。
	Options config.GenerateOptions // Options は、コマンドラインから渡された実行時の設定です（言語、出力先など）。
	Loader  *asset.ImageLoader     // Loader は、ページ参照を解決してデコード済み画像を返す共通ローダーです。
	Prompts prompts.PromptBuilder  // Prompts は、OCR・レイアウト解析・翻訳のプロンプトを組み立てます。
	Limiter *rate.Limiter          // Limiter は、生成 API 呼び出し全体で共有する流量制限です。
	Engine  *balloon.SharedEngine  // Engine は、プロセス内で一度だけロードされる検出エンジンです。

	genaiOnce   sync.Once
	genaiClient *llm.GenAIClient
	genaiErr    error
}

// NewAppContext は AppContext の新しいインスタンスを生成します。
func NewAppContext(cfg *config.Config) (*AppContext, error) {
	pb, err := prompts.NewTextPromptBuilder()
	if err != nil {
		return nil, fmt.Errorf("プロンプトビルダーの作成に失敗しました: %w", err)
	}
	loader := asset.NewImageLoader(asset.NewResolver(cfg.LibraryDir, cfg.TempDir), nil)

	appCtx := &AppContext{
		Config:  cfg,
		Options: cfg.Options,
		Loader:  loader,
		Prompts: pb,
		Limiter: llm.NewLimiter(cfg.RateInterval, llm.DefaultRateBurst),
	}
	appCtx.Engine = balloon.NewSharedEngine(func(ctx context.Context) (balloon.Engine, error) {
		return newDetectEngine(ctx, appCtx)
	})
	return appCtx, nil
}

// GenAI は genai クライアントを初めて必要になった時点で一度だけ初期化して返します。
func (a *AppContext) GenAI(ctx context.Context) (*llm.GenAIClient, error) {
	a.genaiOnce.Do(func() {
		a.genaiClient, a.genaiErr = llm.NewGenAIClient(ctx, llm.GenAIConfig{
			APIKey:      a.Config.GeminiAPIKey,
			Project:     a.Config.ProjectID,
			Location:    a.Config.LocationID,
			VisionModel: a.Config.GeminiModel,
			EditModel:   a.Config.ImagenModel,
		}, a.Limiter)
	})
	return a.genaiClient, a.genaiErr
}

// Close は共有している検出エンジンを解放します。
func (a *AppContext) Close() error {
	return a.Engine.Close()
}
