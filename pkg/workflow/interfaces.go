package workflow

import (
	"context"
	"image"

	"github.com/shouni/go-manga-lens/pkg/balloon"
	"github.com/shouni/go-manga-lens/pkg/cleaner"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/mask"
	"github.com/shouni/go-manga-lens/pkg/translate"
)

// PanelDetector はページをコマに分割する責務を持ちます。
type PanelDetector interface {
	Detect(ctx context.Context, img image.Image) ([]domain.Panel, error)
}

// BalloonDetector は検出エンジンで吹き出しを見つける責務を持ちます。
type BalloonDetector interface {
	Detect(ctx context.Context, src balloon.Source, width, height int) ([]domain.Balloon, error)
}

// LayoutAnalyzer はページ全体から吹き出しの位置とテキストを同時に得る責務を持ちます。
type LayoutAnalyzer interface {
	Analyze(ctx context.Context, img image.Image) ([]domain.Balloon, error)
}

// TextExtractor は吹き出しのテキストを読み取る責務を持ちます。
// エラー時も返したスライスは有効でなければなりません。
type TextExtractor interface {
	Extract(ctx context.Context, img image.Image, balloons []domain.Balloon) ([]domain.Balloon, error)
}

// Translator は吹き出しテキストを一括翻訳する責務を持ちます。
type Translator interface {
	Translate(ctx context.Context, req translate.Request) (translate.Result, error)
}

// PageCleaner はページから吹き出しの文字を消す責務を持ちます。
type PageCleaner interface {
	Clean(ctx context.Context, ref string, shapes []mask.Shape) (cleaner.Result, error)
}
