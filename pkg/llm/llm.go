// Package llm は、テキスト生成・画像つき生成・画像編集の各外部エンジンを共通のインターフェースで扱います。
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

const (
	// DefaultRateInterval はリクエスト間の最小間隔です。
	DefaultRateInterval = 1 * time.Second
	// DefaultRateBurst は連続で許可するリクエスト数です。
	DefaultRateBurst = 2
)

// TextGenerator はテキストのみのプロンプトから応答テキストを生成します。
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// VisionGenerator は画像 1 枚とプロンプトから応答テキストを生成します。
type VisionGenerator interface {
	GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// EditRequest はマスク付き画像編集の入力です。Mask は白が編集対象の PNG です。
type EditRequest struct {
	Image          []byte
	MIMEType       string
	Mask           []byte
	Prompt         string
	NegativePrompt string
}

// ImageEditor はマスク領域を補完した画像を返します。結果が空の場合は長さ 0 のスライスを返します。
type ImageEditor interface {
	EditImage(ctx context.Context, req EditRequest) ([][]byte, error)
}

// NewLimiter は interval ごとに burst 回までのリクエストを許すリミッタを返します。
func NewLimiter(interval time.Duration, burst int) *rate.Limiter {
	if interval <= 0 {
		interval = DefaultRateInterval
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return rate.NewLimiter(rate.Every(interval), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return nil
}

var rateLimitMarkers = []string{"429", "resource_exhausted", "rate limit", "ratelimit", "too many requests", "quota"}

// Classify はエンジンのエラーを apperr の種別に振り分けます。
// レート制限に当たるものは KindRateLimited、それ以外は KindGenerationFailed になります。
// すでに種別を持つエラーとコンテキストのキャンセルはそのまま返します。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return apperr.New(apperr.KindRateLimited, "エンジンのレート制限に達しました", err)
		}
	}
	return apperr.New(apperr.KindGenerationFailed, "エンジンの呼び出しに失敗しました", err)
}

// Fallback は先頭から順に TextGenerator を試し、最初に成功した応答を返します。
// コンテキストのキャンセルは即座に返します。
type Fallback []TextGenerator

// GenerateText は Fallback の各生成器を順に呼び出します。
func (f Fallback) GenerateText(ctx context.Context, prompt string) (string, error) {
	if len(f) == 0 {
		return "", apperr.Errorf(apperr.KindModelUnavailable, "no text generator configured")
	}
	var errs []error
	for _, g := range f {
		text, err := g.GenerateText(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 1 {
		return "", errs[0]
	}
	// 最後の生成器の種別を優先し、すべての原因を保持します。
	return "", apperr.New(apperr.KindOf(errs[len(errs)-1]), "すべてのテキスト生成器が失敗しました", errors.Join(errs...))
}
