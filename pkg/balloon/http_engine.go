package balloon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/shouni/go-http-kit/httpkit"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

// DefaultHTTPTimeout は検出サービスへのリクエストのタイムアウトです。
const DefaultHTTPTimeout = 120 * time.Second

// HTTPEngine は検出モデルを載せた外部サービスにページ画像を multipart で送る Engine です。
type HTTPEngine struct {
	url    string
	client httpkit.Requester
}

// NewHTTPEngine は HTTPEngine を生成します。
// client が nil の場合はローカルのサービスに届くようネットワーク検証を外した httpkit クライアントを使います。
func NewHTTPEngine(endpoint string, client httpkit.Requester) *HTTPEngine {
	if client == nil {
		client = httpkit.New(DefaultHTTPTimeout, httpkit.WithSkipNetworkValidation(true))
	}
	return &HTTPEngine{url: endpoint, client: client}
}

// Detect はページ画像を "file" フィールドとして POST し、応答 JSON を検出結果に変換します。
func (e *HTTPEngine) Detect(ctx context.Context, src Source) ([]RawDetection, error) {
	data, name, err := src.Bytes()
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	payload, err := e.client.PostRawBodyAndFetchBytes(ctx, e.url, body.Bytes(), writer.FormDataContentType())
	if err != nil {
		return nil, classifyHTTPError(ctx, err)
	}
	return parseSidecar(payload)
}

// CheckHealth は検出サービスの /health を確認します。
// /health は検出エンドポイントと同じ階層にあるものとします（/detect なら /health）。
func (e *HTTPEngine) CheckHealth(ctx context.Context) error {
	u, err := url.Parse(e.url)
	if err != nil {
		return apperr.New(apperr.KindValidationFailed, "検出サービスの URL が不正です", err)
	}
	u.Path = path.Join(path.Dir(u.Path), "health")
	u.RawQuery = ""
	if _, err := e.client.FetchBytes(ctx, u.String()); err != nil {
		return apperr.New(apperr.KindModelUnavailable, "検出サービスが応答しません", err)
	}
	return nil
}

// classifyHTTPError は httpkit のエラーを検出処理のエラー種別に振り分けます。
// 4xx は NonRetryableHTTPError として、5xx と接続失敗はリトライを使い切った後に届きます。
func classifyHTTPError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("detection request: %w", err)
	}
	var statusErr *httpkit.NonRetryableHTTPError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return apperr.New(apperr.KindRateLimited, fmt.Sprintf("detection service returned %d", statusErr.StatusCode), err)
		case http.StatusNotFound:
			return apperr.New(apperr.KindModelUnavailable, "検出エンドポイントが見つかりません", err)
		default:
			return apperr.Errorf(apperr.KindGenerationFailed, "inference failed with status %d: %s",
				statusErr.StatusCode, truncate(string(statusErr.Body), 200))
		}
	}
	var netErr *url.Error
	if errors.As(err, &netErr) {
		return apperr.New(apperr.KindModelUnavailable, "検出サービスに接続できません", err)
	}
	return apperr.New(apperr.KindGenerationFailed, "detection service failed", err)
}
