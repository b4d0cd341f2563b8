package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"github.com/shouni/go-gemini-client/gemini"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

const (
	DefaultTextModel   = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"

	defaultTextTemperature = float32(0.2)
)

// GeminiText は go-gemini-client を使ってテキスト生成を行います。
type GeminiText struct {
	client  gemini.GenerativeModel
	model   string
	limiter *rate.Limiter
}

// NewGeminiClient は gemini クライアントを初期化します。
func NewGeminiClient(ctx context.Context, apiKey string) (gemini.GenerativeModel, error) {
	clientConfig := gemini.Config{
		APIKey:      apiKey,
		Temperature: genai.Ptr(defaultTextTemperature),
	}
	aiClient, err := gemini.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, apperr.New(apperr.KindModelUnavailable, "AIクライアントの初期化に失敗しました", err)
	}
	return aiClient, nil
}

// NewGeminiText は GeminiText を生成します。
func NewGeminiText(client gemini.GenerativeModel, model string, limiter *rate.Limiter) *GeminiText {
	if model == "" {
		model = DefaultTextModel
	}
	return &GeminiText{client: client, model: model, limiter: limiter}
}

// GenerateText はプロンプトを送り、応答テキストを返します。
func (g *GeminiText) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := wait(ctx, g.limiter); err != nil {
		return "", err
	}
	slog.DebugContext(ctx, "Gemini を呼び出します", "model", g.model)
	resp, err := g.client.GenerateContent(ctx, prompt, g.model)
	if err != nil {
		return "", Classify(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", apperr.Errorf(apperr.KindGenerationFailed, "model %s returned no text", g.model)
	}
	return text, nil
}

// OpenAIConfig は OpenAI 互換エンドポイントの設定です。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIText は eino の ChatModel で OpenAI 互換 API にテキスト生成を依頼します。
type OpenAIText struct {
	model   *openai.ChatModel
	name    string
	limiter *rate.Limiter
}

// NewOpenAIText は OpenAIText を生成します。
func NewOpenAIText(ctx context.Context, cfg OpenAIConfig, limiter *rate.Limiter) (*OpenAIText, error) {
	if cfg.Model == "" {
		return nil, apperr.Errorf(apperr.KindModelUnavailable, "openai model is not configured")
	}
	chatModelConfig := &openai.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: cfg.APIKey,
	}
	if cfg.BaseURL != "" {
		chatModelConfig.BaseURL = cfg.BaseURL
	}
	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, apperr.New(apperr.KindModelUnavailable, "チャットモデルの初期化に失敗しました", err)
	}
	return &OpenAIText{model: chatModel, name: cfg.Model, limiter: limiter}, nil
}

// GenerateText はプロンプトをユーザーメッセージとして送り、応答テキストを返します。
func (o *OpenAIText) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := wait(ctx, o.limiter); err != nil {
		return "", err
	}
	msg, err := o.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", Classify(err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", apperr.Errorf(apperr.KindGenerationFailed, "model %s returned no text", o.name)
	}
	return strings.TrimSpace(msg.Content), nil
}

// String はログ用の表現を返します。
func (o *OpenAIText) String() string {
	return fmt.Sprintf("openai(%s)", o.name)
}
