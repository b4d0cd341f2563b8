package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

const (
	DefaultVisionModel = "gemini-2.5-flash"
	DefaultEditModel   = "imagen-3.0-capability-001"

	defaultVisionTemperature = float32(0.1)
	defaultGuidanceScale     = float32(60)
)

// GenAIConfig は GenAIClient の設定です。
// Project を指定すると Vertex AI バックエンドを使います。画像編集は Vertex AI でのみ利用できます。
type GenAIConfig struct {
	APIKey      string
	Project     string
	Location    string
	VisionModel string
	EditModel   string
}

// GenAIClient は genai SDK で画像つき生成と Imagen による画像編集を行います。
type GenAIClient struct {
	client      *genai.Client
	visionModel string
	editModel   string
	limiter     *rate.Limiter
}

// NewGenAIClient は GenAIClient を生成します。limiter が nil の場合は流量制限を行いません。
func NewGenAIClient(ctx context.Context, cfg GenAIConfig, limiter *rate.Limiter) (*GenAIClient, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{Backend: genai.BackendVertexAI, Project: cfg.Project, Location: cfg.Location}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, apperr.New(apperr.KindModelUnavailable, "genai クライアントの初期化に失敗しました", err)
	}

	c := &GenAIClient{
		client:      client,
		visionModel: cfg.VisionModel,
		editModel:   cfg.EditModel,
		limiter:     limiter,
	}
	if c.visionModel == "" {
		c.visionModel = DefaultVisionModel
	}
	if c.editModel == "" {
		c.editModel = DefaultEditModel
	}
	return c, nil
}

// GenerateFromImage は画像とプロンプトを 1 回のリクエストで送り、応答テキストを返します。
func (c *GenAIClient) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(defaultVisionTemperature),
		ResponseMIMEType: "application/json",
	}

	slog.DebugContext(ctx, "画像つき生成を呼び出します", "model", c.visionModel, "image_bytes", len(image))
	resp, err := c.client.Models.GenerateContent(ctx, c.visionModel, contents, config)
	if err != nil {
		return "", Classify(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", apperr.Errorf(apperr.KindGenerationFailed, "model %s returned no text", c.visionModel)
	}
	return text, nil
}

// EditImage は Imagen のインペイント（挿入）モードでマスク領域を描き直します。
func (c *GenAIClient) EditImage(ctx context.Context, req EditRequest) ([][]byte, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	raw := genai.NewRawReferenceImage(&genai.Image{ImageBytes: req.Image, MIMEType: mimeType}, 1)
	mask := genai.NewMaskReferenceImage(&genai.Image{ImageBytes: req.Mask, MIMEType: "image/png"}, 2, &genai.MaskReferenceConfig{
		MaskMode: genai.MaskReferenceModeMaskModeUserProvided,
	})

	config := &genai.EditImageConfig{
		EditMode:       genai.EditModeInpaintInsertion,
		NumberOfImages: 1,
		GuidanceScale:  genai.Ptr(defaultGuidanceScale),
		NegativePrompt: req.NegativePrompt,
		OutputMIMEType: "image/png",
	}

	slog.InfoContext(ctx, "Imagen でマスク領域を補完します", "model", c.editModel)
	resp, err := c.client.Models.EditImage(ctx, c.editModel, req.Prompt, []genai.ReferenceImage{raw, mask}, config)
	if err != nil {
		return nil, Classify(err)
	}

	out := make([][]byte, 0, len(resp.GeneratedImages))
	for i, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			if gi != nil && gi.RAIFilteredReason != "" {
				slog.WarnContext(ctx, "生成画像がフィルタされました", "index", i, "reason", gi.RAIFilteredReason)
			}
			continue
		}
		out = append(out, gi.Image.ImageBytes)
	}
	return out, nil
}

// String はログ用の表現を返します。
func (c *GenAIClient) String() string {
	return fmt.Sprintf("genai(vision=%s, edit=%s)", c.visionModel, c.editModel)
}
