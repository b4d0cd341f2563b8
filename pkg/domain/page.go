package domain

import (
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

// PanelLabel は Panel の固定ラベルです。
const PanelLabel = "panel"

// Page は取り込み済みのページ画像を表します。取り込み後は不変です。
type Page struct {
	// Ref はストレージ解決前の参照（絶対パス、ファイル名、URL 風文字列）です。
	Ref    string `json:"ref"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Panel はページ内のコマ（ピクセル座標）です。
type Panel struct {
	ID         int              `json:"id"`
	OrderIndex int              `json:"order_index"`
	Box        geometry.Box     `json:"box"`
	Polygon    geometry.Polygon `json:"polygon,omitempty"`
	Label      string           `json:"label"`
}

// Balloon は検出された吹き出しです。
// Text と TranslatedText は OCR と翻訳で後から埋まり、ジオメトリは変更されません。
type Balloon struct {
	ID             int              `json:"id"`
	Confidence     float64          `json:"confidence"`
	Box            geometry.Box     `json:"box"`
	Polygon        geometry.Polygon `json:"polygon"`
	Text           string           `json:"text,omitempty"`
	TranslatedText string           `json:"translated_text,omitempty"`
}

// PageResult は 1 ページ分のパイプライン出力です。
// 途中のステージが失敗しても、それまでに得られた結果は保持されます。
type PageResult struct {
	Page     Page      `json:"page"`
	Panels   []Panel   `json:"panels,omitempty"`
	Balloons []Balloon `json:"balloons,omitempty"`

	// CleanedRef は文字除去済み画像の保存先です。マスクが空だった場合は元の参照のままです。
	CleanedRef string `json:"cleaned_ref,omitempty"`
	MaskRef    string `json:"mask_ref,omitempty"`

	SourceLanguage string `json:"source_language,omitempty"`
	// TranslationError は翻訳が失敗したときの理由です。
	TranslationError string `json:"translation_error,omitempty"`

	// Errors はページ内で失敗したステージの記録です。失敗したステージ以外の結果は有効です。
	Errors []StageError `json:"errors,omitempty"`
}

// StageError は 1 ステージの失敗を表します。
type StageError struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
