// Package apperr は、パイプラインの各ステージが返すエラー種別を定義します。
package apperr

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類です。
type Kind string

const (
	KindUnknown          Kind = "Unknown"
	KindNotFound         Kind = "NotFound"         // ソース画像が存在しない、または読めない
	KindModelUnavailable Kind = "ModelUnavailable" // エンジンが未初期化・未ロード
	KindGenerationFailed Kind = "GenerationFailed" // 生成呼び出しが有効な出力を返さなかった
	KindParseFailed      Kind = "ParseFailed"      // 応答を期待する構造として解釈できなかった
	KindRateLimited      Kind = "RateLimited"      // 一時的なレート制限（リトライ可能）
	KindValidationFailed Kind = "ValidationFailed" // 空・退化したジオメトリ入力
)

// errors.Is で種別比較するための番兵です。
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrModelUnavailable = &Error{Kind: KindModelUnavailable}
	ErrGenerationFailed = &Error{Kind: KindGenerationFailed}
	ErrParseFailed      = &Error{Kind: KindParseFailed}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
)

// Error は種別付きのエラーです。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New は種別付きエラーを生成します。
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf は書式付きメッセージで種別付きエラーを生成します。
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別が一致すれば true を返します。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf はエラーチェーンを辿り、最初に見つかった種別を返します。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRateLimited は err がレート制限に分類されるかを判定します。
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
