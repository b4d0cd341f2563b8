package balloon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

// DefaultExecTimeout は検出スクリプト 1 回あたりの実行時間の上限です。
const DefaultExecTimeout = 120 * time.Second

// ExecEngine は検出スクリプトを子プロセスとして起動する Engine です。
// スクリプトは画像パスを第 1 引数に受け取り、標準出力に JSON を 1 つ書き出します。
type ExecEngine struct {
	command string
	args    []string
	timeout time.Duration
	tempDir string
}

// NewExecEngine は ExecEngine を生成します。
// command はインタプリタ（例: python3）、args はスクリプトパスなど画像パスの前に付ける引数です。
func NewExecEngine(command string, args []string, timeout time.Duration, tempDir string) *ExecEngine {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &ExecEngine{command: command, args: args, timeout: timeout, tempDir: tempDir}
}

// Detect はスクリプトを実行し、出力中の JSON を検出結果に変換します。
func (e *ExecEngine) Detect(ctx context.Context, src Source) ([]RawDetection, error) {
	path, cleanup, err := e.materialize(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append(append([]string{}, e.args...), path)
	cmd := exec.CommandContext(ctx, e.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	slog.DebugContext(ctx, "検出スクリプトが終了しました",
		"command", e.command,
		"elapsed", time.Since(start),
		"stdout_bytes", stdout.Len(),
	)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, "detector timed out after %s", e.timeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, apperr.New(apperr.KindModelUnavailable, "検出スクリプトを起動できません", runErr)
		}
		// 異常終了でも JSON でエラー内容を返していることがあるので、まずは読んでみます。
		if raws, err := parseSidecar(stdout.Bytes()); err == nil {
			return raws, nil
		} else if apperr.KindOf(err) == apperr.KindGenerationFailed {
			return nil, err
		}
		return nil, apperr.New(apperr.KindGenerationFailed, fmt.Sprintf("検出スクリプトが異常終了しました: %s", truncate(stderr.String(), 200)), runErr)
	}

	return parseSidecar(stdout.Bytes())
}

// materialize はファイルパスを持たない入力を一時 PNG に書き出します。
// ファイル名にはセッショントークンを含め、並行実行で衝突しないようにします。
func (e *ExecEngine) materialize(src Source) (string, func(), error) {
	if src.Path != "" {
		return src.Path, func() {}, nil
	}
	if src.Image == nil {
		return "", nil, apperr.Errorf(apperr.KindValidationFailed, "source has neither path nor image")
	}

	dir := e.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("detect_%s.png", uuid.NewString()))
	f, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	if err := png.Encode(f, src.Image); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("PNG エンコードに失敗しました: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}
