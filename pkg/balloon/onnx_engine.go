package balloon

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/semaphore"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/asset"
)

// DefaultONNXConcurrency は 1 つのセッションで同時に実行する推論数の既定値です。
const DefaultONNXConcurrency = 1

var (
	ortOnce    sync.Once
	ortInitErr error
)

// initRuntime は ONNX Runtime の共有ライブラリをプロセスで一度だけ初期化します。
func initRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXConfig は ONNXEngine の設定です。
type ONNXConfig struct {
	ModelPath   string
	RuntimeLib  string
	InputSize   int
	MinScore    float64
	IoU         float64
	Concurrency int64
}

// ONNXEngine は YOLO セグメンテーションモデルをプロセス内で実行する Engine です。
// 1 つのセッションを並行呼び出しで共有し、同時実行数はセマフォで制限します。
type ONNXEngine struct {
	cfg     ONNXConfig
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
	sem     *semaphore.Weighted
	outputs int
	loader  *asset.ImageLoader
}

// NewONNXEngine はモデルをロードして ONNXEngine を生成します。
func NewONNXEngine(cfg ONNXConfig, loader *asset.ImageLoader) (*ONNXEngine, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.IoU <= 0 {
		cfg.IoU = DefaultIoU
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultConfidence
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultONNXConcurrency
	}

	if err := initRuntime(cfg.RuntimeLib); err != nil {
		return nil, apperr.New(apperr.KindModelUnavailable, "ONNX Runtime の初期化に失敗しました", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, apperr.New(apperr.KindModelUnavailable, "モデル情報の取得に失敗しました", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, apperr.Errorf(apperr.KindModelUnavailable, "model %s has no inputs or outputs", cfg.ModelPath)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, apperr.New(apperr.KindModelUnavailable, "セッションオプションの作成に失敗しました", err)
	}

	outputNames := []string{outputs[0].Name}
	if len(outputs) > 1 {
		outputNames = append(outputNames, outputs[1].Name)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{inputs[0].Name}, outputNames, options)
	if err != nil {
		options.Destroy()
		return nil, apperr.New(apperr.KindModelUnavailable, "セッションの作成に失敗しました", err)
	}

	slog.Info("ONNX 検出モデルをロードしました",
		"model", cfg.ModelPath,
		"input", inputs[0].Name,
		"outputs", outputNames,
		"concurrency", cfg.Concurrency,
	)

	return &ONNXEngine{
		cfg:     cfg,
		session: session,
		options: options,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		outputs: len(outputNames),
		loader:  loader,
	}, nil
}

// Detect はページ画像を推論し、NMS とマスク復元を行った検出結果を返します。
func (e *ONNXEngine) Detect(ctx context.Context, src Source) ([]RawDetection, error) {
	img := src.Image
	if img == nil {
		if e.loader == nil {
			return nil, apperr.Errorf(apperr.KindValidationFailed, "ONNX engine needs a decoded image")
		}
		loaded, err := e.loader.Load(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		img = loaded
	}

	b := img.Bounds()
	lb := newLetterbox(b.Dx(), b.Dy(), e.cfg.InputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(lb.size), int64(lb.size)), lb.tensor(img))
	if err != nil {
		return nil, fmt.Errorf("入力テンソルの作成に失敗しました: %w", err)
	}
	defer input.Destroy()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	outputs := make([]ort.Value, e.outputs)
	err = e.session.Run([]ort.Value{input}, outputs)
	e.sem.Release(1)
	for _, o := range outputs {
		if o != nil {
			defer o.Destroy()
		}
	}
	if err != nil {
		return nil, apperr.New(apperr.KindGenerationFailed, "推論に失敗しました", err)
	}

	det, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, apperr.Errorf(apperr.KindGenerationFailed, "unsupported output type %T", outputs[0])
	}

	var (
		protos         []float32
		nm, mh, mw     int
		hasPrototypeIO bool
	)
	if e.outputs > 1 {
		if p, ok := outputs[1].(*ort.Tensor[float32]); ok {
			shape := p.GetShape()
			if len(shape) == 4 {
				nm, mh, mw = int(shape[1]), int(shape[2]), int(shape[3])
				protos = p.GetData()
				hasPrototypeIO = true
			}
		}
	}

	cands := nms(decodeCandidates(det.GetData(), det.GetShape(), nm, e.cfg.MinScore), e.cfg.IoU)

	raws := make([]RawDetection, 0, len(cands))
	for _, c := range cands {
		var contour []image.Point
		if hasPrototypeIO {
			mask := instanceMask(c, protos, nm, mh, mw, lb.size)
			pts, err := maskContour(mask, mh, mw)
			if err != nil {
				slog.DebugContext(ctx, "マスクの輪郭抽出に失敗しました", "error", err)
			}
			contour = pts
		}
		raws = append(raws, lb.toDetection(c, contour, float64(lb.size)/float64(max(mw, 1))))
	}
	return raws, nil
}

// Close はセッションを破棄します。
func (e *ONNXEngine) Close() error {
	var firstErr error
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			firstErr = err
		}
		e.session = nil
	}
	if e.options != nil {
		if err := e.options.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.options = nil
	}
	return firstErr
}
