package balloon

import (
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shouni/go-http-kit/httpkit"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

const sidecarJSON = `{"status":"success","balloons":[{"id":0,"conf":0.87,"box":[10,20,30,40],"polygon":[[10,20],[40,20],[40,60]]}],"count":1}`

func TestParseSidecar(t *testing.T) {
	t.Run("前後のログを無視して JSON を読むこと", func(t *testing.T) {
		out := []byte("loading model...\n" + sidecarJSON + "\n")
		got, err := parseSidecar(out)
		if err != nil {
			t.Fatalf("parseSidecar: %v", err)
		}
		want := []RawDetection{{
			Confidence: 0.87, X1: 10, Y1: 20, X2: 40, Y2: 60,
			Contour: geometry.Polygon{{X: 10, Y: 20}, {X: 40, Y: 20}, {X: 40, Y: 60}},
		}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("status=error は GenerationFailed になること", func(t *testing.T) {
		_, err := parseSidecar([]byte(`{"status":"error","message":"Sem imagem"}`))
		if !errors.Is(err, apperr.ErrGenerationFailed) {
			t.Errorf("GenerationFailed を期待しましたが %v でした", err)
		}
	})

	t.Run("JSON が無ければ ParseFailed になること", func(t *testing.T) {
		_, err := parseSidecar([]byte("Traceback (most recent call last):"))
		if !errors.Is(err, apperr.ErrParseFailed) {
			t.Errorf("ParseFailed を期待しましたが %v でした", err)
		}
	})
}

func writeTempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	if err := os.WriteFile(path, []byte("not really a png"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// newTestClient はテストサーバー向けにリトライ間隔を縮めた httpkit クライアントを返します。
func newTestClient(srv *httptest.Server) *httpkit.Client {
	return httpkit.New(time.Second,
		httpkit.WithHTTPClient(srv.Client()),
		httpkit.WithSkipNetworkValidation(true),
		httpkit.WithMaxRetries(1),
		httpkit.WithInitialInterval(time.Millisecond),
		httpkit.WithMaxInterval(time.Millisecond),
	)
}

func TestHTTPEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("multipart でファイルを送り応答を読むこと", func(t *testing.T) {
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer file.Close()
			gotBody, _ = io.ReadAll(file)
			w.Write([]byte(sidecarJSON))
		}))
		defer srv.Close()

		raws, err := NewHTTPEngine(srv.URL, newTestClient(srv)).Detect(ctx, Source{Path: writeTempImage(t)})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if string(gotBody) != "not really a png" {
			t.Errorf("送信したファイルが一致しません: %q", gotBody)
		}
		if len(raws) != 1 || raws[0].Confidence != 0.87 {
			t.Errorf("想定外の検出結果: %+v", raws)
		}
	})

	t.Run("画像だけの入力は PNG にして送ること", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","balloons":[]}`))
		}))
		defer srv.Close()

		raws, err := NewHTTPEngine(srv.URL, newTestClient(srv)).Detect(ctx, Source{Image: image.NewGray(image.Rect(0, 0, 4, 4))})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(raws) != 0 {
			t.Errorf("期待値 0 件, 実際の値 %d 件", len(raws))
		}
	})

	t.Run("429 は RateLimited になること", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := NewHTTPEngine(srv.URL, newTestClient(srv)).Detect(ctx, Source{Path: writeTempImage(t)})
		if !apperr.IsRateLimited(err) {
			t.Errorf("RateLimited を期待しましたが %v でした", err)
		}
	})

	t.Run("4xx は本文付きの GenerationFailed になりリトライしないこと", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "bad image", http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := NewHTTPEngine(srv.URL, newTestClient(srv)).Detect(ctx, Source{Path: writeTempImage(t)})
		if !errors.Is(err, apperr.ErrGenerationFailed) {
			t.Errorf("GenerationFailed を期待しましたが %v でした", err)
		}
		if calls != 1 {
			t.Errorf("呼び出し回数: 期待値 1, 実際の値 %d", calls)
		}
	})

	t.Run("存在しないエンドポイントは ModelUnavailable になること", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := NewHTTPEngine(srv.URL+"/detect", newTestClient(srv)).Detect(ctx, Source{Path: writeTempImage(t)})
		if !errors.Is(err, apperr.ErrModelUnavailable) {
			t.Errorf("ModelUnavailable を期待しましたが %v でした", err)
		}
	})

	t.Run("存在しないファイルは NotFound になること", func(t *testing.T) {
		_, err := NewHTTPEngine("http://127.0.0.1:0", nil).Detect(ctx, Source{Path: "/no/such/page.png"})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("NotFound を期待しましたが %v でした", err)
		}
	})
}

func TestHTTPEngine_CheckHealth(t *testing.T) {
	ctx := context.Background()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	t.Run("検出エンドポイントと同じ階層の /health を確認すること", func(t *testing.T) {
		if err := NewHTTPEngine(srv.URL+"/detect", newTestClient(srv)).CheckHealth(ctx); err != nil {
			t.Errorf("CheckHealth: %v", err)
		}
		if gotPath != "/health" {
			t.Errorf("パス: %q", gotPath)
		}
	})

	t.Run("異常応答は ModelUnavailable になること", func(t *testing.T) {
		err := NewHTTPEngine(srv.URL+"/v1/detect", newTestClient(srv)).CheckHealth(ctx)
		if !errors.Is(err, apperr.ErrModelUnavailable) {
			t.Errorf("ModelUnavailable を期待しましたが %v でした", err)
		}
	})
}

func TestExecEngine(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh が必要です")
	}
	ctx := context.Background()

	t.Run("標準出力の JSON を読むこと", func(t *testing.T) {
		script := `echo "Ultralytics YOLOv8"; echo '` + sidecarJSON + `'`
		engine := NewExecEngine("/bin/sh", []string{"-c", script, "detect"}, 0, t.TempDir())
		raws, err := engine.Detect(ctx, Source{Path: writeTempImage(t)})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(raws) != 1 || raws[0].X2 != 40 {
			t.Errorf("想定外の検出結果: %+v", raws)
		}
	})

	t.Run("画像パスが第 1 引数として渡されること", func(t *testing.T) {
		script := `test -f "$1" && echo '{"status":"success","balloons":[]}'`
		engine := NewExecEngine("/bin/sh", []string{"-c", script, "detect"}, 0, t.TempDir())
		raws, err := engine.Detect(ctx, Source{Image: image.NewGray(image.Rect(0, 0, 2, 2))})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(raws) != 0 {
			t.Errorf("期待値 0 件, 実際の値 %d 件", len(raws))
		}
	})

	t.Run("起動できないコマンドは ModelUnavailable になること", func(t *testing.T) {
		engine := NewExecEngine("/no/such/python", nil, 0, t.TempDir())
		_, err := engine.Detect(ctx, Source{Path: writeTempImage(t)})
		if !errors.Is(err, apperr.ErrModelUnavailable) {
			t.Errorf("ModelUnavailable を期待しましたが %v でした", err)
		}
	})
}
