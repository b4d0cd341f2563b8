package geometry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shouni/go-manga-lens/pkg/apperr"
)

func TestNormalizer_BoxRoundTrip(t *testing.T) {
	n, err := NewNormalizer(1000, 1400)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}

	t.Run("正規化矩形をピクセルに変換できること", func(t *testing.T) {
		got := n.BoxToPixels(NormBox{YMin: 100, XMin: 100, YMax: 140, XMax: 260})
		want := Box{X: 100, Y: 140, W: 160, H: 56}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("BoxToPixels mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ピクセル矩形を正規化して戻せること", func(t *testing.T) {
		b := Box{X: 100, Y: 140, W: 160, H: 56}
		back := n.BoxToPixels(n.BoxToNormalized(b))
		if diff := cmp.Diff(b, back); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ページ外の座標はクランプされること", func(t *testing.T) {
		got := n.BoxToPixels(NormBox{YMin: 900, XMin: 900, YMax: 1200, XMax: 1100})
		if got.X+got.W > 1000 || got.Y+got.H > 1400 {
			t.Errorf("box not clamped: %+v", got)
		}
	})
}

func TestNewNormalizer_Invalid(t *testing.T) {
	_, err := NewNormalizer(0, 10)
	if !errors.Is(err, apperr.ErrValidationFailed) {
		t.Fatalf("ValidationFailed を期待しましたが %v でした", err)
	}
}

func TestNormalizer_Ingest(t *testing.T) {
	n, _ := NewNormalizer(200, 100)

	tests := []struct {
		name  string
		input string
		conv  Convention
		want  Geometry
	}{
		{
			name:  "box_2d は常に正規化座標として読む",
			input: `{"box_2d":[100,100,500,500]}`,
			conv:  ConventionPixel,
			want: Geometry{
				Box:     Box{X: 20, Y: 10, W: 80, H: 40},
				Polygon: Polygon{{20, 10}, {100, 10}, {100, 50}, {20, 50}},
			},
		},
		{
			name:  "bounding_box も同じ規約",
			input: `{"bounding_box":[0,0,1000,1000]}`,
			conv:  ConventionPixel,
			want: Geometry{
				Box:     Box{X: 0, Y: 0, W: 200, H: 100},
				Polygon: Polygon{{0, 0}, {200, 0}, {200, 100}, {0, 100}},
			},
		},
		{
			name:  "box はピクセル規約で [x,y,w,h]",
			input: `{"box":[10,20,30,40]}`,
			conv:  ConventionPixel,
			want: Geometry{
				Box:     Box{X: 10, Y: 20, W: 30, H: 40},
				Polygon: Polygon{{10, 20}, {40, 20}, {40, 60}, {10, 60}},
			},
		},
		{
			name:  "正規化規約の polygon はピクセルに変換され外接矩形が付く",
			input: `{"polygon":[[0,0],[500,0],[500,500]]}`,
			conv:  ConventionNormalized,
			want: Geometry{
				Box:     Box{X: 0, Y: 0, W: 100, H: 50},
				Polygon: Polygon{{0, 0}, {100, 0}, {100, 50}},
			},
		},
		{
			name:  "points は {x,y} オブジェクトも受け付ける",
			input: `{"points":[{"x":1,"y":2},{"x":5,"y":2},{"x":5,"y":9}]}`,
			conv:  ConventionPixel,
			want: Geometry{
				Box:     Box{X: 1, Y: 2, W: 4, H: 7},
				Polygon: Polygon{{1, 2}, {5, 2}, {5, 9}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s LegacyShape
			if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, err := n.Ingest(s, tt.conv)
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Ingest mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("ジオメトリが無い入力は ValidationFailed", func(t *testing.T) {
		_, err := n.Ingest(LegacyShape{}, ConventionPixel)
		if !errors.Is(err, apperr.ErrValidationFailed) {
			t.Errorf("ValidationFailed を期待しましたが %v でした", err)
		}
	})
}

func TestBox_JSON(t *testing.T) {
	data, err := json.Marshal(Box{X: 1, Y: 2, W: 3, H: 4})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[1,2,3,4]" {
		t.Errorf("unexpected json %s", data)
	}
}

func TestBox_Pad(t *testing.T) {
	got := Box{X: 2, Y: 2, W: 10, H: 10}.Pad(5, 14, 100)
	want := Box{X: 0, Y: 0, W: 14, H: 17}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pad mismatch (-want +got):\n%s", diff)
	}
}
