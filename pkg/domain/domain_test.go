package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shouni/go-manga-lens/pkg/geometry"
)

func TestParseGlossary(t *testing.T) {
	t.Run("配列形式をパースし空要素と重複を捨てること", func(t *testing.T) {
		data := []byte(`[
			{"original": "忍者", "translation": "ninja"},
			{"original": "", "translation": "x"},
			{"original": "忍者", "translation": "shinobi"},
			{"original": "木ノ葉の里", "translation": "Hidden Leaf Village"}
		]`)
		got, err := ParseGlossary(data)
		if err != nil {
			t.Fatalf("パースに失敗しました: %v", err)
		}
		want := []GlossaryTerm{
			{Original: "木ノ葉の里", Translation: "Hidden Leaf Village"},
			{Original: "忍者", Translation: "ninja"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("用語集が一致しません (-want +got):\n%s", diff)
		}
	})

	t.Run("マップ形式も受け付けること", func(t *testing.T) {
		got, err := ParseGlossary([]byte(`{"Senpai": "Veterano"}`))
		if err != nil {
			t.Fatalf("パースに失敗しました: %v", err)
		}
		if len(got) != 1 || got[0].Translation != "Veterano" {
			t.Errorf("想定外の結果です: %+v", got)
		}
	})

	t.Run("不正な JSON はエラーになること", func(t *testing.T) {
		if _, err := ParseGlossary([]byte(`{ invalid`)); err == nil {
			t.Error("不正な JSON でエラーが発生しませんでした")
		}
	})
}

func TestBalloons(t *testing.T) {
	bs := Balloons{
		{ID: 7, Text: "Hi", Polygon: geometry.Polygon{{X: 1, Y: 1}}},
		{ID: 9},
	}

	t.Run("Clone は呼び出し元のポリゴンを共有しないこと", func(t *testing.T) {
		c := bs.Clone()
		c[0].Polygon[0].X = 100
		c[0].Text = "changed"
		if bs[0].Polygon[0].X != 1 || bs[0].Text != "Hi" {
			t.Error("Clone が元のスライスを書き換えました")
		}
	})

	t.Run("Texts と WithText", func(t *testing.T) {
		if diff := cmp.Diff([]string{"Hi", ""}, bs.Texts()); diff != "" {
			t.Errorf("Texts mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{0}, bs.WithText()); diff != "" {
			t.Errorf("WithText mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Renumber は 0 から振り直すこと", func(t *testing.T) {
		c := bs.Clone()
		c.Renumber()
		if c[0].ID != 0 || c[1].ID != 1 {
			t.Errorf("想定外の ID です: %d, %d", c[0].ID, c[1].ID)
		}
	})
}

func TestBalloon_JSON(t *testing.T) {
	b := Balloon{ID: 1, Confidence: 0.5, Box: geometry.Box{X: 1, Y: 2, W: 3, H: 4}}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal に失敗しました: %v", err)
	}
	want := `{"id":1,"confidence":0.5,"box":[1,2,3,4],"polygon":null}`
	if string(data) != want {
		t.Errorf("期待値 %s, 実際の値 %s", want, data)
	}
}
