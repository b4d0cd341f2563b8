package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shouni/go-manga-lens/pkg/apperr"
	"github.com/shouni/go-manga-lens/pkg/domain"
	"github.com/shouni/go-manga-lens/pkg/prompts"
	"github.com/shouni/go-manga-lens/pkg/retry"
)

type fakeText struct {
	mu      sync.Mutex
	resp    string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeText) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.resp, nil
}

func newTranslator(t *testing.T, gen *fakeText) *Translator {
	t.Helper()
	pb, err := prompts.NewTextPromptBuilder()
	if err != nil {
		t.Fatalf("NewTextPromptBuilder: %v", err)
	}
	return New(gen, pb).WithPolicy(retry.Fixed("translate", time.Millisecond, time.Millisecond, time.Millisecond))
}

func TestTranslator_Translate(t *testing.T) {
	ctx := context.Background()
	texts := []string{"a", "b", "c"}

	t.Run("不足分は原文で埋めること", func(t *testing.T) {
		gen := &fakeText{resp: `["x"]`}
		got, err := newTranslator(t, gen).Translate(ctx, Request{Texts: texts, Source: "en", Target: "pt-br"})
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		want := Result{Translations: []string{"x", "b", "c"}, Success: true}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("結果が一致しません (-want +got):\n%s", diff)
		}
	})

	t.Run("余分な訳は切り捨てること", func(t *testing.T) {
		gen := &fakeText{resp: "```json\n[\"1\", \"2\", \"3\", \"4\"]\n```"}
		got, err := newTranslator(t, gen).Translate(ctx, Request{Texts: texts, Source: "en", Target: "ja"})
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		if diff := cmp.Diff([]string{"1", "2", "3"}, got.Translations); diff != "" {
			t.Errorf("訳が一致しません (-want +got):\n%s", diff)
		}
	})

	t.Run("空の入力は呼び出さずに成功すること", func(t *testing.T) {
		gen := &fakeText{resp: `["x"]`}
		got, err := newTranslator(t, gen).Translate(ctx, Request{Source: "en", Target: "ja"})
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		if !got.Success || len(got.Translations) != 0 || gen.calls != 0 {
			t.Errorf("想定外の結果: %+v (calls=%d)", got, gen.calls)
		}
	})

	t.Run("プロンプトに言語名と用語集が含まれること", func(t *testing.T) {
		gen := &fakeText{resp: `["x","y","z"]`}
		_, err := newTranslator(t, gen).Translate(ctx, Request{
			Texts:    texts,
			Source:   "en",
			Target:   "pt-br",
			Glossary: []domain.GlossaryTerm{{Original: "Hero", Translation: "Herói"}},
		})
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		p := gen.prompts[0]
		for _, want := range []string{"English", "Brazilian Portuguese", `"Hero"`, "Herói", "0: a", "2: c"} {
			if !strings.Contains(p, want) {
				t.Errorf("プロンプトに %q が含まれていません:\n%s", want, p)
			}
		}
	})

	t.Run("レート制限は再試行して回復すること", func(t *testing.T) {
		limited := apperr.Errorf(apperr.KindRateLimited, "429")
		gen := &fakeText{resp: `["x","y","z"]`, errs: []error{limited, limited}}
		got, err := newTranslator(t, gen).Translate(ctx, Request{Texts: texts, Source: "en", Target: "ja"})
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		if gen.calls != 3 || !got.Success {
			t.Errorf("想定外の結果: %+v (calls=%d)", got, gen.calls)
		}
	})

	t.Run("再試行を使い切ると失敗の結果を返すこと", func(t *testing.T) {
		limited := apperr.Errorf(apperr.KindRateLimited, "429")
		gen := &fakeText{resp: `["x"]`, errs: []error{limited, limited, limited, limited}}
		got, err := newTranslator(t, gen).Translate(ctx, Request{Texts: texts, Source: "en", Target: "ja"})
		if !errors.Is(err, apperr.ErrRateLimited) {
			t.Errorf("RateLimited を期待しましたが %v でした", err)
		}
		if got.Success || len(got.Translations) != 0 || got.Error == "" {
			t.Errorf("失敗の結果になっていません: %+v", got)
		}
		if gen.calls != 4 {
			t.Errorf("期待値 4 回, 実際の値 %d 回", gen.calls)
		}
	})

	t.Run("解析できない応答は失敗になること", func(t *testing.T) {
		gen := &fakeText{resp: "sorry"}
		got, err := newTranslator(t, gen).Translate(ctx, Request{Texts: texts, Source: "en", Target: "ja"})
		if !errors.Is(err, apperr.ErrParseFailed) {
			t.Errorf("ParseFailed を期待しましたが %v でした", err)
		}
		if got.Success || len(got.Translations) != 0 {
			t.Errorf("部分的な結果を返しています: %+v", got)
		}
	})
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"en", "English"},
		{"pt-br", "Brazilian Portuguese"},
		{"ja", "Japanese"},
		{"not a language!", "not a language!"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := DisplayName(tt.code); got != tt.want {
				t.Errorf("期待値 %q, 実際の値 %q", tt.want, got)
			}
		})
	}
}
