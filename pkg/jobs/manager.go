// Package jobs は、ページ単位の処理をジョブとして非同期に実行し、状態を問い合わせられるようにします。
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/shouni/go-manga-lens/pkg/apperr"
)

const (
	// DefaultConcurrency は同時に実行するジョブ数の既定値です。
	DefaultConcurrency = 4
	// DefaultTTL は終了したジョブの記録を、最初に Get で取り出してから保持する期間です。
	DefaultTTL = 1 * time.Hour
	// cleanupInterval は期限切れの記録を掃除する間隔です。
	cleanupInterval = 10 * time.Minute
)

// State はジョブの状態です。PENDING → PROCESSING → COMPLETED | FAILED の順にだけ遷移します。
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Done は終了状態かどうかを返します。
func (s State) Done() bool {
	return s == StateCompleted || s == StateFailed
}

// Task はジョブとして実行する処理です。
// エラーを返した場合も、それまでに得られた結果を T として返せます。
type Task[T any] func(ctx context.Context) (T, error)

// Job はジョブの記録です。Get が返す値はその時点のスナップショットです。
type Job[T any] struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	State State  `json:"state"`
	// Result は COMPLETED では最終結果、FAILED では失敗までに得られた部分結果です。
	Result     T           `json:"result"`
	ErrorKind  apperr.Kind `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  time.Time   `json:"started_at,omitzero"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
}

// Config は Manager の設定です。
type Config struct {
	Concurrency int
	TTL         time.Duration
}

// DefaultConfig は既定の設定を返します。
func DefaultConfig() Config {
	return Config{Concurrency: DefaultConcurrency, TTL: DefaultTTL}
}

// record はストアに置く値です。collected は終了後に一度 Get されたかを表します。
type record[T any] struct {
	job       Job[T]
	collected bool
}

// Manager はジョブを同時実行数の上限付きで実行し、記録を保持します。
// 記録は終了して Get で取り出されるまで期限切れになりません。
type Manager[T any] struct {
	store   *cache.Cache
	group   errgroup.Group
	pending sync.WaitGroup
}

// NewManager は Manager を生成します。
func NewManager[T any](cfg Config) *Manager[T] {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	m := &Manager[T]{store: cache.New(cfg.TTL, cleanupInterval)}
	m.group.SetLimit(cfg.Concurrency)
	return m
}

// Submit は task をジョブとして登録し、ID を即座に返します。
// 実行枠が空くまでジョブは PENDING のままです。
func (m *Manager[T]) Submit(ctx context.Context, label string, task Task[T]) string {
	job := Job[T]{
		ID:        uuid.NewString(),
		Label:     label,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
	m.put(job)
	slog.InfoContext(ctx, "ジョブを登録しました", "job_id", job.ID, "label", label)

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.group.Go(func() error {
			m.execute(ctx, job, task)
			return nil
		})
	}()
	return job.ID
}

// Get は id のジョブの現在の記録を返します。
// 終了したジョブを初めて取り出した時点から TTL が数え始められます。
func (m *Manager[T]) Get(id string) (Job[T], error) {
	v, ok := m.store.Get(id)
	if !ok {
		return Job[T]{}, apperr.Errorf(apperr.KindNotFound, "job %s not found", id)
	}
	rec := v.(record[T])
	if rec.job.State.Done() && !rec.collected {
		rec.collected = true
		m.store.Set(id, rec, cache.DefaultExpiration)
	}
	return rec.job, nil
}

// List は保持しているジョブを登録順に返します。
func (m *Manager[T]) List() []Job[T] {
	items := m.store.Items()
	out := make([]Job[T], 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(record[T]).job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait は登録済みのジョブがすべて終了するまで待ちます。
func (m *Manager[T]) Wait() {
	m.pending.Wait()
	_ = m.group.Wait()
}

// Await は id のジョブが終了状態になるか ctx が終わるまでポーリングします。
func (m *Manager[T]) Await(ctx context.Context, id string, interval time.Duration) (Job[T], error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := m.Get(id)
		if err != nil || job.State.Done() {
			return job, err
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager[T]) execute(ctx context.Context, job Job[T], task Task[T]) {
	logger := slog.With("job_id", job.ID, "label", job.Label)

	job.State = StateProcessing
	job.StartedAt = time.Now()
	m.put(job)
	logger.InfoContext(ctx, "ジョブを開始します")

	result, err := run(ctx, task)
	job.Result = result
	job.FinishedAt = time.Now()
	if err != nil {
		job.State = StateFailed
		job.ErrorKind = apperr.KindOf(err)
		job.Error = err.Error()
		logger.ErrorContext(ctx, "ジョブが失敗しました", "kind", job.ErrorKind, "error", err)
	} else {
		job.State = StateCompleted
		logger.InfoContext(ctx, "ジョブが完了しました", "duration", job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	m.put(job)
}

// run は task を実行し、panic をエラーに変換します。
func run[T any](ctx context.Context, task Task[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ジョブが panic しました: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return task(ctx)
}

// put は未回収の記録として期限なしで保存します。
func (m *Manager[T]) put(job Job[T]) {
	m.store.Set(job.ID, record[T]{job: job}, cache.NoExpiration)
}
