// Package authcheck は「保持している認証情報が現在も有効か」をバックエンドに問い合わせ、
// 結果をキャッシュするクエリを提供する。
//
// 結果は一定時間（staleTime）再利用され、同時に発生した問い合わせは1回にまとめられる。
// 認証情報ストアが変化すると世代が進み、古い世代の問い合わせ結果は破棄される。
// そのため、ClearAuth後に完了した問い合わせが認証済み状態を復活させることはない。
package authcheck

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/personnel-dashboard/internal/credential"
	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// DefaultStaleTime は結果を再利用する既定の期間。
const DefaultStaleTime = 5 * time.Minute

// Result は認証チェックの結果。
type Result struct {
	IsAuthenticated bool
	IsLoading       bool
}

// Checker は現在のトークンで利用者を取得する。apiclient.Clientが満たす。
type Checker interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// Store はクエリが参照する認証情報ストアの操作。credential.Storeが満たす。
type Store interface {
	Token() string
	SetUserForToken(ctx context.Context, token string, user *model.User) (bool, error)
	Subscribe(fn func(credential.Snapshot)) func()
}

// MetricsRecorder は認証チェック結果のメトリクスを記録する。
type MetricsRecorder interface {
	RecordAuthCheck(result string)
}

// Options はQueryの生成オプション。
type Options struct {
	StaleTime time.Duration
	Metrics   MetricsRecorder
	Logger    *slog.Logger
}

// Query はキャッシュ付きの認証チェック。
type Query struct {
	checker   Checker
	store     Store
	staleTime time.Duration
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group

	mu         sync.Mutex
	generation uint64
	settled    bool
	inFlight   bool
	authed     bool
	fetchedAt  time.Time
	lastToken  string
	listeners  map[int]func(Result)
	nextID     int

	unsubscribe func()
}

// New はQueryを生成し、ストアの変化の監視を開始する。
func New(checker Checker, store Store, opts Options) *Query {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	q := &Query{
		checker:   checker,
		store:     store,
		staleTime: opts.StaleTime,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       time.Now,
		listeners: make(map[int]func(Result)),
		lastToken: store.Token(),
	}
	q.unsubscribe = store.Subscribe(q.onStoreChange)
	return q
}

// Close はストアの監視を停止する。
func (q *Query) Close() {
	q.unsubscribe()
}

// onStoreChange はトークンが変化した場合に世代を進める。
// トークンが消えた場合はバックエンドに問い合わせずに未認証で確定する。
func (q *Query) onStoreChange(s credential.Snapshot) {
	q.mu.Lock()
	if s.Token == q.lastToken {
		q.mu.Unlock()
		return
	}
	q.lastToken = s.Token
	q.generation++
	q.inFlight = false
	if s.Token == "" {
		q.settled = true
		q.authed = false
		q.fetchedAt = q.now()
	} else {
		q.settled = false
	}
	r := q.resultLocked()
	q.mu.Unlock()

	q.notify(r)
}

// Result は現在の結果を返す。ブロックしない。
// 一度も確定していない場合、または問い合わせ中の場合はIsLoading=trueを返す。
func (q *Query) Result() Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resultLocked()
}

func (q *Query) resultLocked() Result {
	if !q.settled || q.inFlight {
		return Result{IsLoading: true}
	}
	return Result{IsAuthenticated: q.authed}
}

// Fetch はキャッシュが有効であればそれを返し、古い場合はバックエンドに問い合わせる。
func (q *Query) Fetch(ctx context.Context) Result {
	q.mu.Lock()
	fresh := q.settled && !q.inFlight && q.now().Sub(q.fetchedAt) < q.staleTime
	if fresh {
		r := q.resultLocked()
		q.mu.Unlock()
		return r
	}
	q.mu.Unlock()
	return q.run(ctx)
}

// Refetch はキャッシュを無視して問い合わせる。
func (q *Query) Refetch(ctx context.Context) Result {
	return q.run(ctx)
}

// Invalidate はキャッシュを古いものとして扱い、世代を進める。
// 進行中の問い合わせの結果は破棄される。次のFetchで再度問い合わせる。
func (q *Query) Invalidate() {
	q.mu.Lock()
	q.generation++
	q.settled = false
	q.inFlight = false
	r := q.resultLocked()
	q.mu.Unlock()

	q.notify(r)
}

func (q *Query) run(ctx context.Context) Result {
	q.mu.Lock()
	gen := q.generation
	token := q.store.Token()
	if token == "" {
		q.settled = true
		q.inFlight = false
		q.authed = false
		q.fetchedAt = q.now()
		r := q.resultLocked()
		q.mu.Unlock()
		q.record("no_token")
		q.notify(r)
		return r
	}
	startNotify := !q.inFlight
	q.inFlight = true
	loading := q.resultLocked()
	q.mu.Unlock()

	if startNotify {
		q.notify(loading)
	}

	q.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return q.check(ctx, gen, token), nil
	})

	return q.Result()
}

// check はバックエンドに問い合わせ、世代が変わっていなければ結果を確定する。
// 失敗はすべて未認証として扱い、エラーを外に伝播させない。
// 成功時は結果を確定する前に利用者情報をストアへ書き込むため、
// 認証済みの結果が見えた時点でストアにも利用者が揃っている。
// 書き込みは問い合わせに使ったトークンがストアに残っている場合に限る。
func (q *Query) check(ctx context.Context, gen uint64, token string) bool {
	user, err := q.checker.CurrentUser(ctx)
	authed := err == nil && user != nil

	if q.superseded(gen) {
		return false
	}

	if authed {
		stored, err := q.store.SetUserForToken(ctx, token, user)
		if err != nil {
			q.logger.Warn("failed to store refreshed user", slog.String("error", err.Error()))
		}
		if !stored && err == nil {
			q.discard(gen)
			return false
		}
	}

	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		q.discard(gen)
		return false
	}
	q.settled = true
	q.inFlight = false
	q.authed = authed
	q.fetchedAt = q.now()
	r := q.resultLocked()
	q.mu.Unlock()

	switch {
	case authed:
		q.record("authenticated")
	case err != nil:
		q.logger.Info("auth check failed", slog.String("error", err.Error()))
		q.record("rejected")
	default:
		q.record("empty")
	}

	q.notify(r)
	return authed
}

func (q *Query) superseded(gen uint64) bool {
	q.mu.Lock()
	stale := gen != q.generation
	q.mu.Unlock()
	if stale {
		q.discard(gen)
	}
	return stale
}

func (q *Query) discard(gen uint64) {
	q.logger.Debug("discarding superseded auth check", slog.Uint64("generation", gen))
	q.record("superseded")
}

func (q *Query) record(result string) {
	if q.metrics != nil {
		q.metrics.RecordAuthCheck(result)
	}
}

// Subscribe は結果が変化するたびに呼び出されるリスナーを登録する。
func (q *Query) Subscribe(fn func(Result)) func() {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.listeners, id)
			q.mu.Unlock()
		})
	}
}

func (q *Query) notify(r Result) {
	q.mu.Lock()
	fns := make([]func(Result), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}
