// Package guard はページ描画の直前に、認証情報ストアと認証チェックの両方を確認する
// マウントガードを提供する。
//
// ストアのハイドレーションが完了し、かつ認証チェックが確定するまでは判定を保留し、
// 保護対象のコンテンツを返さない。判定はストアと認証チェックの現在の状態から
// 毎回計算し直すため、後からClearAuthされた場合も未認証に戻る。
package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/personnel-dashboard/internal/authcheck"
	"github.com/hitoshi/personnel-dashboard/internal/credential"
	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// DefaultSettleTimeout はミドルウェアが判定の確定を待つ既定の時間。
const DefaultSettleTimeout = 3 * time.Second

// State はガードの状態。
type State int

const (
	StateInitializing State = iota
	StateUnauthorized
	StateAuthorized
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorized:
		return "authorized"
	default:
		return "initializing"
	}
}

// Variant は未認可時の振る舞いを表す。
type Variant int

const (
	// VariantRedirect はログイン画面または /unauthorized にリダイレクトする。
	VariantRedirect Variant = iota
	// VariantDeny はアクセス拒否ページを返す。
	VariantDeny
)

// Verdict はガードの判定結果。
type Verdict struct {
	State State
	// RoleMismatch は認証済みだが必要なロールを持たない場合にtrue。
	RoleMismatch bool
}

// CredentialSource はガードが参照する認証情報ストアの操作。credential.Storeが満たす。
type CredentialSource interface {
	IsHydrated() bool
	Hydrated() <-chan struct{}
	IsAuthenticated() bool
	User() *model.User
	Subscribe(fn func(credential.Snapshot)) func()
}

// AuthCheck はガードが参照する認証チェックの操作。authcheck.Queryが満たす。
type AuthCheck interface {
	Result() authcheck.Result
	Fetch(ctx context.Context) authcheck.Result
	Subscribe(fn func(authcheck.Result)) func()
}

// MetricsRecorder はガードの判定を記録する。
type MetricsRecorder interface {
	RecordGuardVerdict(state string)
}

// Options はGuardの生成オプション。
type Options struct {
	RequiredRole  string
	Variant       Variant
	SettleTimeout time.Duration
	Metrics       MetricsRecorder
	Logger        *slog.Logger
}

// Guard はマウントガード。
type Guard struct {
	store         CredentialSource
	query         AuthCheck
	requiredRole  string
	variant       Variant
	settleTimeout time.Duration
	metrics       MetricsRecorder
	logger        *slog.Logger
}

// New はGuardを生成する。
func New(store CredentialSource, query AuthCheck, opts Options) *Guard {
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{
		store:         store,
		query:         query,
		requiredRole:  opts.RequiredRole,
		variant:       opts.Variant,
		settleTimeout: opts.SettleTimeout,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
}

// Variant はガードの振る舞いの種類を返す。
func (g *Guard) Variant() Variant {
	return g.variant
}

// Evaluate はストアと認証チェックの現在の状態から判定を計算する。
func (g *Guard) Evaluate() Verdict {
	if !g.store.IsHydrated() {
		return Verdict{State: StateInitializing}
	}

	result := g.query.Result()
	if result.IsLoading {
		return Verdict{State: StateInitializing}
	}
	if !result.IsAuthenticated || !g.store.IsAuthenticated() {
		return Verdict{State: StateUnauthorized}
	}

	if g.requiredRole != "" {
		user := g.store.User()
		if user == nil || !user.HasRole(g.requiredRole) {
			return Verdict{State: StateUnauthorized, RoleMismatch: true}
		}
	}
	return Verdict{State: StateAuthorized}
}

// Watch はストアまたは認証チェックが変化するたびに判定を送出するチャネルを返す。
// 最初に現在の判定を送出する。同じ判定が続く場合は送出しない。
// ctxがキャンセルされるとチャネルは閉じられる。
func (g *Guard) Watch(ctx context.Context) <-chan Verdict {
	out := make(chan Verdict, 1)
	changed := make(chan struct{}, 1)
	signal := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	var unsubOnce sync.Once
	unsubStore := g.store.Subscribe(func(credential.Snapshot) { signal() })
	unsubQuery := g.query.Subscribe(func(authcheck.Result) { signal() })
	unsubscribe := func() {
		unsubOnce.Do(func() {
			unsubStore()
			unsubQuery()
		})
	}

	go func() {
		defer close(out)
		defer unsubscribe()

		hydrated := g.store.Hydrated()
		last := g.Evaluate()
		select {
		case out <- last:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-hydrated:
				hydrated = nil
			case <-changed:
			}

			v := g.Evaluate()
			if v == last {
				continue
			}
			last = v
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Settle はハイドレーション完了を待って認証チェックを開始し、
// 判定が確定するかctxが終了するまで待つ。確定しなかった場合は
// StateInitializingの判定を返す。
func (g *Guard) Settle(ctx context.Context) Verdict {
	ctx, cancel := context.WithTimeout(ctx, g.settleTimeout)
	defer cancel()

	select {
	case <-g.store.Hydrated():
	case <-ctx.Done():
		return g.Evaluate()
	}

	// 問い合わせは複数のリクエストで共有されるため、
	// 個々のリクエストのキャンセルで結果が確定しないよう切り離す。
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.query.Fetch(context.WithoutCancel(ctx))
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return g.Evaluate()
}

func (g *Guard) record(v Verdict) {
	if g.metrics == nil {
		return
	}
	state := v.State.String()
	if v.RoleMismatch {
		state = "role_mismatch"
	}
	g.metrics.RecordGuardVerdict(state)
}
