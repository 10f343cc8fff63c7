// Package credential は現在のセッションの認証情報（トークンとプロフィール）を保持する
// プロセス全体で単一のストアを提供する。
//
// ストアは次の3か所を常に同じ状態に保つ。
//
//   - メモリ上の状態（同期的に読み取れる）
//   - 永続化スナップショット（再起動後のハイドレーション元）
//   - サイドチャネル（Edge Gateが読み取るauth-token Cookie）
//
// ハイドレーションが完了するまでIsAuthenticatedは常にfalseを返す。
// 呼び出し側はハイドレーション前のトークン不在を未認証と解釈してはならない。
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// ErrEmptyToken は空のトークンを設定しようとした場合に返される。
var ErrEmptyToken = errors.New("credential: empty token")

// Persister は認証情報スナップショットの永続化先。
// repository.SnapshotRepositoryの部分集合として定義する。
type Persister interface {
	Load(ctx context.Context, name string) (*model.CredentialSnapshot, error)
	Save(ctx context.Context, name string, snapshot *model.CredentialSnapshot) error
	Delete(ctx context.Context, name string) error
}

// Snapshot はストアのある時点の状態。
type Snapshot struct {
	Token    string
	User     *model.User
	Hydrated bool
}

// Authenticated はハイドレーション済みでトークンとユーザーの両方がある場合にtrueを返す。
func (s Snapshot) Authenticated() bool {
	return s.Hydrated && s.Token != "" && s.User != nil
}

// Options はStoreの生成オプション。
type Options struct {
	// Name は永続化レコード名。既定値: auth-storage
	Name        string
	Persister   Persister
	SideChannel SideChannel
	Logger      *slog.Logger
}

// Store はプロセス全体で共有される認証情報ストア。
// 状態の変更は定義済みの操作（SetToken、SetUser、ClearAuth、Hydrate）のみで行う。
type Store struct {
	name      string
	persister Persister
	side      SideChannel
	logger    *slog.Logger

	// writeMu は変更操作全体（メモリ・サイドチャネル・永続化）を直列化する。
	writeMu sync.Mutex

	mu       sync.RWMutex
	token    string
	user     *model.User
	hydrated bool
	touched  bool // ハイドレーション前に変更操作が行われた

	hydrateOnce sync.Once
	hydratedCh  chan struct{}

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
}

// NewStore は空の未ハイドレーション状態のStoreを生成する。
func NewStore(opts Options) *Store {
	if opts.Name == "" {
		opts.Name = "auth-storage"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		name:       opts.Name,
		persister:  opts.Persister,
		side:       opts.SideChannel,
		logger:     opts.Logger,
		hydratedCh: make(chan struct{}),
		listeners:  make(map[int]func(Snapshot)),
	}
}

// SetToken はトークンをメモリ・永続化スナップショット・サイドチャネルに保存する。
func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	return s.mutate(ctx, func() bool {
		changed := s.token != token
		s.token = token
		return changed
	}, true)
}

// SetUser は認証済み利用者のプロフィールを保存する。
func (s *Store) SetUser(ctx context.Context, user *model.User) error {
	return s.mutate(ctx, func() bool {
		changed := !sameUser(s.user, user)
		s.user = user.Clone()
		return changed
	}, false)
}

// SetUserForToken は現在のトークンがtokenと一致する場合に限りプロフィールを保存する。
// 一致の確認と書き込みは他の変更操作と直列に行われる。保存した場合はtrueを返す。
func (s *Store) SetUserForToken(ctx context.Context, token string, user *model.User) (bool, error) {
	return s.mutateIf(ctx, func() bool {
		return token != "" && s.token == token
	}, func() bool {
		changed := !sameUser(s.user, user)
		s.user = user.Clone()
		return changed
	}, false)
}

// ClearAuth はトークンとプロフィールを全ての保存先から消去する。
// 既に消去済みでもエラーにはならない。
func (s *Store) ClearAuth(ctx context.Context) error {
	return s.mutate(ctx, func() bool {
		changed := s.token != "" || s.user != nil
		s.token = ""
		s.user = nil
		return changed
	}, true)
}

// mutate は変更を適用し、サイドチャネルと永続化スナップショットを同じ操作内で更新する。
// syncSide がtrueの場合はトークンの状態をサイドチャネルに反映する。
func (s *Store) mutate(ctx context.Context, apply func() bool, syncSide bool) error {
	_, err := s.mutateIf(ctx, nil, apply, syncSide)
	return err
}

// mutateIf はcondがtrueを返した場合のみmutateと同じ手順で変更を適用する。
// condはapplyと同じロックの中で評価される。
func (s *Store) mutateIf(ctx context.Context, cond func() bool, apply func() bool, syncSide bool) (bool, error) {
	s.writeMu.Lock()

	s.mu.Lock()
	if cond != nil && !cond() {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return false, nil
	}
	changed := apply()
	if !s.hydrated {
		s.touched = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	var errs []error
	if syncSide && s.side != nil {
		var err error
		if snap.Token != "" {
			err = s.side.Set(snap.Token)
		} else {
			err = s.side.Expire()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to update side channel: %w", err))
		}
	}
	if err := s.persist(ctx, snap); err != nil {
		errs = append(errs, err)
	}

	s.writeMu.Unlock()

	if changed {
		s.notify(snap)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("credential store write failed", slog.String("error", err.Error()))
		return true, err
	}
	return true, nil
}

func (s *Store) persist(ctx context.Context, snap Snapshot) error {
	if s.persister == nil {
		return nil
	}
	if snap.Token == "" && snap.User == nil {
		if err := s.persister.Delete(ctx, s.name); err != nil {
			return fmt.Errorf("failed to delete persisted credential: %w", err)
		}
		return nil
	}
	record := &model.CredentialSnapshot{Token: snap.Token, User: snap.User}
	if err := s.persister.Save(ctx, s.name, record); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	return nil
}

// Hydrate は永続化された状態を読み込み、ハイドレーション完了を通知する。
// 2回目以降の呼び出しは何もしない。読み込みに失敗しても空の状態でハイドレーション完了とする。
// ハイドレーション前にメモリ上で変更された値は永続化された値より優先する。
func (s *Store) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		var persisted *model.CredentialSnapshot
		if s.persister != nil {
			p, err := s.persister.Load(ctx, s.name)
			if err != nil {
				s.logger.Warn("failed to load persisted credential",
					slog.String("name", s.name),
					slog.String("error", err.Error()),
				)
			} else {
				persisted = p
			}
		}
		s.onHydrated(persisted)
	})
}

// onHydrated はハイドレーションコールバック。hydrateOnceにより1度だけ実行される。
func (s *Store) onHydrated(persisted *model.CredentialSnapshot) {
	s.writeMu.Lock()

	s.mu.Lock()
	restored := false
	if !s.touched && !persisted.IsEmpty() {
		s.token = persisted.Token
		s.user = persisted.User.Clone()
		restored = true
	}
	s.hydrated = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	// 再起動後もEdge Gateとストアの判断が一致するよう、復元したトークンを複製し直す。
	// トークンが無い場合はブラウザに残った古いCookieを失効させる。
	if s.side != nil {
		switch {
		case restored && snap.Token != "":
			if err := s.side.Set(snap.Token); err != nil {
				s.logger.Warn("failed to mirror restored token", slog.String("error", err.Error()))
			}
		case snap.Token == "":
			if err := s.side.Expire(); err != nil {
				s.logger.Warn("failed to expire side channel", slog.String("error", err.Error()))
			}
		}
	}

	s.writeMu.Unlock()

	close(s.hydratedCh)
	s.logger.Info("credential store hydrated",
		slog.Bool("restored", restored),
		slog.Bool("authenticated", snap.Authenticated()),
	)
	s.notify(snap)
}

// Token は現在のトークンを同期的に返す。
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User は現在のプロフィールのコピーを返す。
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone()
}

// IsHydrated はハイドレーションが完了しているかどうかを返す。
func (s *Store) IsHydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Hydrated はハイドレーション完了時にcloseされるチャネルを返す。
func (s *Store) Hydrated() <-chan struct{} {
	return s.hydratedCh
}

// IsAuthenticated はハイドレーション済み、かつトークンとプロフィールの両方がある場合にtrueを返す。
func (s *Store) IsAuthenticated() bool {
	return s.Snapshot().Authenticated()
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Token: s.token, User: s.user.Clone(), Hydrated: s.hydrated}
}

// Subscribe は状態が変化するたびに呼び出されるリスナーを登録する。
// リスナーはロックの外で呼び出されるため、ストアの操作を呼んでもよい。
// 戻り値の関数で登録を解除する。
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) notify(snap Snapshot) {
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func sameUser(a, b *model.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Username != b.Username || a.Name != b.Name || a.Role != b.Role {
		return false
	}
	if a.FuncionarioID == nil || b.FuncionarioID == nil {
		return a.FuncionarioID == b.FuncionarioID
	}
	return *a.FuncionarioID == *b.FuncionarioID
}
