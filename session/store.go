package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/authflow/authority"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrBackend wraps Redis failures.
	ErrBackend = errors.New("session backend unavailable")
	// ErrNoSession is returned when an operation needs a stored identity.
	ErrNoSession = errors.New("no session")
	// ErrInvalidIdentity is returned for an identity without an access token.
	ErrInvalidIdentity = errors.New("identity has no access token")
	// ErrNotHydrated is returned by writes issued before Hydrate completed.
	ErrNotHydrated = errors.New("session store not hydrated")
)

// Options configures a Store.
type Options struct {
	// Prefix namespaces the identity key and the change channel.
	Prefix string
	// TabID identifies this store as the origin of published changes.
	TabID  string
	Logger *slog.Logger
	Now    func() time.Time
}

type changeMessage struct {
	Origin string `json:"origin"`
	Kind   string `json:"kind"`
}

// Store is the authoritative in-memory identity of one tab, backed by Redis.
type Store struct {
	redis   redis.UniversalClient
	key     string
	channel string
	origin  string
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	current  Identity
	present  bool
	hydrated bool
	ready    chan struct{}

	subMu   sync.Mutex
	subs    map[uint64]func(Change)
	nextSub uint64

	listenMu sync.Mutex
	pubsub   *redis.PubSub
	wg       sync.WaitGroup
}

// NewStore returns a store. It reads nothing until Hydrate.
func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "af:session"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:   rdb,
		key:     prefix + ":identity",
		channel: prefix + ":events",
		origin:  opts.TabID,
		logger:  logger,
		now:     now,
		ready:   make(chan struct{}),
		subs:    make(map[uint64]func(Change)),
	}
}

// Hydrate loads the persisted identity once. Later calls return nil without
// reading storage again. A corrupt record is deleted and treated as absent.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated {
		return nil
	}

	id, err := s.read(ctx)
	if err != nil {
		return err
	}
	if id != nil {
		s.current, s.present = *id, true
	}
	s.hydrated = true
	close(s.ready)
	return nil
}

// Ready reports whether Hydrate has completed. Before that, the absence of an
// identity means loading, not signed out.
func (s *Store) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until Hydrate completes or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the in-memory identity.
func (s *Store) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.present
}

// Set persists id, replaces the in-memory identity and notifies.
func (s *Store) Set(ctx context.Context, id Identity) error {
	if id.AccessToken == "" {
		return ErrInvalidIdentity
	}
	id.UpdatedAt = s.now().UnixMilli()
	raw, err := Encode(&id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.hydrated {
		s.mu.Unlock()
		return ErrNotHydrated
	}
	if err := s.redis.Set(ctx, s.key, raw, 0).Err(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.current, s.present = id, true
	s.mu.Unlock()

	s.publish(ctx, ChangeSet)
	s.notify(Change{Kind: ChangeSet, Identity: id, Origin: s.origin})
	return nil
}

// ReplaceUser swaps the user summary of the stored identity.
func (s *Store) ReplaceUser(ctx context.Context, u authority.User) error {
	cur, ok := s.Current()
	if !ok {
		return ErrNoSession
	}
	cur.User = u
	return s.Set(ctx, cur)
}

// ReplaceTokens swaps the tokens of the stored identity. An empty refresh
// token keeps the current one.
func (s *Store) ReplaceTokens(ctx context.Context, access, refresh string) error {
	cur, ok := s.Current()
	if !ok {
		return ErrNoSession
	}
	cur.AccessToken = access
	if refresh != "" {
		cur.RefreshToken = refresh
	}
	return s.Set(ctx, cur)
}

// Clear removes the identity. It is idempotent and notifies on every call.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	s.current, s.present = Identity{}, false
	s.mu.Unlock()

	s.publish(ctx, ChangeClear)
	s.notify(Change{Kind: ChangeClear, Origin: s.origin})
	return nil
}

// Subscribe registers fn for every change. Callbacks run synchronously on
// the goroutine that made the change, in registration order.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Listen subscribes to changes made by other tabs. It returns once the
// subscription is confirmed; changes are applied until ctx ends or Close.
func (s *Store) Listen(ctx context.Context) error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.pubsub != nil {
		return nil
	}

	ps := s.redis.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("%w: subscribe: %v", ErrBackend, err)
	}
	s.pubsub = ps

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.applyRemote(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

// Close stops the listener and waits for it.
func (s *Store) Close() error {
	s.listenMu.Lock()
	ps := s.pubsub
	s.pubsub = nil
	s.listenMu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Store) applyRemote(ctx context.Context, payload string) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.logger.Warn("session: ignoring malformed change", "err", err)
		return
	}
	if msg.Origin == s.origin {
		return
	}

	s.mu.Lock()
	id, err := s.read(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("session: reload after remote change failed", "err", err)
		return
	}
	var ch Change
	if id == nil {
		s.current, s.present = Identity{}, false
		ch = Change{Kind: ChangeClear, Remote: true, Origin: msg.Origin}
	} else {
		s.current, s.present = *id, true
		ch = Change{Kind: ChangeSet, Identity: *id, Remote: true, Origin: msg.Origin}
	}
	s.mu.Unlock()

	s.notify(ch)
}

// read must be called with s.mu held.
func (s *Store) read(ctx context.Context) (*Identity, error) {
	raw, err := s.redis.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	id, err := Decode(raw)
	if err != nil {
		s.logger.Warn("session: discarding corrupt identity record", "err", err)
		_ = s.redis.Del(ctx, s.key).Err()
		return nil, nil
	}
	return id, nil
}

func (s *Store) publish(ctx context.Context, kind ChangeKind) {
	raw, _ := json.Marshal(changeMessage{Origin: s.origin, Kind: kind.String()})
	if err := s.redis.Publish(ctx, s.channel, raw).Err(); err != nil {
		s.logger.Warn("session: publish change failed", "kind", kind.String(), "err", err)
	}
}

func (s *Store) notify(ch Change) {
	s.subMu.Lock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
