package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scanquest/scanquest-server-go/internal/cache"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/catalog"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"github.com/scanquest/scanquest-server-go/internal/game/lifecycle"
	"github.com/scanquest/scanquest-server-go/internal/game/resolve"
	"github.com/scanquest/scanquest-server-go/internal/inventory"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Deps are the shared collaborators every session uses.
type Deps struct {
	Store     store.Store
	Cache     cache.Cache
	Catalog   *catalog.Catalog
	Pipeline  *resolve.Pipeline
	Lifecycle *lifecycle.Manager
}

// Manager creates, tracks and expires sessions.
type Manager struct {
	leasePeriod time.Duration
	store       store.Store
	cache       cache.Cache
	catalog     *catalog.Catalog
	pipeline    *resolve.Pipeline
	lifecycle   *lifecycle.Manager
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	onClose  []func(*Session)
	restores singleflight.Group
}

// NewManager creates a session manager. Sessions idle for longer than
// leasePeriod are closed by CleanupExpiredSessions; zero disables expiry.
func NewManager(leasePeriod time.Duration, deps Deps, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := deps.Cache
	if c == nil {
		c = cache.Nop{}
	}
	cat := deps.Catalog
	if cat == nil {
		cat = catalog.New(deps.Store, c, logger)
	}
	pipeline := deps.Pipeline
	if pipeline == nil {
		pipeline = resolve.New(resolve.Config{Catalog: cat, Store: deps.Store}, logger)
	}
	lc := deps.Lifecycle
	if lc == nil {
		lc = lifecycle.New(lifecycle.Config{Store: deps.Store, Cache: c, Templates: cat}, logger)
	}
	return &Manager{
		leasePeriod: leasePeriod,
		store:       deps.Store,
		cache:       c,
		catalog:     cat,
		pipeline:    pipeline,
		lifecycle:   lc,
		logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

// Open starts a session for userID, restoring the player's state and
// inventory from the cache and then the remote store.
func (m *Manager) Open(ctx context.Context, userID string, class card.PlayerClass) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("open session: user id is required")
	}

	state := ledger.Defaults()
	fresh := true
	if cached, ok, err := m.cache.LoadPlayer(ctx, userID); err != nil {
		m.logger.Warn("failed to read cached player state", zap.String("user_id", userID), zap.Error(err))
	} else if ok {
		state, fresh = cached, false
	}

	id := uuid.NewString()
	logger := m.logger.With(zap.String("session_id", id), zap.String("user_id", userID))
	now := time.Now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		mgr:          m,
		ledger:       ledger.New(userID, state, m.cache, logger.Named("ledger")),
		inventory:    inventory.New(m.restoreInventory(ctx, userID)),
		logger:       logger,
		class:        class,
		lastActivity: now,
	}
	if fresh {
		if err := m.cache.SavePlayer(ctx, userID, sess.ledger.Snapshot()); err != nil {
			logger.Warn("failed to cache initial player state", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	logger.Info("session opened",
		zap.String("class", string(class)),
		zap.Int("inventory", sess.inventory.Len()),
		zap.Bool("new_player", fresh),
	)
	return sess, nil
}

// restoreInventory returns the remote inventory when reachable, otherwise
// the cached one. Concurrent logins of one user share a single remote call.
func (m *Manager) restoreInventory(ctx context.Context, userID string) []card.Card {
	cached, _, err := m.cache.LoadInventory(ctx, userID)
	if err != nil {
		m.logger.Warn("failed to read cached inventory", zap.String("user_id", userID), zap.Error(err))
	}
	if m.store == nil {
		return cached
	}

	v, err, _ := m.restores.Do(userID, func() (any, error) {
		return m.store.GetInventory(ctx, userID)
	})
	if err != nil {
		m.logger.Warn("remote inventory unavailable, using cached copy",
			zap.String("user_id", userID),
			zap.Int("cached", len(cached)),
			zap.Error(err),
		)
		return cached
	}
	remote := card.CloneAll(v.([]card.Card))
	if err := m.cache.SaveInventory(ctx, userID, remote); err != nil {
		m.logger.Warn("failed to cache inventory", zap.String("user_id", userID), zap.Error(err))
	}
	return remote
}

// OnClose registers fn to run after a session is closed or expired. fn runs
// on the closing goroutine without the manager lock held.
func (m *Manager) OnClose(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// GetSession returns the live session with id.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// UpdateActivity refreshes the lease of id.
func (m *Manager) UpdateActivity(id string) {
	if sess, ok := m.GetSession(id); ok {
		sess.UpdateActivity()
	}
}

// GetActiveSessions returns the number of live sessions.
func (m *Manager) GetActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears down id and flushes its snapshot to the cache.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("close session %q: %w", id, ErrClosed)
	}
	return m.teardown(ctx, sess, "closed")
}

// CloseAll tears down every session, e.g. on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		all = append(all, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range all {
		if err := m.teardown(ctx, sess, "shutdown"); err != nil {
			m.logger.Warn("session flush failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}

// CleanupExpiredSessions closes idle sessions until ctx is done.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) {
	if m.leasePeriod <= 0 {
		return
	}
	ticker := time.NewTicker(m.leasePeriod / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expire(ctx, time.Now())
		}
	}
}

func (m *Manager) expire(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if now.Sub(sess.LastActivity()) > m.leasePeriod {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		if err := m.teardown(ctx, sess, "expired"); err != nil {
			m.logger.Warn("session flush failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return len(expired)
}

func (m *Manager) teardown(ctx context.Context, sess *Session, reason string) error {
	sess.close()
	err := errors.Join(
		m.cache.SavePlayer(ctx, sess.UserID, sess.ledger.Snapshot()),
		m.cache.SaveInventory(ctx, sess.UserID, sess.inventory.List()),
	)
	sess.logger.Info("session ended", zap.String("reason", reason))

	m.mu.RLock()
	hooks := append([]func(*Session){}, m.onClose...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(sess)
	}
	return err
}
