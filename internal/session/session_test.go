package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/cache"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/catalog"
	"github.com/scanquest/scanquest-server-go/internal/fallback"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"github.com/scanquest/scanquest-server-go/internal/game/lifecycle"
	"github.com/scanquest/scanquest-server-go/internal/game/resolve"
	"github.com/scanquest/scanquest-server-go/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type env struct {
	store   *memstore.Store
	cache   *cache.SQLite
	catalog *catalog.Catalog
	release chan struct{}
	started chan string
	mgr     *Manager
}

// newEnv wires a manager whose interpreter blocks until release is closed or
// receives a value.
func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	e := &env{
		store:   memstore.New(),
		cache:   c,
		release: make(chan struct{}, 8),
		started: make(chan string, 8),
	}
	e.catalog = catalog.New(e.store, c, logger)
	seed, err := catalog.LoadSeed("")
	require.NoError(t, err)
	e.catalog.Replace(seed, catalog.SourceSeed)

	interp := fallback.InterpreterFunc(func(ctx context.Context, code string) (card.Card, error) {
		e.started <- code
		select {
		case <-e.release:
			return card.Card{Title: "Echo " + code}, nil
		case <-ctx.Done():
			return card.Card{}, ctx.Err()
		}
	})
	pipeline := resolve.New(resolve.Config{Catalog: e.catalog, Store: e.store, AdminScope: "admin", Interpreter: interp}, logger)
	lc := lifecycle.New(lifecycle.Config{Store: e.store, Cache: c, Templates: e.catalog}, logger)
	e.mgr = NewManager(time.Minute, Deps{Store: e.store, Cache: c, Catalog: e.catalog, Pipeline: pipeline, Lifecycle: lc}, logger)
	return e
}

func TestOpenUsesDefaultsForNewPlayer(t *testing.T) {
	e := newEnv(t)
	sess, err := e.mgr.Open(context.Background(), "u1", card.ClassMage)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, ledger.Defaults(), sess.State())
	assert.Empty(t, sess.Inventory())
	assert.Equal(t, card.ClassMage, sess.Context().Class)

	got, ok := e.mgr.GetSession(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, e.mgr.GetActiveSessions())
}

func TestOpenRequiresUser(t *testing.T) {
	e := newEnv(t)
	_, err := e.mgr.Open(context.Background(), "  ", card.ClassNone)
	assert.Error(t, err)
}

func TestOpenRestoresRemoteThenCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Seed("u1", card.Card{ID: "amulet", Type: card.TypeItem})
	require.NoError(t, e.cache.SavePlayer(ctx, "u1", ledger.State{HP: 40, Mana: 10, Gold: 7}))

	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)
	assert.Equal(t, 40, sess.State().HP)
	require.Len(t, sess.Inventory(), 1)

	e.store.Fail(memstore.OpGetInventory, errors.New("offline"))
	again, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)
	require.Len(t, again.Inventory(), 1, "cached inventory is used when the store is down")
	assert.Equal(t, "amulet", again.Inventory()[0].ID)
}

func TestScanPresentsAndDismissOffersTurnAdvance(t *testing.T) {
	e := newEnv(t)
	sess, err := e.mgr.Open(context.Background(), "u1", card.ClassNone)
	require.NoError(t, err)

	out, err := sess.Scan(context.Background(), "vlk-samotar")
	require.NoError(t, err)
	assert.Equal(t, resolve.SourceCatalog, out.Source)

	p, ok := sess.Presented()
	require.True(t, ok)
	assert.Equal(t, "vlk-samotar", p.Outcome.Card.ID)

	assert.True(t, sess.Dismiss())
	_, ok = sess.Presented()
	assert.False(t, ok)
	assert.False(t, sess.Dismiss(), "nothing presented, nothing to offer")
}

func TestDismissOfOwnedCardDoesNotOfferTurnAdvance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Seed("u1", card.Card{ID: "amulet", Type: card.TypeItem})
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)

	out, err := sess.Scan(ctx, "AMULET")
	require.NoError(t, err)
	assert.Equal(t, resolve.SourceInventory, out.Source)
	assert.False(t, sess.Dismiss())
	assert.Equal(t, ledger.Defaults(), sess.State(), "dismiss never mutates state")
}

func TestSecondScanIsRejectedWhileResolving(t *testing.T) {
	e := newEnv(t)
	sess, err := e.mgr.Open(context.Background(), "u1", card.ClassNone)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sess.Scan(context.Background(), "slow-code")
		done <- err
	}()
	assert.Equal(t, "slow-code", <-e.started)
	assert.True(t, sess.Scanning())

	_, err = sess.Scan(context.Background(), "other")
	assert.ErrorIs(t, err, ErrScanInFlight)

	e.release <- struct{}{}
	require.NoError(t, <-done)
	p, ok := sess.Presented()
	require.True(t, ok)
	assert.Equal(t, "Echo slow-code", p.Outcome.Card.Title)
}

func TestStaleScanIsDropped(t *testing.T) {
	e := newEnv(t)
	sess, err := e.mgr.Open(context.Background(), "u1", card.ClassNone)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sess.Scan(context.Background(), "late-code")
		done <- err
	}()
	<-e.started
	sess.Dismiss()
	e.release <- struct{}{}

	assert.ErrorIs(t, <-done, ErrStale)
	_, ok := sess.Presented()
	assert.False(t, ok)
	assert.False(t, sess.Scanning())
}

func TestUseConsumesPresentedCard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Seed("u1", card.Card{
		ID: "purse", Type: card.TypeItem, IsConsumable: true,
		Stats: []card.Stat{{Label: "Mince", Value: "+30"}},
	})
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)

	_, err = sess.Scan(ctx, "purse")
	require.NoError(t, err)
	res, err := sess.Use(ctx)
	require.NoError(t, err)
	assert.True(t, res.Consumed)
	assert.Equal(t, 130, sess.State().Gold)
	assert.Empty(t, sess.Inventory())

	_, err = sess.Use(ctx)
	assert.ErrorIs(t, err, card.ErrInvalidMutation, "use closes the presentation")

	cached, ok, err := e.cache.LoadPlayer(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 130, cached.Gold, "ledger writes through to the cache")
}

func TestNightContextAppliesToScans(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)

	day, err := sess.Scan(ctx, "vlk-samotar")
	require.NoError(t, err)
	sess.SetContext(true, card.ClassNone)

	p, ok := sess.Presented()
	require.True(t, ok)
	assert.Equal(t, card.TypeBoss, p.Outcome.Card.Type)
	assert.Equal(t, day.Template, p.Outcome.Template)
}

func TestSavePresentedStoresTemplate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)
	sess.SetContext(true, card.ClassNone)

	_, err = sess.Scan(ctx, "vlk-samotar")
	require.NoError(t, err)
	res, err := sess.SavePresented(ctx)
	require.NoError(t, err)
	assert.True(t, res.Created)

	owned := sess.Inventory()
	require.Len(t, owned, 1)
	assert.Equal(t, card.TypeEncounter, owned[0].Type, "the day template is saved, not the night view")
}

func TestDilemmaIsOneShot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)

	_, err = sess.Scan(ctx, "most-pres-propast")
	require.NoError(t, err)

	_, err = sess.ChooseDilemma(ctx, 9)
	assert.ErrorIs(t, err, card.ErrInvalidMutation)

	res, err := sess.ChooseDilemma(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 90, res.State.HP)

	_, err = sess.ChooseDilemma(ctx, 0)
	assert.ErrorIs(t, err, card.ErrInvalidMutation)
	assert.Equal(t, 90, sess.State().HP)
}

func TestBuyTracksStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)

	_, err = sess.Scan(ctx, "kupec-na-rozcesti")
	require.NoError(t, err)

	p, err := sess.Buy(ctx, "stinovy-krystal")
	require.NoError(t, err)
	assert.Equal(t, 60, p.Price)
	assert.Equal(t, 40, sess.State().Gold)

	_, err = sess.Buy(ctx, "stinovy-krystal")
	assert.ErrorIs(t, err, card.ErrInvalidMutation, "single stock is sold out")
}

func TestCloseFlushesAndInvalidates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, err := e.mgr.Open(ctx, "u1", card.ClassNone)
	require.NoError(t, err)
	_, err = sess.Save(ctx, card.Card{ID: "map", Type: card.TypeItem})
	require.NoError(t, err)

	require.NoError(t, e.mgr.Close(ctx, sess.ID))
	_, ok := e.mgr.GetSession(sess.ID)
	assert.False(t, ok)

	_, err = sess.Scan(ctx, "map")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.mgr.Close(ctx, sess.ID), ErrClosed)

	inv, ok, err := e.cache.LoadInventory(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "map", inv[0].ID)
}

func TestExpireIdleSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	idle, err := e.mgr.Open(ctx, "idle", card.ClassNone)
	require.NoError(t, err)
	busy, err := e.mgr.Open(ctx, "busy", card.ClassNone)
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Minute)
	busy.mu.Lock()
	busy.lastActivity = later
	busy.mu.Unlock()

	assert.Equal(t, 1, e.mgr.expire(ctx, later))
	_, ok := e.mgr.GetSession(idle.ID)
	assert.False(t, ok)
	_, ok = e.mgr.GetSession(busy.ID)
	assert.True(t, ok)

	e.mgr.CloseAll(ctx)
	assert.Zero(t, e.mgr.GetActiveSessions())
}

func TestOnCloseRunsForClosedAndExpiredSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var ended []string
	e.mgr.OnClose(func(s *Session) { ended = append(ended, s.UserID) })

	closed, err := e.mgr.Open(ctx, "closed", card.ClassNone)
	require.NoError(t, err)
	_, err = e.mgr.Open(ctx, "idle", card.ClassNone)
	require.NoError(t, err)

	require.NoError(t, e.mgr.Close(ctx, closed.ID))
	assert.Equal(t, 1, e.mgr.expire(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, []string{"closed", "idle"}, ended)
}
