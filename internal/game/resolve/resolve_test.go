package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/catalog"
	"github.com/scanquest/scanquest-server-go/internal/fallback"
	"github.com/scanquest/scanquest-server-go/internal/game/adjust"
	"github.com/scanquest/scanquest-server-go/internal/inventory"
	"github.com/scanquest/scanquest-server-go/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const adminScope = "admin"

type fixture struct {
	store   *memstore.Store
	catalog *catalog.Catalog
	interp  fallback.Interpreter
	calls   int
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{store: memstore.New()}
	f.catalog = catalog.New(nil, nil, zaptest.NewLogger(t))
	f.interp = fallback.InterpreterFunc(func(_ context.Context, code string) (card.Card, error) {
		f.calls++
		return card.Card{Title: "Invented " + code}, nil
	})
	return f
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	return New(Config{
		Catalog:     f.catalog,
		Store:       f.store,
		AdminScope:  adminScope,
		Interpreter: f.interp,
	}, zaptest.NewLogger(t))
}

func TestInventoryBeatsCatalog(t *testing.T) {
	f := newFixture(t)
	f.catalog.Replace([]card.Card{{ID: "relic", IsLocked: false, Stats: []card.Stat{{Label: "HP", Value: "+1"}}}}, catalog.SourceSeed)
	inv := inventory.New([]card.Card{{ID: "relic", IsLocked: true, Stats: []card.Stat{{Label: "HP", Value: "+999"}}}})

	out, err := f.pipeline(t).Resolve(context.Background(), Request{Code: "RELIC", UserID: "u1", Inventory: inv})
	require.NoError(t, err)
	assert.Equal(t, SourceInventory, out.Source)
	assert.False(t, out.FromScanner)
	assert.True(t, out.Card.IsLocked)
	assert.Equal(t, card.StatValue("+999"), out.Card.Stats[0].Value)
}

func TestCatalogHitIsFromScanner(t *testing.T) {
	f := newFixture(t)
	f.catalog.Replace([]card.Card{{ID: "wolf", Title: "Wolf"}}, catalog.SourceSeed)

	out, err := f.pipeline(t).Resolve(context.Background(), Request{Code: " wolf ", UserID: "u1", Inventory: inventory.New(nil)})
	require.NoError(t, err)
	assert.Equal(t, SourceCatalog, out.Source)
	assert.True(t, out.FromScanner)
}

func TestRemoteUserThenAdminScope(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("u1", card.Card{ID: "mine", Title: "Mine"})
	f.store.Seed(adminScope, card.Card{ID: "mine", Title: "Admin"}, card.Card{ID: "theirs", Title: "Admin only"})
	p := f.pipeline(t)
	ctx := context.Background()

	out, err := p.Resolve(ctx, Request{Code: "mine", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, SourceRemoteUser, out.Source)
	assert.Equal(t, "Mine", out.Card.Title)

	out, err = p.Resolve(ctx, Request{Code: "theirs", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, SourceRemoteAdmin, out.Source)
	assert.True(t, out.FromScanner)
}

func TestRemoteFailureFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(adminScope, card.Card{ID: "gem", Title: "Gem"})
	f.store.Fail(memstore.OpGetEventByID, errors.New("timeout"))

	out, err := f.pipeline(t).Resolve(context.Background(), Request{Code: "gem", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, SourceInterpreter, out.Source)
	assert.Equal(t, "Invented gem", out.Card.Title)
	assert.Equal(t, 2, f.store.Calls(memstore.OpGetEventByID))
}

func TestInterpreterResultIsCompleted(t *testing.T) {
	f := newFixture(t)
	out, err := f.pipeline(t).Resolve(context.Background(), Request{Code: "Q-77", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Q-77", out.Card.ID)
	assert.Equal(t, card.TypeItem, out.Card.Type)
	assert.Equal(t, card.RarityCommon, out.Card.Rarity)
}

func TestInterpreterFailureYieldsStub(t *testing.T) {
	f := newFixture(t)
	f.interp = fallback.InterpreterFunc(func(context.Context, string) (card.Card, error) {
		return card.Card{}, errors.New("model overloaded")
	})
	p := f.pipeline(t)

	first, err := p.Resolve(context.Background(), Request{Code: "never-seen", UserID: "u1"})
	require.NoError(t, err)
	second, err := p.Resolve(context.Background(), Request{Code: "never-seen", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, SourceStub, first.Source)
	assert.Equal(t, first.Card, second.Card)
	assert.Equal(t, "Neznámý Artefakt", first.Card.Title)
	assert.Equal(t, card.TypeItem, first.Card.Type)
	assert.Equal(t, card.RarityCommon, first.Card.Rarity)
	assert.Equal(t, []card.Stat{{Label: "HP", Value: "+5"}}, first.Card.Stats)
}

func TestNoInterpreterYieldsStub(t *testing.T) {
	p := New(Config{}, zaptest.NewLogger(t))
	out, err := p.Resolve(context.Background(), Request{Code: "abc"})
	require.NoError(t, err)
	assert.Equal(t, SourceStub, out.Source)
}

func TestBlankCodeIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(t).Resolve(context.Background(), Request{Code: "   "})
	assert.ErrorIs(t, err, card.ErrNotFound)
	assert.Zero(t, f.calls)
}

func TestCancelledContextAborts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline(t).Resolve(ctx, Request{Code: "late", UserID: "u1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.calls)
}

func TestOutcomeIsAdjustedWithoutTouchingTemplate(t *testing.T) {
	f := newFixture(t)
	f.catalog.Replace([]card.Card{{
		ID:          "owl",
		Title:       "Owl",
		Stats:       []card.Stat{{Label: "MANA", Value: "+2"}},
		TimeVariant: &card.TimeVariant{Enabled: true, NightTitle: "Night Owl", NightStats: []card.Stat{{Label: "MANA", Value: "+10"}}},
	}}, catalog.SourceSeed)

	out, err := f.pipeline(t).Resolve(context.Background(), Request{Code: "owl", Context: adjust.Context{Night: true}})
	require.NoError(t, err)
	assert.Equal(t, "Night Owl", out.Card.Title)
	assert.Equal(t, "Owl", out.Template.Title)

	out.Card.Stats[0].Value = "+0"
	tmpl, _ := f.catalog.Lookup("owl")
	assert.Equal(t, card.StatValue("+2"), tmpl.Stats[0].Value)
}
