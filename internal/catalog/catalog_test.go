package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/cache"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"github.com/scanquest/scanquest-server-go/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEmbeddedSeedIsValid(t *testing.T) {
	cards, err := LoadSeed("")
	require.NoError(t, err)
	require.NotEmpty(t, cards)

	types := map[card.Type]bool{}
	for _, c := range cards {
		types[c.Type] = true
		if !c.IsConsumable {
			assert.True(t, c.CanBeSaved, "card %s", c.ID)
		}
	}
	for _, typ := range []card.Type{card.TypeItem, card.TypeEncounter, card.TypeBoss, card.TypeTrap, card.TypeMerchant, card.TypeDilemma, card.TypeLocation, card.TypePlanet} {
		assert.True(t, types[typ], "seed lacks a %s card", typ)
	}
}

func TestParseYAMLReportsInvalidCards(t *testing.T) {
	cards, err := ParseYAML([]byte(`
cards:
  - id: ok
    title: Fine
    type: ITEM
  - id: bad
    type: SPELL
  - title: no id
    type: ITEM
`))
	require.Error(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "ok", cards[0].ID)
	assert.Equal(t, card.RarityCommon, cards[0].Rarity)
}

func TestChecksumIgnoresOrder(t *testing.T) {
	a := []card.Card{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	b := []card.Card{{ID: "b", Title: "B"}, {ID: "a", Title: "A"}}
	assert.Equal(t, Checksum(a), Checksum(b))

	b[0].Title = "Changed"
	assert.NotEqual(t, Checksum(a), Checksum(b))
}

func TestLookupIsCaseInsensitiveAndCopied(t *testing.T) {
	cat := New(nil, nil, zaptest.NewLogger(t))
	cat.Replace([]card.Card{{ID: "Rune", Stats: []card.Stat{{Label: "MANA", Value: "+5"}}}}, SourceSeed)

	got, ok := cat.Lookup("rUNE")
	require.True(t, ok)
	got.Stats[0].Value = "+500"

	again, _ := cat.Lookup("rune")
	assert.Equal(t, card.StatValue("+5"), again.Stats[0].Value)

	_, ok = cat.Lookup("missing")
	assert.False(t, ok)
}

func TestReplaceDeduplicatesLastWins(t *testing.T) {
	cat := New(nil, nil, nil)
	cat.Replace([]card.Card{{ID: "x", Title: "first"}, {ID: "y"}, {ID: "X", Title: "second"}, {ID: ""}}, SourceSeed)

	assert.Equal(t, 2, cat.Snapshot().Len())
	got, _ := cat.Lookup("x")
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, "x", cat.All()[0].Key(), "replacement keeps the first position")
}

func TestLoadPrefersCache(t *testing.T) {
	ctx := context.Background()
	c, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	seed := []card.Card{{ID: "seeded"}}
	cat := New(nil, c, zaptest.NewLogger(t))
	assert.Equal(t, SourceSeed, cat.Load(ctx, seed))
	_, ok := cat.Lookup("seeded")
	assert.True(t, ok)

	require.NoError(t, c.SaveCatalog(ctx, []card.Card{{ID: "cached"}}))
	cat = New(nil, c, zaptest.NewLogger(t))
	assert.Equal(t, SourceCache, cat.Load(ctx, seed))
	_, ok = cat.Lookup("cached")
	assert.True(t, ok)
}

func TestRefreshSwapsAndCaches(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.Seed(store.CatalogScope, card.Card{ID: "remote", Title: "Remote"})

	c, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	cat := New(st, c, zaptest.NewLogger(t))
	cat.Load(ctx, []card.Card{{ID: "seeded"}})
	before := cat.Checksum()

	res, err := cat.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.NotEqual(t, before, cat.Checksum())
	assert.Equal(t, SourceStore, cat.Snapshot().Source)

	cached, ok, err := c.LoadCatalog(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote", cached[0].ID)

	res, err = cat.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed, "unchanged catalog must not be swapped")
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	st := memstore.New()
	st.Fail(memstore.OpGetCatalog, errors.New("offline"))

	cat := New(st, nil, zaptest.NewLogger(t))
	cat.Replace([]card.Card{{ID: "kept"}}, SourceSeed)

	_, err := cat.Refresh(context.Background())
	assert.ErrorIs(t, err, card.ErrSourceUnavailable)
	_, ok := cat.Lookup("kept")
	assert.True(t, ok)
}

func TestRefreshWithEmptyStoreKeepsSeed(t *testing.T) {
	ctx := context.Background()
	seed, err := LoadSeed("")
	require.NoError(t, err)

	cat := New(memstore.New(), nil, zaptest.NewLogger(t))
	require.Equal(t, SourceSeed, cat.Load(ctx, seed))
	before := cat.Checksum()

	res, err := cat.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, len(seed), res.Cards)
	assert.Equal(t, before, cat.Checksum())
	assert.Equal(t, SourceSeed, cat.Snapshot().Source)
	_, ok := cat.Lookup("vlk-samotar")
	assert.True(t, ok)
}

func TestConcurrentRefreshAndReads(t *testing.T) {
	st := memstore.New()
	st.Seed(store.CatalogScope, card.Card{ID: "a"}, card.Card{ID: "b"})
	cat := New(st, nil, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := cat.Refresh(context.Background())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			n := len(cat.All())
			assert.True(t, n == 0 || n == 2, "torn read: %d cards", n)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, cat.Snapshot().Len())
}

func TestBlueprintsAndForSale(t *testing.T) {
	cards, err := LoadSeed("")
	require.NoError(t, err)
	cat := New(nil, nil, nil)
	cat.Replace(cards, SourceSeed)

	bps := cat.Blueprints()
	require.NotEmpty(t, bps)
	for _, bp := range bps {
		assert.NotNil(t, bp.Crafting)
	}

	listings := cat.ForSale()
	require.NotEmpty(t, listings)
	assert.Equal(t, "kupec-na-rozcesti", listings[0].MerchantID)
	assert.Equal(t, 20, listings[0].Trade.ClassDiscounts[card.ClassRogue])
}

func TestRunStopsWithContext(t *testing.T) {
	st := memstore.New()
	st.Seed(store.CatalogScope, card.Card{ID: "a"})
	cat := New(st, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cat.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return cat.Snapshot().Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.GreaterOrEqual(t, st.Calls(memstore.OpGetCatalog), 1)
}
