// Package catalog holds the shared master catalog of card templates.
package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/cache"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source records where the current snapshot came from.
type Source string

const (
	SourceEmpty Source = "empty"
	SourceSeed  Source = "seed"
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// Snapshot is an immutable view of the catalog. It is replaced wholesale on
// refresh and never modified in place.
type Snapshot struct {
	cards    []card.Card
	index    map[string]int
	Checksum string
	Source   Source
	LoadedAt time.Time
}

func newSnapshot(cards []card.Card, source Source) *Snapshot {
	deduped := dedupe(cards)
	index := make(map[string]int, len(deduped))
	for i, c := range deduped {
		index[c.Key()] = i
	}
	return &Snapshot{
		cards:    deduped,
		index:    index,
		Checksum: Checksum(deduped),
		Source:   source,
		LoadedAt: time.Now(),
	}
}

// Len returns the number of templates.
func (s *Snapshot) Len() int { return len(s.cards) }

// dedupe keeps the last card of each id at the position of its first
// occurrence and drops cards without an id.
func dedupe(cards []card.Card) []card.Card {
	pos := make(map[string]int, len(cards))
	out := make([]card.Card, 0, len(cards))
	for _, c := range cards {
		key := c.Key()
		if key == "" {
			continue
		}
		if i, ok := pos[key]; ok {
			out[i] = c.Clone()
			continue
		}
		pos[key] = len(out)
		out = append(out, c.Clone())
	}
	return out
}

// Checksum is a SHA-256 over a canonical rendering of cards: sorted by key,
// each encoded as JSON (map keys are emitted sorted).
func Checksum(cards []card.Card) string {
	keys := make([]int, len(cards))
	for i := range cards {
		keys[i] = i
	}
	sort.SliceStable(keys, func(a, b int) bool {
		return cards[keys[a]].Key() < cards[keys[b]].Key()
	})

	var buf bytes.Buffer
	for _, i := range keys {
		// Card holds only JSON-safe types.
		doc, _ := json.Marshal(cards[i])
		fmt.Fprintf(&buf, "CARD:%s|%s\n", cards[i].Key(), doc)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Catalog is read-shared by every session. Readers always see a complete
// snapshot; Refresh swaps the pointer.
type Catalog struct {
	store  store.Store
	cache  cache.Cache
	logger *zap.Logger

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// New creates an empty catalog. st may be nil when no remote store exists;
// c may be nil when no durable cache is configured.
func New(st store.Store, c cache.Cache, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.Nop{}
	}
	cat := &Catalog{store: st, cache: c, logger: logger}
	cat.snap.Store(newSnapshot(nil, SourceEmpty))
	return cat
}

// Load installs the best local catalog: the cached snapshot if there is one,
// otherwise seed.
func (c *Catalog) Load(ctx context.Context, seed []card.Card) Source {
	cards, ok, err := c.cache.LoadCatalog(ctx)
	if err != nil {
		c.logger.Warn("failed to read cached catalog", zap.Error(err))
	}
	if ok && len(cards) > 0 {
		c.install(newSnapshot(cards, SourceCache))
		return SourceCache
	}
	c.install(newSnapshot(seed, SourceSeed))
	return SourceSeed
}

// Replace installs cards directly.
func (c *Catalog) Replace(cards []card.Card, source Source) {
	c.install(newSnapshot(cards, source))
}

func (c *Catalog) install(s *Snapshot) {
	c.snap.Store(s)
	c.logger.Info("catalog installed",
		zap.String("source", string(s.Source)),
		zap.Int("cards", s.Len()),
		zap.String("checksum", s.Checksum),
	)
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Checksum returns the checksum of the current snapshot.
func (c *Catalog) Checksum() string {
	return c.snap.Load().Checksum
}

// Lookup finds a template by case-insensitive id. The result is a copy.
func (c *Catalog) Lookup(id string) (card.Card, bool) {
	s := c.snap.Load()
	i, ok := s.index[card.Key(id)]
	if !ok {
		return card.Card{}, false
	}
	return s.cards[i].Clone(), true
}

// All returns a copy of every template in catalog order.
func (c *Catalog) All() []card.Card {
	return card.CloneAll(c.snap.Load().cards)
}

// Blueprints returns the templates that carry a crafting recipe.
func (c *Catalog) Blueprints() []card.Card {
	s := c.snap.Load()
	var out []card.Card
	for _, t := range s.cards {
		if t.Crafting != nil && len(t.Crafting.Ingredients) > 0 {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Listing is one item a merchant offers.
type Listing struct {
	MerchantID string
	Item       card.MerchantItem
	Trade      card.TradeConfig
}

// ForSale returns every merchant listing in catalog order.
func (c *Catalog) ForSale() []Listing {
	s := c.snap.Load()
	var out []Listing
	for _, t := range s.cards {
		if t.Type != card.TypeMerchant {
			continue
		}
		var trade card.TradeConfig
		if t.Trade != nil {
			trade = *t.Clone().Trade
		}
		for _, item := range t.MerchantItems {
			out = append(out, Listing{MerchantID: t.ID, Item: item, Trade: trade})
		}
	}
	return out
}

// RefreshResult describes one refresh.
type RefreshResult struct {
	Changed  bool
	Cards    int
	Checksum string
}

// Refresh pulls the master catalog from the store and swaps it in when its
// checksum differs. Concurrent calls share one store request.
func (c *Catalog) Refresh(ctx context.Context) (RefreshResult, error) {
	if c.store == nil {
		s := c.snap.Load()
		return RefreshResult{Cards: s.Len(), Checksum: s.Checksum}, nil
	}
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if shared {
		c.logger.Debug("catalog refresh coalesced")
	}
	if err != nil {
		return RefreshResult{}, err
	}
	return v.(RefreshResult), nil
}

func (c *Catalog) refresh(ctx context.Context) (RefreshResult, error) {
	cards, err := c.store.GetMasterCatalog(ctx)
	if err != nil {
		c.logger.Warn("catalog refresh failed, keeping current snapshot", zap.Error(err))
		return RefreshResult{}, fmt.Errorf("refresh catalog: %w", err)
	}

	current := c.snap.Load()
	if len(cards) == 0 {
		c.logger.Warn("store has no master catalog, keeping current snapshot",
			zap.String("source", string(current.Source)),
			zap.Int("cards", current.Len()),
		)
		return RefreshResult{Cards: current.Len(), Checksum: current.Checksum}, nil
	}

	next := newSnapshot(cards, SourceStore)
	if next.Checksum == current.Checksum {
		return RefreshResult{Cards: current.Len(), Checksum: current.Checksum}, nil
	}

	c.install(next)
	if err := c.cache.SaveCatalog(ctx, next.cards); err != nil {
		c.logger.Warn("failed to cache catalog", zap.Error(err))
	}
	return RefreshResult{Changed: true, Cards: next.Len(), Checksum: next.Checksum}, nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Debug("periodic catalog refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
