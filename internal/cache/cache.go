// Package cache snapshots player state, inventories and the master catalog
// across process restarts.
package cache

import (
	"context"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
)

// Cache is a durable local key-value snapshot store. Load methods report
// ok=false when nothing was stored yet.
type Cache interface {
	LoadPlayer(ctx context.Context, userID string) (s ledger.State, ok bool, err error)
	SavePlayer(ctx context.Context, userID string, s ledger.State) error

	LoadInventory(ctx context.Context, userID string) (cards []card.Card, ok bool, err error)
	SaveInventory(ctx context.Context, userID string, cards []card.Card) error

	LoadCatalog(ctx context.Context) (cards []card.Card, ok bool, err error)
	SaveCatalog(ctx context.Context, cards []card.Card) error

	Close() error
}

var (
	_ Cache            = Nop{}
	_ ledger.Persister = Cache(nil)
)

// Nop is used when no durable cache is configured. Loads find nothing and
// saves succeed without effect.
type Nop struct{}

func (Nop) LoadPlayer(context.Context, string) (ledger.State, bool, error) {
	return ledger.State{}, false, nil
}

func (Nop) SavePlayer(context.Context, string, ledger.State) error { return nil }

func (Nop) LoadInventory(context.Context, string) ([]card.Card, bool, error) {
	return nil, false, nil
}

func (Nop) SaveInventory(context.Context, string, []card.Card) error { return nil }

func (Nop) LoadCatalog(context.Context) ([]card.Card, bool, error) { return nil, false, nil }

func (Nop) SaveCatalog(context.Context, []card.Card) error { return nil }

func (Nop) Close() error { return nil }

func playerKey(userID string) string    { return "player:" + userID }
func inventoryKey(userID string) string { return "inventory:" + userID }

const catalogKey = "catalog"
