// Package store defines the remote catalog and inventory document store.
package store

import (
	"context"

	"github.com/scanquest/scanquest-server-go/internal/card"
)

// CatalogScope is the scope under which master catalog templates are stored.
const CatalogScope = "__catalog__"

// Store is the network-backed document store holding player inventories and
// the master catalog. Implementations return card.ErrNotFound for absent
// documents and wrap connectivity failures in card.ErrSourceUnavailable.
type Store interface {
	// GetInventory lists every card owned by userID.
	GetInventory(ctx context.Context, userID string) ([]card.Card, error)
	// GetEventByID fetches one card from the scope of userID.
	GetEventByID(ctx context.Context, userID, id string) (card.Card, error)
	// CreateOrUpdateEvent upserts c by id in the scope of userID.
	CreateOrUpdateEvent(ctx context.Context, userID string, c card.Card) (card.Card, error)
	// DeleteEvent removes id from the scope of userID.
	DeleteEvent(ctx context.Context, userID, id string) error
	// GetMasterCatalog lists every admin-authored template.
	GetMasterCatalog(ctx context.Context) ([]card.Card, error)
}
