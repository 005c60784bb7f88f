// Package inventory holds the cards one player owns.
package inventory

import (
	"sync"

	"github.com/scanquest/scanquest-server-go/internal/card"
)

// Inventory is an insertion-ordered set of owned cards keyed by
// case-insensitive id. Cards are cloned on the way in and out so callers can
// never mutate stored instances.
type Inventory struct {
	mu    sync.RWMutex
	order []string
	items map[string]card.Card
}

// New creates an inventory holding cards. Later duplicates replace earlier ones.
func New(cards []card.Card) *Inventory {
	inv := &Inventory{items: make(map[string]card.Card)}
	inv.replaceLocked(cards)
	return inv
}

// Get returns the owned instance of id.
func (inv *Inventory) Get(id string) (card.Card, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	c, ok := inv.items[card.Key(id)]
	if !ok {
		return card.Card{}, false
	}
	return c.Clone(), true
}

// Has reports whether id is owned.
func (inv *Inventory) Has(id string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.items[card.Key(id)]
	return ok
}

// Put upserts c and reports whether it was newly created.
func (inv *Inventory) Put(c card.Card) (created bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	key := c.Key()
	_, exists := inv.items[key]
	if !exists {
		inv.order = append(inv.order, key)
	}
	inv.items[key] = c.Clone()
	return !exists
}

// Remove deletes id and returns the removed card.
func (inv *Inventory) Remove(id string) (card.Card, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	key := card.Key(id)
	c, ok := inv.items[key]
	if !ok {
		return card.Card{}, false
	}
	delete(inv.items, key)
	for i, k := range inv.order {
		if k == key {
			inv.order = append(inv.order[:i:i], inv.order[i+1:]...)
			break
		}
	}
	return c, true
}

// Update applies fn to the owned instance of id under the write lock.
func (inv *Inventory) Update(id string, fn func(*card.Card)) (card.Card, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	key := card.Key(id)
	c, ok := inv.items[key]
	if !ok {
		return card.Card{}, false
	}
	fn(&c)
	inv.items[key] = c
	return c.Clone(), true
}

// List returns the owned cards in insertion order.
func (inv *Inventory) List() []card.Card {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]card.Card, 0, len(inv.order))
	for _, key := range inv.order {
		out = append(out, inv.items[key].Clone())
	}
	return out
}

// Len returns the number of owned cards.
func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.items)
}

// Replace swaps the whole set, e.g. after restoring from the store at login.
func (inv *Inventory) Replace(cards []card.Card) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.replaceLocked(cards)
}

func (inv *Inventory) replaceLocked(cards []card.Card) {
	inv.order = make([]string, 0, len(cards))
	inv.items = make(map[string]card.Card, len(cards))
	for _, c := range cards {
		key := c.Key()
		if key == "" {
			continue
		}
		if _, exists := inv.items[key]; !exists {
			inv.order = append(inv.order, key)
		}
		inv.items[key] = c.Clone()
	}
}
