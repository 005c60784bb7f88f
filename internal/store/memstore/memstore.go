// Package memstore is an in-process Store used for local play and tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/store"
)

// Op names a Store operation for failure injection.
type Op string

const (
	OpGetInventory Op = "GetInventory"
	OpGetEventByID Op = "GetEventByID"
	OpUpsert       Op = "CreateOrUpdateEvent"
	OpDelete       Op = "DeleteEvent"
	OpGetCatalog   Op = "GetMasterCatalog"
)

type entry struct {
	seq  int
	card card.Card
}

// Store keeps documents in nested maps keyed by scope and lower-cased id.
type Store struct {
	mu       sync.RWMutex
	scopes   map[string]map[string]entry
	seq      int
	failures map[Op]error
	calls    map[Op]int
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		scopes:   make(map[string]map[string]entry),
		failures: make(map[Op]error),
		calls:    make(map[Op]int),
	}
}

// Fail makes every later call of op return err until cleared with a nil err.
func (s *Store) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how often op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Seed writes cards directly into scope, bypassing failure injection.
func (s *Store) Seed(scope string, cards ...card.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cards {
		s.putLocked(scope, c)
	}
}

func (s *Store) begin(op Op) error {
	s.calls[op]++
	if err := s.failures[op]; err != nil {
		return card.Unavailable("memstore "+string(op), err)
	}
	return nil
}

func (s *Store) GetInventory(_ context.Context, userID string) ([]card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGetInventory); err != nil {
		return nil, err
	}
	return s.listLocked(userID), nil
}

func (s *Store) GetEventByID(_ context.Context, userID, id string) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGetEventByID); err != nil {
		return card.Card{}, err
	}
	e, ok := s.scopes[userID][card.Key(id)]
	if !ok {
		return card.Card{}, card.NotFound(id)
	}
	return e.card.Clone(), nil
}

func (s *Store) CreateOrUpdateEvent(_ context.Context, userID string, c card.Card) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpUpsert); err != nil {
		return card.Card{}, err
	}
	s.putLocked(userID, c)
	return c.Clone(), nil
}

func (s *Store) DeleteEvent(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpDelete); err != nil {
		return err
	}
	key := card.Key(id)
	if _, ok := s.scopes[userID][key]; !ok {
		return card.NotFound(id)
	}
	delete(s.scopes[userID], key)
	return nil
}

func (s *Store) GetMasterCatalog(_ context.Context) ([]card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpGetCatalog); err != nil {
		return nil, err
	}
	return s.listLocked(store.CatalogScope), nil
}

func (s *Store) putLocked(scope string, c card.Card) {
	docs, ok := s.scopes[scope]
	if !ok {
		docs = make(map[string]entry)
		s.scopes[scope] = docs
	}
	key := c.Key()
	e, exists := docs[key]
	if !exists {
		s.seq++
		e.seq = s.seq
	}
	e.card = c.Clone()
	docs[key] = e
}

func (s *Store) listLocked(scope string) []card.Card {
	docs := s.scopes[scope]
	entries := make([]entry, 0, len(docs))
	for _, e := range docs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]card.Card, len(entries))
	for i, e := range entries {
		out[i] = e.card.Clone()
	}
	return out
}
