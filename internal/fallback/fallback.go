// Package fallback synthesizes cards for codes no store knows about.
package fallback

import (
	"context"
	"strings"
	"sync"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"golang.org/x/sync/singleflight"
)

// Interpreter turns an unknown scanned code into a card. It may fail; callers
// substitute UnknownArtifact.
type Interpreter interface {
	InterpretUnknownCode(ctx context.Context, code string) (card.Card, error)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(ctx context.Context, code string) (card.Card, error)

func (f InterpreterFunc) InterpretUnknownCode(ctx context.Context, code string) (card.Card, error) {
	return f(ctx, code)
}

// Stub text shown for codes nothing could interpret.
const (
	UnknownTitle       = "Neznámý Artefakt"
	UnknownDescription = "Skener zachytil anomální data. Původ předmětu nelze určit."
)

// UnknownArtifact is the fixed card substituted when interpretation fails.
func UnknownArtifact(code string) card.Card {
	return card.Card{
		ID:           strings.TrimSpace(code),
		Title:        UnknownTitle,
		Description:  UnknownDescription,
		Type:         card.TypeItem,
		Rarity:       card.RarityCommon,
		Stats:        []card.Stat{{Label: "HP", Value: "+5"}},
		IsConsumable: false,
		CanBeSaved:   true,
	}
}

// Complete fills defaults into an interpreted card: the id is forced to the
// code, type defaults to ITEM and rarity to Common.
func Complete(code string, c card.Card) card.Card {
	c.ID = strings.TrimSpace(code)
	if t, ok := card.ParseType(string(c.Type)); ok {
		c.Type = t
	} else {
		c.Type = card.TypeItem
	}
	if !c.Rarity.Valid() {
		c.Rarity = card.RarityCommon
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = UnknownTitle
	}
	return c.Normalized()
}

// Memo remembers successful interpretations per code so a code always yields
// the same card, and collapses concurrent requests for the same code.
type Memo struct {
	next  Interpreter
	group singleflight.Group

	mu   sync.RWMutex
	seen map[string]card.Card
}

// NewMemo wraps next.
func NewMemo(next Interpreter) *Memo {
	return &Memo{next: next, seen: make(map[string]card.Card)}
}

func (m *Memo) InterpretUnknownCode(ctx context.Context, code string) (card.Card, error) {
	key := card.Key(code)

	m.mu.RLock()
	c, ok := m.seen[key]
	m.mu.RUnlock()
	if ok {
		return c.Clone(), nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		c, err := m.next.InterpretUnknownCode(ctx, code)
		if err != nil {
			return card.Card{}, err
		}
		c = Complete(code, c)
		m.mu.Lock()
		m.seen[key] = c
		m.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return card.Card{}, err
	}
	return v.(card.Card).Clone(), nil
}
