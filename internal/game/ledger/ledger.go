// Package ledger holds a player's mutable numeric state.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"go.uber.org/zap"
)

// Bounds of the clamped fields.
const (
	MinHP   = 0
	MaxHP   = 100
	MinMana = 0
	MaxMana = 100
	MinGold = 0
)

// Field names a ledger value.
type Field string

const (
	FieldHP     Field = "hp"
	FieldMana   Field = "mana"
	FieldGold   Field = "gold"
	FieldArmor  Field = "armor"
	FieldLuck   Field = "luck"
	FieldOxygen Field = "oxygen"
)

// State is a snapshot of the ledger. Armor, luck and oxygen are carried but
// not clamped.
type State struct {
	HP     int `json:"hp"`
	Mana   int `json:"mana"`
	Gold   int `json:"gold"`
	Armor  int `json:"armor"`
	Luck   int `json:"luck"`
	Oxygen int `json:"oxygen"`
}

// Defaults is the state of a player on first login.
func Defaults() State {
	return State{HP: 100, Mana: 100, Gold: 100}
}

// Clamped returns s with every bounded field forced into range.
func (s State) Clamped() State {
	s.HP = clamp(s.HP, MinHP, MaxHP)
	s.Mana = clamp(s.Mana, MinMana, MaxMana)
	if s.Gold < MinGold {
		s.Gold = MinGold
	}
	return s
}

// Get returns the value of f.
func (s State) Get(f Field) int {
	switch f {
	case FieldHP:
		return s.HP
	case FieldMana:
		return s.Mana
	case FieldGold:
		return s.Gold
	case FieldArmor:
		return s.Armor
	case FieldLuck:
		return s.Luck
	case FieldOxygen:
		return s.Oxygen
	default:
		return 0
	}
}

func (s *State) set(f Field, v int) {
	switch f {
	case FieldHP:
		s.HP = v
	case FieldMana:
		s.Mana = v
	case FieldGold:
		s.Gold = v
	case FieldArmor:
		s.Armor = v
	case FieldLuck:
		s.Luck = v
	case FieldOxygen:
		s.Oxygen = v
	}
}

// ParseField resolves a field name.
func ParseField(name string) (Field, bool) {
	f := Field(name)
	switch f {
	case FieldHP, FieldMana, FieldGold, FieldArmor, FieldLuck, FieldOxygen:
		return f, true
	default:
		return "", false
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Persister durably records ledger snapshots.
type Persister interface {
	SavePlayer(ctx context.Context, userID string, s State) error
}

// Ledger is the mutable state of one player. Every mutation is written through
// the Persister before the call returns; a failed write leaves the in-memory
// change committed and is reported as card.ErrPersistence.
type Ledger struct {
	userID    string
	persister Persister
	logger    *zap.Logger

	mu      sync.RWMutex
	state   State
	writeMu sync.Mutex
}

// New creates a ledger seeded with initial (clamped).
func New(userID string, initial State, persister Persister, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		userID:    userID,
		persister: persister,
		logger:    logger,
		state:     initial.Clamped(),
	}
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Add applies a signed delta to f and returns the delta that actually took
// effect after clamping.
func (l *Ledger) Add(ctx context.Context, f Field, delta int) (int, error) {
	applied, _, err := l.Batch(ctx, func(tx *Tx) {
		tx.Add(f, delta)
	})
	if err != nil {
		return 0, err
	}
	return applied[f], nil
}

// Set assigns f directly, clamped the same way deltas are.
func (l *Ledger) Set(ctx context.Context, f Field, value int) (State, error) {
	_, s, err := l.Batch(ctx, func(tx *Tx) {
		tx.Set(f, value)
	})
	return s, err
}

// Tx is a batch of mutations applied under one lock and persisted once.
type Tx struct {
	state   State
	applied map[Field]int
}

// Add applies a delta inside the batch and returns the effective delta.
func (tx *Tx) Add(f Field, delta int) int {
	before := tx.state.Get(f)
	tx.state.set(f, before+delta)
	tx.state = tx.state.Clamped()
	eff := tx.state.Get(f) - before
	tx.applied[f] += eff
	return eff
}

// Set assigns a value inside the batch.
func (tx *Tx) Set(f Field, value int) {
	before := tx.state.Get(f)
	tx.state.set(f, value)
	tx.state = tx.state.Clamped()
	tx.applied[f] += tx.state.Get(f) - before
}

// State returns the in-progress state of the batch.
func (tx *Tx) State() State {
	return tx.state
}

// Batch runs fn against a working copy, commits it and persists the result
// once. It returns the per-field effective deltas and the committed state.
func (l *Ledger) Batch(ctx context.Context, fn func(tx *Tx)) (map[Field]int, State, error) {
	l.mu.Lock()
	tx := &Tx{state: l.state, applied: make(map[Field]int)}
	fn(tx)
	l.state = tx.state
	committed := l.state
	// Taken before releasing mu so snapshots reach the persister in commit order.
	l.writeMu.Lock()
	l.mu.Unlock()
	defer l.writeMu.Unlock()

	return tx.applied, committed, l.persist(ctx, committed)
}

// Restore replaces the state wholesale, e.g. from a cache snapshot at login.
// It does not write through.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s.Clamped()
}

func (l *Ledger) persist(ctx context.Context, s State) error {
	if l.persister == nil {
		return nil
	}
	if err := l.persister.SavePlayer(ctx, l.userID, s); err != nil {
		l.logger.Warn("failed to persist player state",
			zap.String("user_id", l.userID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: save player %q: %w", card.ErrPersistence, l.userID, err)
	}
	return nil
}
