// Package events carries feedback pulses and state notifications from the
// game engine to whoever presents them.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind is the category of a game event.
type Kind string

const (
	// Feedback pulses emitted per applied delta.
	KindHeal   Kind = "HEAL"
	KindDamage Kind = "DAMAGE"
	KindReward Kind = "REWARD"
	KindSpend  Kind = "SPEND"
	KindDrain  Kind = "DRAIN"

	// Lifecycle transitions.
	KindCardSaved    Kind = "CARD_SAVED"
	KindCardConsumed Kind = "CARD_CONSUMED"
	KindCardDeleted  Kind = "CARD_DELETED"
	KindCardLocked   Kind = "CARD_LOCKED"
	KindCardUnlocked Kind = "CARD_UNLOCKED"

	// KindPlayerState carries a full ledger snapshot after a batch of mutations.
	KindPlayerState Kind = "PLAYER_STATE"
)

// IsPulse reports whether k is a per-delta feedback pulse.
func (k Kind) IsPulse() bool {
	switch k {
	case KindHeal, KindDamage, KindReward, KindSpend, KindDrain:
		return true
	default:
		return false
	}
}

// Event is one notification published on a Bus.
type Event struct {
	Kind      Kind
	UserID    string
	CardID    string
	Field     string // ledger field a pulse refers to ("hp", "mana", "gold")
	Amount    int    // signed delta actually applied
	Payload   any    // optional snapshot, e.g. a ledger.State for KindPlayerState
	Timestamp time.Time
}

// New creates an event stamped with the current time.
func New(kind Kind, userID, cardID string) Event {
	return Event{
		Kind:      kind,
		UserID:    userID,
		CardID:    cardID,
		Timestamp: time.Now(),
	}
}

// Pulse creates a feedback pulse for a ledger field.
func Pulse(kind Kind, userID, cardID, field string, amount int) Event {
	evt := New(kind, userID, cardID)
	evt.Field = field
	evt.Amount = amount
	return evt
}

// Listener reacts to published events.
type Listener func(Event)

type typedListener struct {
	handle   int
	callback Listener
}

// Bus is a synchronous publish/subscribe hub with optional kind filtering.
// A panicking listener is logged and skipped; it never aborts the publisher.
type Bus struct {
	logger *zap.Logger

	mu         sync.RWMutex
	listeners  map[int]Listener
	typed      map[Kind][]typedListener
	nextHandle int
}

// NewBus constructs an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:    logger,
		listeners: make(map[int]Listener),
		typed:     make(map[Kind][]typedListener),
	}
}

// Subscribe registers a listener for every event and returns its handle.
func (b *Bus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	handle := b.nextHandle
	b.nextHandle++
	b.listeners[handle] = listener
	return handle
}

// SubscribeKind registers a listener for one event kind.
func (b *Bus) SubscribeKind(kind Kind, listener Listener) int {
	if listener == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	handle := b.nextHandle
	b.nextHandle++
	b.typed[kind] = append(b.typed[kind], typedListener{handle: handle, callback: listener})
	return handle
}

// Unsubscribe removes the listener with the given handle, whichever way it
// was registered.
func (b *Bus) Unsubscribe(handle int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, handle)
	for kind, listeners := range b.typed {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].handle == handle {
				b.typed[kind] = append(listeners[:i:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers evt to all matching listeners on the caller's goroutine.
// Listeners are snapshotted first so they may subscribe or unsubscribe.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]Listener, 0, len(b.listeners)+len(b.typed[evt.Kind]))
	for _, l := range b.listeners {
		targets = append(targets, l)
	}
	for _, tl := range b.typed[evt.Kind] {
		targets = append(targets, tl.callback)
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.deliver(l, evt)
	}
}

// PublishAll publishes events in order.
func (b *Bus) PublishAll(evts []Event) {
	for _, evt := range evts {
		b.Publish(evt)
	}
}

func (b *Bus) deliver(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("kind", string(evt.Kind)),
				zap.String("user_id", evt.UserID),
				zap.Any("panic", r),
			)
		}
	}()
	l(evt)
}
