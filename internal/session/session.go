// Package session owns the per-login state of one player: ledger, inventory,
// scanner debounce and the card currently on screen.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/game/adjust"
	"github.com/scanquest/scanquest-server-go/internal/game/effects"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"github.com/scanquest/scanquest-server-go/internal/game/lifecycle"
	"github.com/scanquest/scanquest-server-go/internal/game/resolve"
	"github.com/scanquest/scanquest-server-go/internal/inventory"
	"go.uber.org/zap"
)

var (
	// ErrScanInFlight is returned when a scan starts while another is resolving.
	ErrScanInFlight = errors.New("scan already in progress")
	// ErrStale is returned when a scan finished after the player moved on.
	ErrStale = errors.New("scan result discarded")
	// ErrClosed is returned by commands on a closed session.
	ErrClosed = errors.New("session closed")
)

// Presentation is the card currently shown to the player.
type Presentation struct {
	Outcome resolve.Outcome
	// Generation is the scan that produced it.
	Generation uint64
}

// Session is one login of one player.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mgr       *Manager
	ledger    *ledger.Ledger
	inventory *inventory.Inventory
	logger    *zap.Logger

	mu              sync.Mutex
	admin           bool
	class           card.PlayerClass
	night           bool
	scanning        bool
	generation      uint64
	cameFromScanner bool
	presented       *Presentation
	lastActivity    time.Time
	closed          bool
}

// IsAdmin reports whether the session was elevated with ConnectAdmin.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// SetAdmin elevates or drops admin rights.
func (s *Session) SetAdmin(admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = admin
}

// UpdateActivity refreshes the lease.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns when the session was last touched.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Context returns the adjustment context of the session.
func (s *Session) Context() adjust.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjust.Context{Night: s.night, Class: s.class}
}

// SetContext switches day/night and player class. A card on screen is
// re-adjusted from its template.
func (s *Session) SetContext(night bool, class card.PlayerClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.night = night
	s.class = class
	if s.presented != nil {
		s.presented.Outcome.Card = adjust.Adjust(s.presented.Outcome.Template, adjust.Context{Night: night, Class: class})
	}
}

// State returns the current ledger snapshot.
func (s *Session) State() ledger.State {
	return s.ledger.Snapshot()
}

// Inventory returns the owned cards in order.
func (s *Session) Inventory() []card.Card {
	return s.inventory.List()
}

// Presented returns the card on screen, if any.
func (s *Session) Presented() (Presentation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presented == nil {
		return Presentation{}, false
	}
	return *s.presented, true
}

// Scanning reports whether a scan is resolving.
func (s *Session) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Scan resolves code and presents the result. Only one scan runs at a time;
// a result that arrives after Dismiss or Close is dropped with ErrStale.
func (s *Session) Scan(ctx context.Context, code string) (resolve.Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return resolve.Outcome{}, ErrClosed
	}
	if s.scanning {
		s.mu.Unlock()
		return resolve.Outcome{}, ErrScanInFlight
	}
	s.scanning = true
	s.generation++
	gen := s.generation
	req := resolve.Request{
		Code:      code,
		UserID:    s.UserID,
		Inventory: s.inventory,
		Context:   adjust.Context{Night: s.night, Class: s.class},
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	out, err := s.mgr.pipeline.Resolve(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanning = false
	if err != nil {
		return resolve.Outcome{}, err
	}
	if s.closed || s.generation != gen {
		s.logger.Debug("dropping stale scan result",
			zap.String("code", code),
			zap.Uint64("generation", gen),
		)
		return resolve.Outcome{}, ErrStale
	}
	s.presented = &Presentation{Outcome: out, Generation: gen}
	s.cameFromScanner = out.FromScanner
	return out, nil
}

// Present shows an owned card without scanning, e.g. from the inventory
// screen.
func (s *Session) Present(id string) (resolve.Outcome, error) {
	c, ok := s.inventory.Get(id)
	if !ok {
		return resolve.Outcome{}, card.NotFound(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	out := resolve.Outcome{
		Card:     adjust.Adjust(c, adjust.Context{Night: s.night, Class: s.class}),
		Template: c,
		Source:   resolve.SourceInventory,
	}
	s.presented = &Presentation{Outcome: out, Generation: s.generation}
	s.cameFromScanner = false
	return out, nil
}

// Dismiss closes the card on screen without any effect and reports whether a
// turn-advance prompt should be offered. Any scan still resolving is
// invalidated.
func (s *Session) Dismiss() (offerTurnAdvance bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer := s.presented != nil && s.cameFromScanner
	s.presented = nil
	s.cameFromScanner = false
	s.generation++
	return offer
}

// Use applies the card on screen and consumes it when allowed. The session
// lock is held across the whole transition so no other command interleaves.
func (s *Session) Use(ctx context.Context) (lifecycle.UseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.takePresentedLocked(lifecycle.OpUse)
	if err != nil {
		return lifecycle.UseResult{}, err
	}
	return s.mgr.lifecycle.Use(ctx, s.ownerLocked(), p.Outcome.Card)
}

// ChooseDilemma applies option index of the dilemma on screen. The choice is
// final: the presentation closes whether or not persisting succeeded.
func (s *Session) ChooseDilemma(ctx context.Context, index int) (effects.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return effects.Result{}, ErrClosed
	}
	if s.presented == nil {
		return effects.Result{}, card.Rejected(lifecycle.OpDilemma, "", "nothing presented")
	}
	res, err := s.mgr.lifecycle.ChooseDilemma(ctx, s.ownerLocked(), s.presented.Outcome.Card, index)
	if errors.Is(err, card.ErrInvalidMutation) {
		return res, err
	}
	s.presented = nil
	return res, err
}

// SavePresented saves the template of the card on screen.
func (s *Session) SavePresented(ctx context.Context) (lifecycle.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lifecycle.Mutation{}, ErrClosed
	}
	if s.presented == nil {
		return lifecycle.Mutation{}, card.Rejected(lifecycle.OpSave, "", "nothing presented")
	}
	tmpl := s.presented.Outcome.Template
	if tmpl.IsConsumable && !tmpl.CanBeSaved {
		return lifecycle.Mutation{}, card.Rejected(lifecycle.OpSave, tmpl.ID, "card cannot be saved")
	}
	return s.mgr.lifecycle.Save(ctx, s.ownerLocked(), tmpl)
}

// Save upserts c, as the editor does for new or edited cards.
func (s *Session) Save(ctx context.Context, c card.Card) (lifecycle.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lifecycle.Mutation{}, ErrClosed
	}
	return s.mgr.lifecycle.Save(ctx, s.ownerLocked(), c)
}

// Delete removes an owned card.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.mgr.lifecycle.Delete(ctx, s.ownerLocked(), id); err != nil {
		return err
	}
	s.dropPresentedLocked(id)
	return nil
}

// ToggleLock flips the lock of an owned card.
func (s *Session) ToggleLock(ctx context.Context, id string) (lifecycle.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lifecycle.Mutation{}, ErrClosed
	}
	return s.mgr.lifecycle.ToggleLock(ctx, s.ownerLocked(), id)
}

// LoadForEdit returns an owned card for the editor.
func (s *Session) LoadForEdit(id string) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return card.Card{}, ErrClosed
	}
	return s.mgr.lifecycle.LoadForEdit(s.ownerLocked(), id)
}

// Craft builds the catalog blueprint with the given id.
func (s *Session) Craft(ctx context.Context, blueprintID string) (lifecycle.Mutation, error) {
	bp, ok := s.mgr.catalog.Lookup(blueprintID)
	if !ok {
		return lifecycle.Mutation{}, card.NotFound(blueprintID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lifecycle.Mutation{}, ErrClosed
	}
	return s.mgr.lifecycle.Craft(ctx, s.ownerLocked(), bp)
}

// Buy purchases itemID from the merchant on screen. Stock is tracked on the
// presentation only.
func (s *Session) Buy(ctx context.Context, itemID string) (lifecycle.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lifecycle.Purchase{}, ErrClosed
	}
	if s.presented == nil {
		return lifecycle.Purchase{}, card.Rejected(lifecycle.OpBuy, itemID, "no merchant presented")
	}
	merchant := s.presented.Outcome.Card
	p, err := s.mgr.lifecycle.Buy(ctx, s.ownerLocked(), merchant, itemID)
	if err != nil && p.Card.ID == "" {
		return p, err
	}
	for _, c := range []*card.Card{&s.presented.Outcome.Card, &s.presented.Outcome.Template} {
		for i := range c.MerchantItems {
			if card.Key(c.MerchantItems[i].ID) == card.Key(itemID) {
				c.MerchantItems[i].Stock--
			}
		}
	}
	return p, err
}

// AdjustPlayer sets a ledger field directly.
func (s *Session) AdjustPlayer(ctx context.Context, field ledger.Field, value int) (ledger.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.State{}, ErrClosed
	}
	return s.mgr.lifecycle.AdjustPlayer(ctx, s.ownerLocked(), field, value)
}

func (s *Session) takePresentedLocked(op string) (Presentation, error) {
	if s.closed {
		return Presentation{}, ErrClosed
	}
	if s.presented == nil {
		return Presentation{}, card.Rejected(op, "", "nothing presented")
	}
	p := *s.presented
	s.presented = nil
	s.cameFromScanner = false
	return p, nil
}

func (s *Session) dropPresentedLocked(id string) {
	if s.presented != nil && s.presented.Outcome.Source == resolve.SourceInventory &&
		card.Key(s.presented.Outcome.Card.ID) == card.Key(id) {
		s.presented = nil
	}
}

func (s *Session) ownerLocked() lifecycle.Owner {
	return lifecycle.Owner{
		UserID:    s.UserID,
		Admin:     s.admin,
		Class:     s.class,
		Inventory: s.inventory,
		Ledger:    s.ledger,
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.generation++
	s.presented = nil
}
