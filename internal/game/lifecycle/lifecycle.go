// Package lifecycle governs how owned cards are saved, used, locked and
// removed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/scanquest/scanquest-server-go/internal/cache"
	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/game/effects"
	"github.com/scanquest/scanquest-server-go/internal/game/events"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"github.com/scanquest/scanquest-server-go/internal/inventory"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"go.uber.org/zap"
)

// Operation names used in rejections and logs.
const (
	OpSave        = "save"
	OpDelete      = "delete"
	OpToggleLock  = "toggle_lock"
	OpLoadForEdit = "load_for_edit"
	OpUse         = "use"
	OpDilemma     = "choose_dilemma"
	OpCraft       = "craft"
	OpBuy         = "buy"
	OpAdjust      = "adjust_player"
)

// Owner is the slice of a session the lifecycle acts on.
type Owner struct {
	UserID    string
	Admin     bool
	Class     card.PlayerClass
	Inventory *inventory.Inventory
	Ledger    *ledger.Ledger
}

// Templates finds catalog cards by id.
type Templates interface {
	Lookup(id string) (card.Card, bool)
}

// Mutation is the outcome of a command that changed an owned card.
type Mutation struct {
	Card card.Card
	// Created is set when a save added a new id rather than overwriting one.
	Created bool
	// Synced is false when the remote write failed and the change is held
	// locally until the next sync.
	Synced bool
}

// RetainReason explains why a used card stayed in the inventory.
type RetainReason string

const (
	RetainNone          RetainReason = ""
	RetainNotOwned      RetainReason = "not_owned"
	RetainNotConsumable RetainReason = "not_consumable"
	RetainLocked        RetainReason = "locked"
	RetainRemoteFailed  RetainReason = "remote_failed"
)

// UseResult is the outcome of using a card.
type UseResult struct {
	Effects  effects.Result
	Consumed bool
	Retained RetainReason
}

// Purchase is the outcome of buying a merchant listing.
type Purchase struct {
	Mutation
	Price int
	State ledger.State
}

// Manager runs lifecycle commands. It holds no per-player state; callers
// serialize commands for one Owner.
type Manager struct {
	store     store.Store
	cache     cache.Cache
	templates Templates
	applier   *effects.Applier
	bus       *events.Bus
	logger    *zap.Logger
}

// Config wires a Manager. Store, Cache, Templates and Bus may be nil.
type Config struct {
	Store     store.Store
	Cache     cache.Cache
	Templates Templates
	Bus       *events.Bus
}

// New creates a Manager.
func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.Nop{}
	}
	return &Manager{
		store:     cfg.Store,
		cache:     c,
		templates: cfg.Templates,
		applier:   effects.NewApplier(cfg.Bus, logger.Named("effects")),
		bus:       cfg.Bus,
		logger:    logger,
	}
}

// Save upserts c into the owner's inventory. Non-consumable cards are stored
// savable. A locked instance cannot be overwritten, and only admins may save
// a card locked. The local write always happens; a remote failure only clears
// Synced.
func (m *Manager) Save(ctx context.Context, o Owner, c card.Card) (Mutation, error) {
	if err := c.Validate(); err != nil {
		return Mutation{}, m.reject(o, OpSave, c.ID, err.Error())
	}
	if err := m.writable(o, OpSave, c.ID); err != nil {
		return Mutation{}, err
	}
	if !o.Admin {
		// Only ToggleLock changes the lock of an owned card.
		c.IsLocked = false
	}
	c = c.Normalized()
	created := o.Inventory.Put(c)
	m.snapshotInventory(ctx, o)

	synced := m.pushRemote(ctx, o.UserID, OpSave, c)
	m.logger.Info("card saved",
		zap.String("user_id", o.UserID),
		zap.String("card_id", c.ID),
		zap.Bool("created", created),
		zap.Bool("synced", synced),
	)
	m.bus.Publish(events.New(events.KindCardSaved, o.UserID, c.ID))
	return Mutation{Card: c, Created: created, Synced: synced}, nil
}

// Delete removes an owned card. Locked cards are rejected. The remote delete
// runs first and the local copy is only dropped once it succeeds.
func (m *Manager) Delete(ctx context.Context, o Owner, id string) error {
	c, ok := o.Inventory.Get(id)
	if !ok {
		return card.NotFound(id)
	}
	if c.IsLocked {
		return m.reject(o, OpDelete, c.ID, "card is locked")
	}
	if err := m.remove(ctx, o, c); err != nil {
		return err
	}
	m.bus.Publish(events.New(events.KindCardDeleted, o.UserID, c.ID))
	return nil
}

// ToggleLock flips the admin lock of an owned card. The local change sticks
// even when the remote write fails.
func (m *Manager) ToggleLock(ctx context.Context, o Owner, id string) (Mutation, error) {
	if !o.Admin {
		return Mutation{}, m.reject(o, OpToggleLock, id, "admin only")
	}
	c, ok := o.Inventory.Update(id, func(c *card.Card) {
		c.IsLocked = !c.IsLocked
	})
	if !ok {
		return Mutation{}, card.NotFound(id)
	}
	m.snapshotInventory(ctx, o)
	synced := m.pushRemote(ctx, o.UserID, OpToggleLock, c)

	kind := events.KindCardUnlocked
	if c.IsLocked {
		kind = events.KindCardLocked
	}
	m.bus.Publish(events.New(kind, o.UserID, c.ID))
	return Mutation{Card: c, Synced: synced}, nil
}

// LoadForEdit returns an owned card for the editor. Locked cards are refused
// for every caller.
func (m *Manager) LoadForEdit(o Owner, id string) (card.Card, error) {
	c, ok := o.Inventory.Get(id)
	if !ok {
		return card.Card{}, card.NotFound(id)
	}
	if c.IsLocked {
		return card.Card{}, m.reject(o, OpLoadForEdit, c.ID, "card is locked")
	}
	if !o.Admin {
		return card.Card{}, m.reject(o, OpLoadForEdit, c.ID, "admin only")
	}
	return c, nil
}

// Use applies the effects of presented, the context-adjusted card on screen,
// and then consumes the owned instance if it is consumable and unlocked.
// Effects always apply first; a lock only prevents the removal.
func (m *Manager) Use(ctx context.Context, o Owner, presented card.Card) (UseResult, error) {
	res, applyErr := m.applier.Apply(ctx, o.Ledger, o.UserID, presented)
	out := UseResult{Effects: res}

	owned, ok := o.Inventory.Get(presented.ID)
	switch {
	case !ok:
		out.Retained = RetainNotOwned
	case !owned.IsConsumable:
		out.Retained = RetainNotConsumable
	case owned.IsLocked:
		out.Retained = RetainLocked
		m.logger.Info("locked consumable kept after use",
			zap.String("user_id", o.UserID),
			zap.String("card_id", owned.ID),
		)
	default:
		if err := m.remove(ctx, o, owned); err != nil {
			out.Retained = RetainRemoteFailed
		} else {
			out.Consumed = true
			m.bus.Publish(events.New(events.KindCardConsumed, o.UserID, owned.ID))
		}
	}
	return out, applyErr
}

// ChooseDilemma applies option index of a DILEMMA card.
func (m *Manager) ChooseDilemma(ctx context.Context, o Owner, c card.Card, index int) (effects.Result, error) {
	if c.Type != card.TypeDilemma {
		return effects.Result{}, m.reject(o, OpDilemma, c.ID, "not a dilemma")
	}
	if index < 0 || index >= len(c.DilemmaOptions) {
		return effects.Result{}, m.reject(o, OpDilemma, c.ID, fmt.Sprintf("no option %d", index))
	}
	return m.applier.ApplyDilemma(ctx, o.Ledger, o.UserID, c.ID, c.DilemmaOptions[index])
}

// Craft builds blueprint from owned ingredients. Every ingredient must be
// owned and unlocked and the gold cost affordable before anything changes.
func (m *Manager) Craft(ctx context.Context, o Owner, blueprint card.Card) (Mutation, error) {
	recipe := blueprint.Crafting
	if recipe == nil || len(recipe.Ingredients) == 0 {
		return Mutation{}, m.reject(o, OpCraft, blueprint.ID, "no recipe")
	}

	ingredients := make([]card.Card, 0, len(recipe.Ingredients))
	for _, ing := range recipe.Ingredients {
		c, ok := o.Inventory.Get(ing.ID)
		if !ok {
			return Mutation{}, m.reject(o, OpCraft, blueprint.ID, fmt.Sprintf("missing ingredient %q", ing.ID))
		}
		if c.IsLocked {
			return Mutation{}, m.reject(o, OpCraft, blueprint.ID, fmt.Sprintf("ingredient %q is locked", ing.ID))
		}
		ingredients = append(ingredients, c)
	}
	if gold := o.Ledger.Snapshot().Gold; gold < recipe.GoldCost {
		return Mutation{}, m.reject(o, OpCraft, blueprint.ID, fmt.Sprintf("needs %d gold, has %d", recipe.GoldCost, gold))
	}
	if err := m.writable(o, OpCraft, blueprint.ID); err != nil {
		return Mutation{}, err
	}

	// All remote deletes happen before any local change. On failure the
	// ingredients already deleted are written back.
	deleted := make([]card.Card, 0, len(ingredients))
	for _, c := range ingredients {
		if err := m.deleteRemote(ctx, o, c); err != nil {
			m.restoreRemote(ctx, o, deleted)
			return Mutation{}, fmt.Errorf("craft %q: %w", blueprint.ID, err)
		}
		deleted = append(deleted, c)
	}
	for _, c := range ingredients {
		o.Inventory.Remove(c.ID)
		m.bus.Publish(events.New(events.KindCardConsumed, o.UserID, c.ID))
	}
	m.snapshotInventory(ctx, o)
	if err := m.spend(ctx, o, blueprint.ID, recipe.GoldCost); err != nil {
		m.logger.Warn("crafting cost not persisted", zap.String("card_id", blueprint.ID), zap.Error(err))
	}

	crafted := blueprint.Clone()
	crafted.Crafting = nil
	return m.Save(ctx, o, crafted)
}

// Buy purchases itemID from merchant at the owner's class price and saves the
// catalog card it points at.
func (m *Manager) Buy(ctx context.Context, o Owner, merchant card.Card, itemID string) (Purchase, error) {
	if merchant.Type != card.TypeMerchant {
		return Purchase{}, m.reject(o, OpBuy, merchant.ID, "not a merchant")
	}
	var (
		item  card.MerchantItem
		found bool
	)
	for _, it := range merchant.MerchantItems {
		if card.Key(it.ID) == card.Key(itemID) {
			item, found = it, true
			break
		}
	}
	if !found {
		return Purchase{}, card.NotFound(itemID)
	}
	if item.Stock <= 0 {
		return Purchase{}, m.reject(o, OpBuy, item.ID, "sold out")
	}

	var trade card.TradeConfig
	if merchant.Trade != nil {
		trade = *merchant.Trade
	}
	price := trade.Price(item, o.Class)
	if gold := o.Ledger.Snapshot().Gold; gold < price {
		return Purchase{}, m.reject(o, OpBuy, item.ID, fmt.Sprintf("costs %d gold, has %d", price, gold))
	}

	if m.templates == nil {
		return Purchase{}, card.NotFound(item.ID)
	}
	tmpl, ok := m.templates.Lookup(item.ID)
	if !ok {
		return Purchase{}, card.NotFound(item.ID)
	}
	if err := m.writable(o, OpBuy, tmpl.ID); err != nil {
		return Purchase{}, err
	}

	spendErr := m.spend(ctx, o, merchant.ID, price)
	saved, err := m.Save(ctx, o, tmpl)
	if err != nil {
		return Purchase{}, err
	}
	return Purchase{Mutation: saved, Price: price, State: o.Ledger.Snapshot()}, spendErr
}

// AdjustPlayer sets a ledger field directly. Admin only.
func (m *Manager) AdjustPlayer(ctx context.Context, o Owner, field ledger.Field, value int) (ledger.State, error) {
	if !o.Admin {
		return ledger.State{}, m.reject(o, OpAdjust, string(field), "admin only")
	}
	s, err := o.Ledger.Set(ctx, field, value)
	evt := events.New(events.KindPlayerState, o.UserID, "")
	evt.Payload = s
	m.bus.Publish(evt)
	return s, err
}

func (m *Manager) spend(ctx context.Context, o Owner, cardID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	applied, s, err := o.Ledger.Batch(ctx, func(tx *ledger.Tx) {
		tx.Add(ledger.FieldGold, -amount)
	})
	m.bus.Publish(events.Pulse(events.KindSpend, o.UserID, cardID, string(ledger.FieldGold), applied[ledger.FieldGold]))
	evt := events.New(events.KindPlayerState, o.UserID, cardID)
	evt.Payload = s
	m.bus.Publish(evt)
	return err
}

// remove deletes c remotely and then locally.
func (m *Manager) remove(ctx context.Context, o Owner, c card.Card) error {
	if err := m.deleteRemote(ctx, o, c); err != nil {
		return err
	}
	o.Inventory.Remove(c.ID)
	m.snapshotInventory(ctx, o)
	return nil
}

// deleteRemote deletes c from the store. A remote miss counts as done.
func (m *Manager) deleteRemote(ctx context.Context, o Owner, c card.Card) error {
	if m.store == nil {
		return nil
	}
	err := m.store.DeleteEvent(ctx, o.UserID, c.ID)
	if err != nil && !errors.Is(err, card.ErrNotFound) {
		m.logger.Warn("remote delete failed, keeping card",
			zap.String("user_id", o.UserID),
			zap.String("card_id", c.ID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: delete %q: %w", card.ErrPersistence, c.ID, err)
	}
	return nil
}

func (m *Manager) restoreRemote(ctx context.Context, o Owner, cards []card.Card) {
	for _, c := range cards {
		if !m.pushRemote(ctx, o.UserID, OpCraft, c) {
			m.logger.Error("remote copy lost, local card kept",
				zap.String("user_id", o.UserID),
				zap.String("card_id", c.ID),
			)
		}
	}
}

// writable rejects commands that would overwrite a locked owned card.
func (m *Manager) writable(o Owner, op, id string) error {
	if existing, ok := o.Inventory.Get(id); ok && existing.IsLocked {
		return m.reject(o, op, existing.ID, "card is locked")
	}
	return nil
}

func (m *Manager) pushRemote(ctx context.Context, userID, op string, c card.Card) bool {
	if m.store == nil {
		return true
	}
	if _, err := m.store.CreateOrUpdateEvent(ctx, userID, c); err != nil {
		m.logger.Warn("remote write failed, kept locally",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.String("card_id", c.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (m *Manager) snapshotInventory(ctx context.Context, o Owner) {
	if err := m.cache.SaveInventory(ctx, o.UserID, o.Inventory.List()); err != nil {
		m.logger.Warn("failed to cache inventory", zap.String("user_id", o.UserID), zap.Error(err))
	}
}

func (m *Manager) reject(o Owner, op, id, reason string) error {
	m.logger.Info("mutation rejected",
		zap.String("op", op),
		zap.String("user_id", o.UserID),
		zap.String("card_id", id),
		zap.String("reason", reason),
	)
	return card.Rejected(op, id, reason)
}
