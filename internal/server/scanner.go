// Package server exposes the scanner engine over gRPC and pushes player
// state to browsers over WebSocket.
package server

import (
	"context"
	"strings"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/catalog"
	"github.com/scanquest/scanquest-server-go/internal/game/effects"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"github.com/scanquest/scanquest-server-go/internal/game/lifecycle"
	"github.com/scanquest/scanquest-server-go/internal/game/resolve"
	"github.com/scanquest/scanquest-server-go/internal/session"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Scanner implements the scanquest.v1.Scanner service.
type Scanner struct {
	sessions  *session.Manager
	catalog   *catalog.Catalog
	adminHash []byte
	logger    *zap.Logger
}

// NewScanner creates the service. An empty adminPasswordHash disables
// ConnectAdmin.
func NewScanner(sessions *session.Manager, cat *catalog.Catalog, adminPasswordHash string, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		sessions:  sessions,
		catalog:   cat,
		adminHash: []byte(adminPasswordHash),
		logger:    logger,
	}
}

func (s *Scanner) current(ctx context.Context) (*session.Session, error) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no session")
	}
	return sess, nil
}

// ==================== Session ====================

// OpenSession logs a player in: {user_id, class} -> {session_id, state, inventory}.
func (s *Scanner) OpenSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireString(req, "user_id")
	if err != nil {
		return nil, err
	}
	class := card.PlayerClass(strings.ToUpper(stringField(req, "class")))
	sess, err := s.sessions.Open(ctx, userID, class)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return reply(
		"session_id", sess.ID,
		"state", sess.State(),
		"inventory", sess.Inventory(),
	)
}

// CloseSession logs the caller out.
func (s *Scanner) CloseSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Close(ctx, sess.ID); err != nil {
		s.logger.Warn("session closed with unflushed state", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return reply()
}

// ConnectAdmin elevates the caller after a bcrypt password check.
func (s *Scanner) ConnectAdmin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if len(s.adminHash) == 0 {
		return nil, status.Error(codes.Unimplemented, "admin access not configured")
	}
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(stringField(req, "password"))); err != nil {
		s.logger.Warn("admin authentication failed", zap.String("session_id", sess.ID))
		return nil, status.Error(codes.PermissionDenied, "invalid admin password")
	}
	sess.SetAdmin(true)
	s.logger.Info("admin connected", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	return reply("admin", true)
}

// SetContext switches day/night and class: {night, class} -> {card?}.
func (s *Scanner) SetContext(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	class := card.PlayerClass(strings.ToUpper(stringField(req, "class")))
	sess.SetContext(boolField(req, "night"), class)
	if p, ok := sess.Presented(); ok {
		return reply("card", p.Outcome.Card)
	}
	return reply()
}

// ==================== Resolution ====================

// Scan resolves a code: {code} -> {card, source, from_scanner}.
func (s *Scanner) Scan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	code, err := requireString(req, "code")
	if err != nil {
		return nil, err
	}
	out, err := sess.Scan(ctx, code)
	if err != nil {
		return nil, err
	}
	return outcomeReply(out)
}

// Present shows an owned card: {card_id} -> {card, source, from_scanner}.
func (s *Scanner) Present(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "card_id")
	if err != nil {
		return nil, err
	}
	out, err := sess.Present(id)
	if err != nil {
		return nil, err
	}
	return outcomeReply(out)
}

func outcomeReply(out resolve.Outcome) (*structpb.Struct, error) {
	return reply(
		"card", out.Card,
		"source", string(out.Source),
		"from_scanner", out.FromScanner,
	)
}

// Dismiss closes the card on screen: {} -> {offer_turn_advance}.
func (s *Scanner) Dismiss(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return reply("offer_turn_advance", sess.Dismiss())
}

// ==================== Effects ====================

// Use applies the card on screen: {} -> {state, applied, consumed, retained, persisted}.
func (s *Scanner) Use(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := sess.Use(ctx)
	persisted, err := committed(err)
	if err != nil {
		return nil, err
	}
	return reply(
		"state", res.Effects.State,
		"applied", appliedMap(res.Effects),
		"consumed", res.Consumed,
		"retained", string(res.Retained),
		"persisted", persisted,
	)
}

// ChooseDilemma applies one option: {option} -> {state, applied, persisted}.
func (s *Scanner) ChooseDilemma(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	index, err := intField(req, "option")
	if err != nil {
		return nil, err
	}
	res, err := sess.ChooseDilemma(ctx, index)
	persisted, err := committed(err)
	if err != nil {
		return nil, err
	}
	return reply(
		"state", res.State,
		"applied", appliedMap(res),
		"persisted", persisted,
	)
}

func appliedMap(res effects.Result) map[string]int {
	out := make(map[string]int, len(res.Applied))
	for f, v := range res.Applied {
		out[string(f)] = v
	}
	return out
}

// PlayerState returns the ledger: {} -> {state}.
func (s *Scanner) PlayerState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return reply("state", sess.State())
}

// AdminAdjust sets one ledger field: {field, value} -> {state, persisted}.
func (s *Scanner) AdminAdjust(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	field, ok := ledger.ParseField(stringField(req, "field"))
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown field %q", stringField(req, "field"))
	}
	value, err := intField(req, "value")
	if err != nil {
		return nil, err
	}
	st, err := sess.AdjustPlayer(ctx, field, value)
	persisted, err := committed(err)
	if err != nil {
		return nil, err
	}
	return reply("state", st, "persisted", persisted)
}

// ==================== Lifecycle ====================

// Save upserts the given card, or the template on screen when none is sent:
// {card?} -> {card, created, synced}.
func (s *Scanner) Save(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	c, explicit, err := cardField(req, "card")
	if err != nil {
		return nil, err
	}
	var m lifecycle.Mutation
	if explicit {
		m, err = sess.Save(ctx, c)
	} else {
		m, err = sess.SavePresented(ctx)
	}
	if err != nil {
		return nil, err
	}
	return reply("card", m.Card, "created", m.Created, "synced", m.Synced)
}

// Delete removes an owned card: {card_id} -> {}.
func (s *Scanner) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "card_id")
	if err != nil {
		return nil, err
	}
	if err := sess.Delete(ctx, id); err != nil {
		return nil, err
	}
	return reply()
}

// ToggleLock flips a card's lock: {card_id} -> {card, synced}.
func (s *Scanner) ToggleLock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "card_id")
	if err != nil {
		return nil, err
	}
	m, err := sess.ToggleLock(ctx, id)
	if err != nil {
		return nil, err
	}
	return reply("card", m.Card, "synced", m.Synced)
}

// LoadForEdit fetches an owned card for the editor: {card_id} -> {card}.
func (s *Scanner) LoadForEdit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "card_id")
	if err != nil {
		return nil, err
	}
	c, err := sess.LoadForEdit(id)
	if err != nil {
		return nil, err
	}
	return reply("card", c)
}

// Inventory lists owned cards: {} -> {cards}.
func (s *Scanner) Inventory(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return reply("cards", sess.Inventory())
}

// Craft builds a blueprint: {blueprint_id} -> {card, created, synced}.
func (s *Scanner) Craft(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "blueprint_id")
	if err != nil {
		return nil, err
	}
	m, err := sess.Craft(ctx, id)
	if err != nil {
		return nil, err
	}
	return reply("card", m.Card, "created", m.Created, "synced", m.Synced, "state", sess.State())
}

// Buy purchases from the merchant on screen: {item_id} -> {card, price, state, persisted}.
func (s *Scanner) Buy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "item_id")
	if err != nil {
		return nil, err
	}
	p, err := sess.Buy(ctx, id)
	persisted, err := committed(err)
	if err != nil {
		return nil, err
	}
	return reply("card", p.Card, "price", p.Price, "state", p.State, "persisted", persisted)
}

// ==================== Catalog ====================

// RefreshCatalog pulls the master catalog now: {} -> {changed, cards, checksum}.
func (s *Scanner) RefreshCatalog(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.catalog.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return reply("changed", res.Changed, "cards", res.Cards, "checksum", res.Checksum)
}

// Blueprints lists craftable catalog cards: {} -> {cards}.
func (s *Scanner) Blueprints(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply("cards", s.catalog.Blueprints())
}
