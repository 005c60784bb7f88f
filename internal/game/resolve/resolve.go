// Package resolve turns a scanned code into a presentable card.
package resolve

import (
	"context"
	"errors"
	"strings"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/catalog"
	"github.com/scanquest/scanquest-server-go/internal/fallback"
	"github.com/scanquest/scanquest-server-go/internal/game/adjust"
	"github.com/scanquest/scanquest-server-go/internal/inventory"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"go.uber.org/zap"
)

// Source identifies which lookup produced a card.
type Source string

const (
	SourceInventory   Source = "inventory"
	SourceCatalog     Source = "catalog"
	SourceRemoteUser  Source = "remote_user"
	SourceRemoteAdmin Source = "remote_admin"
	SourceInterpreter Source = "interpreter"
	SourceStub        Source = "stub"
)

// FromScanner reports whether a card from s counts as freshly scanned rather
// than already owned.
func (s Source) FromScanner() bool {
	return s != SourceInventory
}

// Outcome is a resolved card ready for presentation.
type Outcome struct {
	// Card is the context-adjusted view.
	Card card.Card
	// Template is the unadjusted card as found.
	Template    card.Card
	Source      Source
	FromScanner bool
}

// Request carries the per-session inputs of one resolution.
type Request struct {
	Code      string
	UserID    string
	Inventory *inventory.Inventory
	Context   adjust.Context
}

// Pipeline looks a code up in fixed precedence:
//
//  1. the player's inventory
//  2. the master catalog
//  3. the remote store, player scope
//  4. the remote store, admin scope
//  5. the generative interpreter, or the unknown-artifact stub if it fails
//
// Remote failures fall through to the next source.
type Pipeline struct {
	catalog     *catalog.Catalog
	store       store.Store
	adminScope  string
	interpreter fallback.Interpreter
	logger      *zap.Logger
}

// Config wires the shared sources. Store and Interpreter may be nil.
type Config struct {
	Catalog     *catalog.Catalog
	Store       store.Store
	AdminScope  string
	Interpreter fallback.Interpreter
}

// New creates a pipeline.
func New(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		adminScope:  cfg.AdminScope,
		interpreter: cfg.Interpreter,
		logger:      logger,
	}
}

// Resolve returns the first match for req.Code. It fails with
// card.ErrNotFound only for a blank code, since the stub always resolves.
// A cancelled ctx aborts between sources.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (Outcome, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return Outcome{}, card.NotFound(req.Code)
	}
	log := p.logger.With(zap.String("code", code), zap.String("user_id", req.UserID))

	if req.Inventory != nil {
		if c, ok := req.Inventory.Get(code); ok {
			return p.outcome(c, SourceInventory, req.Context), nil
		}
	}

	if p.catalog != nil {
		if c, ok := p.catalog.Lookup(code); ok {
			return p.outcome(c, SourceCatalog, req.Context), nil
		}
	}

	if p.store != nil {
		if c, ok := p.remote(ctx, log, req.UserID, code); ok {
			return p.outcome(c, SourceRemoteUser, req.Context), nil
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		if p.adminScope != "" && p.adminScope != req.UserID {
			if c, ok := p.remote(ctx, log, p.adminScope, code); ok {
				return p.outcome(c, SourceRemoteAdmin, req.Context), nil
			}
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
	}

	if p.interpreter != nil {
		c, err := p.interpreter.InterpretUnknownCode(ctx, code)
		if err == nil {
			return p.outcome(fallback.Complete(code, c), SourceInterpreter, req.Context), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		log.Warn("interpreter failed, using stub", zap.Error(err))
	}

	return p.outcome(fallback.UnknownArtifact(code), SourceStub, req.Context), nil
}

func (p *Pipeline) remote(ctx context.Context, log *zap.Logger, scope, code string) (card.Card, bool) {
	c, err := p.store.GetEventByID(ctx, scope, code)
	switch {
	case err == nil:
		return c, true
	case errors.Is(err, card.ErrNotFound):
		return card.Card{}, false
	default:
		log.Warn("remote lookup unavailable, falling through",
			zap.String("scope", scope),
			zap.Error(err),
		)
		return card.Card{}, false
	}
}

func (p *Pipeline) outcome(c card.Card, src Source, actx adjust.Context) Outcome {
	return Outcome{
		Card:        adjust.Adjust(c, actx),
		Template:    c,
		Source:      src,
		FromScanner: src.FromScanner(),
	}
}
