package effects

import (
	"context"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/game/events"
	"github.com/scanquest/scanquest-server-go/internal/game/ledger"
	"go.uber.org/zap"
)

// Delta is one parsed effect of a stat line.
type Delta struct {
	Label string
	Kind  Kind
	Field ledger.Field
	// Amount is the signed change derived from the stat, before clamping.
	Amount int
}

// Deltas parses the stat list of an already adjusted card. Stats whose value
// does not parse or whose label is unclassified are skipped; zero amounts
// produce nothing.
func Deltas(stats []card.Stat) []Delta {
	out := make([]Delta, 0, len(stats))
	for _, st := range stats {
		d, ok := parseStat(st)
		if !ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

func parseStat(st card.Stat) (Delta, bool) {
	kind := Classify(st.Label)
	if kind == KindNone {
		return Delta{}, false
	}
	n, ok := ParseValue(string(st.Value))
	if !ok || n == 0 {
		return Delta{}, false
	}

	d := Delta{Label: st.Label, Kind: kind, Amount: n}
	switch kind {
	case KindHP:
		d.Field = ledger.FieldHP
	case KindDamage:
		d.Field = ledger.FieldHP
		if n > 0 {
			d.Amount = -n
		}
	case KindGold:
		d.Field = ledger.FieldGold
	case KindMana:
		d.Field = ledger.FieldMana
	}
	return d, true
}

// Result is the outcome of applying one card or dilemma choice.
type Result struct {
	// Applied holds the effective change per field after clamping.
	Applied map[ledger.Field]int
	State   ledger.State
	Pulses  []events.Event
}

// Applier applies effects to a ledger and publishes feedback pulses.
type Applier struct {
	bus    *events.Bus
	logger *zap.Logger
}

// NewApplier creates an Applier. bus may be nil when no one listens.
func NewApplier(bus *events.Bus, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{bus: bus, logger: logger}
}

// Apply runs every stat of c against l as one batch. The mutation always
// commits; a non-nil error only reports that persisting it failed.
func (a *Applier) Apply(ctx context.Context, l *ledger.Ledger, userID string, c card.Card) (Result, error) {
	deltas := Deltas(c.Stats)
	if skipped := len(c.Stats) - len(deltas); skipped > 0 {
		a.logger.Debug("stats without effect",
			zap.String("card_id", c.ID),
			zap.Int("skipped", skipped),
		)
	}

	var pulses []events.Event
	applied, state, err := l.Batch(ctx, func(tx *ledger.Tx) {
		for _, d := range deltas {
			eff := tx.Add(d.Field, d.Amount)
			pulses = append(pulses, pulseFor(d.Field, d.Amount, eff, userID, c.ID))
		}
	})

	res := Result{Applied: applied, State: state, Pulses: pulses}
	a.publish(userID, c.ID, res)
	return res, err
}

// ApplyDilemma applies the single effect of a chosen option. It bypasses the
// label classifier: hp and gold map straight onto their fields, none does
// nothing.
func (a *Applier) ApplyDilemma(ctx context.Context, l *ledger.Ledger, userID, cardID string, opt card.DilemmaOption) (Result, error) {
	var field ledger.Field
	switch opt.EffectType {
	case card.EffectHP:
		field = ledger.FieldHP
	case card.EffectGold:
		field = ledger.FieldGold
	default:
		return Result{Applied: map[ledger.Field]int{}, State: l.Snapshot()}, nil
	}
	if opt.EffectValue == 0 {
		return Result{Applied: map[ledger.Field]int{}, State: l.Snapshot()}, nil
	}

	var pulses []events.Event
	applied, state, err := l.Batch(ctx, func(tx *ledger.Tx) {
		eff := tx.Add(field, opt.EffectValue)
		pulses = append(pulses, pulseFor(field, opt.EffectValue, eff, userID, cardID))
	})

	res := Result{Applied: applied, State: state, Pulses: pulses}
	a.publish(userID, cardID, res)
	return res, err
}

func (a *Applier) publish(userID, cardID string, res Result) {
	if a.bus == nil || len(res.Pulses) == 0 {
		return
	}
	a.bus.PublishAll(res.Pulses)
	snapshot := events.New(events.KindPlayerState, userID, cardID)
	snapshot.Payload = res.State
	a.bus.Publish(snapshot)
}

// pulseFor picks the feedback kind from the authored sign; the amount carried
// is what actually changed.
func pulseFor(field ledger.Field, authored, effective int, userID, cardID string) events.Event {
	var kind events.Kind
	switch field {
	case ledger.FieldHP:
		kind = events.KindDamage
		if authored > 0 {
			kind = events.KindHeal
		}
	case ledger.FieldMana:
		kind = events.KindDrain
		if authored > 0 {
			kind = events.KindHeal
		}
	default:
		kind = events.KindSpend
		if authored > 0 {
			kind = events.KindReward
		}
	}
	return events.Pulse(kind, userID, cardID, string(field), effective)
}
