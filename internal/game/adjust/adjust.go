// Package adjust derives the effective, context-dependent view of a card.
package adjust

import "github.com/scanquest/scanquest-server-go/internal/card"

// Context is the presentation context a card is viewed in.
type Context struct {
	Night bool
	Class card.PlayerClass
}

// Adjust returns the variant of c for ctx. The result never shares mutable
// structure with c, so cached catalog templates stay untouched.
//
// The time overlay runs first and the class overlay second, so a non-empty
// class override wins over a night override of the same field. Empty overlay
// values fall back to whatever the field held before.
func Adjust(c card.Card, ctx Context) card.Card {
	out := c.Clone()

	if ctx.Night && c.TimeVariant != nil && c.TimeVariant.Enabled {
		tv := c.TimeVariant
		if tv.NightTitle != "" {
			out.Title = tv.NightTitle
		}
		if tv.NightDescription != "" {
			out.Description = tv.NightDescription
		}
		if tv.NightType != "" {
			out.Type = tv.NightType
		}
		if len(tv.NightStats) > 0 {
			out.Stats = cloneStats(tv.NightStats)
		}
	}

	if ctx.Class != card.ClassNone {
		if cv, ok := c.ClassVariants[ctx.Class]; ok {
			if cv.OverrideTitle != "" {
				out.Title = cv.OverrideTitle
			}
			if cv.OverrideDescription != "" {
				out.Description = cv.OverrideDescription
			}
			if len(cv.BonusStats) > 0 {
				out.Stats = cloneStats(cv.BonusStats)
			}
		}
	}

	return out
}

func cloneStats(src []card.Stat) []card.Stat {
	out := make([]card.Stat, len(src))
	copy(out, src)
	return out
}
