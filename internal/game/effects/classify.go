// Package effects turns a card's loosely typed stats and dilemma choices into
// ledger mutations.
package effects

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind is the semantic class of a stat label.
type Kind int

const (
	KindNone Kind = iota
	KindHP
	KindDamage
	KindGold
	KindMana
)

func (k Kind) String() string {
	switch k {
	case KindHP:
		return "hp"
	case KindDamage:
		return "damage"
	case KindGold:
		return "gold"
	case KindMana:
		return "mana"
	default:
		return "none"
	}
}

// Keywords maps each kind to the label substrings that select it. Authors
// type labels freely in Czech or English, so matching is by upper-cased
// substring. Order in Classify is HP, damage, gold, mana; first match wins.
var Keywords = []struct {
	Kind     Kind
	Keywords []string
}{
	{KindHP, []string{"HP", "ZDRAVÍ", "HEALTH", "ŽIVOTY", "HEAL", "LÉČENÍ"}},
	{KindDamage, []string{"DMG", "POŠKOZENÍ", "ÚTOK", "UTOK", "ATTACK"}},
	{KindGold, []string{"GOLD", "KREDITY", "PENÍZE", "MINCE"}},
	{KindMana, []string{"MANA", "ENERGIE", "ENERGY", "POWER"}},
}

// Classify returns the kind of a stat label, or KindNone for labels that are
// purely informational.
func Classify(label string) Kind {
	upper := cases.Upper(language.Czech).String(strings.TrimSpace(label))
	if upper == "" {
		return KindNone
	}
	for _, entry := range Keywords {
		for _, kw := range entry.Keywords {
			if strings.Contains(upper, kw) {
				return entry.Kind
			}
		}
	}
	return KindNone
}

// ParseValue reads the leading signed integer of an authored value. A leading
// plus sign is allowed and trailing text is ignored ("+20 HP" reads as 20).
// ok is false when no digits lead the value.
func ParseValue(raw string) (n int, ok bool) {
	s := strings.TrimSpace(raw)
	neg := false
	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	}

	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
