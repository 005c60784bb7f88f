// Package card holds the scannable game event model shared by the catalog,
// player inventories and the resolution engine.
package card

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is the closed set of card kinds. It selects which type-specific
// payload is meaningful.
type Type string

const (
	TypeItem      Type = "ITEM"
	TypeEncounter Type = "ENCOUNTER"
	TypeBoss      Type = "BOSS"
	TypeTrap      Type = "TRAP"
	TypeMerchant  Type = "MERCHANT"
	TypeDilemma   Type = "DILEMMA"
	TypeLocation  Type = "LOCATION"
	TypePlanet    Type = "PLANET"
)

var allTypes = []Type{
	TypeItem, TypeEncounter, TypeBoss, TypeTrap,
	TypeMerchant, TypeDilemma, TypeLocation, TypePlanet,
}

// Valid reports whether t is one of the known card types.
func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType matches s against the known types, ignoring case and padding.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Rarity is cosmetic and economic weight only.
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
)

// Valid reports whether r is a known rarity.
func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	default:
		return false
	}
}

// PlayerClass selects class variants and merchant discounts.
type PlayerClass string

const (
	ClassNone    PlayerClass = ""
	ClassWarrior PlayerClass = "WARRIOR"
	ClassMage    PlayerClass = "MAGE"
	ClassRogue   PlayerClass = "ROGUE"
	ClassCleric  PlayerClass = "CLERIC"
)

// StatValue is the authored value of a stat. Authors write either numbers or
// free text ("+20", "-10", "x2"), so the value is kept as text and parsed on use.
type StatValue string

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (v *StatValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StatValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("stat value must be a string or number: %w", err)
	}
	*v = StatValue(n.String())
	return nil
}

// UnmarshalYAML keeps the scalar text exactly as authored.
func (v *StatValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("stat value must be a scalar, got kind %d", node.Kind)
	}
	*v = StatValue(node.Value)
	return nil
}

// Int builds a StatValue from a signed integer, keeping an explicit plus sign.
func Int(n int) StatValue {
	if n > 0 {
		return StatValue("+" + strconv.Itoa(n))
	}
	return StatValue(strconv.Itoa(n))
}

// Stat is one labelled line on a card. Labels are free text; meaning is
// derived by keyword matching when effects are applied.
type Stat struct {
	Label string    `json:"label" yaml:"label"`
	Value StatValue `json:"value" yaml:"value"`
}

// TimeVariant overlays night-time presentation on a card.
type TimeVariant struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	NightTitle       string `json:"nightTitle,omitempty" yaml:"nightTitle,omitempty"`
	NightDescription string `json:"nightDescription,omitempty" yaml:"nightDescription,omitempty"`
	NightType        Type   `json:"nightType,omitempty" yaml:"nightType,omitempty"`
	NightStats       []Stat `json:"nightStats,omitempty" yaml:"nightStats,omitempty"`
}

// ClassVariant overlays class-specific narrative and stats on a card.
type ClassVariant struct {
	OverrideTitle       string `json:"overrideTitle,omitempty" yaml:"overrideTitle,omitempty"`
	OverrideDescription string `json:"overrideDescription,omitempty" yaml:"overrideDescription,omitempty"`
	BonusStats          []Stat `json:"bonusStats,omitempty" yaml:"bonusStats,omitempty"`
}

// Card is the central content entity: an item, encounter, trap, dilemma,
// merchant, boss, location or planet reachable by scanning its code.
//
// ID is the identity key within one scope (the master catalog or a single
// player's inventory) and is compared case-insensitively.
type Card struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        Type   `json:"type" yaml:"type"`
	Rarity      Rarity `json:"rarity,omitempty" yaml:"rarity,omitempty"`
	Stats       []Stat `json:"stats,omitempty" yaml:"stats,omitempty"`

	IsConsumable bool `json:"isConsumable" yaml:"isConsumable"`
	CanBeSaved   bool `json:"canBeSaved" yaml:"canBeSaved"`
	IsLocked     bool `json:"isLocked" yaml:"isLocked"`

	TimeVariant   *TimeVariant                 `json:"timeVariant,omitempty" yaml:"timeVariant,omitempty"`
	ClassVariants map[PlayerClass]ClassVariant `json:"classVariants,omitempty" yaml:"classVariants,omitempty"`

	Trap           *TrapConfig     `json:"trapConfig,omitempty" yaml:"trapConfig,omitempty"`
	Trade          *TradeConfig    `json:"tradeConfig,omitempty" yaml:"tradeConfig,omitempty"`
	MerchantItems  []MerchantItem  `json:"merchantItems,omitempty" yaml:"merchantItems,omitempty"`
	DilemmaOptions []DilemmaOption `json:"dilemmaOptions,omitempty" yaml:"dilemmaOptions,omitempty"`
	BossPhases     []BossPhase     `json:"bossPhases,omitempty" yaml:"bossPhases,omitempty"`
	Crafting       *CraftingRecipe `json:"craftingRecipe,omitempty" yaml:"craftingRecipe,omitempty"`
	Resource       *ResourceConfig `json:"resourceConfig,omitempty" yaml:"resourceConfig,omitempty"`
	Planet         *PlanetConfig   `json:"planetConfig,omitempty" yaml:"planetConfig,omitempty"`
	Station        *StationConfig  `json:"stationConfig,omitempty" yaml:"stationConfig,omitempty"`
	Market         *MarketConfig   `json:"marketConfig,omitempty" yaml:"marketConfig,omitempty"`
	EnemyLoot      []LootDrop      `json:"enemyLoot,omitempty" yaml:"enemyLoot,omitempty"`
}

// Key normalizes an id for case-insensitive lookup.
func Key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Key returns the lookup key of the card's id.
func (c Card) Key() string {
	return Key(c.ID)
}

// Validate checks the fields every stored card must carry.
func (c Card) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("card id is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("card %q has unknown type %q", c.ID, c.Type)
	}
	if c.Rarity != "" && !c.Rarity.Valid() {
		return fmt.Errorf("card %q has unknown rarity %q", c.ID, c.Rarity)
	}
	if c.TimeVariant != nil && c.TimeVariant.NightType != "" && !c.TimeVariant.NightType.Valid() {
		return fmt.Errorf("card %q has unknown night type %q", c.ID, c.TimeVariant.NightType)
	}
	for i, opt := range c.DilemmaOptions {
		if !opt.EffectType.Valid() {
			return fmt.Errorf("card %q dilemma option %d has unknown effect type %q", c.ID, i, opt.EffectType)
		}
	}
	return nil
}

// Normalized returns a copy ready to be stored. Non-consumable cards are
// always savable; this is enforced on every save, not only on creation.
func (c Card) Normalized() Card {
	out := c.Clone()
	out.ID = strings.TrimSpace(out.ID)
	if out.Type == "" {
		out.Type = TypeItem
	}
	if out.Rarity == "" {
		out.Rarity = RarityCommon
	}
	if !out.IsConsumable {
		out.CanBeSaved = true
	}
	return out
}

// Clone returns a deep copy that shares no mutable structure with c.
func (c Card) Clone() Card {
	out := c
	out.Stats = cloneStats(c.Stats)

	if c.TimeVariant != nil {
		tv := *c.TimeVariant
		tv.NightStats = cloneStats(c.TimeVariant.NightStats)
		out.TimeVariant = &tv
	}
	if c.ClassVariants != nil {
		out.ClassVariants = make(map[PlayerClass]ClassVariant, len(c.ClassVariants))
		for class, v := range c.ClassVariants {
			v.BonusStats = cloneStats(v.BonusStats)
			out.ClassVariants[class] = v
		}
	}

	if c.Trap != nil {
		trap := *c.Trap
		out.Trap = &trap
	}
	if c.Trade != nil {
		trade := *c.Trade
		if c.Trade.ClassDiscounts != nil {
			trade.ClassDiscounts = make(map[PlayerClass]int, len(c.Trade.ClassDiscounts))
			for class, pct := range c.Trade.ClassDiscounts {
				trade.ClassDiscounts[class] = pct
			}
		}
		out.Trade = &trade
	}
	out.MerchantItems = cloneSlice(c.MerchantItems)
	out.DilemmaOptions = cloneSlice(c.DilemmaOptions)
	if c.BossPhases != nil {
		out.BossPhases = make([]BossPhase, len(c.BossPhases))
		for i, phase := range c.BossPhases {
			phase.Stats = cloneStats(phase.Stats)
			out.BossPhases[i] = phase
		}
	}
	if c.Crafting != nil {
		recipe := *c.Crafting
		recipe.Ingredients = cloneSlice(c.Crafting.Ingredients)
		out.Crafting = &recipe
	}
	if c.Resource != nil {
		res := *c.Resource
		out.Resource = &res
	}
	if c.Planet != nil {
		planet := *c.Planet
		out.Planet = &planet
	}
	if c.Station != nil {
		station := *c.Station
		station.Services = cloneSlice(c.Station.Services)
		out.Station = &station
	}
	if c.Market != nil {
		market := *c.Market
		out.Market = &market
	}
	out.EnemyLoot = cloneSlice(c.EnemyLoot)
	return out
}

func cloneStats(src []Stat) []Stat {
	return cloneSlice(src)
}

func cloneSlice[T any](src []T) []T {
	if src == nil {
		return nil
	}
	out := make([]T, len(src))
	copy(out, src)
	return out
}

// CloneAll deep-copies a slice of cards.
func CloneAll(cards []Card) []Card {
	if cards == nil {
		return nil
	}
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = c.Clone()
	}
	return out
}
