package card

// EffectType is the single-field effect of a dilemma option.
type EffectType string

const (
	EffectNone EffectType = "none"
	EffectHP   EffectType = "hp"
	EffectGold EffectType = "gold"
)

// Valid reports whether e is a known dilemma effect. An empty value is
// treated as none.
func (e EffectType) Valid() bool {
	switch e {
	case "", EffectNone, EffectHP, EffectGold:
		return true
	default:
		return false
	}
}

// TrapConfig configures a TRAP card.
type TrapConfig struct {
	Difficulty     int         `json:"difficulty" yaml:"difficulty"`
	Damage         int         `json:"damage" yaml:"damage"`
	DisarmClass    PlayerClass `json:"disarmClass,omitempty" yaml:"disarmClass,omitempty"`
	SuccessMessage string      `json:"successMessage,omitempty" yaml:"successMessage,omitempty"`
	FailMessage    string      `json:"failMessage,omitempty" yaml:"failMessage,omitempty"`
}

// TradeConfig holds merchant-wide pricing rules. Percentages are whole numbers.
type TradeConfig struct {
	ClassDiscounts map[PlayerClass]int `json:"classDiscounts,omitempty" yaml:"classDiscounts,omitempty"`
	StealChance    int                 `json:"stealChance,omitempty" yaml:"stealChance,omitempty"`
}

// MerchantItem is one listing of a MERCHANT card. ID points at a catalog card.
type MerchantItem struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Price int    `json:"price" yaml:"price"`
	Stock int    `json:"stock" yaml:"stock"`
}

// DilemmaOption is one ordered choice of a DILEMMA card.
type DilemmaOption struct {
	Label               string     `json:"label" yaml:"label"`
	Consequence         string     `json:"consequence,omitempty" yaml:"consequence,omitempty"`
	PhysicalInstruction string     `json:"physicalInstruction,omitempty" yaml:"physicalInstruction,omitempty"`
	EffectType          EffectType `json:"effectType,omitempty" yaml:"effectType,omitempty"`
	EffectValue         int        `json:"effectValue,omitempty" yaml:"effectValue,omitempty"`
}

// BossPhase is one stage of a BOSS fight.
type BossPhase struct {
	Name        string `json:"name" yaml:"name"`
	HPThreshold int    `json:"hpThreshold,omitempty" yaml:"hpThreshold,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Stats       []Stat `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// RecipeIngredient names an owned card consumed by crafting. An inventory holds
// one instance per id, so Count is shown to players but never enforced.
type RecipeIngredient struct {
	ID    string `json:"id" yaml:"id"`
	Count int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// CraftingRecipe turns a catalog card into a blueprint.
type CraftingRecipe struct {
	Ingredients []RecipeIngredient `json:"ingredients" yaml:"ingredients"`
	GoldCost    int                `json:"goldCost,omitempty" yaml:"goldCost,omitempty"`
}

// ResourceConfig describes a harvestable resource.
type ResourceConfig struct {
	Resource string `json:"resource" yaml:"resource"`
	Amount   int    `json:"amount" yaml:"amount"`
}

// PlanetConfig configures a PLANET card.
type PlanetConfig struct {
	Biome      string `json:"biome,omitempty" yaml:"biome,omitempty"`
	Hazard     string `json:"hazard,omitempty" yaml:"hazard,omitempty"`
	OxygenCost int    `json:"oxygenCost,omitempty" yaml:"oxygenCost,omitempty"`
}

// StationConfig configures a LOCATION that acts as a station.
type StationConfig struct {
	Services []string `json:"services,omitempty" yaml:"services,omitempty"`
}

// MarketConfig configures buy and sell rates of a LOCATION market, in percent.
type MarketConfig struct {
	BuyRate  int `json:"buyRate,omitempty" yaml:"buyRate,omitempty"`
	SellRate int `json:"sellRate,omitempty" yaml:"sellRate,omitempty"`
}

// LootDrop is a possible drop of an ENCOUNTER or BOSS.
type LootDrop struct {
	ID     string `json:"id" yaml:"id"`
	Chance int    `json:"chance,omitempty" yaml:"chance,omitempty"`
}

// Payload is the type-specific configuration of a card. The concrete type is
// selected by the card's Type.
type Payload interface {
	Kind() Type
}

// ItemPayload is active for ITEM cards.
type ItemPayload struct {
	Recipe   *CraftingRecipe
	Resource *ResourceConfig
}

func (ItemPayload) Kind() Type { return TypeItem }

// EncounterPayload is active for ENCOUNTER cards.
type EncounterPayload struct {
	Loot []LootDrop
}

func (EncounterPayload) Kind() Type { return TypeEncounter }

// BossPayload is active for BOSS cards.
type BossPayload struct {
	Phases []BossPhase
	Loot   []LootDrop
}

func (BossPayload) Kind() Type { return TypeBoss }

// TrapPayload is active for TRAP cards.
type TrapPayload struct {
	Config TrapConfig
}

func (TrapPayload) Kind() Type { return TypeTrap }

// MerchantPayload is active for MERCHANT cards.
type MerchantPayload struct {
	Trade TradeConfig
	Items []MerchantItem
}

func (MerchantPayload) Kind() Type { return TypeMerchant }

// DilemmaPayload is active for DILEMMA cards.
type DilemmaPayload struct {
	Options []DilemmaOption
}

func (DilemmaPayload) Kind() Type { return TypeDilemma }

// LocationPayload is active for LOCATION cards.
type LocationPayload struct {
	Station *StationConfig
	Market  *MarketConfig
}

func (LocationPayload) Kind() Type { return TypeLocation }

// PlanetPayload is active for PLANET cards.
type PlanetPayload struct {
	Planet   *PlanetConfig
	Resource *ResourceConfig
}

func (PlanetPayload) Kind() Type { return TypePlanet }

// Payload returns the configuration that is semantically active for the
// card's type, or nil when the card carries none.
func (c Card) Payload() Payload {
	switch c.Type {
	case TypeItem:
		if c.Crafting == nil && c.Resource == nil {
			return nil
		}
		return ItemPayload{Recipe: c.Crafting, Resource: c.Resource}
	case TypeEncounter:
		if len(c.EnemyLoot) == 0 {
			return nil
		}
		return EncounterPayload{Loot: c.EnemyLoot}
	case TypeBoss:
		if len(c.BossPhases) == 0 && len(c.EnemyLoot) == 0 {
			return nil
		}
		return BossPayload{Phases: c.BossPhases, Loot: c.EnemyLoot}
	case TypeTrap:
		if c.Trap == nil {
			return nil
		}
		return TrapPayload{Config: *c.Trap}
	case TypeMerchant:
		if c.Trade == nil && len(c.MerchantItems) == 0 {
			return nil
		}
		p := MerchantPayload{Items: c.MerchantItems}
		if c.Trade != nil {
			p.Trade = *c.Trade
		}
		return p
	case TypeDilemma:
		if len(c.DilemmaOptions) == 0 {
			return nil
		}
		return DilemmaPayload{Options: c.DilemmaOptions}
	case TypeLocation:
		if c.Station == nil && c.Market == nil {
			return nil
		}
		return LocationPayload{Station: c.Station, Market: c.Market}
	case TypePlanet:
		if c.Planet == nil && c.Resource == nil {
			return nil
		}
		return PlanetPayload{Planet: c.Planet, Resource: c.Resource}
	default:
		return nil
	}
}

// Price returns the listing price after the class discount of t, never below zero.
func (t TradeConfig) Price(item MerchantItem, class PlayerClass) int {
	discount := t.ClassDiscounts[class]
	if discount <= 0 {
		return item.Price
	}
	if discount >= 100 {
		return 0
	}
	return item.Price - item.Price*discount/100
}
