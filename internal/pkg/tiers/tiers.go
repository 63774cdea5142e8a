package tiers

import "strings"

type Tier string

const (
	TierFree   Tier = "free"
	TierMaker  Tier = "maker"
	TierStudio Tier = "studio"
)

// Category is a named class of consumable allowance tracked independently
// per user (distinct generation types).
type Category string

const (
	CategoryLogo   Category = "logo"
	CategoryBanner Category = "banner"
	CategoryMockup Category = "mockup"
)

// Config describes what a tier entitles a user to: the per-category credit
// allotments for one billing period and whether consumption beyond the
// allotment is permitted.
type Config struct {
	CreditAllotments map[Category]int64
	OverageEnabled   bool
}

// Catalog is the read-only tier lookup injected into every component that
// needs tier semantics. Implementations must be safe for concurrent use.
type Catalog interface {
	GetTierConfig(tier Tier) (Config, bool)
}

// NormalizeTier maps arbitrary tier strings to a known tier, defaulting to free.
func NormalizeTier(tier string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierMaker:
		return TierMaker
	case TierStudio:
		return TierStudio
	default:
		return TierFree
	}
}

// StaticCatalog is the built-in catalog used when no external tier source is
// configured. Allotments include zero entries on purpose: allocate iterates
// every listed category, so a downgrade resets balances the higher tier left
// behind.
type StaticCatalog struct {
	configs map[Tier]Config
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		configs: map[Tier]Config{
			TierFree: {
				CreditAllotments: map[Category]int64{
					CategoryLogo:   3,
					CategoryBanner: 0,
					CategoryMockup: 0,
				},
				OverageEnabled: false,
			},
			TierMaker: {
				CreditAllotments: map[Category]int64{
					CategoryLogo:   50,
					CategoryBanner: 20,
					CategoryMockup: 0,
				},
				OverageEnabled: false,
			},
			TierStudio: {
				CreditAllotments: map[Category]int64{
					CategoryLogo:   200,
					CategoryBanner: 100,
					CategoryMockup: 50,
				},
				OverageEnabled: true,
			},
		},
	}
}

func (c *StaticCatalog) GetTierConfig(tier Tier) (Config, bool) {
	cfg, ok := c.configs[NormalizeTier(string(tier))]
	return cfg, ok
}
