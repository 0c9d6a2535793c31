package ranks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrEmptyTable indicates that no rank tiers were supplied.
	ErrEmptyTable = errors.New("ranks: table requires at least one tier")
	// ErrInvalidTier indicates a tier with a blank name, negative threshold or out-of-range rate.
	ErrInvalidTier = errors.New("ranks: invalid tier")
)

var (
	rateFloor   = decimal.Zero
	rateCeiling = decimal.NewFromInt(1)
)

// Tier is one rung of the rank ladder.
type Tier struct {
	Code           string          `gorm:"column:code;primaryKey;size:64;not null" json:"code"`
	Name           string          `gorm:"column:name;size:64;not null;uniqueIndex" json:"name"`
	MinXP          int64           `gorm:"column:min_xp;not null" json:"min_xp"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:varchar(16);not null" json:"commission_rate"`
	Perks          string          `gorm:"column:perks;type:text" json:"perks"`
	OrderIndex     int             `gorm:"column:order_index;not null" json:"order_index"`
}

// TableName provides the explicit table binding for GORM.
func (Tier) TableName() string {
	return "rank_tiers"
}

// DefaultTiers is the ladder seeded into new databases.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Bronze", MinXP: 0, CommissionRate: decimal.RequireFromString("0.15"), Perks: "Base commission", OrderIndex: 0},
		{Name: "Silver", MinXP: 1000, CommissionRate: decimal.RequireFromString("0.15"), Perks: "Priority lead routing", OrderIndex: 1},
		{Name: "Gold", MinXP: 2500, CommissionRate: decimal.RequireFromString("0.20"), Perks: "+5% commission on live venues", OrderIndex: 2},
		{Name: "Platinum", MinXP: 5000, CommissionRate: decimal.RequireFromString("0.25"), Perks: "First pick of new territories", OrderIndex: 3},
		{Name: "Diamond", MinXP: 10000, CommissionRate: decimal.RequireFromString("0.30"), Perks: "Quarterly bonus pool", OrderIndex: 4},
		{Name: "Black Key", MinXP: 25000, CommissionRate: decimal.RequireFromString("0.35"), Perks: "Black Key events access", OrderIndex: 5},
	}
}

// Table is an immutable, sorted rank ladder. Safe for concurrent use.
type Table struct {
	tiers  []Tier
	lookup map[string]int
}

// NewTable validates tiers and orders them by threshold, breaking threshold ties by
// the lowest order index.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyTable
	}

	sorted := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		tier.Name = strings.TrimSpace(tier.Name)
		if tier.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidTier)
		}
		if tier.MinXP < 0 {
			return nil, fmt.Errorf("%w: %s has negative threshold %d", ErrInvalidTier, tier.Name, tier.MinXP)
		}
		if tier.CommissionRate.LessThan(rateFloor) || tier.CommissionRate.GreaterThan(rateCeiling) {
			return nil, fmt.Errorf("%w: %s commission rate %s outside [0,1]", ErrInvalidTier, tier.Name, tier.CommissionRate)
		}
		if strings.TrimSpace(tier.Code) == "" {
			tier.Code = slug.Make(tier.Name)
		}
		sorted = append(sorted, tier)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MinXP != sorted[j].MinXP {
			return sorted[i].MinXP < sorted[j].MinXP
		}
		return sorted[i].OrderIndex < sorted[j].OrderIndex
	})

	lookup := make(map[string]int, len(sorted)*2)
	for index, tier := range sorted {
		nameKey := strings.ToLower(tier.Name)
		if _, exists := lookup[nameKey]; exists {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidTier, tier.Name)
		}
		lookup[nameKey] = index
		if _, exists := lookup[tier.Code]; !exists {
			lookup[tier.Code] = index
		}
	}

	return &Table{tiers: sorted, lookup: lookup}, nil
}

// DefaultTable returns the table built from DefaultTiers.
func DefaultTable() *Table {
	table, err := NewTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return table
}

// LoadTable reads the ladder from rank_tiers, falling back to the defaults when empty.
func LoadTable(ctx context.Context, db *gorm.DB) (*Table, error) {
	var tiers []Tier
	if err := db.WithContext(ctx).Order("order_index ASC").Find(&tiers).Error; err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return DefaultTable(), nil
	}
	return NewTable(tiers)
}

// Tiers returns a copy of the ladder ordered from lowest to highest.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Lowest returns the entry tier.
func (t *Table) Lowest() Tier {
	return t.tiers[0]
}

// DeriveRank returns the tier with the highest threshold not above totalXP.
// Duplicate thresholds resolve to the tier with the lowest order index.
func (t *Table) DeriveRank(totalXP int64) Tier {
	index := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinXP > totalXP
	}) - 1
	if index < 0 {
		return t.tiers[0]
	}
	threshold := t.tiers[index].MinXP
	for index > 0 && t.tiers[index-1].MinXP == threshold {
		index--
	}
	return t.tiers[index]
}

// Lookup resolves a rank by name (case-insensitive) or code.
func (t *Table) Lookup(name string) (Tier, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	index, ok := t.lookup[key]
	if !ok {
		return Tier{}, false
	}
	return t.tiers[index], true
}

// CommissionRateForRank returns the rate of the named rank. Unknown names get the
// lowest tier's rate.
func (t *Table) CommissionRateForRank(name string) decimal.Decimal {
	tier, ok := t.Lookup(name)
	if !ok {
		return t.Lowest().CommissionRate
	}
	return tier.CommissionRate
}

// NextRank describes the distance from a total to the next tier.
type NextRank struct {
	Current   Tier
	Next      *Tier
	Remaining int64
}

// XPToNextRank reports the current tier and how much XP the next tier needs.
// Next is nil at the top of the ladder.
func (t *Table) XPToNextRank(totalXP int64) NextRank {
	current := t.DeriveRank(totalXP)
	for _, tier := range t.tiers {
		if tier.MinXP > totalXP {
			next := tier
			return NextRank{Current: current, Next: &next, Remaining: tier.MinXP - totalXP}
		}
	}
	return NextRank{Current: current}
}
