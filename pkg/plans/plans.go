package plans

import (
	"fmt"
	"sort"
)

// Plan IDs known to the billing flow
const (
	Free  = "free"
	Basic = "basic"
	Pro   = "pro"
	Max   = "max"
)

// DefaultFreeLimit is the number of generations granted per calendar month
// without a subscription
const DefaultFreeLimit = 5

// Plan is one entry in the catalog
type Plan struct {
	ID                   string   `yaml:"id" json:"id"`
	Name                 string   `yaml:"name" json:"name"`
	Description          string   `yaml:"description,omitempty" json:"description,omitempty"`
	GenerationsPerPeriod int      `yaml:"generations_per_period" json:"generations_per_period"`
	MonthlyPrice         float64  `yaml:"monthly_price" json:"monthly_price"`
	YearlyPrice          float64  `yaml:"yearly_price" json:"yearly_price"`
	PriceIDs             PriceIDs `yaml:"price_ids" json:"price_ids"`
}

// PriceIDs are the provider price identifiers for a plan
type PriceIDs struct {
	Monthly string `yaml:"monthly" json:"monthly,omitempty"`
	Yearly  string `yaml:"yearly" json:"yearly,omitempty"`
}

// Paid reports whether the plan can be bought
func (p Plan) Paid() bool {
	return p.ID != Free && (p.PriceIDs.Monthly != "" || p.PriceIDs.Yearly != "")
}

// Catalog is an immutable set of plans indexed by id and price id
type Catalog struct {
	plans   map[string]Plan
	byPrice map[string]string
	order   []string
}

// NewCatalog validates plans and builds a catalog. A free plan is required.
func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{
		plans:   make(map[string]Plan, len(plans)),
		byPrice: make(map[string]string),
	}

	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan id is required")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		if p.GenerationsPerPeriod < 0 {
			return nil, fmt.Errorf("plan %q: generations_per_period must not be negative", p.ID)
		}
		for _, priceID := range []string{p.PriceIDs.Monthly, p.PriceIDs.Yearly} {
			if priceID == "" {
				continue
			}
			if owner, dup := c.byPrice[priceID]; dup {
				return nil, fmt.Errorf("price id %q used by plans %q and %q", priceID, owner, p.ID)
			}
			c.byPrice[priceID] = p.ID
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}

	if _, ok := c.plans[Free]; !ok {
		return nil, fmt.Errorf("catalog must define the %q plan", Free)
	}

	sort.SliceStable(c.order, func(i, j int) bool {
		return c.plans[c.order[i]].GenerationsPerPeriod < c.plans[c.order[j]].GenerationsPerPeriod
	})

	return c, nil
}

// DefaultCatalog returns the built-in plans
func DefaultCatalog(freeLimit int) *Catalog {
	c, err := NewCatalog([]Plan{
		{
			ID:                   Free,
			Name:                 "Free",
			GenerationsPerPeriod: freeLimit,
		},
		{
			ID:                   Basic,
			Name:                 "Basic",
			Description:          "Perfect for individuals and light users",
			GenerationsPerPeriod: 100,
			MonthlyPrice:         12,
			YearlyPrice:          144,
			PriceIDs:             PriceIDs{Monthly: "price_basic_monthly", Yearly: "price_basic_yearly"},
		},
		{
			ID:                   Pro,
			Name:                 "Pro",
			Description:          "For professional creators and teams",
			GenerationsPerPeriod: 400,
			MonthlyPrice:         19.5,
			YearlyPrice:          234,
			PriceIDs:             PriceIDs{Monthly: "price_pro_monthly", Yearly: "price_pro_yearly"},
		},
		{
			ID:                   Max,
			Name:                 "Max",
			Description:          "Designed for large enterprises and professional studios",
			GenerationsPerPeriod: 1800,
			MonthlyPrice:         80,
			YearlyPrice:          960,
			PriceIDs:             PriceIDs{Monthly: "price_max_monthly", Yearly: "price_max_yearly"},
		},
	})
	if err != nil {
		panic(err) // built-in plans are valid
	}
	return c
}

// Plan returns the plan with the given id
func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Limit returns the generation limit for a plan. Unknown plans get the
// free limit.
func (c *Catalog) Limit(id string) int {
	if p, ok := c.plans[id]; ok {
		return p.GenerationsPerPeriod
	}
	return c.plans[Free].GenerationsPerPeriod
}

// FreeLimit returns the free plan's generation limit
func (c *Catalog) FreeLimit() int {
	return c.plans[Free].GenerationsPerPeriod
}

// PlanForPrice returns the plan sold under a provider price id
func (c *Catalog) PlanForPrice(priceID string) (Plan, bool) {
	id, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, false
	}
	return c.plans[id], true
}

// Plans returns all plans ordered by allowance
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
