package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog(DefaultFreeLimit)

	assert.Equal(t, 5, c.Limit(Free))
	assert.Equal(t, 100, c.Limit(Basic))
	assert.Equal(t, 400, c.Limit(Pro))
	assert.Equal(t, 1800, c.Limit(Max))
	assert.Equal(t, 5, c.Limit("enterprise"), "unknown plans get the free limit")
	assert.Equal(t, 5, c.FreeLimit())

	ids := []string{}
	for _, p := range c.Plans() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{Free, Basic, Pro, Max}, ids)
}

func TestCatalog_PlanForPrice(t *testing.T) {
	c := DefaultCatalog(DefaultFreeLimit)

	p, ok := c.PlanForPrice("price_pro_yearly")
	require.True(t, ok)
	assert.Equal(t, Pro, p.ID)

	_, ok = c.PlanForPrice("price_unknown")
	assert.False(t, ok)
}

func TestPlan_Paid(t *testing.T) {
	c := DefaultCatalog(DefaultFreeLimit)

	free, _ := c.Plan(Free)
	basic, _ := c.Plan(Basic)
	assert.False(t, free.Paid())
	assert.True(t, basic.Paid())
	assert.False(t, Plan{ID: "custom"}.Paid(), "a plan without price ids cannot be bought")
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name    string
		plans   []Plan
		wantErr string
	}{
		{"missing free", []Plan{{ID: Pro}}, `must define the "free" plan`},
		{"empty id", []Plan{{ID: ""}}, "plan id is required"},
		{"duplicate id", []Plan{{ID: Free}, {ID: Free}}, "duplicate plan id"},
		{"negative limit", []Plan{{ID: Free, GenerationsPerPeriod: -1}}, "must not be negative"},
		{"shared price id", []Plan{
			{ID: Free},
			{ID: Basic, PriceIDs: PriceIDs{Monthly: "price_x"}},
			{ID: Pro, PriceIDs: PriceIDs{Yearly: "price_x"}},
		}, `price id "price_x" used by plans`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.plans)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
version: v1
plans:
  - id: free
    name: Free
    generations_per_period: 3
  - id: pro
    name: Pro
    generations_per_period: 500
    monthly_price: 19.5
    price_ids:
      monthly: price_pro_monthly
`))
	require.NoError(t, err)
	assert.Equal(t, 3, c.FreeLimit())
	assert.Equal(t, 500, c.Limit(Pro))

	_, err = Parse([]byte("plans:\n  - id: free\n    generations: 3\n"))
	assert.ErrorContains(t, err, "failed to parse plans file", "unknown keys are rejected")

	_, err = Parse([]byte("version: v1\n"))
	assert.ErrorContains(t, err, "defines no plans")
}
