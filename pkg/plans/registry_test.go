package plans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luguanhuang/nano-banana/pkg/observability"
)

const testPlans = `
plans:
  - id: free
    name: Free
    generations_per_period: %d
  - id: pro
    name: Pro
    generations_per_period: 400
    price_ids:
      monthly: price_pro_monthly
`

func writePlans(t *testing.T, path string, freeLimit int) {
	t.Helper()
	content := []byte(fmt.Sprintf(testPlans, freeLimit))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestNewRegistryFromFile_Defaults(t *testing.T) {
	r, err := NewRegistryFromFile("", 7, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, r.FreeLimit())
	assert.Equal(t, 1800, r.Limit(Max))
	assert.NoError(t, r.Reload(), "reload without a file is a no-op")
}

func TestNewRegistryFromFile_MissingFile(t *testing.T) {
	_, err := NewRegistryFromFile(filepath.Join(t.TempDir(), "missing.yaml"), 5, nil, nil)
	assert.Error(t, err)
}

func TestRegistry_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	writePlans(t, path, 3)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r, err := NewRegistryFromFile(path, 5, observability.NopLogger(), metrics)
	require.NoError(t, err)
	assert.Equal(t, 3, r.FreeLimit())

	require.NoError(t, os.WriteFile(path, []byte("plans: [not valid"), 0o644))
	assert.Error(t, r.Reload())
	assert.Equal(t, 3, r.FreeLimit())

	writePlans(t, path, 9)
	require.NoError(t, r.Reload())
	assert.Equal(t, 9, r.FreeLimit())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PlanReloadsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PlanReloadsTotal.WithLabelValues("ok")))
}

func TestRegistry_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	writePlans(t, path, 3)

	r, err := NewRegistryFromFile(path, 5, observability.NopLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx))

	writePlans(t, path, 11)

	assert.Eventually(t, func() bool {
		return r.FreeLimit() == 11
	}, 5*time.Second, 20*time.Millisecond)
}
