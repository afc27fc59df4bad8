package plans

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCatalogGetPlan(t *testing.T) {
	catalog := NewStaticCatalog()

	plan, err := catalog.GetPlan(context.Background(), "starter")
	require.NoError(t, err)
	assert.Equal(t, "starter", plan.ID)
	assert.Equal(t, int64(4900), plan.PriceCents)
	assert.Equal(t, int64(1000), plan.Limits.APICallsPerPeriod)
	assert.False(t, plan.IsFree())
}

func TestStaticCatalogGetPlanNotFound(t *testing.T) {
	catalog := NewStaticCatalog()

	_, err := catalog.GetPlan(context.Background(), "platinum")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestStaticCatalogListPlansOrderedByPrice(t *testing.T) {
	catalog := NewStaticCatalog()

	plans, err := catalog.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 4)

	for i := 1; i < len(plans); i++ {
		assert.LessOrEqual(t, plans[i-1].PriceCents, plans[i].PriceCents)
	}
	assert.Equal(t, "free", plans[0].ID)
	assert.Equal(t, "enterprise", plans[len(plans)-1].ID)
}

func TestStaticCatalogIsReadOnly(t *testing.T) {
	catalog := NewStaticCatalog()

	_, err := catalog.CreatePlan(context.Background(), &Plan{ID: "custom"})
	assert.Error(t, err)
}

func TestFreePlanIsFree(t *testing.T) {
	catalog := NewStaticCatalog()

	plan, err := catalog.GetPlan(context.Background(), "free")
	require.NoError(t, err)
	assert.True(t, plan.IsFree())
}

func TestEnterprisePlanIsUnlimited(t *testing.T) {
	catalog := NewStaticCatalog()

	plan, err := catalog.GetPlan(context.Background(), "enterprise")
	require.NoError(t, err)
	for _, metric := range LimitedMetrics() {
		limit, ok := plan.Limits.For(metric)
		require.True(t, ok)
		assert.Equal(t, Unlimited, limit, "metric %s", metric)
	}
}

func TestMetricRegistryAggregations(t *testing.T) {
	cumulative := []string{MetricAPICalls, MetricWorkflowsExecuted}
	gauges := []string{MetricStorageGB, MetricActiveUsers, MetricIntegrationsUsed, MetricCustomDomains}

	for _, m := range cumulative {
		agg, ok := AggregationFor(m)
		require.True(t, ok, "metric %s", m)
		assert.Equal(t, AggregationCumulative, agg, "metric %s", m)
	}
	for _, m := range gauges {
		agg, ok := AggregationFor(m)
		require.True(t, ok, "metric %s", m)
		assert.Equal(t, AggregationGauge, agg, "metric %s", m)
	}

	_, ok := AggregationFor("bytes_teleported")
	assert.False(t, ok)
}

func TestPlanValidate(t *testing.T) {
	valid := Plan{
		ID:         "custom",
		Name:       "Custom",
		PriceCents: 12900,
		Currency:   "usd",
		Interval:   IntervalMonthly,
		Limits:     Limits{Users: 20, StorageGB: 50, APICallsPerPeriod: 50000, Integrations: 10, CustomDomains: 2},
	}
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.Error(t, missingID.Validate())

	negativePrice := valid
	negativePrice.PriceCents = -100
	assert.Error(t, negativePrice.Validate())

	badInterval := valid
	badInterval.Interval = "weekly"
	assert.Error(t, badInterval.Validate())

	badLimit := valid
	badLimit.Limits.Users = -2
	assert.Error(t, badLimit.Validate())

	unlimited := valid
	unlimited.Limits.Users = Unlimited
	assert.NoError(t, unlimited.Validate())
}

func TestPostgresCatalogShadowsBuiltins(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	catalog := NewPostgresCatalog(db)

	// Built-in lookups never hit the database.
	plan, err := catalog.GetPlan(context.Background(), "growth")
	require.NoError(t, err)
	assert.Equal(t, "growth", plan.ID)

	// Reserved ids cannot be redefined.
	_, err = catalog.CreatePlan(context.Background(), &Plan{
		ID: "free", Name: "Free", Currency: "usd", Interval: IntervalMonthly,
	})
	assert.Error(t, err)
}

func TestPostgresCatalogCreatePlanValidates(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	catalog := NewPostgresCatalog(db)

	_, err = catalog.CreatePlan(context.Background(), &Plan{ID: "broken"})
	assert.Error(t, err)
}
