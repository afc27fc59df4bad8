package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
)

// doRequest runs one request through a handler and returns the recorder.
func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

// writableCatalog layers an in-memory CreatePlan over the built-in tiers.
type writableCatalog struct {
	*plans.StaticCatalog
	created []*plans.Plan
}

func (c *writableCatalog) CreatePlan(_ context.Context, plan *plans.Plan) (*plans.Plan, error) {
	cp := *plan
	c.created = append(c.created, &cp)
	return &cp, nil
}

func newPlanRouter(catalog plans.Catalog, auditLog audit.Logger) *mux.Router {
	router := mux.NewRouter()
	NewPlanHandlers(catalog, auditLog, nil).RegisterRoutes(router)
	return router
}

func newPlanAdminMux(catalog plans.Catalog, auditLog audit.Logger, logger *observability.Logger) *http.ServeMux {
	adminMux := http.NewServeMux()
	NewPlanHandlers(catalog, auditLog, logger).RegisterAdminRoutes(adminMux)
	return adminMux
}

// failingAudit rejects every event, for exercising the audit error path.
type failingAudit struct{}

func (failingAudit) Log(context.Context, *audit.Event) error { return assert.AnError }
func (failingAudit) List(context.Context, string, int) ([]*audit.Event, error) {
	return nil, assert.AnError
}

func TestPlanHandlers_ListPlans(t *testing.T) {
	router := newPlanRouter(plans.NewStaticCatalog(), nil)

	rec := doRequest(t, router, http.MethodGet, "/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []*plans.Plan
	decodeJSON(t, rec, &list)
	require.Len(t, list, 4)

	assert.Equal(t, "free", list[0].ID)
	assert.Equal(t, "enterprise", list[3].ID)
	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1].PriceCents, list[i].PriceCents, "plans must be ordered by ascending price")
	}
}

func TestPlanHandlers_GetPlan(t *testing.T) {
	router := newPlanRouter(plans.NewStaticCatalog(), nil)

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/plans/starter", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var plan plans.Plan
		decodeJSON(t, rec, &plan)
		assert.Equal(t, "starter", plan.ID)
		assert.Equal(t, int64(4900), plan.PriceCents)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/plans/platinum", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]string
		decodeJSON(t, rec, &body)
		assert.Contains(t, body["error"], "platinum")
	})
}

func TestPlanHandlers_CreatePlan(t *testing.T) {
	validPlan := plans.Plan{
		ID:         "scale",
		Name:       "Scale",
		PriceCents: 49900,
		Currency:   "usd",
		Interval:   plans.IntervalMonthly,
		Limits: plans.Limits{
			Users:             100,
			StorageGB:         500,
			APICallsPerPeriod: 500000,
			Integrations:      50,
			CustomDomains:     10,
		},
	}

	t.Run("created with audit event", func(t *testing.T) {
		catalog := &writableCatalog{StaticCatalog: plans.NewStaticCatalog()}
		auditLog := audit.NewMemoryLogger()
		adminMux := newPlanAdminMux(catalog, auditLog, nil)

		rec := doRequest(t, adminMux, http.MethodPost, "/admin/plans", validPlan)
		require.Equal(t, http.StatusCreated, rec.Code)

		var created plans.Plan
		decodeJSON(t, rec, &created)
		assert.Equal(t, "scale", created.ID)
		require.Len(t, catalog.created, 1)

		events := auditLog.Events()
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventTypePlanCreated, events[0].EventType)
		assert.Equal(t, audit.ActorAdmin, events[0].Actor)
		assert.Equal(t, "scale", events[0].ResourceID)
	})

	t.Run("invalid plan rejected", func(t *testing.T) {
		adminMux := newPlanAdminMux(plans.NewStaticCatalog(), nil, nil)

		bad := validPlan
		bad.Interval = "weekly"
		rec := doRequest(t, adminMux, http.MethodPost, "/admin/plans", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		adminMux := newPlanAdminMux(plans.NewStaticCatalog(), nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/plans", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		adminMux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("read-only catalog conflicts", func(t *testing.T) {
		adminMux := newPlanAdminMux(plans.NewStaticCatalog(), nil, nil)

		rec := doRequest(t, adminMux, http.MethodPost, "/admin/plans", validPlan)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("admin surface rejects non-POST", func(t *testing.T) {
		adminMux := newPlanAdminMux(plans.NewStaticCatalog(), nil, nil)

		rec := doRequest(t, adminMux, http.MethodGet, "/admin/plans", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("audit failure is logged, creation still succeeds", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &buf)
		catalog := &writableCatalog{StaticCatalog: plans.NewStaticCatalog()}
		adminMux := newPlanAdminMux(catalog, failingAudit{}, logger)

		rec := doRequest(t, adminMux, http.MethodPost, "/admin/plans", validPlan)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, buf.String(), "failed to write plan audit entry")
	})
}

func TestPlanHandlers_CreateNotOnTenantRouter(t *testing.T) {
	catalog := &writableCatalog{StaticCatalog: plans.NewStaticCatalog()}
	router := newPlanRouter(catalog, nil)

	freeForAll := plans.Plan{
		ID:         "house",
		Name:       "House",
		PriceCents: 0,
		Currency:   "usd",
		Interval:   plans.IntervalMonthly,
		Limits: plans.Limits{
			Users:             plans.Unlimited,
			StorageGB:         plans.Unlimited,
			APICallsPerPeriod: plans.Unlimited,
			Integrations:      plans.Unlimited,
			CustomDomains:     plans.Unlimited,
		},
	}
	rec := doRequest(t, router, http.MethodPost, "/plans", freeForAll)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, catalog.created)
}

func ExamplePlanHandlers() {
	router := mux.NewRouter()
	NewPlanHandlers(plans.NewStaticCatalog(), nil, nil).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/plans/free", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var plan plans.Plan
	json.NewDecoder(rec.Body).Decode(&plan)
	fmt.Println(plan.ID, plan.PriceCents)
	// Output: free 0
}
