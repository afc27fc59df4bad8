package plans

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// Catalog provides read access to billing plans plus administrative
// creation. Tenant-facing flows only ever call GetPlan and ListPlans.
type Catalog interface {
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	CreatePlan(ctx context.Context, plan *Plan) (*Plan, error)
}

// Built-in plan tiers.
var (
	PlanFree = Plan{
		ID:         "free",
		Name:       "Free",
		PriceCents: 0,
		Currency:   "usd",
		Interval:   IntervalMonthly,
		Limits: Limits{
			Users:             3,
			StorageGB:         1,
			APICallsPerPeriod: 500,
			Integrations:      2,
			CustomDomains:     0,
		},
	}

	PlanStarter = Plan{
		ID:         "starter",
		Name:       "Starter",
		PriceCents: 4900, // $49/month
		Currency:   "usd",
		Interval:   IntervalMonthly,
		Limits: Limits{
			Users:             10,
			StorageGB:         25,
			APICallsPerPeriod: 1000,
			Integrations:      5,
			CustomDomains:     1,
		},
		Features: []string{"email-support", "custom-domains"},
	}

	PlanGrowth = Plan{
		ID:         "growth",
		Name:       "Growth",
		PriceCents: 19900, // $199/month
		Currency:   "usd",
		Interval:   IntervalMonthly,
		Limits: Limits{
			Users:             50,
			StorageGB:         250,
			APICallsPerPeriod: 100000,
			Integrations:      20,
			CustomDomains:     5,
		},
		Features: []string{"email-support", "custom-domains", "priority-sync", "advanced-analytics"},
	}

	PlanEnterprise = Plan{
		ID:         "enterprise",
		Name:       "Enterprise",
		PriceCents: 99900, // $999/month
		Currency:   "usd",
		Interval:   IntervalMonthly,
		Limits: Limits{
			Users:             Unlimited,
			StorageGB:         Unlimited,
			APICallsPerPeriod: Unlimited,
			Integrations:      Unlimited,
			CustomDomains:     Unlimited,
		},
		Features: []string{"sso", "dedicated-support", "custom-domains", "advanced-analytics", "audit-log-export", "sla-guarantee"},
	}
)

// BuiltinPlans returns the built-in tiers ordered by ascending price.
func BuiltinPlans() []*Plan {
	return []*Plan{&PlanFree, &PlanStarter, &PlanGrowth, &PlanEnterprise}
}

// StaticCatalog serves the built-in plans. It is read-only; CreatePlan
// always fails. Suitable for deployments that do not need custom tiers.
type StaticCatalog struct {
	plans map[string]*Plan
	order []*Plan
}

// NewStaticCatalog creates a StaticCatalog over the built-in plans.
func NewStaticCatalog() *StaticCatalog {
	c := &StaticCatalog{plans: make(map[string]*Plan)}
	for _, p := range BuiltinPlans() {
		c.plans[p.ID] = p
		c.order = append(c.order, p)
	}
	return c
}

// GetPlan retrieves a built-in plan by id.
func (c *StaticCatalog) GetPlan(_ context.Context, id string) (*Plan, error) {
	plan, ok := c.plans[id]
	if !ok {
		return nil, &NotFoundError{PlanID: id}
	}
	cp := *plan
	return &cp, nil
}

// ListPlans returns the built-in plans ordered by ascending price.
func (c *StaticCatalog) ListPlans(_ context.Context) ([]*Plan, error) {
	out := make([]*Plan, 0, len(c.order))
	for _, p := range c.order {
		cp := *p
		out = append(out, &cp)
	}
	sortPlans(out)
	return out, nil
}

// CreatePlan is not supported on the static catalog.
func (c *StaticCatalog) CreatePlan(_ context.Context, plan *Plan) (*Plan, error) {
	return nil, fmt.Errorf("static catalog is read-only, cannot create plan %q", plan.ID)
}

// PostgresCatalog layers administratively created plans over the built-in
// tiers. Built-in ids shadow database rows so the shipped tiers cannot be
// redefined by an admin.
type PostgresCatalog struct {
	db     *sql.DB
	static *StaticCatalog
}

// NewPostgresCatalog creates a PostgresCatalog.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{
		db:     db,
		static: NewStaticCatalog(),
	}
}

// GetPlan retrieves a plan by id, built-ins first.
func (c *PostgresCatalog) GetPlan(ctx context.Context, id string) (*Plan, error) {
	if plan, err := c.static.GetPlan(ctx, id); err == nil {
		return plan, nil
	}

	query := `
		SELECT id, name, price_cents, currency, interval,
		       limit_users, limit_storage_gb, limit_api_calls, limit_integrations, limit_custom_domains,
		       features, created_at
		FROM billing_plans
		WHERE id = $1
	`
	plan := &Plan{}
	var features pq.StringArray
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&plan.ID, &plan.Name, &plan.PriceCents, &plan.Currency, &plan.Interval,
		&plan.Limits.Users, &plan.Limits.StorageGB, &plan.Limits.APICallsPerPeriod,
		&plan.Limits.Integrations, &plan.Limits.CustomDomains,
		&features, &plan.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{PlanID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	plan.Features = features
	return plan, nil
}

// ListPlans returns built-in plus admin-created plans ordered by ascending
// price; ties break on plan id so the order is stable.
func (c *PostgresCatalog) ListPlans(ctx context.Context) ([]*Plan, error) {
	out, err := c.static.ListPlans(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, price_cents, currency, interval,
		       limit_users, limit_storage_gb, limit_api_calls, limit_integrations, limit_custom_domains,
		       features, created_at
		FROM billing_plans
		ORDER BY price_cents, id
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		plan := &Plan{}
		var features pq.StringArray
		if err := rows.Scan(
			&plan.ID, &plan.Name, &plan.PriceCents, &plan.Currency, &plan.Interval,
			&plan.Limits.Users, &plan.Limits.StorageGB, &plan.Limits.APICallsPerPeriod,
			&plan.Limits.Integrations, &plan.Limits.CustomDomains,
			&features, &plan.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plan.Features = features
		out = append(out, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	sortPlans(out)
	return out, nil
}

// CreatePlan inserts an administratively defined plan.
func (c *PostgresCatalog) CreatePlan(ctx context.Context, plan *Plan) (*Plan, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if _, err := c.static.GetPlan(ctx, plan.ID); err == nil {
		return nil, fmt.Errorf("plan id %q is reserved for a built-in tier", plan.ID)
	}

	query := `
		INSERT INTO billing_plans (id, name, price_cents, currency, interval,
			limit_users, limit_storage_gb, limit_api_calls, limit_integrations, limit_custom_domains, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err := c.db.QueryRowContext(ctx, query,
		plan.ID, plan.Name, plan.PriceCents, plan.Currency, plan.Interval,
		plan.Limits.Users, plan.Limits.StorageGB, plan.Limits.APICallsPerPeriod,
		plan.Limits.Integrations, plan.Limits.CustomDomains,
		pq.StringArray(plan.Features),
	).Scan(&plan.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	cp := *plan
	return &cp, nil
}

func sortPlans(plans []*Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].PriceCents != plans[j].PriceCents {
			return plans[i].PriceCents < plans[j].PriceCents
		}
		return plans[i].ID < plans[j].ID
	})
}
