package billing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Plan describes a purchasable subscription plan. PaddlePriceID maps the
// plan onto the recurring gateway's catalog; instant rails charge
// PriceCents directly.
type Plan struct {
	Slug          string `yaml:"slug"`
	Name          string `yaml:"name"`
	PriceCents    int64  `yaml:"price_cents"`
	Currency      string `yaml:"currency"`
	IntervalDays  int    `yaml:"interval_days"`
	Active        bool   `yaml:"active"`
	PaddlePriceID string `yaml:"paddle_price_id,omitempty"`
}

// PlanSource defines how the plan catalog is loaded into the engine.
type PlanSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory PlanSource with a copy of the
// given plans. Panics if no plans are provided: the engine always needs
// at least one valid plan.
func NewInMemSource(plans ...Plan) PlanSource {
	if len(plans) < 1 {
		panic("at least one plan is required")
	}
	plansCopy := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		plansCopy[plan.Slug] = plan
	}
	return &inMemSource{plans: plansCopy}
}

// Load returns a copy of all plans so callers cannot mutate shared state.
func (s *inMemSource) Load(ctx context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.plans), nil
}

type fileSource struct {
	path string
}

// NewFileSource returns a PlanSource that reads a YAML plan catalog:
//
//   - slug: premium-monthly
//     name: Premium
//     price_cents: 3000
//     currency: BRL
//     interval_days: 30
//     active: true
//     paddle_price_id: pri_premium_monthly
func NewFileSource(path string) PlanSource {
	return &fileSource{path: path}
}

func (s *fileSource) Load(ctx context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var list []Plan
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	plans := make(map[string]Plan, len(list))
	for _, plan := range list {
		plans[plan.Slug] = plan
	}
	return plans, nil
}

// validatePlans catches catalog misconfiguration at startup instead of
// at checkout time.
func validatePlans(plans map[string]Plan) error {
	if len(plans) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("plan catalog is empty"))
	}
	for slug, plan := range plans {
		if plan.Slug != slug {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan slug mismatch: map key %s != plan.Slug %s", slug, plan.Slug))
		}
		if plan.PriceCents < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative price: %d", slug, plan.PriceCents))
		}
		if plan.IntervalDays <= 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has non-positive interval: %d", slug, plan.IntervalDays))
		}
	}
	return nil
}
