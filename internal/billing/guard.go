// Package billing gates retention sweeps on a box's subscription standing.
// Retention analytics is a paid feature; boxes whose subscription has
// lapsed are skipped by the scheduler rather than erroring mid-sweep.
package billing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v74"
	sub "github.com/stripe/stripe-go/v74/subscription"

	"github.com/boxpulse/retention/internal/store"
)

// Config represents the subscription guard configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	StripeKey string `yaml:"stripe_key"`
}

// cacheTTL bounds how often one box's subscription is re-checked. Sweep
// schedules are hours apart, so a short TTL only matters for manual sweeps.
const cacheTTL = 15 * time.Minute

type cachedStatus struct {
	allowed   bool
	checkedAt time.Time
}

// Guard answers whether a box is entitled to retention sweeps.
type Guard struct {
	config  Config
	members store.MemberStore

	mu    sync.Mutex
	cache map[string]cachedStatus
	now   func() time.Time
}

// NewGuard creates a new subscription guard. When disabled, every box is
// allowed.
func NewGuard(config Config, members store.MemberStore) *Guard {
	if config.Enabled {
		stripe.Key = config.StripeKey
	}
	return &Guard{
		config:  config,
		members: members,
		cache:   make(map[string]cachedStatus),
		now:     time.Now,
	}
}

// SweepAllowed reports whether a box's subscription permits retention
// sweeps. A box without a Stripe subscription on record is allowed; losing
// sweeps over missing billing wiring is worse than a free sweep. Stripe
// lookup failures also allow the sweep, with a log line.
func (g *Guard) SweepAllowed(ctx context.Context, boxID string) bool {
	if !g.config.Enabled {
		return true
	}

	g.mu.Lock()
	if cached, ok := g.cache[boxID]; ok && g.now().Sub(cached.checkedAt) < cacheTTL {
		g.mu.Unlock()
		return cached.allowed
	}
	g.mu.Unlock()

	allowed, err := g.check(ctx, boxID)
	if err != nil {
		log.Printf("Failed to check subscription for box %s, allowing sweep: %v", boxID, err)
		return true
	}

	g.mu.Lock()
	g.cache[boxID] = cachedStatus{allowed: allowed, checkedAt: g.now()}
	g.mu.Unlock()
	return allowed
}

func (g *Guard) check(ctx context.Context, boxID string) (bool, error) {
	box, err := g.members.GetBox(ctx, boxID)
	if err != nil {
		return false, fmt.Errorf("failed to get box %s: %w", boxID, err)
	}
	if box.StripeSubscriptionID == "" {
		return true, nil
	}

	subscription, err := sub.Get(box.StripeSubscriptionID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get subscription %s: %w", box.StripeSubscriptionID, err)
	}
	return subscriptionAllows(subscription.Status), nil
}

// subscriptionAllows maps a Stripe subscription status to sweep
// entitlement. Trials and grace-period states keep the feature on.
func subscriptionAllows(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
