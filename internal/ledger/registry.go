package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

// Registry keeps the set of registered integrations in memory. Integrations
// are never removed, so a cached key stays valid; unknown keys trigger a
// reload before being rejected.
type Registry struct {
	store store.LedgerStore

	mu           sync.RWMutex
	integrations map[string]models.Integration
}

func NewRegistry(s store.LedgerStore) *Registry {
	return &Registry{
		store:        s,
		integrations: make(map[string]models.Integration),
	}
}

func (r *Registry) Load(ctx context.Context) error {
	integrations, err := r.store.ListIntegrations(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range integrations {
		r.integrations[i.Key] = i
	}
	return nil
}

// Validate normalizes key and returns it if the integration is registered.
func (r *Registry) Validate(ctx context.Context, key string) (string, error) {
	key = models.NormalizeIntegrationKey(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", store.ErrUnknownIntegration)
	}
	if r.has(key) {
		return key, nil
	}

	if err := r.Load(ctx); err != nil {
		return "", err
	}
	if r.has(key) {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", store.ErrUnknownIntegration, key)
}

func (r *Registry) has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.integrations[key]
	return ok
}

// Register stores a new integration and backfills its ledger rows.
func (r *Registry) Register(ctx context.Context, integration models.Integration) (int, error) {
	if err := integration.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidQuery, err)
	}

	backfilled, err := r.store.RegisterIntegration(ctx, integration)
	if err != nil {
		return 0, err
	}

	if err := r.Load(ctx); err != nil {
		// committed anyway; the next Validate miss reloads
		logger.Error.Printf("Failed to reload integrations after registering %s: %v", integration.Key, err)
	}
	return backfilled, nil
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.integrations))
	for key := range r.integrations {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.integrations)
}
