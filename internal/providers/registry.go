// Package providers wires profiles to their backends and aggregates across
// them. A profile's provider kind and source type together pick the backend:
// account-type profiles read local data, api-type profiles talk to the
// vendor's remote API with the profile's key.
package providers

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/samber/lo"

	"github.com/usagebar/usagebar/internal/config"
	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/providers/anthropicapi"
	"github.com/usagebar/usagebar/internal/providers/claudelog"
	"github.com/usagebar/usagebar/internal/providers/geminilog"
	"github.com/usagebar/usagebar/internal/providers/glmapi"
	"github.com/usagebar/usagebar/internal/providers/glmdb"
)

// NewBackend constructs the backend for a profile. Configuration problems
// surface here, before any backend exists: an unknown provider kind, a
// missing key on an api profile, or a missing data directory on an account
// profile.
func NewBackend(profile config.Profile) (core.Provider, error) {
	if profile.SourceType != "api" {
		if _, err := os.Stat(profile.Dir); err != nil {
			return nil, fmt.Errorf("data directory does not exist: %s", profile.Dir)
		}
	}

	switch {
	case profile.Provider == "claude" && profile.SourceType == "api":
		if profile.APIKey == "" {
			return nil, fmt.Errorf("profile %s: API key is required for api source type", profile.ID)
		}
		return anthropicapi.New(profile.Name, profile.APIKey), nil
	case profile.Provider == "glm" && profile.SourceType == "api":
		if profile.APIKey == "" {
			return nil, fmt.Errorf("profile %s: API key is required for api source type", profile.ID)
		}
		return glmapi.New(profile.Name, profile.APIKey), nil
	case profile.Provider == "claude":
		return claudelog.New(profile.Name, profile.Dir), nil
	case profile.Provider == "gemini":
		return geminilog.New(profile.Name, profile.Dir), nil
	case profile.Provider == "glm":
		return glmdb.New(profile.Name, profile.Dir), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", profile.Provider)
	}
}

// Registry keeps the profile list and the backend map consistent: a profile
// is present exactly when its backend is. The two live under separate locks;
// whenever both are needed the profile lock is taken first.
type Registry struct {
	profilesMu sync.Mutex
	profiles   []config.Profile

	backendsMu sync.Mutex
	backends   map[string]core.Provider
}

// NewRegistry builds backends for every profile. Profiles whose backend
// cannot be constructed are dropped with a log line; one broken profile
// should not prevent startup.
func NewRegistry(profiles []config.Profile) *Registry {
	r := &Registry{backends: make(map[string]core.Provider)}
	for _, profile := range profiles {
		backend, err := NewBackend(profile)
		if err != nil {
			log.Printf("skipping profile %s: %v", profile.ID, err)
			continue
		}
		r.profiles = append(r.profiles, profile)
		r.backends[profile.ID] = backend
	}
	return r
}

// Profiles lists profiles in stored order, keys redacted.
func (r *Registry) Profiles() []config.Info {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()
	return lo.Map(r.profiles, func(p config.Profile, _ int) config.Info { return p.Info() })
}

// Add validates and registers a new profile with its backend.
func (r *Registry) Add(profile config.Profile) error {
	backend, err := NewBackend(profile)
	if err != nil {
		return err
	}

	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	if lo.ContainsBy(r.profiles, func(p config.Profile) bool { return p.ID == profile.ID }) {
		return fmt.Errorf("profile %s already exists", profile.ID)
	}
	r.profiles = append(r.profiles, profile)

	r.backendsMu.Lock()
	r.backends[profile.ID] = backend
	r.backendsMu.Unlock()

	return nil
}

// Remove drops a profile and its backend. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	r.profiles = lo.Reject(r.profiles, func(p config.Profile, _ int) bool { return p.ID == id })

	r.backendsMu.Lock()
	delete(r.backends, id)
	r.backendsMu.Unlock()
}

// Backend looks up the backend registered for a profile id.
func (r *Registry) Backend(id string) (core.Provider, bool) {
	r.backendsMu.Lock()
	defer r.backendsMu.Unlock()
	backend, ok := r.backends[id]
	return backend, ok
}

func (r *Registry) snapshot() ([]config.Profile, map[string]core.Provider) {
	r.profilesMu.Lock()
	profiles := append([]config.Profile{}, r.profiles...)
	r.profilesMu.Unlock()

	r.backendsMu.Lock()
	backends := make(map[string]core.Provider, len(r.backends))
	for id, b := range r.backends {
		backends[id] = b
	}
	r.backendsMu.Unlock()

	return profiles, backends
}

// AllUsageStats queries every enabled profile in stored order. Backends that
// fail are skipped; a single flaky source must not empty the aggregate view.
func (r *Registry) AllUsageStats(ctx context.Context) []core.UsageStats {
	profiles, backends := r.snapshot()

	all := []core.UsageStats{}
	for _, profile := range profiles {
		if !profile.Enabled {
			continue
		}
		backend, ok := backends[profile.ID]
		if !ok {
			continue
		}
		stats, err := backend.UsageStats(ctx)
		if err != nil {
			log.Printf("profile %s: usage stats failed: %v", profile.ID, err)
			continue
		}
		all = append(all, stats)
	}
	return all
}

// AllRateLimits collects quota status from the backends that report one,
// keyed by profile id.
func (r *Registry) AllRateLimits(ctx context.Context) map[string]core.RateLimitStatus {
	profiles, backends := r.snapshot()

	limits := make(map[string]core.RateLimitStatus)
	for _, profile := range profiles {
		if !profile.Enabled {
			continue
		}
		reporter, ok := backends[profile.ID].(core.QuotaReporter)
		if !ok {
			continue
		}
		limits[profile.ID] = reporter.RateLimitStatus(ctx)
	}
	return limits
}
