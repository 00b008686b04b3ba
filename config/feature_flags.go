package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// Feature flag names.
const (
	// FeatureStudioStub swaps the real studio client for the in-process stub.
	FeatureStudioStub = "studio.stub"

	// FeatureBackgroundDrive runs generation driving off the request path.
	FeatureBackgroundDrive = "pipeline.background_drive"

	// FeatureStaleSweep enables the periodic stale-card sweep job.
	FeatureStaleSweep = "scheduler.stale_sweep"

	// FeatureWeeklyGrant enables the Monday token allowance job.
	FeatureWeeklyGrant = "scheduler.weekly_grant"

	// FeatureEventBusAsync dispatches event handlers on the worker pool.
	FeatureEventBusAsync = "eventbus.async"
)

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// FeatureFlags manages feature toggles for the application.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// LoadFeatureFlags initializes feature flags from defaults and environment.
// Environment override: FEATURE_STUDIO_STUB=true flips "studio.stub".
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
	}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []*Feature{
		{
			Name:        FeatureStudioStub,
			Description: "Use the deterministic in-process studio stub instead of the remote generation API",
			Enabled:     false,
		},
		{
			Name:        FeatureBackgroundDrive,
			Description: "Drive card generation in background goroutines instead of inline on the request",
			Enabled:     true,
		},
		{
			Name:        FeatureStaleSweep,
			Description: "Periodically resume or time out cards stuck mid-generation",
			Enabled:     true,
		},
		{
			Name:        FeatureWeeklyGrant,
			Description: "Credit every student the weekly token allowance on Monday",
			Enabled:     true,
		},
		{
			Name:        FeatureEventBusAsync,
			Description: "Dispatch event handlers asynchronously on a bounded worker pool",
			Enabled:     true,
		},
	}
	for _, f := range defaults {
		ff.features[f.Name] = f
	}
}

// loadFromEnvironment applies FEATURE_* overrides. The variable name is the
// flag name upper-cased with dots replaced by underscores.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
		val := os.Getenv(envKey)
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
		}
	}
}

// IsEnabled reports whether the named flag is on. Unknown flags are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[name]
	return ok && f.Enabled
}

// Set overrides a flag at runtime. Unknown names are registered.
func (ff *FeatureFlags) Set(name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if f, ok := ff.features[name]; ok {
		f.Enabled = enabled
		return
	}
	ff.features[name] = &Feature{Name: name, Enabled: enabled}
}

// List returns a snapshot of all flags, for the health endpoint.
func (ff *FeatureFlags) List() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	return out
}
