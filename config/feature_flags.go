package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags toggles optional behaviour of the barker and the sniffer.
// Flags are read from the features.* keys (INTCOPILOT_FEATURES_* in the
// environment) and can be flipped at runtime.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// === Barker ===
	FeatureBarkNotifications = "bark_notifications" // push changes to Bark devices
	FeatureCriticalAlerts    = "critical_alerts"    // critical-level push at or above the threshold

	// === Sniffer ===
	FeaturePersistResults = "persist_results" // write discovered students to postgres
	FeaturePublishState   = "publish_state"   // mirror crawl states to redis pub/sub
	FeatureEventLog       = "event_log"       // periodic crawl progress log
)

var featureDefaults = []Feature{
	{Name: FeatureBarkNotifications, Description: "Send Bark push notifications on attendance changes", Enabled: true},
	{Name: FeatureCriticalAlerts, Description: "Send critical-level alerts for severe statuses", Enabled: true},
	{Name: FeaturePersistResults, Description: "Persist discovered students when the crawl completes", Enabled: true},
	{Name: FeaturePublishState, Description: "Publish crawl state to Redis", Enabled: false},
	{Name: FeatureEventLog, Description: "Log crawl progress every interval", Enabled: true},
}

func setFeatureDefaults(v *viper.Viper) {
	for _, f := range featureDefaults {
		v.SetDefault("features."+f.Name, f.Enabled)
	}
}

// LoadFeatureFlags reads every known flag from v. A nil v yields defaults.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature, len(featureDefaults))}
	for _, f := range featureDefaults {
		f := f
		if v != nil {
			f.Enabled = v.GetBool("features." + f.Name)
		}
		ff.features[f.Name] = &f
	}
	return ff
}

// IsEnabled reports whether the named feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[name]
	return ok && f.Enabled
}

// EnableFeature turns a feature on.
func (ff *FeatureFlags) EnableFeature(name string) error {
	return ff.set(name, true)
}

// DisableFeature turns a feature off.
func (ff *FeatureFlags) DisableFeature(name string) error {
	return ff.set(name, false)
}

func (ff *FeatureFlags) set(name string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[name]
	if !ok {
		return &FeatureFlagError{Feature: name, Message: "unknown feature"}
	}
	f.Enabled = enabled
	return nil
}

// GetAllFeatures returns a copy of every flag, sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FeatureFlagError is returned for operations on unknown flags.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return fmt.Sprintf("feature flag %q: %s", e.Feature, e.Message)
}
