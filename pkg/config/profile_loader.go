package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GovernanceProfile is a named tuning of the governance engine, typically
// one per deployment environment or agent fleet.
type GovernanceProfile struct {
	Name     string         `yaml:"name" json:"name"`
	Code     string         `yaml:"code" json:"code"`
	Approval ApprovalConfig `yaml:"approval" json:"approval"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Training TrainingConfig `yaml:"training" json:"training"`
	// Overrides are CEL expressions narrowing the decision matrix; they can
	// deny or escalate, never widen.
	Overrides []OverrideRule `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// ApprovalConfig tunes the approval workflow.
type ApprovalConfig struct {
	Window       time.Duration `yaml:"window" json:"window"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	RequestRate  float64       `yaml:"request_rate" json:"request_rate"`
	RequestBurst int           `yaml:"request_burst" json:"request_burst"`
}

// CacheConfig tunes the decision cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// TrainingConfig tunes training scheduling.
type TrainingConfig struct {
	DefaultHoursPerDay float64 `yaml:"default_hours_per_day" json:"default_hours_per_day"`
}

// OverrideRule is one operator policy override.
type OverrideRule struct {
	ID         string `yaml:"id" json:"id"`
	ActionType string `yaml:"action_type" json:"action_type"` // "*" matches all
	Expression string `yaml:"expression" json:"expression"`
	Effect     string `yaml:"effect" json:"effect"` // "deny" | "escalate"
}

// LoadProfile loads a governance profile by code. It looks for
// profile_<code>.yaml in the profiles directory.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
