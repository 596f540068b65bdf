package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// overrideFile is the on-disk shape of an override bundle.
type overrideFile struct {
	Overrides []struct {
		ID         string `yaml:"id"`
		ActionType string `yaml:"action_type"`
		Expression string `yaml:"expression"`
		Effect     string `yaml:"effect"`
	} `yaml:"overrides"`
}

// LoadDir compiles every override in the *.yaml files under dir. A file
// that fails to parse or compile aborts the load: a partially applied
// policy bundle is worse than none.
func LoadDir(dir string) (*Overrides, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}

	overrides, err := NewOverrides()
	if err != nil {
		return nil, err
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var file overrideFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, rule := range file.Overrides {
			actionType := rule.ActionType
			if actionType == "" {
				actionType = "*"
			}
			if err := overrides.Load(rule.ID, actionType, rule.Expression, OverrideEffect(rule.Effect)); err != nil {
				return nil, fmt.Errorf("%s: override %q: %w", path, rule.ID, err)
			}
		}
	}
	return overrides, nil
}
