package gate

import (
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedVersion is returned when the config document declares a
// version this build does not understand. Construction fails and the
// caller keeps its previous snapshot.
var ErrUnsupportedVersion = errors.New("unsupported gate config version")

// LoadConfig reads and parses the gate configuration document described in
// the configuration schema. Fields missing from the document fall back to
// the built-in defaults; missing scenes fall back lazily in ScenePolicy.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gate config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a gate configuration document from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse gate config: %w", err)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cfg.Version)
	}

	// Fill anything the document omitted from the built-in defaults.
	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("merge gate config defaults: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	bt := &cfg.BudgetThresholds
	if bt.HighScore < 0 || bt.HighScore > 1 || bt.MediumScore < 0 || bt.MediumScore > 1 {
		return fmt.Errorf("budget_thresholds out of [0,1]: high=%.2f medium=%.2f", bt.HighScore, bt.MediumScore)
	}
	if bt.MediumScore > bt.HighScore {
		bt.MediumScore = bt.HighScore
	}
	de := cfg.DropEscalation
	if de.BurstWindowSec <= 0 || de.BurstCountThreshold <= 0 || de.ConsecutiveThreshold <= 0 {
		return fmt.Errorf("drop_escalation values must be positive: %+v", de)
	}
	for scene, pol := range cfg.ScenePolicies {
		switch pol.DefaultAction {
		case ActionDrop, ActionSink, ActionDeliver:
		default:
			return fmt.Errorf("scene %q: unknown default_action %q", scene, pol.DefaultAction)
		}
	}
	return nil
}
