package runtime

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/lacvalidator/internal/config"
)

// Plan is what gets installed into a fresh environment, in order.
type Plan struct {
	BasePackages []string `yaml:"base_packages"`
	RuleEngine   string   `yaml:"rule_engine"`
	ExtraModules []string `yaml:"extra_modules"`

	// PublicKey is exported to the interpreter process environment under
	// PublicKeyEnv before the rule engine is installed.
	PublicKey    string `yaml:"-"`
	PublicKeyEnv string `yaml:"-"`
}

// PlanFromConfig builds the plan from runtime settings, applying the YAML
// manifest on top when one is configured.
func PlanFromConfig(cfg config.RuntimeConfig) (Plan, error) {
	plan := Plan{
		BasePackages: cfg.BasePackages,
		RuleEngine:   cfg.RuleEngineRelease,
		ExtraModules: strings.Fields(cfg.ExtraModules),
		PublicKey:    cfg.PublicKey,
		PublicKeyEnv: cfg.PublicKeyEnv,
	}

	if cfg.Manifest == "" {
		return plan, nil
	}

	manifest, err := LoadManifest(cfg.Manifest)
	if err != nil {
		return Plan{}, err
	}
	return plan.Merge(manifest), nil
}

// LoadManifest reads a YAML install manifest:
//
//	base_packages: [wheel]
//	rule_engine: validator903==0.4.2
//	extra_modules:
//	  - ./wheels/extra-0.1-py3-none-any.whl
func LoadManifest(path string) (Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Plan
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Plan{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Merge returns p with every field set in m taking precedence.
func (p Plan) Merge(m Plan) Plan {
	if len(m.BasePackages) > 0 {
		p.BasePackages = m.BasePackages
	}
	if m.RuleEngine != "" {
		p.RuleEngine = m.RuleEngine
	}
	if len(m.ExtraModules) > 0 {
		p.ExtraModules = m.ExtraModules
	}
	return p
}
