package cache

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy declares the freshness thresholds for one resource class. A payload
// younger than Fresh is served as-is; between Fresh and Stale it is served
// but flagged for refresh; past Stale it is expired and must be re-fetched.
// Zero thresholds mean "never ages" (identity resolutions).
type Policy struct {
	FreshHours int `yaml:"fresh_hours"`
	StaleHours int `yaml:"stale_hours"`
}

// Evaluate maps a payload age onto a freshness state.
func (p Policy) Evaluate(age time.Duration) State {
	if p.FreshHours <= 0 {
		return Fresh
	}
	if age <= time.Duration(p.FreshHours)*time.Hour {
		return Fresh
	}
	if p.StaleHours > p.FreshHours && age <= time.Duration(p.StaleHours)*time.Hour {
		return Stale
	}
	return Expired
}

// DefaultPolicies returns the standard per-class thresholds: short for
// volatile people data, medium for organization data, indefinite for
// identity resolutions.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassProfile:  {FreshHours: 72, StaleHours: 168},
		ClassCompany:  {FreshHours: 720, StaleHours: 1440},
		ClassSearch:   {FreshHours: 24, StaleHours: 72},
		ClassIdentity: {},
	}
}

// policyFile is the YAML shape of a policy override file.
type policyFile struct {
	Classes map[string]Policy `yaml:"classes"`
}

// LoadPolicies reads per-class overrides from a YAML file and merges them
// over the defaults. An empty path returns the defaults.
func LoadPolicies(path string) (map[Class]Policy, error) {
	policies := DefaultPolicies()
	if path == "" {
		return policies, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read policy file %s", path)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, eris.Wrapf(err, "cache: parse policy file %s", path)
	}

	for name, p := range pf.Classes {
		policies[Class(name)] = p
	}
	return policies, nil
}
