package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type tierFile struct {
	Tiers map[string]TierConfig `yaml:"tiers"`
}

// LoadTierFile reads rate limit tier overrides from YAML:
//
//	tiers:
//	  collection:
//	    max_requests: 600
//	    window: 60s
//	    message: "Too many data collection requests, please try again later."
//
// Fields omitted in the file keep the built-in value of a known tier.
func LoadTierFile(path string) (map[string]TierConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit file: %w", err)
	}

	var file tierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit file %s: %w", path, err)
	}

	defaults := DefaultTiers()
	out := make(map[string]TierConfig, len(file.Tiers))
	for name, tier := range file.Tiers {
		base := defaults[name]
		if tier.MaxRequests != 0 {
			base.MaxRequests = tier.MaxRequests
		}
		if tier.Window != 0 {
			base.Window = tier.Window
		}
		if tier.Message != "" {
			base.Message = tier.Message
		}
		out[name] = base
	}
	return out, nil
}
