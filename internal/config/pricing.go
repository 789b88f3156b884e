// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelRate holds the per-million-token USD rates for one model family.
type ModelRate struct {
	Input      float64 `yaml:"input" mapstructure:"input"`
	Output     float64 `yaml:"output" mapstructure:"output"`
	CacheWrite float64 `yaml:"cache_write" mapstructure:"cache_write"`
	CacheRead  float64 `yaml:"cache_read" mapstructure:"cache_read"`
}

// PricingConfig maps a model-name substring to its rates. Lookup is by
// longest matching substring so "opus" matches "claude-opus-4-20250514".
type PricingConfig struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// defaultPricing returns published subscription rates for common model
// families. Values are USD per million tokens.
func defaultPricing() PricingConfig {
	return PricingConfig{
		Models: map[string]ModelRate{
			"opus":   {Input: 15.0, Output: 75.0, CacheWrite: 18.75, CacheRead: 1.50},
			"sonnet": {Input: 3.0, Output: 15.0, CacheWrite: 3.75, CacheRead: 0.30},
			"haiku":  {Input: 0.80, Output: 4.0, CacheWrite: 1.0, CacheRead: 0.08},
		},
	}
}

// LoadPricing reads a pricing table from a YAML document on disk,
// falling back to the built-in defaults when the file is absent.
func LoadPricing(path string) (PricingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultPricing(), nil
		}
		return PricingConfig{}, fmt.Errorf("failed to read pricing file: %w", err)
	}
	var p PricingConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return PricingConfig{}, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	if len(p.Models) == 0 {
		return defaultPricing(), nil
	}
	return p, nil
}

// CostUSD computes the cost of one usage sample against the table.
// Unknown models cost zero rather than guessing a rate.
func (p PricingConfig) CostUSD(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := p.lookup(model)
	if !ok {
		return 0
	}
	const mtok = 1_000_000
	return float64(input)/mtok*rate.Input +
		float64(output)/mtok*rate.Output +
		float64(cacheWrite)/mtok*rate.CacheWrite +
		float64(cacheRead)/mtok*rate.CacheRead
}

func (p PricingConfig) lookup(model string) (ModelRate, bool) {
	lower := strings.ToLower(model)
	bestLen := 0
	var best ModelRate
	for key, rate := range p.Models {
		if strings.Contains(lower, strings.ToLower(key)) && len(key) > bestLen {
			bestLen = len(key)
			best = rate
		}
	}
	return best, bestLen > 0
}
