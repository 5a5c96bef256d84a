package feature

import (
	"fmt"

	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
)

// RatioSpec defines one cross-channel ratio feature: mean of the numerator
// group over mean of the denominator group, guarded by Config.Epsilon.
type RatioSpec struct {
	Name        string `json:"name"`
	Numerator   string `json:"numerator"`   // group name
	Denominator string `json:"denominator"` // group name
}

// Config declares the sensor layout the extractor works against. Channel
// order and group membership fix the feature ordering, which is the schema
// contract with the classifier artifact.
type Config struct {
	Channels     []string            `json:"channels"`
	Groups       map[string][]string `json:"groups"`
	Ratios       []RatioSpec         `json:"ratios"`
	SampleRateHz float64             `json:"sample_rate_hz"`
	BandEdgesHz  []float64           `json:"band_edges_hz"`
	Epsilon      float64             `json:"epsilon"`
}

// DefaultConfig returns the six-channel smart-socks layout: two pressure
// sensors (heel, ball) and one knee stretch sensor per leg at 50 Hz.
func DefaultConfig() Config {
	return Config{
		Channels: message.DefaultChannels[:],
		Groups: map[string][]string{
			"pressure_left":  {"L_P_Heel", "L_P_Ball"},
			"pressure_right": {"R_P_Heel", "R_P_Ball"},
			"heel_left":      {"L_P_Heel"},
			"ball_left":      {"L_P_Ball"},
			"heel_right":     {"R_P_Heel"},
			"ball_right":     {"R_P_Ball"},
			"pressure":       {"L_P_Heel", "L_P_Ball", "R_P_Heel", "R_P_Ball"},
			"stretch":        {"L_S_Knee", "R_S_Knee"},
		},
		Ratios: []RatioSpec{
			{Name: "ratio_pressure_lr", Numerator: "pressure_left", Denominator: "pressure_right"},
			{Name: "ratio_fore_hind_left", Numerator: "ball_left", Denominator: "heel_left"},
			{Name: "ratio_fore_hind_right", Numerator: "ball_right", Denominator: "heel_right"},
			{Name: "ratio_pressure_stretch", Numerator: "pressure", Denominator: "stretch"},
		},
		SampleRateHz: message.NominalRateHz,
		BandEdgesHz:  []float64{0, 3, 8, 15, 25},
		Epsilon:      1e-6,
	}
}

// Validate checks channel and group consistency.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "feature.Config", "Validate", "channel list check")
	}
	if c.SampleRateHz <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sample rate %v not positive", c.SampleRateHz),
			"feature.Config", "Validate", "sample rate check")
	}
	if len(c.BandEdgesHz) < 2 {
		return errors.WrapInvalid(
			fmt.Errorf("need at least two band edges, got %d", len(c.BandEdgesHz)),
			"feature.Config", "Validate", "band edge check")
	}
	for i := 1; i < len(c.BandEdgesHz); i++ {
		if c.BandEdgesHz[i] <= c.BandEdgesHz[i-1] {
			return errors.WrapInvalid(
				fmt.Errorf("band edges not increasing at %d", i),
				"feature.Config", "Validate", "band edge check")
		}
	}

	idx := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if idx[ch] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate channel %q", ch),
				"feature.Config", "Validate", "channel uniqueness check")
		}
		idx[ch] = true
	}
	for group, members := range c.Groups {
		for _, ch := range members {
			if !idx[ch] {
				return errors.WrapInvalid(
					fmt.Errorf("group %q references unknown channel %q", group, ch),
					"feature.Config", "Validate", "group membership check")
			}
		}
	}
	for _, r := range c.Ratios {
		if _, ok := c.Groups[r.Numerator]; !ok {
			return errors.WrapInvalid(
				fmt.Errorf("ratio %q references unknown group %q", r.Name, r.Numerator),
				"feature.Config", "Validate", "ratio group check")
		}
		if _, ok := c.Groups[r.Denominator]; !ok {
			return errors.WrapInvalid(
				fmt.Errorf("ratio %q references unknown group %q", r.Name, r.Denominator),
				"feature.Config", "Validate", "ratio group check")
		}
	}
	if c.Epsilon <= 0 {
		c.Epsilon = 1e-6
	}
	return nil
}
