package feature

import (
	"fmt"

	"github.com/powerpig99/smart-socks-sub000/message"
)

// QualityConfig holds the per-window data-quality thresholds. Zero values
// are replaced by DefaultQualityConfig equivalents.
type QualityConfig struct {
	StuckUniqueMin int     `json:"stuck_unique_min"` // fewer distinct values than this flags a stuck channel
	SaturationADC  int     `json:"saturation_adc"`   // readings at or above this count as saturated
	FlatRangeMax   float64 `json:"flat_range_max"`   // peak-to-peak at or below this flags a flatlined channel
}

// DefaultQualityConfig matches the firmware ADC characteristics: 12-bit
// range with saturation near full scale and a ~10 count noise floor.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		StuckUniqueMin: 5,
		SaturationADC:  4000,
		FlatRangeMax:   10,
	}
}

func (c *QualityConfig) normalize() {
	d := DefaultQualityConfig()
	if c.StuckUniqueMin <= 0 {
		c.StuckUniqueMin = d.StuckUniqueMin
	}
	if c.SaturationADC <= 0 {
		c.SaturationADC = d.SaturationADC
	}
	if c.FlatRangeMax <= 0 {
		c.FlatRangeMax = d.FlatRangeMax
	}
}

// CheckQuality inspects one window and returns human-readable flags for
// channels that look stuck, saturated, or flatlined. An empty result means
// the window looks healthy. Flags are advisory; classification proceeds
// regardless.
func CheckQuality(w message.Window, channels []string, cfg QualityConfig) []string {
	cfg.normalize()
	if len(w.Frames) == 0 {
		return nil
	}

	var flags []string
	for ci, name := range channels {
		if ci >= message.TotalChannels {
			break
		}
		unique := make(map[int]struct{}, cfg.StuckUniqueMin+1)
		saturated := 0
		minV, maxV := w.Frames[0].Values[ci], w.Frames[0].Values[ci]
		for _, f := range w.Frames {
			v := f.Values[ci]
			unique[v] = struct{}{}
			if v >= cfg.SaturationADC {
				saturated++
			}
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}

		if len(unique) < cfg.StuckUniqueMin {
			flags = append(flags, fmt.Sprintf("stuck:%s", name))
		}
		if saturated > len(w.Frames)/2 {
			flags = append(flags, fmt.Sprintf("saturated:%s", name))
		}
		if float64(maxV-minV) <= cfg.FlatRangeMax && len(unique) >= cfg.StuckUniqueMin {
			flags = append(flags, fmt.Sprintf("flat:%s", name))
		}
	}
	return flags
}
