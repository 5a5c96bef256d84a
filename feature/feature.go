// Package feature computes the deterministic, fixed-order feature vector
// from one window of merged frames. This is the single extraction
// implementation shared by the live classification path and the offline
// feature dump used for training; the two must never diverge.
package feature

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
)

// timeDomainKinds is the fixed per-channel feature order. Appending is
// safe; reordering or renaming breaks every trained artifact.
var timeDomainKinds = []string{
	"mean", "std", "min", "max", "range",
	"q25", "q50", "q75",
	"rms", "energy", "slope",
	"skewness", "kurtosis", "zcr",
}

// spectralKinds is the fixed per-channel spectral feature order; band
// power names are generated from the configured edges and inserted after
// spectral_centroid.
var spectralKinds = []string{
	"spectral_energy", "spectral_entropy", "dominant_freq", "spectral_centroid",
}

var spectralTailKinds = []string{
	"spectral_skewness", "spectral_kurtosis",
}

// Extractor computes feature vectors for a fixed sensor configuration.
// It is safe for concurrent use only from a single goroutine; the live
// pipeline and offline tool each own one instance.
type Extractor struct {
	cfg        Config
	names      []string
	chanIndex  map[string]int
	fft        *fourier.FFT
	fftLen     int
	scratch    []float64
	coeffs     []complex128
	magnitudes []float64
}

// NewExtractor validates the configuration and precomputes the feature
// name list.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{
		cfg:       cfg,
		chanIndex: make(map[string]int, len(cfg.Channels)),
	}
	for i, ch := range cfg.Channels {
		e.chanIndex[ch] = i
	}
	e.names = e.buildNames()
	return e, nil
}

// buildNames assembles the fixed feature ordering: per channel in declared
// order all time-domain kinds then all spectral kinds, followed by the
// configured cross-channel ratios.
func (e *Extractor) buildNames() []string {
	var names []string
	for _, ch := range e.cfg.Channels {
		for _, kind := range timeDomainKinds {
			names = append(names, ch+"_"+kind)
		}
		for _, kind := range spectralKinds {
			names = append(names, ch+"_"+kind)
		}
		for b := 0; b < len(e.cfg.BandEdgesHz)-1; b++ {
			names = append(names, fmt.Sprintf("%s_band_%g_%g", ch, e.cfg.BandEdgesHz[b], e.cfg.BandEdgesHz[b+1]))
		}
		for _, kind := range spectralTailKinds {
			names = append(names, ch+"_"+kind)
		}
	}
	for _, r := range e.cfg.Ratios {
		names = append(names, r.Name)
	}
	return names
}

// Names returns the ordered feature names. The returned slice is shared;
// callers must not modify it.
func (e *Extractor) Names() []string { return e.names }

// Count returns the feature vector length.
func (e *Extractor) Count() int { return len(e.names) }

// Extract computes the feature vector for one window. It is a pure
// function of the window contents: identical input produces bit-identical
// output.
func (e *Extractor) Extract(w message.Window) (message.FeatureVector, error) {
	n := len(w.Frames)
	if n < 2 {
		return message.FeatureVector{}, errors.WrapInvalid(
			fmt.Errorf("window of %d frames too short", n),
			"Extractor", "Extract", "window length check")
	}
	if len(e.cfg.Channels) > message.TotalChannels {
		return message.FeatureVector{}, errors.WrapInvalid(
			fmt.Errorf("%d channels exceed frame capacity", len(e.cfg.Channels)),
			"Extractor", "Extract", "channel count check")
	}

	if e.fftLen != n {
		e.fft = fourier.NewFFT(n)
		e.fftLen = n
		e.scratch = make([]float64, n)
		e.coeffs = make([]complex128, n/2+1)
		e.magnitudes = make([]float64, n/2+1)
	}

	values := make([]float64, 0, len(e.names))
	channelMeans := make([]float64, len(e.cfg.Channels))

	sorted := make([]float64, n)
	for ci := range e.cfg.Channels {
		x := w.Channel(ci, e.scratch)
		td, mean := timeDomain(x, sorted)
		channelMeans[ci] = mean
		values = append(values, td...)
		values = append(values, e.spectral(x)...)
	}

	for _, r := range e.cfg.Ratios {
		num := e.groupMean(channelMeans, r.Numerator)
		den := e.groupMean(channelMeans, r.Denominator)
		values = append(values, num/(den+e.cfg.Epsilon))
	}

	ts := int64(0)
	if n > 0 {
		ts = w.Frames[n-1].TimestampMs
	}
	return message.FeatureVector{
		Names:       e.names,
		Values:      values,
		TimestampMs: ts,
	}, nil
}

// groupMean averages the window means of a group's member channels.
func (e *Extractor) groupMean(channelMeans []float64, group string) float64 {
	members := e.cfg.Groups[group]
	if len(members) == 0 {
		return 0
	}
	sum := 0.0
	for _, ch := range members {
		sum += channelMeans[e.chanIndex[ch]]
	}
	return sum / float64(len(members))
}

// timeDomain computes the per-channel time-domain features in kind order.
// sorted is scratch space for quantiles. Returns the features and the mean.
func timeDomain(x, sorted []float64) ([]float64, float64) {
	n := len(x)
	mean := stat.Mean(x, nil)
	std := math.Sqrt(stat.Variance(x, nil))

	minV, maxV := x[0], x[0]
	sumSq := 0.0
	for _, v := range x {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sumSq += v * v
	}

	copy(sorted, x)
	sort.Float64s(sorted)

	// least-squares slope over the sample index
	_, slope := stat.LinearRegression(indexAbscissa(n), x, nil, false)

	return []float64{
		mean,
		std,
		minV,
		maxV,
		maxV - minV,
		quantile(sorted, 0.25),
		quantile(sorted, 0.50),
		quantile(sorted, 0.75),
		math.Sqrt(sumSq / float64(n)),
		sumSq,
		slope,
		safeMoment(stat.Skew(x, nil)),
		safeMoment(stat.ExKurtosis(x, nil)),
		zeroCrossingRate(x, mean),
	}, mean
}

// indexAbscissa returns [0,1,...,n-1] as float64s.
func indexAbscissa(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}

// quantile computes the p-quantile of ascending data with linear
// interpolation between closest ranks.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// zeroCrossingRate counts sign changes of the mean-centered signal,
// normalized by the number of consecutive pairs. Zero excursions do not
// flip the tracked sign, so flat signals score zero.
func zeroCrossingRate(x []float64, mean float64) float64 {
	crossings := 0
	prevSign := 0
	for _, v := range x {
		c := v - mean
		var s int
		switch {
		case c > 0:
			s = 1
		case c < 0:
			s = -1
		default:
			continue
		}
		if prevSign != 0 && s != prevSign {
			crossings++
		}
		prevSign = s
	}
	return float64(crossings) / float64(len(x)-1)
}

// safeMoment maps NaN moments (constant signals) to zero so feature
// vectors stay finite.
func safeMoment(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
