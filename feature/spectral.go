package feature

import "math"

// spectral computes the per-channel frequency-domain features from the
// positive-half FFT magnitude spectrum, in the order declared by
// spectralKinds, band powers, then spectralTailKinds.
func (e *Extractor) spectral(x []float64) []float64 {
	n := len(x)
	coeffs := e.fft.Coefficients(e.coeffs, x)

	mags := e.magnitudes[:len(coeffs)]
	totalPower := 0.0
	for i, c := range coeffs {
		m := math.Hypot(real(c), imag(c))
		mags[i] = m
		totalPower += m * m
	}

	binHz := e.cfg.SampleRateHz / float64(n)

	// Shannon entropy of the normalized power distribution, in bits.
	entropy := 0.0
	if totalPower > 0 {
		for _, m := range mags {
			p := (m * m) / totalPower
			if p > 0 {
				entropy -= p * math.Log2(p)
			}
		}
	}

	// Dominant frequency skips the DC bin so a large offset (resting
	// pressure baseline) does not mask the gait fundamental.
	domIdx := 1
	for i := 2; i < len(mags); i++ {
		if mags[i] > mags[domIdx] {
			domIdx = i
		}
	}
	domFreq := 0.0
	if len(mags) > 1 {
		domFreq = float64(domIdx) * binHz
	}

	magSum := 0.0
	weighted := 0.0
	for i, m := range mags {
		magSum += m
		weighted += float64(i) * binHz * m
	}
	centroid := weighted / (magSum + e.cfg.Epsilon)

	out := make([]float64, 0, len(spectralKinds)+len(e.cfg.BandEdgesHz)-1+len(spectralTailKinds))
	out = append(out, totalPower, entropy, domFreq, centroid)

	for b := 0; b < len(e.cfg.BandEdgesHz)-1; b++ {
		lo, hi := e.cfg.BandEdgesHz[b], e.cfg.BandEdgesHz[b+1]
		power := 0.0
		for i, m := range mags {
			f := float64(i) * binHz
			if f >= lo && f < hi {
				power += m * m
			}
		}
		out = append(out, power)
	}

	out = append(out, magnitudeMoments(mags)...)
	return out
}

// magnitudeMoments returns the skewness and excess kurtosis of the
// magnitude spectrum treated as a sample set. Flat spectra yield zeros.
func magnitudeMoments(mags []float64) []float64 {
	n := float64(len(mags))
	mean := 0.0
	for _, m := range mags {
		mean += m
	}
	mean /= n

	m2, m3, m4 := 0.0, 0.0, 0.0
	for _, m := range mags {
		d := m - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	m2 /= n
	m3 /= n
	m4 /= n

	if m2 == 0 {
		return []float64{0, 0}
	}
	skew := m3 / math.Pow(m2, 1.5)
	kurt := m4/(m2*m2) - 3
	return []float64{safeMoment(skew), safeMoment(kurt)}
}
