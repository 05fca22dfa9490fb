// Package acoustic implements the scream classifier: per-frame loudness and
// dominant-frequency analysis feeding a duration-gated detection state
// machine with a trigger cooldown.
package acoustic

import "math"

const (
	// BandLowHz / BandHighHz bound the spectral search. Screams concentrate
	// energy in this band; speech and ambient noise mostly sit below it.
	BandLowHz  = 1000.0
	BandHighHz = 4000.0
)

// Measurement is the analysis result for one audio frame.
type Measurement struct {
	// VolumeRaw is the frame loudness normalized to 0-255. A full-scale
	// sine measures ~255.
	VolumeRaw float64
	// DominantHz is the strongest frequency within the scream band.
	DominantHz float64
}

// Analyze measures one frame of mono PCM samples in [-1, 1].
func Analyze(samples []float32, sampleRate int) Measurement {
	if len(samples) == 0 || sampleRate <= 0 {
		return Measurement{}
	}

	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))

	volume := rms * math.Sqrt2 * 255
	if volume > 255 {
		volume = 255
	}

	return Measurement{
		VolumeRaw:  volume,
		DominantHz: dominantFrequency(samples, sampleRate),
	}
}

// dominantFrequency scans the scream band at spectrum-bin resolution and
// returns the frequency with the most power. Bin width matches an FFT over
// the frame: (sampleRate/2) / (len(samples)/2).
func dominantFrequency(samples []float32, sampleRate int) float64 {
	bins := len(samples) / 2
	if bins == 0 {
		return 0
	}
	binWidth := float64(sampleRate) / 2 / float64(bins)

	var (
		bestHz    float64
		bestPower float64
	)
	for k := 1; k < bins; k++ {
		hz := float64(k) * binWidth
		if hz < BandLowHz {
			continue
		}
		if hz > BandHighHz {
			break
		}
		if p := goertzelPower(samples, sampleRate, hz); p > bestPower {
			bestPower = p
			bestHz = hz
		}
	}
	return bestHz
}

// goertzelPower returns the spectral power of samples at targetHz using the
// Goertzel recurrence. Cheaper than a full FFT when only one band matters.
func goertzelPower(samples []float32, sampleRate int, targetHz float64) float64 {
	omega := 2 * math.Pi * targetHz / float64(sampleRate)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}
