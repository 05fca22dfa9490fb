package acoustic

import (
	"testing"

	"github.com/kavach-app/kavach/pkg/provider/audioin/mock"
)

const (
	testSampleRate = 16000
	testFrameLen   = 2048
)

func TestAnalyzeVolumeScaling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		amplitude float64
		minVolume float64
		maxVolume float64
	}{
		{"silence", 0, 0, 0},
		{"quiet", 0.3, 60, 90},
		{"loud", 0.8, 190, 215},
		{"full-scale", 1.0, 245, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame := mock.Sine(2500, tt.amplitude, testFrameLen, testSampleRate)
			m := Analyze(frame.Samples, frame.SampleRate)
			if m.VolumeRaw < tt.minVolume || m.VolumeRaw > tt.maxVolume {
				t.Errorf("VolumeRaw = %v, want in [%v, %v]", m.VolumeRaw, tt.minVolume, tt.maxVolume)
			}
		})
	}
}

func TestAnalyzeDominantFrequency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		freqHz float64
		tolHz  float64
	}{
		{"low-band-edge", 1200, 20},
		{"scream-range", 2500, 20},
		{"high-band-edge", 3800, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame := mock.Sine(tt.freqHz, 0.9, testFrameLen, testSampleRate)
			m := Analyze(frame.Samples, frame.SampleRate)
			if m.DominantHz < tt.freqHz-tt.tolHz || m.DominantHz > tt.freqHz+tt.tolHz {
				t.Errorf("DominantHz = %v, want %v ± %v", m.DominantHz, tt.freqHz, tt.tolHz)
			}
		})
	}
}

func TestAnalyzeDominantClampedToBand(t *testing.T) {
	t.Parallel()

	// A 500 Hz tone has all its energy below the band; whatever leaks into
	// the band must not report as a scream-range dominant at full power.
	frame := mock.Sine(500, 0.9, testFrameLen, testSampleRate)
	m := Analyze(frame.Samples, frame.SampleRate)
	if m.DominantHz < BandLowHz || m.DominantHz > BandHighHz {
		t.Errorf("DominantHz = %v, want within [%v, %v]", m.DominantHz, BandLowHz, BandHighHz)
	}
}

func TestAnalyzeEmptyFrame(t *testing.T) {
	t.Parallel()

	m := Analyze(nil, testSampleRate)
	if m.VolumeRaw != 0 || m.DominantHz != 0 {
		t.Errorf("Analyze(nil) = %+v, want zero", m)
	}
}
