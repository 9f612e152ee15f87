package audio

import "math"

// Default energy-based voice detection parameters
const (
	DefaultLevelWindow    = 512
	DefaultVoiceThreshold = 0.02 // RMS of normalized samples
)

// LevelStats summarizes the signal level of a sample sequence
type LevelStats struct {
	RMS         float64 `json:"rms"`
	Peak        float64 `json:"peak"`
	Windows     int     `json:"windows"`
	VoicedRatio float64 `json:"voiced_ratio"` // fraction of windows above the threshold
}

// AnalyzeLevels computes overall RMS and peak, and splits the samples into
// non-overlapping windows whose RMS energy is compared against threshold.
// A trailing partial window counts as a window of its own.
func AnalyzeLevels(samples []float32, windowSize int, threshold float64) LevelStats {
	var stats LevelStats
	if len(samples) == 0 {
		return stats
	}

	if windowSize <= 0 {
		windowSize = DefaultLevelWindow
	}

	var total float64
	voiced := 0
	for start := 0; start < len(samples); start += windowSize {
		end := min(start+windowSize, len(samples))

		var energy float64
		for _, s := range samples[start:end] {
			v := float64(s)
			energy += v * v
			if a := math.Abs(v); a > stats.Peak {
				stats.Peak = a
			}
		}
		total += energy

		if math.Sqrt(energy/float64(end-start)) >= threshold {
			voiced++
		}
		stats.Windows++
	}

	stats.RMS = math.Sqrt(total / float64(len(samples)))
	stats.VoicedRatio = float64(voiced) / float64(stats.Windows)
	return stats
}
