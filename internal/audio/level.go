package audio

import "math"

// SilenceFloorDB is reported for digital silence
const SilenceFloorDB = -160.0

// RMS returns the root mean square of samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDB returns the RMS level of samples in dBFS
func LevelDB(samples []float32) float64 {
	rms := RMS(samples)
	if rms <= 0 {
		return SilenceFloorDB
	}

	db := 20 * math.Log10(rms)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}
