package asr

import "math"

// EnergyVADConfig tunes the reference energy-threshold boundary detector.
type EnergyVADConfig struct {
	SpeechThresholdDB   float64
	CalibrationChunks   int     // number of leading chunks used to learn the noise floor (0 disables)
	AdaptiveMarginDB    float64 // dB above the learned noise floor for the speech threshold
}

// DefaultEnergyVADConfig mirrors reasonable defaults for near-field mic audio.
func DefaultEnergyVADConfig() EnergyVADConfig {
	return EnergyVADConfig{
		SpeechThresholdDB: -30,
		CalibrationChunks: 3,
		AdaptiveMarginDB:  10,
	}
}

// EnergyVAD is a reference boundary detector: energy-threshold per chunk,
// with optional adaptive calibration over the first few chunks. It satisfies
// the DetectBoundary half of Collaborator; it does not transcribe anything
// itself.
type EnergyVAD struct {
	cfg       EnergyVADConfig
	threshold float64

	calibrating bool
	readings    []float64

	wasSpeech bool
	chunkMs   int
}

// NewEnergyVAD creates a detector. chunkMs is the wall-clock duration
// represented by each chunk passed to DetectBoundary (VAD_CHUNK_MS).
func NewEnergyVAD(cfg EnergyVADConfig, chunkMs int) *EnergyVAD {
	return &EnergyVAD{
		cfg:         cfg,
		threshold:   cfg.SpeechThresholdDB,
		calibrating: cfg.CalibrationChunks > 0,
		chunkMs:     chunkMs,
	}
}

func (v *EnergyVAD) DetectBoundary(chunk []float32) (beginMs, endMs int) {
	energyDB := computeEnergyDB(chunk)

	if v.calibrating {
		v.calibrate(energyDB)
	}

	isSpeech := energyDB >= v.threshold

	beginMs, endMs = -1, -1
	switch {
	case isSpeech && !v.wasSpeech:
		beginMs = 0
	case !isSpeech && v.wasSpeech:
		endMs = v.chunkMs
	}
	v.wasSpeech = isSpeech
	return beginMs, endMs
}

func (v *EnergyVAD) calibrate(energyDB float64) {
	v.readings = append(v.readings, energyDB)
	if len(v.readings) < v.cfg.CalibrationChunks {
		return
	}

	var sum float64
	for _, e := range v.readings {
		sum += e
	}
	noiseFloor := sum / float64(len(v.readings))

	adaptive := noiseFloor + v.cfg.AdaptiveMarginDB
	if adaptive > v.cfg.SpeechThresholdDB {
		v.threshold = adaptive
	}

	v.calibrating = false
	v.readings = nil
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
