package wakeword

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Mode selects how wake-word scores are combined into a trigger decision.
type Mode string

const (
	// ModeML relies on the wake-model service alone.
	ModeML Mode = "ml"
	// ModeEnergy relies on signal energy alone.
	ModeEnergy Mode = "energy"
	// ModeHybrid requires both signals to agree.
	ModeHybrid Mode = "hybrid"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeML, ModeEnergy, ModeHybrid:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown wake-word mode %q", s)
	}
}

// Thresholds are the trigger floors for each signal.
type Thresholds struct {
	Energy float64
	Model  float64
}

// Scorer produces a wake-word likelihood in [0,1] for a window of 16-bit
// little-endian mono PCM.
type Scorer interface {
	Name() string
	Score(ctx context.Context, pcm []byte) (float64, error)
}

// pcmEnergy returns the normalized mean-square energy of 16-bit LE PCM.
func pcmEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum int64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		sum += int64(s) * int64(s)
	}
	mean := float64(sum) / float64(samples)
	return mean / (32768.0 * 32768.0)
}

// EnergyScorer smooths per-chunk energy over a short history so a single
// noisy frame cannot trigger the gate.
type EnergyScorer struct {
	mu      sync.Mutex
	history []float64
	size    int
}

func NewEnergyScorer(window int) *EnergyScorer {
	if window <= 0 {
		window = 5
	}
	return &EnergyScorer{size: window}
}

func (e *EnergyScorer) Name() string { return "energy" }

func (e *EnergyScorer) Score(_ context.Context, pcm []byte) (float64, error) {
	energy := pcmEnergy(pcm)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, energy)
	if len(e.history) > e.size {
		e.history = e.history[len(e.history)-e.size:]
	}
	var sum float64
	for _, v := range e.history {
		sum += v
	}
	return sum / float64(len(e.history)), nil
}

// Reset clears the smoothing history, e.g. between streams.
func (e *EnergyScorer) Reset() {
	e.mu.Lock()
	e.history = e.history[:0]
	e.mu.Unlock()
}

// Detection is the outcome of scoring one audio window.
type Detection struct {
	Triggered  bool
	Energy     float64
	ModelScore float64
	// Voiced reports whether the window carries speech-level energy,
	// regardless of mode. The gate uses it for silence tracking.
	Voiced bool
}

// Detector combines the configured signals into trigger decisions. Mode and
// thresholds are adjustable at runtime without restarting the session.
type Detector struct {
	mu         sync.RWMutex
	mode       Mode
	thresholds Thresholds
	energy     *EnergyScorer
	model      Scorer
	logger     *zap.Logger
}

// NewDetector creates a detector. model may be nil, in which case ml and
// hybrid modes degrade to energy scoring with an error surfaced per window.
func NewDetector(mode Mode, thresholds Thresholds, model Scorer, logger *zap.Logger) *Detector {
	return &Detector{
		mode:       mode,
		thresholds: thresholds,
		energy:     NewEnergyScorer(5),
		model:      model,
		logger:     logger,
	}
}

// Mode returns the current combination mode.
func (d *Detector) Mode() Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

// SetMode switches the combination mode at runtime.
func (d *Detector) SetMode(mode Mode) error {
	switch mode {
	case ModeML, ModeEnergy, ModeHybrid:
	default:
		return fmt.Errorf("unknown wake-word mode %q", mode)
	}
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
	d.logger.Info("wake-word mode changed", zap.String("mode", string(mode)))
	return nil
}

// SetThresholds adjusts the trigger floors at runtime.
func (d *Detector) SetThresholds(t Thresholds) {
	d.mu.Lock()
	d.thresholds = t
	d.mu.Unlock()
}

// Thresholds returns the current trigger floors.
func (d *Detector) Thresholds() Thresholds {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.thresholds
}

// Detect scores one window. When the model scorer fails in ml or hybrid
// mode the energy-only detection is returned together with the error so the
// caller can report it and keep listening.
func (d *Detector) Detect(ctx context.Context, pcm []byte) (Detection, error) {
	d.mu.RLock()
	mode := d.mode
	th := d.thresholds
	model := d.model
	d.mu.RUnlock()

	energy, _ := d.energy.Score(ctx, pcm)
	det := Detection{
		Energy: energy,
		Voiced: energy >= th.Energy,
	}

	switch mode {
	case ModeEnergy:
		det.Triggered = energy >= th.Energy
		return det, nil

	case ModeML, ModeHybrid:
		if model == nil {
			det.Triggered = mode == ModeHybrid && energy >= th.Energy
			return det, fmt.Errorf("wake model not configured")
		}
		score, err := model.Score(ctx, pcm)
		if err != nil {
			// Keep the energy verdict so a model outage does not
			// silence the gate entirely.
			det.Triggered = energy >= th.Energy
			return det, fmt.Errorf("wake model scoring failed: %w", err)
		}
		det.ModelScore = score
		if mode == ModeML {
			det.Triggered = score >= th.Model
		} else {
			det.Triggered = score >= th.Model && energy >= th.Energy
		}
		return det, nil

	default:
		return det, fmt.Errorf("unknown wake-word mode %q", mode)
	}
}

// ResetSmoothing clears the energy smoothing history.
func (d *Detector) ResetSmoothing() {
	d.energy.Reset()
}
