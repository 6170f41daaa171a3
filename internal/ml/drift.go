package ml

import (
	"math"
	"sort"
	"sync"
	"time"

	"dropout-risk/internal/features"

	"github.com/rs/zerolog/log"
)

// DriftConfig configures input drift monitoring.
type DriftConfig struct {
	WindowSize    int           `yaml:"window_size"`
	Threshold     float64       `yaml:"threshold"` // mean shift, in training standard deviations
	MinSamples    int           `yaml:"min_samples"`
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
}

// FeatureDrift is the drift state of one column.
type FeatureDrift struct {
	Name         string  `json:"name"`
	Samples      int     `json:"samples"` // observed values, zero-filled ones excluded
	BaselineMean float64 `json:"baseline_mean"`
	CurrentMean  float64 `json:"current_mean"`
	Shift        float64 `json:"shift"`
	Drifted      bool    `json:"drifted"`
}

// DriftReport summarizes the current window against the training baseline.
type DriftReport struct {
	Samples   int            `json:"samples"`
	Threshold float64        `json:"threshold"`
	Ready     bool           `json:"ready"`
	Drifted   []string       `json:"drifted"`
	Features  []FeatureDrift `json:"features"`
}

// DriftMonitor compares the rolling mean of submitted rows with the means the
// scaler was fitted on. It never influences predictions.
type DriftMonitor struct {
	mu            sync.Mutex
	columns       []string
	mean          []float64
	scale         []float64
	window        [][]float64 // ring buffer of recent rows, NaN where a column was not supplied
	next          int
	filled        bool
	threshold     float64
	minSamples    int
	alertCooldown time.Duration
	lastAlert     time.Time
}

// NewDriftMonitor builds a monitor from the standard scaler's statistics.
// It returns nil when the scaler carries no baseline (minmax or identity).
func NewDriftMonitor(columns []string, scaler Scaler, config DriftConfig) *DriftMonitor {
	ss, ok := scaler.(*StandardScaler)
	if !ok || len(ss.Mean) != len(columns) {
		return nil
	}

	// Set default values
	if config.WindowSize <= 0 {
		config.WindowSize = 500
	}
	if config.Threshold <= 0 {
		config.Threshold = 1.0
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 30
	}
	if config.AlertCooldown <= 0 {
		config.AlertCooldown = time.Hour
	}

	return &DriftMonitor{
		columns:       columns,
		mean:          ss.Mean,
		scale:         ss.Scale,
		window:        make([][]float64, config.WindowSize),
		threshold:     config.Threshold,
		minSamples:    config.MinSamples,
		alertCooldown: config.AlertCooldown,
	}
}

// Observe adds one encoded row to the window and returns the updated report.
// Zero-filled columns are not observed, so partial inputs do not drag the
// window means toward zero.
func (dm *DriftMonitor) Observe(row features.Row) DriftReport {
	if dm == nil {
		return DriftReport{}
	}

	filled := make(map[string]bool, len(row.Filled))
	for _, c := range row.Filled {
		filled[c] = true
	}
	values := make([]float64, len(dm.columns))
	for j, name := range dm.columns {
		v, ok := row.Get(name)
		if !ok || filled[name] {
			v = math.NaN()
		}
		values[j] = v
	}

	dm.mu.Lock()
	dm.window[dm.next] = values
	dm.next = (dm.next + 1) % len(dm.window)
	if dm.next == 0 {
		dm.filled = true
	}
	report := dm.reportLocked()
	alert := report.Ready && len(report.Drifted) > 0 && time.Since(dm.lastAlert) >= dm.alertCooldown
	if alert {
		dm.lastAlert = time.Now()
	}
	dm.mu.Unlock()

	if alert {
		log.Warn().
			Strs("features", report.Drifted).
			Int("samples", report.Samples).
			Float64("threshold", report.Threshold).
			Msg("input drift detected")
	}
	return report
}

// Report returns the drift of every column, largest shift first.
func (dm *DriftMonitor) Report() DriftReport {
	if dm == nil {
		return DriftReport{}
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.reportLocked()
}

func (dm *DriftMonitor) samples() int {
	if dm.filled {
		return len(dm.window)
	}
	return dm.next
}

func (dm *DriftMonitor) reportLocked() DriftReport {
	n := dm.samples()
	report := DriftReport{
		Samples:   n,
		Threshold: dm.threshold,
		Ready:     n >= dm.minSamples,
		Drifted:   []string{},
		Features:  make([]FeatureDrift, len(dm.columns)),
	}

	sums := make([]float64, len(dm.columns))
	counts := make([]int, len(dm.columns))
	for i := 0; i < n; i++ {
		for j, v := range dm.window[i] {
			if math.IsNaN(v) {
				continue
			}
			sums[j] += v
			counts[j]++
		}
	}

	for j, name := range dm.columns {
		fd := FeatureDrift{Name: name, Samples: counts[j], BaselineMean: dm.mean[j]}
		if counts[j] > 0 {
			fd.CurrentMean = sums[j] / float64(counts[j])
			fd.Shift = math.Abs(fd.CurrentMean-dm.mean[j]) / dm.scale[j]
			fd.Drifted = counts[j] >= dm.minSamples && fd.Shift > dm.threshold
		}
		if fd.Drifted {
			report.Drifted = append(report.Drifted, name)
		}
		report.Features[j] = fd
	}

	sort.SliceStable(report.Features, func(a, b int) bool {
		return report.Features[a].Shift > report.Features[b].Shift
	})
	return report
}
