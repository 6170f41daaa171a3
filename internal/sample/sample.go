// Package sample writes a small, hand-weighted artifact pair so the service
// can run without the training pipeline. The weights only encode the obvious
// directions (debt raises risk, approved units lower it); they are not fitted.
package sample

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"dropout-risk/internal/common"
	"dropout-risk/internal/ml"
	"dropout-risk/internal/schema"
)

// Known directions, in standardized units.
var weights = []struct {
	column string
	weight float64
}{
	{"debtor", 0.9},
	{"tuition_fees_up_to_date", -1.3},
	{"scholarship_holder", -0.6},
	{"age_at_enrollment", 0.4},
	{"curricular_units_1st_sem_approved", -0.8},
	{"curricular_units_1st_sem_grade", -0.5},
	{"curricular_units_2nd_sem_approved", -1.0},
	{"curricular_units_2nd_sem_grade", -0.7},
	{"curricular_units_2nd_sem_enrolled", 0.2},
	{"application_order", 0.1},
	{"educational_special_needs", 0.1},
	{"curricular_units_1st_sem_enrolled", 0.2},
	{"curricular_units_2nd_sem_credited", -0.1},
	{"curricular_units_1st_sem_credited", -0.1},
	{"curricular_units_1st_sem_without_evaluations", 0.3},
	{"curricular_units_2nd_sem_without_evaluations", 0.4},
}

// Options controls generation.
type Options struct {
	Seed      int64   // jitter for columns without a known weight
	Jitter    float64 // max absolute weight for those columns
	Intercept float64
	Version   string
}

// DefaultOptions returns the settings used by genartifacts.
func DefaultOptions() Options {
	return Options{Seed: 42, Jitter: 0.05, Intercept: -1.0}
}

// Build returns the scaler, classifier and metadata documents.
func Build(opts Options) (ml.ScalerArtifact, ml.ClassifierArtifact, ml.ModelMetadata) {
	rng := rand.New(rand.NewSource(opts.Seed))
	n := len(schema.Columns)

	mean := make([]float64, n)
	scale := make([]float64, n)
	coef := make([]float64, n)

	for i, col := range schema.Columns {
		f, ok := schema.Fields.Lookup(col)
		switch {
		case !ok:
			mean[i], scale[i] = 0, 1
		case f.Kind == schema.Categorical:
			mean[i], scale[i] = 0.5, 0.5
		default:
			mean[i] = f.Default
			scale[i] = (f.Max - f.Min) / 4
			if scale[i] == 0 {
				scale[i] = 1
			}
		}

		coef[i] = (rng.Float64()*2 - 1) * opts.Jitter
	}

	for _, w := range weights {
		for i, col := range schema.Columns {
			if col == w.column {
				coef[i] = w.weight
			}
		}
	}

	version := opts.Version
	if version == "" {
		version = "sample-" + time.Now().UTC().Format("20060102")
	}

	scaler := ml.ScalerArtifact{
		Kind:         ml.ScalerStandard,
		FeatureNames: schema.Columns,
		Mean:         mean,
		Scale:        scale,
	}
	classifier := ml.ClassifierArtifact{
		Kind:         ml.ClassifierLogistic,
		FeatureNames: schema.Columns,
		Coef:         coef,
		Intercept:    opts.Intercept,
	}
	metadata := ml.ModelMetadata{
		Version:   version,
		TrainedAt: time.Now().UTC(),
		Features:  schema.Columns,
	}
	return scaler, classifier, metadata
}

// Paths of the files Write produces.
type Paths struct {
	Model    string
	Scaler   string
	Metadata string
}

// Write stores the sample artifacts in dir, creating it if needed.
func Write(dir string, opts Options) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create %s: %w", dir, err)
	}

	scaler, classifier, metadata := Build(opts)
	p := Paths{
		Model:    filepath.Join(dir, filepath.Base(common.DefaultModelPath)),
		Scaler:   filepath.Join(dir, filepath.Base(common.DefaultScalerPath)),
		Metadata: filepath.Join(dir, common.MetadataFileName),
	}

	for path, doc := range map[string]any{
		p.Model:    classifier,
		p.Scaler:   scaler,
		p.Metadata: metadata,
	} {
		if err := writeJSON(path, doc); err != nil {
			return Paths{}, err
		}
	}
	return p, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
