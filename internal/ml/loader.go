package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dropout-risk/internal/common"

	"github.com/rs/zerolog/log"
)

// ModelMetadata contains information about the loaded model
type ModelMetadata struct {
	Version       string    `json:"version"`
	TrainedAt     time.Time `json:"trained_at"`
	Features      []string  `json:"features,omitempty"`
	Accuracy      float64   `json:"accuracy"`
	TrainingRows  int       `json:"training_rows"`
	ValidationAcc float64   `json:"validation_accuracy"`
}

// Artifacts bundles the loaded scaler and classifier with their provenance.
type Artifacts struct {
	Scaler       Scaler
	Classifier   Classifier
	Metadata     *ModelMetadata
	ModelPath    string
	ScalerPath   string
	ModelCreated time.Time
	LoadedAt     time.Time
}

// SupportsProbability reports whether the classifier can estimate probabilities.
func (a *Artifacts) SupportsProbability() bool {
	_, ok := a.Classifier.(ProbabilityClassifier)
	return ok
}

// Load reads both artifacts and validates them against columns. Any failure
// is returned; callers treat it as fatal. metadataPath may be empty, in which
// case model_metadata.json next to the model is tried.
func Load(modelPath, scalerPath, metadataPath string, columns []string) (*Artifacts, error) {
	scaler, err := LoadScaler(scalerPath, columns)
	if err != nil {
		return nil, err
	}

	classifier, err := LoadClassifier(modelPath, columns)
	if err != nil {
		return nil, err
	}

	var modelCreated time.Time
	if info, err := os.Stat(modelPath); err == nil {
		modelCreated = info.ModTime()
	}

	metadata, err := loadModelMetadata(modelPath, metadataPath)
	if err != nil {
		log.Warn().Err(err).Str("model_path", modelPath).Msg("failed to load model metadata, using defaults")
		metadata = &ModelMetadata{
			Version:   "unknown",
			TrainedAt: modelCreated,
			Features:  columns,
		}
	}
	if len(metadata.Features) > 0 {
		if err := checkFeatureNames(metadata.Features, columns); err != nil {
			return nil, fmt.Errorf("model metadata: %w", err)
		}
	}

	a := &Artifacts{
		Scaler:       scaler,
		Classifier:   classifier,
		Metadata:     metadata,
		ModelPath:    modelPath,
		ScalerPath:   scalerPath,
		ModelCreated: modelCreated,
		LoadedAt:     time.Now(),
	}

	log.Info().
		Str("model_path", modelPath).
		Str("scaler_path", scalerPath).
		Str("model_version", metadata.Version).
		Bool("probability", a.SupportsProbability()).
		Msg("artifacts loaded")

	return a, nil
}

// LoadScaler decodes and validates the scaler artifact at path.
func LoadScaler(path string, columns []string) (Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler %s: %w", path, err)
	}

	var a ScalerArtifact
	if err := decodeArtifact(data, &a); err != nil {
		return nil, fmt.Errorf("scaler %s: %w", path, err)
	}

	s, err := BuildScaler(a, columns)
	if err != nil {
		return nil, fmt.Errorf("scaler %s: %w", path, err)
	}
	return s, nil
}

// LoadClassifier decodes and validates the classifier artifact at path.
func LoadClassifier(path string, columns []string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var a ClassifierArtifact
	if err := decodeArtifact(data, &a); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}

	c, err := BuildClassifier(a, columns)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return c, nil
}

func loadModelMetadata(modelPath, metadataPath string) (*ModelMetadata, error) {
	if metadataPath != "" {
		return decodeMetadata(metadataPath)
	}

	dir := filepath.Dir(modelPath)
	primary := filepath.Join(dir, common.MetadataFileName)

	if md, err := decodeMetadata(primary); err == nil {
		return md, nil
	}

	// Fallback: pick the newest metadata file by timestamp suffix
	pattern := filepath.Join(dir, "model_metadata_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no metadata files found in %s", dir)
	}
	sort.Strings(matches)
	return decodeMetadata(matches[len(matches)-1])
}

func decodeMetadata(path string) (*ModelMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var md ModelMetadata
	if err := json.NewDecoder(file).Decode(&md); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &md, nil
}
