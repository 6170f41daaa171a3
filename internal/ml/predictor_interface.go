// Package ml loads the fitted scaler and classifier artifacts and runs them
// over encoded feature rows.
//
// Artifacts are JSON documents written by the training pipeline. They are
// loaded once at startup and never mutated afterwards, so a single Invoker can
// be shared by every request.
package ml

// Scaler transforms raw feature rows into the distribution the classifier was
// trained on.
type Scaler interface {
	// Transform returns a scaled copy of X. X is not modified.
	Transform(X [][]float64) ([][]float64, error)
}

// Classifier maps scaled rows to class labels (0 = continue, 1 = drop out).
type Classifier interface {
	Predict(X [][]float64) ([]int, error)
}

// ProbabilityClassifier is implemented by classifiers that can estimate
// per-class probabilities. Each returned row is [p(class 0), p(class 1)].
type ProbabilityClassifier interface {
	Classifier
	PredictProba(X [][]float64) ([][]float64, error)
}
