// Package classifier maps the opaque model's score vector to a diagnosis label.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/Black-prog/CanScan/internal/preprocess"
)

// Classes is the fixed, ordered condition vocabulary. The index of the
// maximum score selects the label; order must never change for a deployed
// model artifact.
var Classes = []string{"seborrheic_keratosis", "nevus", "melanoma"}

// ModelClient exposes the narrow capability of the pretrained model:
// one score per class index for a normalized image tensor. Implementations
// are constructed once at process start and shared across requests.
type ModelClient interface {
	Predict(ctx context.Context, t *preprocess.Tensor) ([]float64, error)
}

// InferenceError wraps any failure of the model call. It is terminal for the
// current request; no retry is attempted.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Adapter converts raw model scores into a discrete diagnosis label.
type Adapter struct {
	client  ModelClient
	classes []string
	logger  *zap.Logger
}

// NewAdapter constructs an adapter over the injected model client.
func NewAdapter(client ModelClient, logger *zap.Logger) *Adapter {
	return &Adapter{
		client:  client,
		classes: Classes,
		logger:  logger.Named("classifier"),
	}
}

// Classify runs a single inference and returns the winning label together
// with the raw score vector. Ties on the maximum score resolve to the lowest
// class index.
func (a *Adapter) Classify(ctx context.Context, t *preprocess.Tensor) (string, []float64, error) {
	scores, err := a.client.Predict(ctx, t)
	if err != nil {
		return "", nil, &InferenceError{Err: err}
	}
	if len(scores) != len(a.classes) {
		return "", nil, &InferenceError{Err: fmt.Errorf("model returned %d scores for %d classes", len(scores), len(a.classes))}
	}

	// floats.MaxIdx returns the first index holding the maximum value,
	// which is exactly the lowest-index-wins tie-break.
	idx := floats.MaxIdx(scores)
	label := a.classes[idx]
	a.logger.Debug("classified", zap.String("label", label), zap.Float64s("scores", scores))
	return label, scores, nil
}
