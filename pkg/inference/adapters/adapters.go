// Package adapters turns catalog entries into model backends.
package adapters

import (
	"fmt"

	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/backends/fold"
	"github.com/docker/protein-runner/pkg/inference/backends/plm"
	"github.com/docker/protein-runner/pkg/inference/models"
	"github.com/docker/protein-runner/pkg/logging"
)

// Build creates a backend for every model in c, in catalog order.
func Build(log logging.Logger, c *models.Catalog) ([]models.Model, error) {
	out := make([]models.Model, 0, len(c.Models))
	for _, spec := range c.Models {
		backend, err := New(log.WithField("model", spec.Name), spec)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Model{Spec: spec, Backend: backend})
	}
	return out, nil
}

// New creates the backend for one catalog entry.
func New(log logging.Logger, spec models.Spec) (inference.Backend, error) {
	switch spec.Kind {
	case plm.Kind:
		return plm.New(log, plm.Config{
			Name:        spec.Name,
			LoadLatency: spec.LoadLatency,
			Analysis:    spec.Has(inference.CapabilityAnalysis),
			Confidence:  spec.Confidence,
		}), nil
	case fold.Kind:
		return fold.New(log, fold.Config{
			Name:        spec.Name,
			LoadLatency: spec.LoadLatency,
			Confidence:  spec.Confidence,
		}), nil
	default:
		return nil, fmt.Errorf("model %s: unsupported kind %q", spec.Name, spec.Kind)
	}
}
