package main

import (
	"context"

	"github.com/webfabrica/leadgen-cli/internal/config"
	"github.com/webfabrica/leadgen-cli/internal/lifecycle"
	"github.com/webfabrica/leadgen-cli/internal/scorer"
	"github.com/webfabrica/leadgen-cli/internal/store"
)

func openStore(ctx context.Context) (store.Store, error) {
	return store.New(ctx, cfg.Store)
}

func newLifecycle(st store.Store) *lifecycle.Controller {
	return lifecycle.NewController(st, cfg.Pipeline.MaxStageRetries, cfg.Outreach)
}

// loadWeights builds the scoring weights: defaults, then the pipeline
// thresholds from config, then the optional weights file on top.
func loadWeights(pipeline config.PipelineConfig) (scorer.Weights, error) {
	w := scorer.DefaultWeights()
	w.QualificationThreshold = pipeline.QualificationThreshold
	w.ReviewTierMin = pipeline.ReviewTierMin
	if pipeline.WeightsFile != "" {
		if err := scorer.LoadWeightsFile(pipeline.WeightsFile, &w); err != nil {
			return w, err
		}
	}
	return w, nil
}
