package model

import (
	"context"

	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// PreprocessFunc turns a stage input into named network inputs
type PreprocessFunc[In any] func(net *inference.Network, in In) (map[string]*tensor.Dense, error)

// PostprocessFunc turns named network outputs into the stage result
type PostprocessFunc[In, Out any] func(net *inference.Network, in In, outputs map[string]*tensor.Dense) (Out, error)

// Stage is the shared preprocess → infer → postprocess unit. The four
// pipeline models are Stages that differ only in their closures.
type Stage[In, Out any] struct {
	model *Model
	pre   PreprocessFunc[In]
	post  PostprocessFunc[In, Out]
}

// NewStage binds pre and post to a model
func NewStage[In, Out any](m *Model, pre PreprocessFunc[In], post PostprocessFunc[In, Out]) *Stage[In, Out] {
	return &Stage[In, Out]{model: m, pre: pre, post: post}
}

// Model returns the wrapped model
func (s *Stage[In, Out]) Model() *Model {
	return s.model
}

// Predict runs the three steps. It never retries; every failure is an
// *inference.InferenceError.
func (s *Stage[In, Out]) Predict(ctx context.Context, in In) (Out, error) {
	var zero Out
	name := s.model.Name()
	net := s.model.Network()

	inputs, err := s.pre(net, in)
	if err != nil {
		return zero, &inference.InferenceError{Model: name, Err: err}
	}

	outputs, err := s.model.infer(ctx, inputs)
	if err != nil {
		return zero, &inference.InferenceError{Model: name, Err: err}
	}

	out, err := s.post(net, in, outputs)
	if err != nil {
		return zero, &inference.InferenceError{Model: name, Err: err}
	}
	return out, nil
}
