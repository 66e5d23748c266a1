// Package demo registers a built-in job type used for smoke testing a
// deployment end to end without any external dependency.
package demo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openparcel/jobcore/internal/registry"
)

// JobType is the name the demo handler registers under.
const JobType = "demo_job"

type demoParams struct {
	X *float64 `json:"x"`
}

// Register adds the demo_job handler to the registry. The handler accepts
// {"x": <number>} and returns {"x": <number>, "doubled": <2x>}.
func Register(r *registry.Registry) error {
	return r.Register(JobType, registry.Handler{
		Validate: validate,
		Execute:  execute,
	})
}

func validate(params json.RawMessage) error {
	var body demoParams
	if err := json.Unmarshal(params, &body); err != nil {
		return err
	}
	if body.X == nil {
		return errors.New("params must contain a numeric x")
	}
	return nil
}

func execute(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var body demoParams
	if err := json.Unmarshal(params, &body); err != nil {
		return nil, err
	}
	if body.X == nil {
		return nil, errors.New("params must contain a numeric x")
	}
	return json.Marshal(map[string]float64{
		"x":       *body.X,
		"doubled": *body.X * 2,
	})
}
