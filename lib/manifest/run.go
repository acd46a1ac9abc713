// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/depot/lib/action"
	"github.com/bureau-foundation/depot/lib/depmap"
)

// ErrInvalidManifest wraps the issues Validate reports when Run is
// given a manifest that does not validate.
var ErrInvalidManifest = errors.New("invalid manifest")

// StepResult is the outcome of one step.
type StepResult struct {
	Name   string
	Kind   string
	Output action.Output
}

// Result is the outcome of a manifest run.
type Result struct {
	Steps []StepResult

	// Output is the filetree of the manifest's output step.
	Output depmap.Hash
}

// Run validates m and runs its steps in order, expanding step
// references from the outputs of earlier steps. The first failing step
// stops the run.
func Run(ctx context.Context, c action.Context, m *Manifest) (*Result, error) {
	if issues := Validate(m); len(issues) > 0 {
		return nil, fmt.Errorf("%w:\n  %s", ErrInvalidManifest, strings.Join(issues, "\n  "))
	}

	logger := c.Logger()
	outputs := make(map[string]depmap.Hash, len(m.Steps))
	result := &Result{Steps: make([]StepResult, 0, len(m.Steps))}

	for index, step := range m.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decoded, err := decodeAction(step, outputResolver(outputs))
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}

		logger.Debug("running manifest step",
			"step", step.Name,
			"index", index,
			"kind", decoded.Kind(),
		)
		output, err := action.Run(ctx, c, decoded)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}

		outputs[step.Name] = output.Files
		result.Steps = append(result.Steps, StepResult{
			Name:   step.Name,
			Kind:   decoded.Kind(),
			Output: output,
		})
	}

	result.Output = outputs[m.outputStep()]
	logger.Info("manifest completed",
		"steps", len(result.Steps),
		"output", result.Output.Short(),
	)
	return result, nil
}
