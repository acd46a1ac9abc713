// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"regexp"

	"github.com/bureau-foundation/depot/lib/depmap"
)

// stepNamePattern matches valid step names. Colons are excluded so
// "step:<name>:<subpath>" parses unambiguously.
var stepNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Validate checks a Manifest for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the manifest
// is valid.
//
// Structural checks include:
//   - At least one step is required
//   - Each step has a unique name matching stepNamePattern
//   - Each step sets exactly one of build_depmap, download or extract
//   - Step references name an earlier step
//   - Each action decodes and passes its own validation
//   - Output, when set, names a step
func Validate(m *Manifest) []string {
	var issues []string

	if len(m.Steps) == 0 {
		issues = append(issues, "manifest has no steps (at least one step is required)")
	}

	seen := make(map[string]int, len(m.Steps))
	for index, step := range m.Steps {
		prefix := fmt.Sprintf("steps[%d]", index)
		if step.Name != "" {
			prefix = fmt.Sprintf("steps[%d] %q", index, step.Name)
		}

		switch {
		case step.Name == "":
			issues = append(issues, prefix+": name is required")
		case !stepNamePattern.MatchString(step.Name):
			issues = append(issues, fmt.Sprintf("%s: name must match %s", prefix, stepNamePattern))
		}
		if first, exists := seen[step.Name]; exists && step.Name != "" {
			issues = append(issues, fmt.Sprintf("%s: duplicate step name (first used at steps[%d])", prefix, first))
		}

		issues = append(issues, validateStep(step, prefix, seen)...)

		if _, exists := seen[step.Name]; !exists && step.Name != "" {
			seen[step.Name] = index
		}
	}

	if m.Output != "" {
		if _, exists := seen[m.Output]; !exists {
			issues = append(issues, fmt.Sprintf("output %q does not name a step", m.Output))
		}
	}

	return issues
}

// validateStep checks one step against the steps before it.
func validateStep(step Step, prefix string, earlier map[string]int) []string {
	switch count := step.actionCount(); count {
	case 0:
		return []string{prefix + ": one of build_depmap, download or extract is required"}
	case 1:
	default:
		return []string{fmt.Sprintf("%s: exactly one action must be set, have %d", prefix, count)}
	}

	_, body := step.body()
	references, err := stepReferences(body)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}
	var issues []string
	for _, reference := range references {
		if _, exists := earlier[reference.step]; !exists {
			issues = append(issues, fmt.Sprintf("%s: step:%s does not name an earlier step", prefix, reference.step))
		}
	}
	if len(issues) > 0 {
		return issues
	}

	// Decode against placeholder outputs so the action's own checks
	// run before anything executes.
	placeholders := make(map[string]depmap.Hash, len(earlier))
	for name := range earlier {
		placeholders[name] = depmap.Hash{}
	}
	decoded, err := decodeAction(step, outputResolver(placeholders))
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}
	if err := decoded.Validate(); err != nil {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}
	return nil
}
