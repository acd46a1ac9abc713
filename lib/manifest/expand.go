// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/depot/lib/action"
	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/depmap"
)

// ErrUnknownStep is returned when a step reference names a step that
// has not run.
var ErrUnknownStep = errors.New("unknown step")

// stepPrefix introduces a step reference.
const stepPrefix = "step:"

// referenceFields are the JSON keys whose values are concrete
// references, at any depth of an action body.
var referenceFields = map[string]bool{
	"reference": true,
	"base":      true,
	"archive":   true,
}

// stepReference is a parsed "step:<name>[:<subpath>]".
type stepReference struct {
	step    string
	subpath string
}

func parseStepReference(text string) (stepReference, bool) {
	rest, ok := strings.CutPrefix(text, stepPrefix)
	if !ok {
		return stepReference{}, false
	}
	name, subpath, _ := strings.Cut(rest, ":")
	return stepReference{step: name, subpath: subpath}, true
}

// resolve maps a step reference to a concrete reference text.
type resolver func(stepReference) (string, error)

// outputResolver resolves references against completed step outputs.
func outputResolver(outputs map[string]depmap.Hash) resolver {
	return func(reference stepReference) (string, error) {
		hash, ok := outputs[reference.step]
		if !ok {
			return "", fmt.Errorf("%w %q", ErrUnknownStep, reference.step)
		}
		joined, err := buildcontext.Reference(hash).Join(reference.subpath)
		if err != nil {
			return "", fmt.Errorf("step:%s:%s: %w", reference.step, reference.subpath, err)
		}
		return joined.String(), nil
	}
}

// stepReferences lists the step references in an action body.
func stepReferences(body json.RawMessage) ([]stepReference, error) {
	var references []stepReference
	_, err := expandBody(body, func(reference stepReference) (string, error) {
		references = append(references, reference)
		return depmap.Hash{}.String(), nil
	})
	return references, err
}

// expandBody rewrites the step references in body using resolve.
func expandBody(body json.RawMessage, resolve resolver) (json.RawMessage, error) {
	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, err
	}
	expanded, err := expandValue(tree, "", resolve)
	if err != nil {
		return nil, err
	}
	return json.Marshal(expanded)
}

func expandValue(value any, key string, resolve resolver) (any, error) {
	switch typed := value.(type) {
	case map[string]any:
		for field, child := range typed {
			expanded, err := expandValue(child, field, resolve)
			if err != nil {
				return nil, err
			}
			typed[field] = expanded
		}
		return typed, nil
	case []any:
		for index, child := range typed {
			expanded, err := expandValue(child, key, resolve)
			if err != nil {
				return nil, err
			}
			typed[index] = expanded
		}
		return typed, nil
	case string:
		if !referenceFields[key] {
			return typed, nil
		}
		if reference, ok := parseStepReference(typed); ok {
			return resolve(reference)
		}
		return typed, nil
	default:
		return value, nil
	}
}

// decodeAction expands a step and decodes it into an action. Unknown
// fields are rejected so typos do not silently change the digest.
func decodeAction(step Step, resolve resolver) (*action.Action, error) {
	kind, body := step.body()
	if kind == "" {
		return nil, fmt.Errorf("%w: step %q has no action", action.ErrInvalidAction, step.Name)
	}
	expanded, err := expandBody(body, resolve)
	if err != nil {
		return nil, err
	}

	var decoded action.Action
	var target any
	switch kind {
	case "build_depmap":
		decoded.BuildDepmap = new(action.BuildDepmap)
		target = decoded.BuildDepmap
	case "download":
		decoded.Download = new(action.Download)
		target = decoded.Download
	case "extract":
		decoded.Extract = new(action.Extract)
		target = decoded.Extract
	}
	decoder := json.NewDecoder(bytes.NewReader(expanded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}
	return &decoded, nil
}
