// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Manifest is an ordered list of action steps.
type Manifest struct {
	// Description is free text shown by "depot manifest show".
	Description string `json:"description,omitempty"`

	Steps []Step `json:"steps"`

	// Output names the step whose filetree is the manifest's result.
	// Empty means the last step.
	Output string `json:"output,omitempty"`
}

// Step is one named action. Exactly one of the action bodies is set;
// they hold the JSON form of the corresponding lib/action type, with
// step references left unexpanded.
type Step struct {
	Name        string          `json:"name"`
	BuildDepmap json.RawMessage `json:"build_depmap,omitempty"`
	Download    json.RawMessage `json:"download,omitempty"`
	Extract     json.RawMessage `json:"extract,omitempty"`
}

// body returns the action kind and its raw definition. Kind is "" when
// no action is set; the first set body wins when several are, which
// Validate reports separately.
func (s Step) body() (string, json.RawMessage) {
	switch {
	case len(s.BuildDepmap) > 0:
		return "build_depmap", s.BuildDepmap
	case len(s.Download) > 0:
		return "download", s.Download
	case len(s.Extract) > 0:
		return "extract", s.Extract
	default:
		return "", nil
	}
}

func (s Step) actionCount() int {
	count := 0
	for _, body := range []json.RawMessage{s.BuildDepmap, s.Download, s.Extract} {
		if len(body) > 0 {
			count++
		}
	}
	return count
}

// outputStep returns the name of the step whose output is the result.
func (m *Manifest) outputStep() string {
	if m.Output != "" || len(m.Steps) == 0 {
		return m.Output
	}
	return m.Steps[len(m.Steps)-1].Name
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Manifest.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	var manifest Manifest
	if err := json.Unmarshal(stripped, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return &manifest, nil
}

// ReadFile reads and parses a JSONC manifest file.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	manifest, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return manifest, nil
}

// NameFromPath extracts a manifest name from a file path by stripping
// the directory and extension: "deps/zlib.jsonc" returns "zlib".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
