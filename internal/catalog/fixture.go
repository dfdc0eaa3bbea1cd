package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Case is the list of prompts to send through one guardrail.
type Case struct {
	Guardrail string   `json:"guardrail_name" yaml:"guardrail_name"`
	Inputs    []string `json:"inputs" yaml:"inputs"`
}

// Fixture is the ordered set of test cases for a run.
type Fixture struct {
	Cases []Case `json:"data" yaml:"data"`
}

// Prompts returns the total number of prompts across all cases.
func (f *Fixture) Prompts() int {
	n := 0
	for _, c := range f.Cases {
		n += len(c.Inputs)
	}
	return n
}

// LoadFixture reads a fixture file. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	f.Cases = dedupe(f.Cases)
	return &f, nil
}

// dedupe collapses repeated guardrail names. A repeated name keeps the
// position of its first occurrence and the inputs of its last.
func dedupe(cases []Case) []Case {
	index := make(map[string]int, len(cases))
	out := make([]Case, 0, len(cases))
	for _, c := range cases {
		if i, ok := index[c.Guardrail]; ok {
			out[i].Inputs = c.Inputs
			continue
		}
		index[c.Guardrail] = len(out)
		out = append(out, c)
	}
	return out
}
