// Package catalog loads the two read-only inputs of a guardrail test run:
// the deployed guardrail catalog (terraform output) and the prompt fixture.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Terraform output names the catalog is read from.
const (
	GuardrailIDsOutput = "guardrail_ids"
	RegionOutput       = "aws_region"
)

var ErrNoGuardrailIDs = errors.New("terraform output has no " + GuardrailIDsOutput)

// Catalog maps guardrail names to their deployed identifiers.
type Catalog struct {
	Guardrails map[string]string
	Region     string
}

// Lookup returns the identifier for name. An empty identifier counts as
// missing.
func (c *Catalog) Lookup(name string) (string, bool) {
	id, ok := c.Guardrails[name]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

type tfOutputValue struct {
	Value json.RawMessage `json:"value"`
}

// LoadCatalog reads a `terraform output -json` document.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var outputs map[string]tfOutputValue
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("parse terraform output: %w", err)
	}

	raw, ok := outputs[GuardrailIDsOutput]
	if !ok || len(raw.Value) == 0 {
		return nil, ErrNoGuardrailIDs
	}
	cat := &Catalog{}
	if err := json.Unmarshal(raw.Value, &cat.Guardrails); err != nil {
		return nil, fmt.Errorf("parse %s: %w", GuardrailIDsOutput, err)
	}
	if cat.Guardrails == nil {
		return nil, ErrNoGuardrailIDs
	}

	if r, ok := outputs[RegionOutput]; ok && len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, &cat.Region); err != nil {
			return nil, fmt.Errorf("parse %s: %w", RegionOutput, err)
		}
	}
	return cat, nil
}
