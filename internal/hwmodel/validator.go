package hwmodel

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/hardware-model-v1.json
var hardwareModelSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("hardware-model-v1.json",
		strings.NewReader(hardwareModelSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("hardware-model-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON checks a profile already encoded as JSON.
func (v *Validator) ValidateJSON(data []byte) error {
	var profile interface{}
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(profile); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateYAML re-encodes a YAML profile as JSON and validates it, so the
// schema sees the same number and map types as it would for a JSON file.
func (v *Validator) ValidateYAML(data []byte) error {
	var profile interface{}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	asJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("profile is not representable as JSON: %w", err)
	}

	return v.ValidateJSON(asJSON)
}
