package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// statusSchema describes GET /status/{jobId}. Unknown status values are allowed;
// only the field types are constrained.
var statusSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"status": map[string]any{"type": "string"},
		"url":    map[string]any{"type": "string"},
		"error":  map[string]any{"type": "string"},
	},
}

var (
	compiledOnce   sync.Once
	compiledStatus *jsonschema.Schema
	compileErr     error
)

func compileStatusSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		b, err := json.Marshal(statusSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("status.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledStatus, compileErr = compiler.Compile("status.json")
	})
	return compiledStatus, compileErr
}

// validateStatus checks a raw status body against statusSchema.
func validateStatus(data []byte) error {
	schema, err := compileStatusSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
