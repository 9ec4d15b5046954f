package providers

import "testing"

func TestCleanSchemaForProvider(t *testing.T) {
	t.Run("nil becomes empty object schema", func(t *testing.T) {
		got := CleanSchemaForProvider("openai", nil)
		if got["type"] != "object" {
			t.Errorf("type = %v, want object", got["type"])
		}
		if _, ok := got["properties"].(map[string]interface{}); !ok {
			t.Errorf("properties = %v, want empty map", got["properties"])
		}
	})

	t.Run("draft annotations stripped recursively", func(t *testing.T) {
		schema := map[string]interface{}{
			"$schema": "http://json-schema.org/draft-07/schema#",
			"type":    "object",
			"properties": map[string]interface{}{
				"nested": map[string]interface{}{
					"$id":  "nested-id",
					"type": "string",
				},
			},
		}
		got := CleanSchemaForProvider("openai", schema)
		if _, ok := got["$schema"]; ok {
			t.Error("expected $schema to be stripped")
		}
		props := got["properties"].(map[string]interface{})
		nested := props["nested"].(map[string]interface{})
		if _, ok := nested["$id"]; ok {
			t.Error("expected nested $id to be stripped")
		}
		if nested["type"] != "string" {
			t.Errorf("nested type = %v, want string", nested["type"])
		}
	})

	t.Run("missing type inferred from properties", func(t *testing.T) {
		schema := map[string]interface{}{
			"properties": map[string]interface{}{
				"a": map[string]interface{}{"type": "string"},
			},
		}
		got := CleanSchemaForProvider("openai", schema)
		if got["type"] != "object" {
			t.Errorf("type = %v, want object", got["type"])
		}
	})
}

func TestCleanToolSchemas(t *testing.T) {
	tools := []ToolDefinition{
		{Function: ToolFunctionSchema{Name: "no_params"}},
		{Type: "function", Function: ToolFunctionSchema{
			Name:       "with_params",
			Parameters: map[string]interface{}{"type": "object", "$schema": "x"},
		}},
	}

	cleaned := CleanToolSchemas("openai", tools)

	if cleaned[0].Type != "function" {
		t.Errorf("Type = %q, want function", cleaned[0].Type)
	}
	if cleaned[0].Function.Parameters == nil {
		t.Fatal("expected parameters to be filled in")
	}
	if cleaned[0].Function.Parameters["type"] != "object" {
		t.Errorf("parameters type = %v, want object", cleaned[0].Function.Parameters["type"])
	}
	if _, ok := cleaned[1].Function.Parameters["$schema"]; ok {
		t.Error("expected $schema to be stripped")
	}

	// Original slice must not be mutated.
	if tools[0].Function.Parameters != nil {
		t.Error("expected original tool definition to be untouched")
	}
}
