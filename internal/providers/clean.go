package providers

// CleanToolSchemas normalizes tool definitions for a provider. Parameters
// always carry an object schema; some backends reject tools without one.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	cleaned := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		if t.Type == "" {
			t.Type = "function"
		}
		t.Function.Parameters = CleanSchemaForProvider(providerName, t.Function.Parameters)
		cleaned[i] = t
	}
	return cleaned
}

// CleanSchemaForProvider sanitizes a JSON schema for a provider. Draft
// annotations like $schema confuse several backends and carry no meaning
// for tool calling.
func CleanSchemaForProvider(providerName string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	cleaned := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if k == "$schema" || k == "$id" {
			continue
		}
		if sub, ok := v.(map[string]interface{}); ok {
			cleaned[k] = CleanSchemaForProvider(providerName, sub)
			continue
		}
		cleaned[k] = v
	}
	if _, ok := cleaned["type"]; !ok {
		if _, hasProps := cleaned["properties"]; hasProps {
			cleaned["type"] = "object"
		}
	}
	return cleaned
}
