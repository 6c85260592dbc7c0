/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mcp

// MapArguments shapes model-produced arguments to a tool's input schema.
// A lone "input" wrapper object is unwrapped unless the schema declares an
// "input" property. Fields not declared in the schema are dropped when the
// schema declares any properties. Missing required fields are filled with
// the zero value of their declared type.
func MapArguments(schema map[string]any, args map[string]any) map[string]any {
	properties, _ := schema["properties"].(map[string]any)

	if inner, ok := args["input"].(map[string]any); ok && len(args) == 1 {
		if _, declared := properties["input"]; !declared {
			args = inner
		}
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		if len(properties) > 0 {
			if _, declared := properties[k]; !declared {
				continue
			}
		}
		out[k] = v
	}

	for _, name := range requiredFields(schema["required"]) {
		if v, ok := out[name]; ok && v != nil {
			continue
		}
		field, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		out[name] = emptyValue(field)
	}
	return out
}

func emptyValue(field map[string]any) any {
	def, hasDefault := field["default"]
	switch field["type"] {
	case "object":
		return map[string]any{}
	case "array":
		return []any{}
	case "string":
		if s, ok := def.(string); ok {
			return s
		}
		return ""
	case "number", "integer":
		if hasDefault && def != nil {
			return def
		}
		if minimum, ok := field["minimum"]; ok && minimum != nil {
			return minimum
		}
		return 0
	case "boolean":
		if b, ok := def.(bool); ok {
			return b
		}
		return false
	default:
		return nil
	}
}

func requiredFields(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
