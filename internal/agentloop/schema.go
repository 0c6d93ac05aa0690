package agentloop

import "encoding/json"

// sanitizeSchema strips the union keywords the Anthropic API rejects
// (oneOf/allOf/anyOf) recursively, and makes sure the top-level schema is an
// object with a properties field (spec.md §4.4). Unparseable schemas are
// replaced with an empty object schema rather than passed through broken.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	var v any
	if len(raw) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(raw, &v); err != nil {
		v = map[string]any{}
	}

	cleaned := stripUnionKeys(v)
	obj, ok := cleaned.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	if obj["type"] == nil {
		obj["type"] = "object"
	}
	if _, ok := obj["properties"]; !ok {
		obj["properties"] = map[string]any{}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

func stripUnionKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			switch k {
			case "oneOf", "allOf", "anyOf":
				continue
			default:
				out[k] = stripUnionKeys(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripUnionKeys(val)
		}
		return out
	default:
		return v
	}
}
