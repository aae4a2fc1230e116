package actions

import "fmt"

// Param extraction helpers. JSON numbers decode into float64 via
// encoding/json's default map[string]interface{} unmarshaling, so every
// integer field must be coerced explicitly rather than type-asserted.

func paramString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required field: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s must be a string", key)
	}
	return s, nil
}

func paramStringDefault(params map[string]interface{}, key, def string) string {
	v, ok := params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func paramInt(params map[string]interface{}, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing required field: %s", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("field %s must be an integer", key)
	}
}

func paramStringList(params map[string]interface{}, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s must be a list", key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("field %s must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func paramStringMap(params map[string]interface{}, key string) (map[string]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("missing required field: %s", key)
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s must be an object", key)
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("field %s.%s must be a string", key, k)
		}
		out[k] = s
	}
	return out, nil
}
