package strategy

import (
	"fmt"

	"elysium-trading-go/internal/models"
)

// Parameter maps arrive from JSON config or front-end payloads, so numbers
// may be float64, int or json-decoded strings of either. These helpers
// normalize the common cases.

func floatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, &models.ValidationError{Reason: fmt.Sprintf("parameter %s must be a number, got %T", key, v)}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, &models.ValidationError{Reason: fmt.Sprintf("parameter %s must be an integer, got %T", key, v)}
}

func stringParam(params map[string]any, key string, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &models.ValidationError{Reason: fmt.Sprintf("parameter %s must be a string, got %T", key, v)}
	}
	return s, nil
}

func boolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &models.ValidationError{Reason: fmt.Sprintf("parameter %s must be a boolean, got %T", key, v)}
	}
	return b, nil
}
