package connector

import "time"

// getString извлекает строку из payload.
func getString(payload map[string]any, key, defaultVal string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

// getInt извлекает число из payload (JSON даёт float64).
func getInt(payload map[string]any, key string) int {
	switch n := payload[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// getBool извлекает bool из payload.
func getBool(payload map[string]any, key string, defaultVal bool) bool {
	if b, ok := payload[key].(bool); ok {
		return b
	}
	return defaultVal
}

// getStringMap извлекает map[string]string из payload.
func getStringMap(payload map[string]any, key string) map[string]string {
	switch m := payload[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				result[k] = s
			}
		}
		return result
	}
	return nil
}

// getDuration читает {key}_sec или {key}_ms.
func getDuration(payload map[string]any, key string) time.Duration {
	if v, ok := payload[key+"_sec"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	if sec := getInt(payload, key+"_sec"); sec > 0 {
		return time.Duration(sec) * time.Second
	}
	if ms := getInt(payload, key+"_ms"); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 0
}
