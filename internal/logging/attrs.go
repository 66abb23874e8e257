package logging

import "log/slog"

// attrsToMap flattens attrs into event fields; later keys replace earlier
// ones and credential-looking keys are redacted.
func attrsToMap(attrs []slog.Attr) map[string]any {
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if key, value, ok := resolveAttr(attr); ok {
			values[key] = value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func resolveAttr(attr slog.Attr) (string, any, bool) {
	if attr.Key == "" {
		return "", nil, false
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		if isSecretFieldKey(attr.Key) {
			return attr.Key, redactValue(value.Any()), true
		}
		return attr.Key, value.Any(), true
	}
	inner := map[string]any{}
	for _, groupAttr := range value.Group() {
		if key, val, ok := resolveAttr(groupAttr); ok {
			inner[key] = val
		}
	}
	return attr.Key, inner, true
}
