package logging

import (
	"encoding/json"
	"strings"
)

const payloadClipLimit = 2048

// FormatHTTPPayload renders a response body for logs: JSON is indented, a
// JSON-encoded string is unquoted first, and long bodies are clipped.
func FormatHTTPPayload(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "<empty>"
	}

	var quoted string
	if json.Unmarshal([]byte(text), &quoted) == nil {
		text = strings.TrimSpace(quoted)
	}
	if indented, ok := indentJSON([]byte(text)); ok {
		text = indented
	}

	if len(text) > payloadClipLimit {
		return text[:payloadClipLimit] + "..."
	}
	return text
}
