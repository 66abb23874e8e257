package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// Redact masks a credential so only its length and last characters reach logs.
func Redact(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "<empty>"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return fmt.Sprintf("****%s (%d chars)", secret[len(secret)-4:], len(secret))
}

func redactValue(value any) any {
	switch v := value.(type) {
	case string:
		return Redact(v)
	case []byte:
		return Redact(string(v))
	case nil:
		return nil
	default:
		return "****"
	}
}

func isSecretFieldKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "token", "authorization", "password", "secret":
		return true
	}
	return strings.HasSuffix(key, "_token")
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "frame":
		return true
	default:
		return false
	}
}

// FormatEventLine renders an event as one plain line:
// "15:04:05 [LEVEL] message key=value ...".
func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(levelName(event.Level))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Fields) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatFieldValue(key, event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(key string, value any) string {
	if block, ok := payloadBlock(key, value); ok {
		return block
	}
	var text string
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case error:
		text = v.Error()
	case string:
		text = v
	case []byte:
		text = string(v)
	case fmt.Stringer:
		text = v.String()
	case map[string]any, []any:
		if encoded, err := json.Marshal(v); err == nil {
			return string(encoded)
		}
		text = fmt.Sprint(v)
	default:
		text = fmt.Sprint(v)
	}
	if text == "" || strings.ContainsAny(text, " \t\n\"=") {
		return strconv.Quote(text)
	}
	return text
}

// payloadBlock pretty-prints JSON under payload keys; anything else stays
// inline.
func payloadBlock(key string, value any) (string, bool) {
	if !isPayloadFieldKey(key) {
		return "", false
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		raw = encoded
	}
	return indentJSON(raw)
}

// indentJSON accepts only whole objects and arrays; "500: {...}" is not JSON.
func indentJSON(raw []byte) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return "", false
	}
	return buf.String(), true
}

// orderedFieldKeys sorts keys with "component" first and payload blocks last.
func orderedFieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	rank := func(key string) int {
		switch {
		case key == "component":
			return 0
		case isPayloadFieldKey(key):
			if _, ok := payloadBlock(key, fields[key]); ok {
				return 2
			}
		}
		return 1
	}
	slices.SortFunc(keys, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return keys
}

func levelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG"
	case level <= slog.LevelInfo:
		return "INFO"
	case level <= slog.LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}
