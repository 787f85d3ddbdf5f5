package resource

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var failureStatuses = map[string]bool{
	"error":   true,
	"failed":  true,
	"failure": true,
	"fail":    true,
}

// DetectFailure inspects a payload returned alongside Success=true for an
// explicit failure marker. Resources frequently answer HTTP 200 with a
// semantic failure in the body.
//
// Recognised markers: success=false, ok=false, status in {error, failed,
// failure, fail}, or a non-empty error field; an empty error object counts
// as no error. Maps and raw JSON objects ([]byte, json.RawMessage, string)
// are inspected; other payloads never carry a marker.
func DetectFailure(payload interface{}) (string, bool) {
	switch p := payload.(type) {
	case map[string]interface{}:
		return detectInMap(p)
	case json.RawMessage:
		return detectInJSON(p)
	case []byte:
		return detectInJSON(p)
	case string:
		trimmed := strings.TrimSpace(p)
		if strings.HasPrefix(trimmed, "{") {
			return detectInJSON([]byte(trimmed))
		}
	}
	return "", false
}

func detectInMap(m map[string]interface{}) (string, bool) {
	message := mapMessage(m)

	for _, key := range []string{"success", "ok"} {
		if v, ok := m[key].(bool); ok && !v {
			return orDefault(message, key+"=false"), true
		}
	}

	if status, ok := m["status"].(string); ok && failureStatuses[strings.ToLower(status)] {
		return orDefault(message, "status="+status), true
	}

	switch e := m["error"].(type) {
	case nil:
	case string:
		if strings.TrimSpace(e) != "" {
			return e, true
		}
	case bool:
		if e {
			return orDefault(message, "error=true"), true
		}
	case map[string]interface{}:
		if len(e) == 0 {
			break
		}
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg, true
		}
		return fmt.Sprintf("%v", e), true
	default:
		return fmt.Sprintf("%v", e), true
	}

	return "", false
}

func detectInJSON(raw []byte) (string, bool) {
	if !gjson.ValidBytes(raw) {
		return "", false
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return "", false
	}

	message := jsonMessage(doc)

	for _, key := range []string{"success", "ok"} {
		if v := doc.Get(key); v.Exists() && v.Type == gjson.False {
			return orDefault(message, key+"=false"), true
		}
	}

	if status := doc.Get("status"); status.Type == gjson.String && failureStatuses[strings.ToLower(status.String())] {
		return orDefault(message, "status="+status.String()), true
	}

	errField := doc.Get("error")
	switch {
	case !errField.Exists(), errField.Type == gjson.Null, errField.Type == gjson.False:
	case errField.IsObject() && len(errField.Map()) == 0:
	case errField.Type == gjson.String:
		if strings.TrimSpace(errField.String()) != "" {
			return errField.String(), true
		}
	case errField.Type == gjson.True:
		return orDefault(message, "error=true"), true
	case errField.IsObject():
		if msg := errField.Get("message"); msg.Exists() && msg.String() != "" {
			return msg.String(), true
		}
		return errField.Raw, true
	default:
		return errField.Raw, true
	}

	return "", false
}

func mapMessage(m map[string]interface{}) string {
	for _, key := range []string{"error_message", "errorMessage", "message", "error"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func jsonMessage(doc gjson.Result) string {
	for _, key := range []string{"error_message", "errorMessage", "message", "error"} {
		if v := doc.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
