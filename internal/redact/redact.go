// Package redact masks credentials and contact details before vendor
// responses or request URLs reach logs and job ledgers.
package redact

import (
	"encoding/json"
	"regexp"
	"strings"
)

const mask = "[redacted]"

var (
	emailPattern  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\b(bearer|token|basic)\s+[a-z0-9._~+/=\-]{8,}`)
	paramPattern  = regexp.MustCompile(`(?i)([?&;]|\b)(token|api_key|apikey|key|secret|access_token|signature|sig)=([^&\s"']+)`)
	phonePattern  = regexp.MustCompile(`\+\d[\d()\-\s.]{7,}\d`)
)

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"password":      {},
	"access_token":  {},
	"callback_url":  {},
}

// String masks query-string credentials, bearer tokens, emails and
// international phone numbers.
func String(value string) string {
	masked := paramPattern.ReplaceAllString(value, "${1}${2}="+mask)
	masked = bearerPattern.ReplaceAllString(masked, "${1} "+mask)
	masked = emailPattern.ReplaceAllString(masked, "[email_redacted]")
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	return masked
}

// JSON masks values under credential-like keys and applies String to every
// other string value. Payloads that are not JSON are masked as plain text.
func JSON(payload json.RawMessage) json.RawMessage {
	if strings.TrimSpace(string(payload)) == "" {
		return append(json.RawMessage(nil), payload...)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return json.RawMessage(String(string(payload)))
	}
	encoded, err := json.Marshal(maskValue(decoded))
	if err != nil {
		return append(json.RawMessage(nil), payload...)
	}
	return encoded
}

// Text masks body as JSON when it parses and as plain text otherwise.
func Text(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return String(body)
	}
	return string(JSON(json.RawMessage(trimmed)))
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(typed))
		for key, child := range typed {
			if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
				cloned[key] = mask
				continue
			}
			cloned[key] = maskValue(child)
		}
		return cloned
	case []any:
		cloned := make([]any, 0, len(typed))
		for _, child := range typed {
			cloned = append(cloned, maskValue(child))
		}
		return cloned
	case string:
		return String(typed)
	default:
		return value
	}
}
