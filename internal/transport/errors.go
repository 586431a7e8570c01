package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/stemsi/exam-gateway/internal/examerr"
)

// messageKeys are the body keys the admissions API uses for error text,
// in order of preference.
var messageKeys = []string{"error", "detail", "message"}

// statusError maps a non-2xx upstream response onto an exam error kind.
func statusError(op string, status int, body []byte) error {
	msg := extractMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status))
	}

	var kind examerr.Kind
	switch status {
	case http.StatusNotFound:
		kind = examerr.KindNotFound
	case http.StatusConflict:
		kind = examerr.KindAlreadyCompleted
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = examerr.KindValidation
		if isAlreadyCompleted(msg) {
			kind = examerr.KindAlreadyCompleted
		}
	default:
		kind = examerr.KindNetwork
	}
	return examerr.New(kind, op, msg)
}

func isAlreadyCompleted(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already completed")
}

// extractMessage pulls a human-readable message out of an error body.
// It understands {"error": "..."}, {"detail": "..."}, {"message": "..."}
// and field error maps such as {"choice_uuid": ["This field is required."]}.
func extractMessage(body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	for _, key := range messageKeys {
		if msg := asText(obj[key]); msg != "" {
			return msg
		}
	}

	fields := make([]string, 0, len(obj))
	for k := range obj {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		if msg := asText(obj[k]); msg != "" {
			if k == "non_field_errors" {
				return msg
			}
			return k + ": " + msg
		}
	}
	return ""
}

// asText reads a string or the first string of a list.
func asText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
