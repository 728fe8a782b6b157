package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// selectionKeys are the parameter names accepted for a list of selected
// categories, in lookup order.
var selectionKeys = []string{"values", "categories"}

// parseSelectionQuery reads the selected categories of a level from query
// parameters. It reports false when no selection parameter is present; an
// empty parameter is an explicit "select nothing".
func parseSelectionQuery(query url.Values) ([]string, bool) {
	for _, key := range selectionKeys {
		if raw, ok := query[key]; ok {
			return splitSelection(raw), true
		}
	}
	return nil, false
}

func splitSelection(rawValues []string) []string {
	// ?values=T&values=B
	if len(rawValues) > 1 {
		return trimNonEmpty(rawValues)
	}

	raw := strings.TrimSpace(rawValues[0])
	if raw == "" {
		return make([]string, 0)
	}

	// JSON array, e.g. ["T","B"]; allows commas in category names.
	if strings.HasPrefix(raw, "[") {
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err == nil {
			if values == nil {
				return make([]string, 0)
			}
			return values
		}
	}

	// Comma-separated list, e.g. T,B
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

const maxSelectionBodyBytes = 1 << 20 // 1 MiB

// parseSelectionBody reads the selected categories from a request body. The
// body may be a JSON array, a JSON object with a "values" or "categories" key,
// a form-encoded body or a bare comma-separated list.
func parseSelectionBody(r *http.Request) ([]string, bool, error) {
	if r.Body == nil {
		return nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSelectionBodyBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(body) > maxSelectionBodyBytes {
		return nil, false, errors.New("selection body too large")
	}

	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, false, nil
	}

	if raw[0] == '{' {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, false, errors.New("invalid JSON selection body")
		}
		for _, key := range selectionKeys {
			field, ok := payload[key]
			if !ok {
				continue
			}
			field = bytes.TrimSpace(field)
			if bytes.Equal(field, []byte("null")) {
				return make([]string, 0), true, nil
			}
			var values []string
			if err := json.Unmarshal(field, &values); err == nil {
				if values == nil {
					values = make([]string, 0)
				}
				return values, true, nil
			}
			var single string
			if err := json.Unmarshal(field, &single); err == nil {
				return splitSelection([]string{single}), true, nil
			}
			return nil, false, errors.New("selection values must be a list of strings")
		}
		return nil, false, nil
	}

	// values=T&values=B or values=["T","B"]
	if bytes.Contains(raw, []byte("=")) && raw[0] != '[' {
		if q, err := url.ParseQuery(string(raw)); err == nil {
			values, ok := parseSelectionQuery(q)
			return values, ok, nil
		}
	}

	return splitSelection([]string{string(raw)}), true, nil
}
