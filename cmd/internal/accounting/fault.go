package accounting

import (
	"encoding/json"
	"net/http"
	"strings"
)

type faultEnvelope struct {
	Fault *struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
	} `json:"Fault"`
}

// decodeFault turns an error response into an *UpstreamError, classifying
// not-found and stale-version faults.
func decodeFault(status int, body []byte) *UpstreamError {
	e := &UpstreamError{StatusCode: status}

	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Fault != nil {
		e.Type = env.Fault.Type
		if len(env.Fault.Error) > 0 {
			first := env.Fault.Error[0]
			e.Code, e.Message, e.Detail = first.Code, first.Message, first.Detail
		}
	} else {
		e.Message = strings.TrimSpace(truncate(string(body), 512))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}

	text := strings.ToLower(e.Message + " " + e.Detail)
	switch {
	case e.Code == faultCodeNotFound || status == http.StatusNotFound ||
		strings.Contains(text, "object not found") || strings.Contains(text, "does not exist"):
		e.kind = ErrNotFound
	case e.Code == faultCodeStale || strings.Contains(text, "stale object") || strings.Contains(text, "synctoken"):
		e.kind = ErrStaleVersion
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
