package proxy

import (
	"net/http"

	"github.com/tidwall/gjson"
)

// IsStreamingRequest checks if a request body contains "stream": true.
// Returns false if the body is invalid JSON or the field is missing/false.
func IsStreamingRequest(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

// RequestedModel extracts the model field from a request body. Empty when
// missing or not a string.
func RequestedModel(body []byte) string {
	model := gjson.GetBytes(body, "model")
	if model.Type != gjson.String {
		return ""
	}
	return model.String()
}

// SetSSEHeaders sets required headers for SSE streaming.
// These headers MUST be set for proper streaming through nginx/CDN:
//   - Content-Type: text/event-stream - SSE format
//   - Cache-Control: no-cache, no-transform - prevent caching
//   - X-Accel-Buffering: no - disable nginx/Cloudflare buffering
//   - Connection: keep-alive - maintain streaming connection
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Connection", "keep-alive")
}
