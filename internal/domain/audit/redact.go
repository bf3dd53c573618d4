package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultMask         = "[MASKED]"
	BinaryMarker        = "[BINARY CONTENT]"
	MultipartMarker     = "[MULTIPART CONTENT]"
	TruncatedSuffix     = "…[truncated]"
	DefaultMaxBodyBytes = 4096
)

var sensitiveFragments = []string{"password", "token", "secret", "key", "authorization"}

// droppedHeaders never appear in a record, not even masked.
var droppedHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
	"Set-Cookie":    {},
}

// IsSensitive reports whether a field or header name must be masked.
func IsSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, f := range sensitiveFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

type Redactor struct {
	mask    string
	maxBody int
}

func NewRedactor(mask string, maxBodyBytes int) *Redactor {
	if mask == "" {
		mask = DefaultMask
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Redactor{mask: mask, maxBody: maxBodyBytes}
}

// Redact returns a copy of v with the value of every sensitive key replaced
// by the mask, at any depth. v is not modified.
func (r *Redactor) Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitive(k) {
				out[k] = r.mask
				continue
			}
			out[k] = r.Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.Redact(val)
		}
		return out
	default:
		return v
	}
}

// Body renders a captured body for a record. JSON and form bodies are
// redacted, whatever the declared type when the body looks like JSON. Any
// other body is replaced by a marker naming its type. A body declared as
// JSON that does not parse is kept verbatim.
func (r *Redactor) Body(contentType string, body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return MultipartMarker
	case isBinary(mediaType):
		return BinaryMarker
	case isJSON(mediaType):
		return r.jsonBody(body, r.truncate(string(body)))
	case looksLikeJSON(body):
		return r.jsonBody(body, ContentMarker(mediaType))
	case mediaType == "application/x-www-form-urlencoded":
		return r.formBody(body)
	default:
		return ContentMarker(mediaType)
	}
}

// jsonBody returns unparsed when body is not a single JSON document.
func (r *Redactor) jsonBody(body []byte, unparsed any) any {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return unparsed
	}
	redacted := r.Redact(doc)

	encoded, err := json.Marshal(redacted)
	if err != nil {
		return r.truncate(string(body))
	}
	if len(encoded) > r.maxBody {
		return r.truncate(string(encoded))
	}
	return redacted
}

func (r *Redactor) formBody(body []byte) any {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return r.truncate(string(body))
	}
	out := make(map[string]any, len(values))
	for k, vs := range values {
		if IsSensitive(k) {
			out[k] = r.mask
			continue
		}
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		items := make([]any, len(vs))
		for i, v := range vs {
			items[i] = v
		}
		out[k] = items
	}
	return out
}

// Headers copies h without Authorization or cookies and with sensitive
// header values masked.
func (r *Redactor) Headers(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, drop := droppedHeaders[canonical]; drop {
			continue
		}
		if IsSensitive(canonical) {
			out[canonical] = r.mask
			continue
		}
		out[canonical] = strings.Join(values, ", ")
	}
	return out
}

// ContentMarker stands in for a body that is neither JSON nor a form.
func ContentMarker(mediaType string) string {
	if mediaType == "" {
		mediaType = "unspecified"
	}
	return fmt.Sprintf("[TEXT CONTENT: %s]", mediaType)
}

// OversizeMarker stands in for a body that exceeded the capture limit.
func OversizeMarker(size int64) string {
	return fmt.Sprintf("[BODY TOO LARGE: %d bytes]", size)
}

func (r *Redactor) truncate(s string) string {
	if len(s) <= r.maxBody {
		return s
	}
	cut := r.maxBody
	// Do not split a UTF-8 sequence.
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncatedSuffix
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func isBinary(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "font/"):
		return true
	}
	switch mediaType {
	case "application/octet-stream", "application/pdf", "application/zip",
		"application/gzip", "application/x-tar", "application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/msword":
		return true
	}
	return false
}
