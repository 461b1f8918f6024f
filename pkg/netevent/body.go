package netevent

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// BodyKind tags the variant held by a Body.
type BodyKind string

// Body kinds.
const (
	BodyJSON   BodyKind = "json"
	BodyText   BodyKind = "text"
	BodyBinary BodyKind = "binary"
)

// Body is a captured payload: a decoded JSON value, raw text, or a binary
// marker that only records size and content type.
type Body struct {
	Kind BodyKind `json:"kind"`

	// JSON is the decoded value when Kind is BodyJSON.
	JSON any `json:"json,omitempty"`

	// Text is the raw payload when Kind is BodyText.
	Text string `json:"text,omitempty"`

	// Size is the payload size in bytes.
	Size int64 `json:"size"`

	ContentType string `json:"contentType,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// DecodeBody builds a Body from captured bytes. It returns nil for an empty
// payload. Binary content types and non-UTF-8 data become a binary marker,
// valid JSON is decoded, and anything else (including truncated or invalid
// JSON) is kept as text.
func DecodeBody(p Payload, contentType string) *Body {
	if len(p.Data) == 0 && p.Size <= 0 {
		return nil
	}
	size := p.Size
	if size < 0 {
		size = int64(len(p.Data))
	}

	if isBinaryType(contentType) || !utf8.Valid(p.Data) {
		return &Body{Kind: BodyBinary, Size: size, ContentType: contentType, Truncated: p.Truncated}
	}

	if !p.Truncated && looksLikeJSON(p.Data) {
		var v any
		dec := json.NewDecoder(bytes.NewReader(p.Data))
		if err := dec.Decode(&v); err == nil && !dec.More() {
			return &Body{Kind: BodyJSON, JSON: v, Size: size, ContentType: contentType}
		}
	}

	return &Body{Kind: BodyText, Text: string(p.Data), Size: size, ContentType: contentType, Truncated: p.Truncated}
}

// looksLikeJSON reports whether data starts like a JSON object or array.
func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// Map returns the decoded JSON object, if the body holds one.
func (b *Body) Map() (map[string]any, bool) {
	if b == nil || b.Kind != BodyJSON {
		return nil, false
	}
	m, ok := b.JSON.(map[string]any)
	return m, ok
}

// String renders the body for display and text search.
func (b *Body) String() string {
	if b == nil {
		return ""
	}
	switch b.Kind {
	case BodyJSON:
		data, err := json.Marshal(b.JSON)
		if err != nil {
			return ""
		}
		return string(data)
	case BodyText:
		return b.Text
	default:
		return "[binary " + b.ContentType + "]"
	}
}
