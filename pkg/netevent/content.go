package netevent

import (
	"mime"
	"strings"
)

// ContentCategory is a coarse classification of a content-type header.
type ContentCategory string

// Content categories.
const (
	ContentJSON  ContentCategory = "JSON"
	ContentXML   ContentCategory = "XML"
	ContentHTML  ContentCategory = "HTML"
	ContentText  ContentCategory = "TEXT"
	ContentImage ContentCategory = "IMAGE"
	ContentVideo ContentCategory = "VIDEO"
	ContentAudio ContentCategory = "AUDIO"
	ContentForm  ContentCategory = "FORM"
	ContentOther ContentCategory = "OTHER"
)

// AllContentCategories lists every category in display order.
var AllContentCategories = []ContentCategory{
	ContentJSON, ContentXML, ContentHTML, ContentText, ContentImage,
	ContentVideo, ContentAudio, ContentForm, ContentOther,
}

// ParseContentCategory parses a category name case-insensitively.
// Unknown names map to ContentOther.
func ParseContentCategory(s string) ContentCategory {
	c := ContentCategory(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllContentCategories {
		if c == known {
			return c
		}
	}
	return ContentOther
}

// mediaType returns the lowercased media type without parameters.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Fall back to the part before any parameters.
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// Classify derives a ContentCategory from a content-type header value.
// A missing or unrecognized value is ContentOther.
func Classify(contentType string) ContentCategory {
	mt := mediaType(contentType)
	switch {
	case mt == "":
		return ContentOther
	case mt == "application/json" || strings.HasSuffix(mt, "+json") || mt == "application/graphql-response+json":
		return ContentJSON
	case mt == "text/html" || mt == "application/xhtml+xml":
		return ContentHTML
	case mt == "application/xml" || mt == "text/xml" || strings.HasSuffix(mt, "+xml"):
		return ContentXML
	case mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data":
		return ContentForm
	case strings.HasPrefix(mt, "image/"):
		return ContentImage
	case strings.HasPrefix(mt, "video/"):
		return ContentVideo
	case strings.HasPrefix(mt, "audio/"):
		return ContentAudio
	case strings.HasPrefix(mt, "text/"):
		return ContentText
	default:
		return ContentOther
	}
}

// isBinaryType reports whether a media type never carries text.
func isBinaryType(contentType string) bool {
	mt := mediaType(contentType)
	switch {
	case strings.HasPrefix(mt, "image/"), strings.HasPrefix(mt, "video/"), strings.HasPrefix(mt, "audio/"):
		return mt != "image/svg+xml"
	case mt == "application/octet-stream", mt == "application/pdf", mt == "application/zip",
		mt == "application/gzip", mt == "application/grpc", mt == "application/x-protobuf",
		mt == "application/protobuf", mt == "font/woff", mt == "font/woff2":
		return true
	default:
		return false
	}
}
