package models

import (
	"errors"
	"strings"
)

// ErrInvalidDataURI is returned for file payloads without data:<type>;base64, framing
var ErrInvalidDataURI = errors.New("invalid data URI: expected data:<type>;base64,<body>")

const base64Marker = ";base64,"

// BuildDataURI wraps a base64 body with its MIME type
func BuildDataURI(mimeType, body string) string {
	return "data:" + mimeType + base64Marker + body
}

// ParseDataURI splits a data URI into MIME type and base64 body
func ParseDataURI(uri string) (mimeType, body string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", ErrInvalidDataURI
	}
	mimeType, body, ok = strings.Cut(rest, base64Marker)
	if !ok {
		return "", "", ErrInvalidDataURI
	}
	return mimeType, body, nil
}

// DecodedSize estimates the byte size of a base64 body as len*3/4
func DecodedSize(body string) int64 {
	return int64(len(body)) * 3 / 4
}
