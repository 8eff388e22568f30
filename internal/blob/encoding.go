// Package blob converts data URI payloads to bytes and hands out revocable
// resource handles for them.
package blob

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// DefaultMimeType is used when a data URI prefix names no media type.
const DefaultMimeType = "application/octet-stream"

// ErrMalformedPayload is returned when an encoded payload cannot be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// DecodeToBytes strips the "<metadata>," prefix of a data URI and decodes the
// base64 payload that follows.
func DecodeToBytes(encoded string) ([]byte, error) {
	_, data, err := ParseDataURI(encoded)
	return data, err
}

// ParseDataURI splits a "data:<mime>;base64,<payload>" string into its media type
// and decoded bytes. Only the separator is mandatory; a prefix without a media
// type reports DefaultMimeType.
func ParseDataURI(encoded string) (string, []byte, error) {
	prefix, payload, ok := strings.Cut(encoded, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing ',' separator", ErrMalformedPayload)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return mimeFromPrefix(prefix), data, nil
}

// EncodeDataURI renders data as "data:<mime>;base64,<payload>".
func EncodeDataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// MimeOf returns the media type named by the prefix of a data URI without
// decoding the payload. It returns DefaultMimeType when no type is named.
func MimeOf(encoded string) string {
	prefix, _, _ := strings.Cut(encoded, ",")
	return mimeFromPrefix(prefix)
}

func mimeFromPrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "data:")
	mt, _, _ := strings.Cut(prefix, ";")
	if mt = strings.TrimSpace(mt); mt == "" {
		return DefaultMimeType
	}
	return mt
}
