package prompt

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DefaultMaxReferenceBytes is the largest accepted reference image.
const DefaultMaxReferenceBytes = 10 << 20

var referenceTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// DecodeReferenceImage decodes a base64 reference image, optionally wrapped in
// a data URL, and sniffs its type. Only JPEG, PNG and WebP are accepted.
func DecodeReferenceImage(encoded string, maxBytes int) ([]byte, string, error) {
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		_, after, ok := strings.Cut(payload, ";base64,")
		if !ok {
			return nil, "", invalid("referenceImage", "malformed data URL")
		}
		payload = after
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", invalid("referenceImage", "not valid base64")
		}
	}
	if len(data) == 0 {
		return nil, "", invalid("referenceImage", "empty image")
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, "", invalid("referenceImage", "image exceeds %d bytes", maxBytes)
	}

	mimeType := http.DetectContentType(data)
	if !referenceTypes[mimeType] {
		return nil, "", invalid("referenceImage", "unsupported image type %s", mimeType)
	}
	return data, mimeType, nil
}
