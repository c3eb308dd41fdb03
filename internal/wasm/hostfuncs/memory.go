package hostfuncs

import (
	"encoding/base64"
)

// decodeBase64 decodes a base64-encoded payload carried over the wire
// format; an empty string decodes to an empty (not nil) byte slice.
func decodeBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}
