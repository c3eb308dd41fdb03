package bundle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// VerifySignature computes HMAC-SHA256 of bundleBytes keyed by the
// build-embedded base64 key, base64-encodes the result, and compares it
// against the manifest's expected signature field. Any single-bit flip in
// bundleBytes changes the digest.
func VerifySignature(bundleBytes []byte, base64Key, expectedSignature string) error {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return fmt.Errorf("bundle: invalid signature key: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(bundleBytes)
	digest := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(digest), []byte(expectedSignature)) {
		return fmt.Errorf("bundle: signature mismatch")
	}
	return nil
}
