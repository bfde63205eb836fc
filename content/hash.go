package content

import (
	"crypto/md5"
	"encoding/hex"
)

// Fingerprint returns the 128-bit MD5 digest of raw as lowercase hex.
func Fingerprint(raw []byte) string {
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
