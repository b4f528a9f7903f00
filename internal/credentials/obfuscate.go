package credentials

import (
	"encoding/base64"
	"fmt"
)

// EncryptKey obfuscates plain with a repeating XOR of userID and encodes the
// result as base64. This is reversible obfuscation, not encryption: anyone
// who knows the user id can recover the key. The output format must stay
// stable for values already written by clients.
func EncryptKey(plain, userID string) string {
	return base64.StdEncoding.EncodeToString(xorBytes([]byte(plain), []byte(userID)))
}

// DecryptKey reverses EncryptKey
func DecryptKey(encoded, userID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode stored key: %w", err)
	}
	return string(xorBytes(raw, []byte(userID))), nil
}

func xorBytes(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// MaskKey renders a key for display, keeping its first and last four characters
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "••••••••"
	}
	return key[:4] + "••••••••" + key[len(key)-4:]
}
