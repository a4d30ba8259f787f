package relay

import (
	"encoding/base64"
	"fmt"
)

// XOR applies a repeating-key byte-wise XOR. It is its own inverse. An
// empty key returns an unmodified copy.
func XOR(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// Obfuscate XORs plain with key and returns the base64 storage form
func Obfuscate(plain, key string) string {
	return base64.StdEncoding.EncodeToString(XOR([]byte(plain), []byte(key)))
}

// Reveal reverses Obfuscate
func Reveal(stored, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: stored value is not base64: %v", ErrMalformed, err)
	}
	return string(XOR(raw, []byte(key))), nil
}
