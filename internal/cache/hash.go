package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// SourceHash hashes the upstream inputs that determine whether a panel's
// content needs to be recomputed (mtime+size, branch+porcelain output,
// command arguments, ...). Callers build the input string; this package
// only provides the stable digest, mirroring the sha256-based key
// derivation in internal/domain/service/tool_cache.go.
func SourceHash(inputs ...string) string {
	return hashStrings(inputs)
}

// ContentHash hashes the rendered cached string itself.
func ContentHash(content string) string {
	return hashStrings([]string{content})
}

func hashStrings(parts []string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
