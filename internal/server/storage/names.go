package storage

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"
)

// randomPrefix is a seam for tests.
var randomPrefix = func() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// SafeObjectName turns a client-supplied filename into an object key:
// "<8 hex>_<stem><.ext>" where stem and ext are lower-case and consist of
// [a-z0-9._-] only. Other characters become "_" and runs of "_" collapse.
func SafeObjectName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext := strings.ToLower(path.Ext(base))
	stem := strings.TrimSuffix(base, path.Ext(base))

	stem = sanitize(stem)
	ext = sanitize(strings.TrimPrefix(ext, "."))
	if stem == "" {
		stem = "file"
	}
	name := randomPrefix() + "_" + stem
	if ext != "" {
		name += "." + ext
	}
	return name
}

func sanitize(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-'
		if ok {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_.")
}
