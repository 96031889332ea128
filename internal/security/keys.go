// Package security implements signature verification for telemetry packets
// and the loading of the device public-key directory.
package security

import (
	"os"
	"path/filepath"
	"strings"
)

// PublicKeyMap maps a pubKeyId (the filename stem) to PEM-encoded key text.
type PublicKeyMap map[string]string

// LoadPublicKeys reads every regular *.pem / *.pub file in dir and returns
// the key map. Unreadable files, empty files, files without a stem, and
// other extensions are skipped. Directory entries are visited in sorted
// filename order, so duplicate stems resolve deterministically (last wins).
// A missing or unreadable directory yields an empty map; keys are loaded
// once at startup and immutable thereafter.
func LoadPublicKeys(dir string) PublicKeyMap {
	keys := make(PublicKeyMap)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return keys
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".pem" && ext != ".pub" {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		if stem == "" {
			continue
		}
		pemText, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || len(pemText) == 0 {
			continue
		}
		keys[stem] = string(pemText)
	}
	return keys
}
