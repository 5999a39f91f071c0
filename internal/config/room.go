package config

import (
	"path/filepath"
	"strings"
)

// GlobalRoom is the reserved cross-project room identifier.
const GlobalRoom = "global"

// ResolveRoom maps a working context to a stable room identifier.
// Precedence: global flag, explicit --dir value, current directory.
// A --dir value containing a path separator is treated as a directory
// and reduced to its base name; a bare value is the room name itself.
func ResolveRoom(dirFlag string, global bool, workdir string) string {
	if global {
		return GlobalRoom
	}
	if dirFlag != "" {
		if strings.ContainsRune(dirFlag, filepath.Separator) {
			return sanitizeRoom(filepath.Base(filepath.Clean(dirFlag)))
		}
		return sanitizeRoom(dirFlag)
	}
	if workdir != "" {
		if name := filepath.Base(filepath.Clean(workdir)); name != "" && name != "/" && name != "." {
			return sanitizeRoom(name)
		}
	}
	return GlobalRoom
}

// sanitizeRoom keeps room names filesystem- and key-safe.
func sanitizeRoom(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return GlobalRoom
	}
	return out
}
