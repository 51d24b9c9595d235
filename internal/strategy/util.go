package strategy

import (
	"path"
	"path/filepath"
	"slices"

	"stackbuild/internal/bridge"
)

func isAbs(p string) bool { return filepath.IsAbs(p) || bridge.IsNativeAbs(p) }

func joinPath(base, rel string) string { return filepath.Join(base, filepath.FromSlash(rel)) }

func joinSlash(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(filepath.ToSlash(dir), name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
