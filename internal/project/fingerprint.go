package project

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"
)

// Fingerprint identifies everything that determines a project's build
// output: version, source, patch names and contents, options and the build
// variant (arch and configuration). A changed fingerprint invalidates
// recorded build progress.
func Fingerprint(p *Project, patchDir, variant string) (string, error) {
	h := blake3.New(32, nil)
	field := func(k, v string) {
		fmt.Fprintf(h, "%s=%d:%s\n", k, len(v), v)
	}
	field("name", p.Name)
	field("version", p.Version)
	field("variant", variant)
	if p.Source != nil {
		field("source", p.Source.Key())
	}
	for _, patch := range p.Patches {
		field("patch", patch)
		sum, err := fileSum(filepath.Join(patchDir, patch))
		switch {
		case os.IsNotExist(err):
			field("patch-content", "missing")
		case err != nil:
			return "", fmt.Errorf("fingerprinting %s: %w", p.Name, err)
		default:
			field("patch-content", sum)
		}
	}
	if p.Options != nil {
		opts, err := json.Marshal(p.Options)
		if err != nil {
			return "", fmt.Errorf("fingerprinting %s options: %w", p.Name, err)
		}
		field("options", string(opts))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileSum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
