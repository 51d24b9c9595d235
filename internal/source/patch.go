package source

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// ApplyPatches applies the named patch files from patchDir to the tree at
// root, in order. The first patch that does not apply stops the run.
func ApplyPatches(root, patchDir string, patches []string) error {
	for _, name := range patches {
		if err := applyPatch(root, filepath.Join(patchDir, name)); err != nil {
			return &PatchError{Patch: name, Err: err}
		}
	}
	return nil
}

func applyPatch(root, patchFile string) error {
	f, err := os.Open(patchFile)
	if err != nil {
		return err
	}
	defer f.Close()

	files, _, err := gitdiff.Parse(f)
	if err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("patch contains no changes")
	}
	for _, file := range files {
		if err := applyFile(root, file); err != nil {
			return err
		}
	}
	return nil
}

// patchTarget resolves a patch path below root. Plain unified diffs keep
// their a/ and b/ prefixes, which are dropped when the name does not exist.
func patchTarget(root, name string) (string, error) {
	p, err := within(root, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	for _, prefix := range []string{"a/", "b/"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return within(root, rest)
		}
	}
	return p, nil
}

func applyFile(root string, file *gitdiff.File) error {
	if file.IsBinary {
		return fmt.Errorf("%s: binary patches are not supported", file.NewName)
	}

	var (
		src     []byte
		oldPath string
		err     error
	)
	mode := os.FileMode(0o644)
	if !file.IsNew {
		oldPath, err = patchTarget(root, file.OldName)
		if err != nil {
			return err
		}
		src, err = os.ReadFile(oldPath)
		if err != nil {
			return err
		}
		if fi, err := os.Stat(oldPath); err == nil {
			mode = fi.Mode().Perm()
		}
	}
	if file.IsDelete {
		return os.Remove(oldPath)
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(src), file); err != nil {
		return fmt.Errorf("%s: %w", file.NewName, err)
	}
	if file.NewMode != 0 {
		mode = file.NewMode.Perm()
	}

	newPath, err := patchTarget(root, file.NewName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(newPath, out.Bytes(), mode); err != nil {
		return err
	}
	// the old name goes only once the new file is in place
	if file.IsRename && !file.IsCopy && oldPath != newPath {
		return os.Remove(oldPath)
	}
	return nil
}
