package source

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"stackbuild/internal/bridge"
)

type format int

const (
	formatTar format = iota
	formatTarGz
	formatTarBz2
	formatTarXz
	formatTarZst
	formatZip
)

func archiveFormat(name string) (format, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return formatTarBz2, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return formatTarXz, nil
	case strings.HasSuffix(name, ".tar.zst"):
		return formatTarZst, nil
	case strings.HasSuffix(name, ".tar"):
		return formatTar, nil
	case strings.HasSuffix(name, ".zip"):
		return formatZip, nil
	}
	return 0, fmt.Errorf("unsupported archive format: %s", name)
}

// extract unpacks the archive at src into dest as-is, without stripping.
func extract(src, name, dest string, log *slog.Logger) error {
	ft, err := archiveFormat(name)
	if err != nil {
		return err
	}
	if ft == formatZip {
		return unzip(src, dest)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch ft {
	case formatTarGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", src, err)
		}
		defer gz.Close()
		r = gz
	case formatTarBz2:
		r = bzip2.NewReader(f)
	case formatTarXz:
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", src, err)
		}
		r = xzr
	case formatTarZst:
		zst, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", src, err)
		}
		defer zst.Close()
		r = zst
	}
	return untar(r, src, dest, log)
}

// within resolves name below dest and rejects paths escaping it.
func within(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return target, nil
}

// resolvedWithin rejects dir when its deepest existing ancestor resolves,
// through symlinks, outside root. root must already be resolved.
func resolvedWithin(root, dir string) error {
	p := dir
	for {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", p, err)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("illegal path in archive: %s leads outside the tree", dir)
	}
	return nil
}

func untar(r io.Reader, src, dest string, log *slog.Logger) error {
	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dest, err)
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", src, err)
		}

		// PAX headers carry metadata only
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		target, err := within(dest, hdr.Name)
		if err != nil {
			return err
		}
		if err := resolvedWithin(root, filepath.Dir(target)); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", target, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				if err := os.Remove(target); err != nil {
					return fmt.Errorf("failed to replace symlink %s: %w", target, err)
				}
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777|0o600)
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
			out.Close()
			if err := os.Chtimes(target, hdr.AccessTime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for file %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || bridge.IsNativeAbs(hdr.Linkname) {
				return fmt.Errorf("illegal symlink in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if _, err := within(dest, path.Join(path.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return fmt.Errorf("illegal symlink in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				// Windows hosts without symlink privilege
				log.Debug("skipping symlink", "path", hdr.Name, "err", err)
			}
		case tar.TypeLink:
			old, err := within(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := resolvedWithin(root, old); err != nil {
				return err
			}
			if err := os.Link(old, target); err != nil {
				return fmt.Errorf("failed to link %s -> %s: %w", target, old, err)
			}
		default:
			log.Debug("skipping unsupported tar entry", "type", string(hdr.Typeflag), "path", hdr.Name)
		}
	}
}

func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := within(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()|0o600)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// sourceRoot picks the directory of an extracted tree that becomes the
// project source directory.
func sourceRoot(tmp, extractRoot string) (string, error) {
	if extractRoot != "" {
		p := filepath.Join(tmp, filepath.FromSlash(extractRoot))
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() {
			return "", fmt.Errorf("extraction root %q not found in archive", extractRoot)
		}
		return p, nil
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(tmp, entries[0].Name()), nil
	}
	return tmp, nil
}
