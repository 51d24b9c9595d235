package bridge

import "strings"

func isDriveLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// IsNativeAbs reports whether p is an absolute native path, either
// drive-rooted (C:\x, C:/x) or UNC (\\server\share).
func IsNativeAbs(p string) bool {
	if len(p) >= 3 && isDriveLetter(p[0]) && p[1] == ':' && (p[2] == '\\' || p[2] == '/') {
		return true
	}
	return strings.HasPrefix(p, `\\`)
}

// ToPosix converts an absolute native path to the form the POSIX emulation
// layer understands: C:\a\b becomes /c/a/b. Other paths only get their
// separators flipped.
func ToPosix(p string) string {
	switch {
	case len(p) >= 3 && isDriveLetter(p[0]) && p[1] == ':' && (p[2] == '\\' || p[2] == '/'):
		rest := strings.ReplaceAll(p[2:], `\`, "/")
		return "/" + strings.ToLower(p[:1]) + rest
	case strings.HasPrefix(p, `\\`):
		return "//" + strings.ReplaceAll(p[2:], `\`, "/")
	}
	return strings.ReplaceAll(p, `\`, "/")
}

// ToNative is the inverse of ToPosix for drive and UNC paths. Paths outside
// a drive mount are returned unchanged.
func ToNative(p string) string {
	switch {
	case len(p) >= 2 && p[0] == '/' && isDriveLetter(p[1]) && (len(p) == 2 || p[2] == '/'):
		rest := p[2:]
		if rest == "" {
			rest = "/"
		}
		return strings.ToUpper(p[1:2]) + ":" + strings.ReplaceAll(rest, "/", `\`)
	case strings.HasPrefix(p, "//"):
		return `\\` + strings.ReplaceAll(p[2:], "/", `\`)
	}
	return p
}

// TranslateArgs rewrites native absolute paths in args for the POSIX
// toolchain. Both bare paths and option values (--prefix=C:\x) are
// translated.
func TranslateArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case IsNativeAbs(a):
			out[i] = ToPosix(a)
		default:
			if k, v, ok := strings.Cut(a, "="); ok && IsNativeAbs(v) {
				out[i] = k + "=" + ToPosix(v)
			} else {
				out[i] = a
			}
		}
	}
	return out
}
