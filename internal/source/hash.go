package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

func parseHash(digest string) (algo, sum string, err error) {
	algo, sum, ok := strings.Cut(digest, ":")
	if !ok {
		algo, sum = "sha256", digest
	}
	sum = strings.ToLower(sum)
	switch algo {
	case "sha256", "blake3":
	default:
		return "", "", fmt.Errorf("unsupported hash algorithm %q", algo)
	}
	if len(sum) != 64 {
		return "", "", fmt.Errorf("%s hash must be 64 hex digits, got %d", algo, len(sum))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", "", fmt.Errorf("malformed %s hash: %w", algo, err)
	}
	return algo, sum, nil
}

func newHasher(algo string) hash.Hash {
	if algo == "blake3" {
		return blake3.New(32, nil)
	}
	return sha256.New()
}

// fileSum hashes path with algo.
func fileSum(path, algo string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := newHasher(algo)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyFile reports whether path matches digest. A missing file is not an
// error, it just does not verify.
func verifyFile(path, digest string) (actual string, ok bool, err error) {
	algo, want, err := parseHash(digest)
	if err != nil {
		return "", false, err
	}
	actual, err = fileSum(path, algo)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return actual, actual == want, nil
}

// cacheKey derives the short URL-keyed prefix of cache file names.
func cacheKey(url string) string {
	sum := blake3.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
