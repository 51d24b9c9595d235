package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/singleflight"

	"stackbuild/internal/bridge"
	"stackbuild/internal/console"
)

// Acquirer produces source trees. Archives go through a URL-keyed download
// cache shared by all projects and all stackbuild processes.
type Acquirer struct {
	CacheDir string
	Runner   bridge.Runner // runs git for repositories
	Client   *http.Client
	Mirror   MirrorStore // optional
	Progress io.Writer   // progress bars go here when set

	group singleflight.Group
}

// NewHTTPClient returns the client used for archive downloads.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Minute,
	}
}

// CachePath is where arc lives in the download cache.
func (a *Acquirer) CachePath(arc Archive) string {
	return filepath.Join(a.CacheDir, cacheKey(arc.URL)+"-"+arc.filename())
}

// Acquire makes dest hold the sources described by d and returns the source
// root. It is safe to call repeatedly; archive trees are replaced, never
// merged, and checkouts are reset to the pinned ref.
func (a *Acquirer) Acquire(ctx context.Context, project string, d Descriptor, dest string) (string, error) {
	switch d := d.(type) {
	case Archive:
		return a.acquireArchive(ctx, project, d, dest)
	case *Archive:
		return a.acquireArchive(ctx, project, *d, dest)
	case Repository:
		return a.acquireRepository(ctx, project, d, dest)
	case *Repository:
		return a.acquireRepository(ctx, project, *d, dest)
	}
	return "", acqErr(project, ErrDownload, fmt.Errorf("unsupported source kind %T", d))
}

func (a *Acquirer) acquireArchive(ctx context.Context, project string, arc Archive, dest string) (string, error) {
	cached, err := a.Fetch(ctx, project, arc)
	if err != nil {
		return "", err
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", acqErr(project, ErrExtract, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".extract-")
	if err != nil {
		return "", acqErr(project, ErrExtract, err)
	}
	defer os.RemoveAll(tmp)

	log := console.FromContext(ctx)
	log.Debug("extracting", "project", project, "archive", cached, "dest", dest)
	if err := extract(cached, arc.filename(), tmp, log); err != nil {
		return "", acqErr(project, ErrExtract, err)
	}
	root, err := sourceRoot(tmp, arc.ExtractRoot)
	if err != nil {
		return "", acqErr(project, ErrExtract, err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return "", acqErr(project, ErrExtract, fmt.Errorf("removing previous tree: %w", err))
	}
	if err := os.Rename(root, dest); err != nil {
		return "", acqErr(project, ErrExtract, err)
	}
	return dest, nil
}

// Fetch makes sure arc is in the cache and verified, downloading it only
// when needed, and returns the cache path. Concurrent fetches of one URL
// share a single download.
func (a *Acquirer) Fetch(ctx context.Context, project string, arc Archive) (string, error) {
	path := a.CachePath(arc)
	if _, ok, err := verifyFile(path, arc.Hash); err == nil && ok {
		return path, nil
	}
	var err error
	for range 3 {
		_, err, _ = a.group.Do(path, func() (any, error) {
			return nil, a.fetchLocked(ctx, arc, path)
		})
		// a shared download whose caller gave up; try again on our own ctx
		if err == nil || ctx.Err() != nil || !errors.Is(err, context.Canceled) {
			break
		}
	}
	if err != nil {
		kind := ErrDownload
		if errors.Is(err, ErrChecksumMismatch) {
			kind = ErrChecksumMismatch
		}
		return "", acqErr(project, kind, err)
	}
	return path, nil
}

func (a *Acquirer) fetchLocked(ctx context.Context, arc Archive, path string) error {
	log := console.FromContext(ctx)
	if err := os.MkdirAll(a.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", a.CacheDir, err)
	}
	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	// another process may have finished the download while we waited
	actual, ok, err := verifyFile(path, arc.Hash)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if actual != "" {
		log.Warn("cached archive does not verify, downloading again", "path", path, "actual", actual)
		_ = os.Remove(path)
	}

	part := path + ".part"
	defer os.Remove(part)

	if a.Mirror != nil {
		err := a.download(ctx, part, func(w io.Writer) error {
			return a.Mirror.Download(ctx, filepath.Base(path), w)
		})
		if err == nil {
			if _, ok, _ := verifyFile(part, arc.Hash); ok {
				log.Debug("fetched from mirror", "url", arc.URL)
				return os.Rename(part, path)
			}
			log.Warn("mirror copy does not verify", "url", arc.URL)
		} else if IsNotFound(err) {
			log.Debug("mirror miss", "url", arc.URL)
		} else {
			log.Warn("mirror unavailable, using upstream", "url", arc.URL, "err", err)
		}
	}

	log.Info("downloading", "url", arc.URL)
	if err := a.download(ctx, part, func(w io.Writer) error { return a.httpGet(ctx, arc, w) }); err != nil {
		return err
	}
	actual, ok, err = verifyFile(part, arc.Hash)
	if err != nil {
		return err
	}
	if !ok {
		return &ChecksumError{URL: arc.URL, Expected: arc.Hash, Actual: actual}
	}
	return os.Rename(part, path)
}

func (a *Acquirer) download(ctx context.Context, part string, get func(io.Writer) error) error {
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", part, err)
	}
	err = get(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *Acquirer) httpGet(ctx context.Context, arc Archive, w io.Writer) error {
	client := a.Client
	if client == nil {
		client = NewHTTPClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arc.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", arc.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", arc.URL, resp.Status)
	}

	var body io.Reader = resp.Body
	if a.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(a.Progress),
			progressbar.OptionSetDescription(arc.filename()),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		body = io.TeeReader(resp.Body, bar)
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to write %s: %w", arc.URL, err)
	}
	return nil
}
