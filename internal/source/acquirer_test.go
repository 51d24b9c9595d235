package source

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"git.fractalqb.de/fractalqb/testerr"
)

func TestAcquire_archive(t *testing.T) {
	data := tarGz(t,
		entry{"foo-1.0/", ""},
		entry{"foo-1.0/configure", "#!/bin/sh"},
		entry{"foo-1.0/src/main.c", "int main() {}"},
	)
	srv, hits := serve(t, map[string][]byte{"/foo-1.0.tar.gz": data})
	arc := Archive{URL: srv.URL + "/foo-1.0.tar.gz", Hash: sha(data)}
	testerr.Shall(arc.Validate()).BeNil(t)

	work := t.TempDir()
	acq := &Acquirer{CacheDir: filepath.Join(work, "cache"), Client: srv.Client()}
	dest := filepath.Join(work, "build", "foo")

	root := testerr.Shall1(acq.Acquire(context.Background(), "foo", arc, dest)).BeNil(t)
	if root != dest {
		t.Errorf("root = %q, want %q", root, dest)
	}
	body := testerr.Shall1(os.ReadFile(filepath.Join(dest, "src", "main.c"))).BeNil(t)
	if string(body) != "int main() {}" {
		t.Errorf("main.c = %q", body)
	}

	// second run: no network, stale files disappear
	testerr.Shall(os.WriteFile(filepath.Join(dest, "stale.o"), nil, 0o644)).BeNil(t)
	testerr.Shall1(acq.Acquire(context.Background(), "foo", arc, dest)).BeNil(t)
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dest, "stale.o")); !os.IsNotExist(err) {
		t.Error("re-extraction merged into the old tree")
	}
	if _, err := os.Stat(filepath.Join(dest, "configure")); err != nil {
		t.Error(err)
	}
}

func TestAcquire_checksumMismatch(t *testing.T) {
	data := tarGz(t, entry{"foo/file", "x"})
	srv, _ := serve(t, map[string][]byte{"/foo.tar.gz": data})
	arc := Archive{URL: srv.URL + "/foo.tar.gz", Hash: strings.Repeat("0", 64)}

	work := t.TempDir()
	acq := &Acquirer{CacheDir: filepath.Join(work, "cache"), Client: srv.Client()}
	dest := filepath.Join(work, "build", "foo")

	_, err := acq.Acquire(context.Background(), "foo", arc, dest)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
	var ae *AcquisitionError
	if !errors.As(err, &ae) || ae.Project != "foo" {
		t.Errorf("expected AcquisitionError for foo, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination must not exist after a checksum mismatch")
	}
	if _, err := os.Stat(acq.CachePath(arc)); !os.IsNotExist(err) {
		t.Error("unverified download left in the cache")
	}
}

func TestAcquire_httpError(t *testing.T) {
	srv, _ := serve(t, nil)
	arc := Archive{URL: srv.URL + "/missing.tar.gz", Hash: strings.Repeat("a", 64)}
	acq := &Acquirer{CacheDir: t.TempDir(), Client: srv.Client()}
	_, err := acq.Acquire(context.Background(), "x", arc, filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrDownload) {
		t.Errorf("expected download error, got %v", err)
	}
}

func TestFetch_singleFlight(t *testing.T) {
	data := tarGz(t, entry{"foo/file", strings.Repeat("x", 1<<16)})
	srv, hits := serve(t, map[string][]byte{"/foo.tar.gz": data})
	arc := Archive{URL: srv.URL + "/foo.tar.gz", Hash: "sha256:" + sha(data)}
	acq := &Acquirer{CacheDir: t.TempDir(), Client: srv.Client()}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := acq.Fetch(context.Background(), "foo", arc)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestFetch_cancelledWaiterDoesNotFailOthers(t *testing.T) {
	data := tarGz(t, entry{"foo/file", "x"})
	started := make(chan struct{})
	var first sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stall := false
		first.Do(func() { stall = true })
		if stall {
			close(started)
			<-r.Context().Done()
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	arc := Archive{URL: srv.URL + "/foo.tar.gz", Hash: sha(data)}
	acq := &Acquirer{CacheDir: t.TempDir(), Client: srv.Client()}

	ctx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := acq.Fetch(ctx, "foo", arc)
		leader <- err
	}()
	<-started
	other := make(chan error, 1)
	go func() {
		_, err := acq.Fetch(context.Background(), "foo", arc)
		other <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-leader; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: %v", err)
	}
	testerr.Shall(<-other).BeNil(t)
}

func TestAcquire_extractRoot(t *testing.T) {
	data := tarGz(t,
		entry{"bundle/README", "top"},
		entry{"bundle/pkg/src/lib.c", "lib"},
	)
	srv, _ := serve(t, map[string][]byte{"/bundle.tar.gz": data})
	arc := Archive{URL: srv.URL + "/bundle.tar.gz", Hash: sha(data), ExtractRoot: "bundle/pkg"}
	acq := &Acquirer{CacheDir: t.TempDir(), Client: srv.Client()}
	dest := filepath.Join(t.TempDir(), "pkg")
	testerr.Shall1(acq.Acquire(context.Background(), "pkg", arc, dest)).BeNil(t)
	if _, err := os.Stat(filepath.Join(dest, "src", "lib.c")); err != nil {
		t.Error(err)
	}

	arc.ExtractRoot = "nope"
	if _, err := acq.Acquire(context.Background(), "pkg", arc, dest); !errors.Is(err, ErrExtract) {
		t.Errorf("expected extract error, got %v", err)
	}
}

func TestAcquire_zipSlip(t *testing.T) {
	data := zipArchive(t, entry{"../evil.txt", "boom"})
	srv, _ := serve(t, map[string][]byte{"/evil.zip": data})
	arc := Archive{URL: srv.URL + "/evil.zip", Hash: sha(data)}
	work := t.TempDir()
	acq := &Acquirer{CacheDir: filepath.Join(work, "cache"), Client: srv.Client()}
	_, err := acq.Acquire(context.Background(), "evil", arc, filepath.Join(work, "b", "evil"))
	if !errors.Is(err, ErrExtract) {
		t.Errorf("expected extract error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "b", "evil.txt")); !os.IsNotExist(err) {
		t.Error("file written outside the extraction dir")
	}
}

func TestAcquire_symlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges")
	}
	work := t.TempDir()
	outside := filepath.Join(work, "outside")
	testerr.Shall(os.MkdirAll(outside, 0o755)).BeNil(t)

	cases := map[string][]tar.Header{
		"absolute": {
			{Name: "pkg/", Typeflag: tar.TypeDir, Mode: 0o755},
			{Name: "pkg/link", Typeflag: tar.TypeSymlink, Linkname: outside},
			{Name: "pkg/link/evil.txt", Typeflag: tar.TypeReg, Mode: 0o644},
		},
		"chained": {
			{Name: "z/", Typeflag: tar.TypeDir, Mode: 0o755},
			{Name: "z/up", Typeflag: tar.TypeSymlink, Linkname: ".."},
			{Name: "z/q", Typeflag: tar.TypeSymlink, Linkname: "up/.."},
			{Name: "z/q/evil.txt", Typeflag: tar.TypeReg, Mode: 0o644},
		},
	}
	for name, hdrs := range cases {
		t.Run(name, func(t *testing.T) {
			data := rawTarGz(t, "boom", hdrs...)
			srv, _ := serve(t, map[string][]byte{"/evil.tar.gz": data})
			arc := Archive{URL: srv.URL + "/evil.tar.gz", Hash: sha(data)}
			base := filepath.Join(work, name)
			acq := &Acquirer{CacheDir: filepath.Join(base, "cache"), Client: srv.Client()}
			_, err := acq.Acquire(context.Background(), "evil", arc, filepath.Join(base, "b", "evil"))
			if !errors.Is(err, ErrExtract) {
				t.Errorf("expected extract error, got %v", err)
			}
			for _, p := range []string{filepath.Join(outside, "evil.txt"), filepath.Join(base, "b", "evil.txt")} {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("%s written outside the extraction dir", p)
				}
			}
		})
	}
}

type fakeMirror struct {
	files map[string][]byte
}

func (m *fakeMirror) Download(_ context.Context, key string, w io.Writer) error {
	data, ok := m.files[key]
	if !ok {
		return os.ErrNotExist
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *fakeMirror) Keys(context.Context) (map[string]int64, error) {
	res := make(map[string]int64)
	for k, v := range m.files {
		res[k] = int64(len(v))
	}
	return res, nil
}

func (m *fakeMirror) UploadLocalFile(_ context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.files[key] = data
	return nil
}

func TestFetch_mirror(t *testing.T) {
	data := tarGz(t, entry{"foo/file", "x"})
	srv, hits := serve(t, map[string][]byte{"/foo.tar.gz": data})
	arc := Archive{URL: srv.URL + "/foo.tar.gz", Hash: sha(data)}

	mirror := &fakeMirror{files: map[string][]byte{}}
	seed := &Acquirer{CacheDir: t.TempDir(), Client: srv.Client()}
	testerr.Shall1(seed.Fetch(context.Background(), "foo", arc)).BeNil(t)
	pushed := testerr.Shall1(seed.Push(context.Background(), mirror, []Archive{arc})).BeNil(t)
	if len(pushed) != 1 {
		t.Fatalf("pushed %v", pushed)
	}
	if again := testerr.Shall1(seed.Push(context.Background(), mirror, []Archive{arc})).BeNil(t); len(again) != 0 {
		t.Errorf("second push uploaded %v", again)
	}

	acq := &Acquirer{CacheDir: t.TempDir(), Client: srv.Client(), Mirror: mirror}
	testerr.Shall1(acq.Fetch(context.Background(), "foo", arc)).BeNil(t)
	if n := hits.Load(); n != 1 {
		t.Errorf("upstream hit %d times, want 1 (seed only)", n)
	}
}

func TestAcquire_repository(t *testing.T) {
	runner := &recordingRunner{}
	acq := &Acquirer{Runner: runner}
	dest := filepath.Join(t.TempDir(), "nv-codec-headers")
	repo := Repository{URL: "https://example.org/nv.git", Ref: "n9.0.18.4", Submodules: true}

	testerr.Shall1(acq.Acquire(context.Background(), "nv", repo, dest)).BeNil(t)
	var got []string
	for _, c := range runner.cmds {
		got = append(got, strings.Join(c.Args[:1], ""))
	}
	want := []string{"clone", "checkout", "clean", "submodule"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("first acquire ran %v, want %v", got, want)
	}

	testerr.Shall(os.MkdirAll(filepath.Join(dest, ".git"), 0o755)).BeNil(t)
	runner.cmds = nil
	testerr.Shall1(acq.Acquire(context.Background(), "nv", repo, dest)).BeNil(t)
	if runner.cmds[1].Args[0] != "fetch" {
		t.Errorf("existing checkout was not fetched: %v", runner.cmds[1].Args)
	}
	if last := runner.cmds[2]; last.Args[len(last.Args)-1] != "n9.0.18.4" || last.Dir != dest {
		t.Errorf("checkout = %v in %s", last.Args, last.Dir)
	}
}

func TestAcquire_repositoryCheckoutFails(t *testing.T) {
	runner := &recordingRunner{fail: func(c bridgeCommand) error {
		if c.Args[0] == "checkout" {
			return errors.New("unknown ref")
		}
		return nil
	}}
	acq := &Acquirer{Runner: runner}
	_, err := acq.Acquire(context.Background(), "x", Repository{URL: "u", Ref: "bad"}, filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrCheckout) {
		t.Errorf("expected checkout error, got %v", err)
	}
}
