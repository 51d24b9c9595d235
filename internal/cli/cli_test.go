package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"stackbuild/internal/project"
	"stackbuild/internal/source"
)

var infos = []project.Info{
	{Name: "zlib", Type: project.TypeLibrary, Version: "1.3.1", Dependencies: []string{}},
	{Name: "nasm", Type: project.TypeTool, Version: "2.16.01", Dependencies: []string{}},
	{Name: "libpng", Type: project.TypeLibrary, Version: "1.6.43", Dependencies: []string{"zlib"}},
	{Name: "all", Type: project.TypeGroup, Dependencies: []string{"libpng"}},
}

func TestWriteListText(t *testing.T) {
	var buf bytes.Buffer
	writeListText(&buf, infos)
	want := "Available projects with type library:\n" +
		"\tzlib   1.3.1\n" +
		"\tlibpng 1.6.43\n" +
		"Available projects with type tool:\n" +
		"\tnasm   2.16.01\n" +
		"Available projects with type group:\n" +
		"\tall    \n"
	if buf.String() != want {
		t.Errorf("got\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteListJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeListJSON(&buf, infos[2:]); err != nil {
		t.Fatal(err)
	}
	want := `{
    "all": {
        "dependencies": [
            "libpng"
        ],
        "type": "group"
    },
    "libpng": {
        "dependencies": [
            "zlib"
        ],
        "type": "library",
        "version": "1.6.43"
    }
}
`
	if buf.String() != want {
		t.Errorf("got\n%s\nwant\n%s", buf.String(), want)
	}
}

func run(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	dir := t.TempDir()
	var out, errOut bytes.Buffer
	app := &App{
		Stdout:  &out,
		Stderr:  &errOut,
		Environ: []string{"STACKBUILD_BUILD_DIR=" + dir},
	}
	args = append(args, "--config", filepath.Join(dir, "missing.conf"))
	code := Execute(context.Background(), app, args)
	return out.String(), errOut.String(), code
}

func TestListCommand(t *testing.T) {
	out, errOut, code := run(t, "list", "--json", "--type", "group")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	var got map[string]map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if _, ok := got["media"]; !ok || len(got) != 1 {
		t.Errorf("groups %v", got)
	}

	out, _, code = run(t, "list")
	if code != 0 || !strings.Contains(out, "Available projects with type tool:") {
		t.Errorf("exit %d, output %q", code, out)
	}
}

func TestListCommand_badType(t *testing.T) {
	_, errOut, code := run(t, "list", "--type", "plugin")
	if code != 1 || !strings.Contains(errOut, "plugin") {
		t.Errorf("exit %d: %s", code, errOut)
	}
}

func TestCleanCommand(t *testing.T) {
	out, errOut, code := run(t, "clean", "nasm")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Cleaned 1 project") {
		t.Errorf("output %q", out)
	}
}

func TestCleanCommand_dependents(t *testing.T) {
	out, errOut, code := run(t, "clean", "--dependents", "nasm")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Cleaned ") || strings.Contains(out, "Cleaned 1 ") {
		t.Errorf("output %q", out)
	}
}

type downloadOnly struct{}

func (downloadOnly) Download(context.Context, string, io.Writer) error { return nil }

type uploading struct{ downloadOnly }

func (uploading) Keys(context.Context) (map[string]int64, error)        { return nil, nil }
func (uploading) UploadLocalFile(context.Context, string, string) error { return nil }

func TestMirrorUploader(t *testing.T) {
	m := uploading{}
	up, err := mirrorUploader(&source.Acquirer{Mirror: m})
	if err != nil || up != source.Uploader(m) {
		t.Errorf("uploader %v, %v", up, err)
	}
	if _, err := mirrorUploader(&source.Acquirer{Mirror: downloadOnly{}}); err == nil {
		t.Error("download-only mirror accepted")
	}
	if _, err := mirrorUploader(&source.Acquirer{}); err == nil {
		t.Error("missing mirror accepted")
	}
}
