// Package logview is a terminal viewer for per-project build logs.
package logview

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const refreshEvery = 400 * time.Millisecond

// Log is one build log file.
type Log struct {
	Project string
	Path    string
	Content string
}

// ReadLogs returns the *.log files of dir sorted by project name. A
// missing dir yields no logs.
func ReadLogs(dir string) ([]Log, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	logs := make([]Log, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		content := string(b)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}
		logs = append(logs, Log{
			Project: strings.TrimSuffix(filepath.Base(p), ".log"),
			Path:    p,
			Content: content,
		})
	}
	return logs, nil
}

// Viewer shows the logs of a directory, refreshing while builds write to
// them.
type Viewer struct {
	dir string

	app    *tview.Application
	header *tview.TextView
	body   *tview.TextView
	footer *tview.TextView

	mu         sync.Mutex
	logs       []Log
	active     int
	shown      string // path of the log in body
	shownBody  string
	followTail bool
}

// New prepares a viewer for dir. If project is not empty the viewer
// starts on its log.
func New(dir, project string) *Viewer {
	v := &Viewer{dir: dir, followTail: true}
	v.logs, _ = ReadLogs(dir)
	for i, l := range v.logs {
		if l.Project == project {
			v.active = i
		}
	}
	return v
}

// Logs returns the logs currently loaded.
func (v *Viewer) Logs() []Log {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.logs)
}

// Active returns the index of the displayed log.
func (v *Viewer) Active() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Next moves to the following log, wrapping around; delta -1 goes back.
func (v *Viewer) Next(delta int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n := len(v.logs); n > 0 {
		v.active = ((v.active+delta)%n + n) % n
		v.followTail = true
	}
}

// Reload rereads the directory and keeps the displayed project selected
// if it still has a log.
func (v *Viewer) Reload() {
	logs, err := ReadLogs(v.dir)
	if err != nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	current := ""
	if v.active < len(v.logs) {
		current = v.logs[v.active].Path
	}
	v.logs = logs
	v.active = min(v.active, max(len(logs)-1, 0))
	for i, l := range logs {
		if l.Path == current {
			v.active = i
			break
		}
	}
}

// Run shows the viewer until the user quits.
func (v *Viewer) Run() error {
	v.app = tview.NewApplication()

	v.header = tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	v.header.SetBorder(true).SetTitle("stackbuild build logs")

	v.body = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	v.body.SetBorder(true)

	v.footer = tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	v.footer.SetBorder(true)
	v.footer.SetText("[gray]q/Esc quit | ← → or Tab switch logs | ↑ ↓ PgUp PgDn scroll | Home/End | r reload[white]")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.header, 3, 0, false).
		AddItem(v.body, 0, 1, true).
		AddItem(v.footer, 3, 0, false)
	layout.SetInputCapture(v.handleKey)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(refreshEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				v.Reload()
				v.app.QueueUpdateDraw(v.render)
			}
		}
	}()

	v.render()
	return v.app.SetRoot(layout, true).SetFocus(v.body).Run()
}

func (v *Viewer) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Key() {
	case tcell.KeyCtrlQ, tcell.KeyEsc:
		v.app.Stop()
	case tcell.KeyLeft, tcell.KeyBacktab:
		v.Next(-1)
		v.render()
	case tcell.KeyRight, tcell.KeyTab:
		v.Next(1)
		v.render()
	case tcell.KeyHome:
		v.body.ScrollToBeginning()
	case tcell.KeyEnd:
		v.body.ScrollToEnd()
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			v.app.Stop()
		case 'r':
			v.Reload()
			v.render()
		case 'h':
			v.Next(-1)
			v.render()
		case 'l':
			v.Next(1)
			v.render()
		default:
			return ev
		}
	default:
		return ev
	}
	return nil
}

func (v *Viewer) render() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.logs) == 0 {
		v.header.SetText("[gray]No build logs in " + v.dir + "[white]")
		v.body.SetText("No build log yet. Run 'stackbuild build' first.")
		v.shown, v.shownBody = "", ""
		return
	}
	l := v.logs[v.active]
	v.header.SetText(fmt.Sprintf("[gray]Log %d/%d: %s (%s)[white]", v.active+1, len(v.logs), l.Project, l.Path))
	if l.Path == v.shown && l.Content == v.shownBody {
		return
	}

	row, _ := v.body.GetScrollOffset()
	v.body.Clear()
	w := tview.ANSIWriter(v.body)
	fmt.Fprint(w, l.Content)
	switch {
	case v.followTail || l.Path != v.shown:
		v.body.ScrollToEnd()
		v.followTail = false
	default:
		v.body.ScrollTo(row, 0)
	}
	v.shown, v.shownBody = l.Path, l.Content
}
