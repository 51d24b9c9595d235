package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"stackbuild/internal/console"
	"stackbuild/internal/state"
	"stackbuild/internal/strategy"
)

// ProjectError is the cause recorded for a failed project.
type ProjectError struct {
	Project string
	Step    string
	Err     error
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Project, e.Step, e.Err)
}

func (e *ProjectError) Unwrap() error { return e.Err }

// Result is the outcome of one project.
type Result struct {
	Project     string
	State       State
	Step        string // step that failed or was last completed
	Err         error
	Reason      string // why a project was skipped
	ResumedFrom state.Step
	UpToDate    bool
	Attempts    int
	Duration    time.Duration
	LogFile     string
	Mutations   []strategy.Mutation
}

// Report lists results in plan order.
type Report struct {
	Results   []*Result
	Cancelled bool
}

// Get returns the result of name or nil.
func (r *Report) Get(name string) *Result {
	for _, res := range r.Results {
		if res.Project == name {
			return res
		}
	}
	return nil
}

// Failed returns the failed projects.
func (r *Report) Failed() []*Result {
	var res []*Result
	for _, x := range r.Results {
		if x.State == Failed {
			res = append(res, x)
		}
	}
	return res
}

// Counts tallies the terminal states.
func (r *Report) Counts() (done, failed, skipped int) {
	for _, x := range r.Results {
		switch x.State {
		case Done:
			done++
		case Failed:
			failed++
		case Skipped:
			skipped++
		}
	}
	return
}

// OK reports whether nothing failed.
func (r *Report) OK() bool { return len(r.Failed()) == 0 && !r.Cancelled }

// Print writes the outcome table.
func (r *Report) Print(p *console.Printer) {
	width := 8
	for _, x := range r.Results {
		width = max(width, len(x.Project))
	}
	w := p.Writer()
	p.Step("Build report")
	for _, x := range r.Results {
		var status, detail string
		switch x.State {
		case Done:
			status = p.Success("DONE   ")
			switch {
			case x.UpToDate:
				detail = "up to date"
			case x.ResumedFrom != state.None:
				detail = fmt.Sprintf("resumed after %s, %s", x.ResumedFrom, x.Duration.Round(time.Second))
			default:
				detail = x.Duration.Round(time.Second).String()
			}
		case Failed:
			status = p.Failure("FAILED ")
			detail = errorLine(x.Err)
			if x.LogFile != "" {
				detail += " (log: " + x.LogFile + ")"
			}
		case Skipped:
			status = p.Muted("SKIPPED")
			detail = x.Reason
		default:
			status = x.State.String()
		}
		fmt.Fprintf(w, "  %-*s %s %s\n", width, x.Project, status, detail)
	}
	done, failed, skipped := r.Counts()
	fmt.Fprintf(w, "  %d done, %d failed, %d skipped\n", done, failed, skipped)
}

func errorLine(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
