package orchestrator

import (
	"fmt"
	"slices"

	"stackbuild/internal/state"
	"stackbuild/internal/strategy"
)

// State is where a project is in the current run.
type State int

const (
	Pending State = iota
	Fetching
	Patching
	Configuring
	Building
	Installing
	PostInstalling
	Done
	Failed
	Skipped
)

var stateNames = [...]string{
	"pending", "fetching", "patching", "configuring", "building",
	"installing", "post-installing", "done", "failed", "skipped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Done || s == Failed || s == Skipped }

// active lists the working states in lifecycle order.
var active = []State{Fetching, Patching, Configuring, Building, Installing, PostInstalling}

var transitions = map[State][]State{
	// resumed projects enter the lifecycle at any working state
	Pending:        {Fetching, Patching, Configuring, Building, Installing, PostInstalling, Done, Failed, Skipped},
	Fetching:       {Patching, Failed},
	Patching:       {Configuring, Failed},
	Configuring:    {Building, Failed},
	Building:       {Installing, Failed},
	Installing:     {PostInstalling, Failed},
	PostInstalling: {Done, Failed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// persisted maps a working state to the manifest step recorded once it
// completes.
func persisted(s State) state.Step {
	switch s {
	case Fetching:
		return state.Fetch
	case Patching:
		return state.Patch
	case Configuring:
		return state.Configure
	case Building:
		return state.Build
	case Installing:
		return state.Install
	case PostInstalling:
		return state.PostInstall
	}
	return state.None
}

func lifecycleStep(s State) (strategy.Step, bool) {
	switch s {
	case Configuring:
		return strategy.Configure, true
	case Building:
		return strategy.Build, true
	case Installing:
		return strategy.Install, true
	case PostInstalling:
		return strategy.PostInstall, true
	}
	return 0, false
}
