package bridge

import (
	"os"
	"slices"
	"strings"
)

type envVar struct {
	key, val string
}

// Env is a process environment. Lookups fold key case when the Env was
// created with fold set, matching how Windows treats PATH and Path.
type Env struct {
	vars map[string]envVar
	fold bool
}

// NewEnv parses KEY=VALUE entries. Entries without a key are ignored.
func NewEnv(environ []string, fold bool) *Env {
	e := &Env{vars: make(map[string]envVar, len(environ)), fold: fold}
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		if k == "" {
			continue
		}
		e.Set(k, v)
	}
	return e
}

func (e *Env) norm(key string) string {
	if e.fold {
		return strings.ToUpper(key)
	}
	return key
}

// Clone returns an independent copy of e.
func (e *Env) Clone() *Env {
	c := &Env{vars: make(map[string]envVar, len(e.vars)), fold: e.fold}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

func (e *Env) Get(key string) (string, bool) {
	v, ok := e.vars[e.norm(key)]
	return v.val, ok
}

// Set assigns key, keeping the spelling of an existing key.
func (e *Env) Set(key, val string) {
	n := e.norm(key)
	if old, ok := e.vars[n]; ok {
		key = old.key
	}
	e.vars[n] = envVar{key: key, val: val}
}

func (e *Env) Unset(key string) { delete(e.vars, e.norm(key)) }

// Merge sets every entry of m.
func (e *Env) Merge(m map[string]string) {
	for k, v := range m {
		e.Set(k, v)
	}
}

// Prepend puts dirs in front of the list variable key, in the given order.
func (e *Env) Prepend(key string, dirs ...string) {
	if len(dirs) == 0 {
		return
	}
	sep := string(os.PathListSeparator)
	val := strings.Join(dirs, sep)
	if old, ok := e.Get(key); ok && old != "" {
		val += sep + old
	}
	e.Set(key, val)
}

// Environ returns KEY=VALUE entries sorted by key.
func (e *Env) Environ() []string {
	res := make([]string, 0, len(e.vars))
	for _, v := range e.vars {
		res = append(res, v.key+"="+v.val)
	}
	slices.Sort(res)
	return res
}

// ParseSetOutput reads the output of cmd's "set" (or env) into a map.
// Lines without '=' and cmd's hidden "=C:" style entries are skipped.
func ParseSetOutput(out string) map[string]string {
	res := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		res[k] = v
	}
	return res
}
