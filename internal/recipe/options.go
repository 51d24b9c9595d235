package recipe

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"stackbuild/internal/project"
)

// Options are the resolved option values of a recipe project. Bool
// options hold "true" or "false".
type Options map[string]string

func (Options) Validate() error { return nil }

// Bool reports whether the bool option name is set.
func (o Options) Bool(name string) bool {
	b, _ := strconv.ParseBool(o[name])
	return b
}

func (o Options) matches(name, equals string) (bool, error) {
	v, ok := o[name]
	if !ok {
		return false, fmt.Errorf("when %q: no such option", name)
	}
	if equals != "" {
		return v == equals, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("when %q: option is not a bool, use equals", name)
	}
	return b, nil
}

type optionKind int

const (
	boolOption optionKind = iota
	stringOption
)

func optionDefault(o *hclOption) (optionKind, string, error) {
	v := o.Default
	if v == cty.NilVal || v.IsNull() {
		return boolOption, "false", nil
	}
	switch v.Type() {
	case cty.Bool:
		return boolOption, strconv.FormatBool(v.True()), nil
	case cty.String:
		return stringOption, v.AsString(), nil
	case cty.Number:
		return stringOption, v.AsBigFloat().Text('f', -1), nil
	}
	return 0, "", fmt.Errorf("option %q: default must be a bool, string or number", o.Name)
}

// resolveOptions applies user settings to the declared options. Settings
// for undeclared options are rejected.
func resolveOptions(prj string, declared []*hclOption, user map[string]string) (Options, error) {
	res := make(Options, len(declared))
	kinds := make(map[string]optionKind, len(declared))
	for _, o := range declared {
		if _, dup := kinds[o.Name]; dup {
			return nil, invalid(prj, fmt.Errorf("option %q declared twice", o.Name))
		}
		kind, def, err := optionDefault(o)
		if err != nil {
			return nil, invalid(prj, err)
		}
		kinds[o.Name] = kind
		res[o.Name] = def
	}
	for name, val := range user {
		kind, ok := kinds[name]
		if !ok {
			names := make([]string, 0, len(kinds))
			for n := range kinds {
				names = append(names, n)
			}
			slices.Sort(names)
			return nil, invalid(prj, fmt.Errorf("unknown option %q (declared: %s)", name, strings.Join(names, ", ")))
		}
		if kind == boolOption {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, invalid(prj, fmt.Errorf("option %q wants a bool, got %q", name, val))
			}
			val = strconv.FormatBool(b)
		}
		res[name] = val
	}
	return res, nil
}

var _ project.Options = Options(nil)
