package strategy

import "context"

// Hooks replace individual steps of a base strategy. Nil fields keep the
// base behavior.
type Hooks struct {
	Configure   StepFunc
	Build       StepFunc
	Install     StepFunc
	PostInstall StepFunc
	Posix       bool // some step runs through the POSIX toolchain
}

type hooked struct {
	base  Strategy
	hooks Hooks
}

// WithHooks overrides any subset of the steps of base. A nil base behaves
// like Noop.
func WithHooks(base Strategy, h Hooks) Strategy {
	if base == nil {
		base = Noop{}
	}
	return &hooked{base: base, hooks: h}
}

// Custom is a strategy made only of hooks.
func Custom(h Hooks) Strategy { return WithHooks(Noop{}, h) }

func pick(hook, base StepFunc) StepFunc {
	if hook != nil {
		return hook
	}
	return base
}

func (s *hooked) Configure(ctx context.Context, c *Context) error {
	return pick(s.hooks.Configure, s.base.Configure)(ctx, c)
}

func (s *hooked) Build(ctx context.Context, c *Context) error {
	return pick(s.hooks.Build, s.base.Build)(ctx, c)
}

func (s *hooked) Install(ctx context.Context, c *Context) error {
	return pick(s.hooks.Install, s.base.Install)(ctx, c)
}

func (s *hooked) PostInstall(ctx context.Context, c *Context) error {
	return pick(s.hooks.PostInstall, s.base.PostInstall)(ctx, c)
}

// Chain runs fns in order, stopping at the first error.
func Chain(fns ...StepFunc) StepFunc {
	return func(ctx context.Context, c *Context) error {
		for _, fn := range fns {
			if err := fn(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}
}

// UsesPosix reports whether s needs the POSIX toolchain.
func UsesPosix(s Strategy) bool {
	switch v := s.(type) {
	case Make:
		return !v.Native
	case *Make:
		return v != nil && !v.Native
	case *hooked:
		return v.hooks.Posix || UsesPosix(v.base)
	}
	return false
}
