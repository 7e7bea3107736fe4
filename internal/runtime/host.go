package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Progress messages reported while the environment boots.
const (
	ProgressStandardLibraries = "Loading standard libraries..."
	ProgressRuleEngine        = "Loading rule engine..."
)

// StartFunc creates a fresh environment.
type StartFunc func(ctx context.Context) (Environment, error)

// Host owns the single environment of a worker. The environment moves from
// absent to ready at most once; once ready it is reused for every later
// request. A failed bootstrap is final for the host.
type Host struct {
	plan  Plan
	start StartFunc

	mu  sync.Mutex
	env Environment
	err error
}

// NewHost returns a host that bootstraps environments made by start
// according to plan.
func NewHost(plan Plan, start StartFunc) *Host {
	return &Host{plan: plan, start: start}
}

// EnsureReady starts and bootstraps the environment unless it is already
// ready. Concurrent callers block until the first bootstrap finishes.
// onProgress may be nil.
func (h *Host) EnsureReady(ctx context.Context, onProgress func(string)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.env != nil {
		return nil
	}
	if h.err != nil {
		return h.err
	}

	if onProgress == nil {
		onProgress = func(string) {}
	}

	env, err := h.start(ctx)
	if err != nil {
		h.err = fmt.Errorf("start runtime: %w", err)
		return h.err
	}

	if err := h.bootstrap(ctx, env, onProgress); err != nil {
		if cerr := env.Close(); cerr != nil {
			slog.Warn("close failed runtime", "error", cerr)
		}
		h.err = err
		return err
	}

	h.env = env
	slog.Info("runtime ready", "rule_engine", h.plan.RuleEngine)
	return nil
}

func (h *Host) bootstrap(ctx context.Context, env Environment, onProgress func(string)) error {
	onProgress(ProgressStandardLibraries)
	for _, pkg := range h.plan.BasePackages {
		if err := env.Install(ctx, pkg); err != nil {
			return fmt.Errorf("install %s: %w", pkg, err)
		}
	}

	if h.plan.PublicKeyEnv != "" {
		if err := env.SetGlobal(ctx, "pc_pubkey", h.plan.PublicKey); err != nil {
			return fmt.Errorf("set public key: %w", err)
		}
		if err := env.SetGlobal(ctx, "pc_pubkey_env", h.plan.PublicKeyEnv); err != nil {
			return fmt.Errorf("set public key: %w", err)
		}
		if err := env.Run(ctx, "import os\nos.environ[pc_pubkey_env] = pc_pubkey\n"); err != nil {
			return fmt.Errorf("export public key: %w", err)
		}
	}

	onProgress(ProgressRuleEngine)
	if err := env.Install(ctx, h.plan.RuleEngine); err != nil {
		return fmt.Errorf("install rule engine %s: %w", h.plan.RuleEngine, err)
	}

	for _, mod := range h.plan.ExtraModules {
		slog.Info("Loading extra module from: " + mod)
		if err := env.Install(ctx, mod); err != nil {
			return fmt.Errorf("install extra module %s: %w", mod, err)
		}
	}
	return nil
}

// Env returns the ready environment, or ErrNotReady.
func (h *Host) Env() (Environment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.env == nil {
		return nil, ErrNotReady
	}
	return h.env, nil
}

// Close shuts the environment down. The host cannot be reused afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.env == nil {
		return nil
	}
	err := h.env.Close()
	h.env = nil
	h.err = ErrExited
	return err
}
