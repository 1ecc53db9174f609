package cartridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

// WASMConfig bounds a sandboxed step.
type WASMConfig struct {
	MemoryLimitBytes uint64
	// Timeout is an operator safety valve outside the determinism contract.
	// A timed-out step fails instead of producing output, so a slow replay
	// ends in an error, never in a different hash. wazero has no fuel
	// metering, so wall clock is the only CPU bound.
	Timeout time.Duration
	// Guarded makes the step subject to the mandate under its name.
	Guarded bool
}

// WASM runs a WebAssembly module as a step: input on stdin, output on stdout.
// No filesystem, env, args, or network are wired. Anything on stderr fails the
// step.
type WASM struct {
	name     string
	cfg      WASMConfig
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// NewWASM compiles module once. Close releases the runtime.
func NewWASM(ctx context.Context, name string, module []byte, cfg WASMConfig) (*WASM, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitBytes > 0 {
		// wazero measures memory in pages (64KB each)
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, module)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasm %s: compilation failed: %w", name, err)
	}
	return &WASM{name: name, cfg: cfg, runtime: r, compiled: compiled}, nil
}

func (w *WASM) Name() string { return w.name }

func (w *WASM) Transform(input []byte) ([]byte, error) {
	ctx := context.Background()
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := w.runtime.InstantiateModule(ctx, w.compiled, modCfg)
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("wasm %s: execution timed out after %v", w.name, w.cfg.Timeout)
			}
			return nil, fmt.Errorf("wasm %s: %w", w.name, err)
		}
	}
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if stderr.Len() > 0 {
		return nil, fmt.Errorf("wasm %s: stderr output: %s", w.name, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Close shuts down the wazero runtime.
func (w *WASM) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.runtime.Close(ctx)
}

type guardedWASM struct {
	*WASM
}

func (g guardedWASM) CartridgeID() string { return g.name }

// RegisterWASMFile compiles the module at path and registers it as
// name@version. The returned closer releases the runtime.
func (r *Registry) RegisterWASMFile(ctx context.Context, name, version, path string, cfg WASMConfig) (func() error, error) {
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasm %s: read %s: %w", name, path, err)
	}
	w, err := NewWASM(ctx, name, module, cfg)
	if err != nil {
		return nil, err
	}
	var step executor.Step = w
	if cfg.Guarded {
		step = guardedWASM{w}
	}
	if err := r.Register(name, version, func(*semver.Version, int) executor.Step { return step }); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w.Close, nil
}
