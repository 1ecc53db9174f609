package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/artifacts"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/cartridge"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/config"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/mandate"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/observability"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/sentinel"

	_ "github.com/lib/pq"  // Postgres Driver
	_ "modernc.org/sqlite" // SQLite Driver
)

// runtime is everything a command needs, built once from config and profile.
type runtime struct {
	cfg       *config.Config
	profile   *config.Profile
	ledger    *ledger.Ledger
	registry  *sentinel.Registry
	telemetry *observability.Provider
	svc       *attest.Service
	closers   []func() error
}

func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Printf("[pilgrim] close: %v", err)
		}
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			log.Printf("[pilgrim] telemetry shutdown: %v", err)
		}
	}
}

// halter is swapped by tests; production exits with sentinel.ExitCodeHalt.
var halter sentinel.Halter = sentinel.ExitHalter{}

func loadConfig() (*config.Config, *config.Profile, error) {
	cfg := config.Load()
	if cfg.ProfilePath == "" {
		return cfg, config.DefaultProfile(), nil
	}
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, profile, nil
}

// invariantRegistry is the system set plus the profile's own declarations.
func invariantRegistry(profile *config.Profile) (*sentinel.Registry, error) {
	reg := sentinel.NewSystemRegistry()
	for _, spec := range profile.Invariants {
		if err := reg.Register(spec); err != nil {
			return nil, fmt.Errorf("profile invariant: %w", err)
		}
	}
	return reg, nil
}

//nolint:gocognit
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, profile, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, profile: profile}
	fail := func(err error) (*runtime, error) {
		rt.Close(ctx)
		return nil, err
	}

	mode, err := sentinel.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	if rt.ledger, err = openLedger(ctx, rt); err != nil {
		return fail(err)
	}

	if rt.registry, err = invariantRegistry(profile); err != nil {
		return fail(err)
	}

	reg := cartridge.Default()
	for _, m := range profile.WASM {
		closeFn, err := reg.RegisterWASMFile(ctx, m.Name, m.Version, m.Path, m.Config())
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, closeFn)
		log.Printf("[pilgrim] wasm: registered %s@%s", m.Name, m.Version)
	}

	m, err := mandate.New(profile.Rules, profile.Policies...)
	if err != nil {
		return fail(err)
	}
	engine, err := attest.NewEngine(reg, profile.Steps, m)
	if err != nil {
		return fail(err)
	}

	if rt.telemetry, err = observability.New(ctx, observability.ForEndpoint(cfg.OTLPEndpoint)); err != nil {
		return fail(err)
	}

	store, err := artifacts.Open(ctx, artifacts.StoreType(cfg.ArtifactStore), cfg.DataDir)
	if err != nil {
		return fail(err)
	}

	drift := sentinel.NewDriftLedger(rt.ledger)
	if err := drift.Load(ctx); err != nil {
		return fail(err)
	}
	sent := sentinel.New(mode, drift,
		sentinel.WithHalter(halter),
		sentinel.WithHaltDir(cfg.HaltDir()),
		sentinel.WithRegistry(rt.registry),
	)
	opts := []attest.Option{
		attest.WithSentinel(sent),
		attest.WithLimits(profile.Limits),
		attest.WithTelemetry(rt.telemetry),
	}
	if store != nil {
		opts = append(opts, attest.WithArtifacts(store))
	}
	if rt.svc, err = attest.New(engine, rt.ledger, opts...); err != nil {
		return fail(err)
	}
	return rt, nil
}

// openLedger selects the backend named by PILGRIM_LEDGER. With REDIS_ADDR set,
// appends also take a cross-process lock.
func openLedger(ctx context.Context, rt *runtime) (*ledger.Ledger, error) {
	cfg := rt.cfg
	var opts []ledger.Option
	if cfg.RedisAddr != "" {
		opts = append(opts, ledger.WithLocker(ledger.NewRedisLockerAddr(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.Ledger)))
		log.Printf("[pilgrim] ledger: redis lock at %s", cfg.RedisAddr)
	}

	switch cfg.Ledger {
	case config.LedgerMemory:
		return ledger.New(ledger.NewMemoryBackend(), opts...), nil
	case config.LedgerFile:
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return ledger.New(ledger.NewFileBackend(cfg.LedgerPath()), opts...), nil
	case config.LedgerSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		log.Printf("[pilgrim] lite mode: using sqlite at %s", cfg.SQLitePath())
		return openSQLLedger(ctx, rt, "sqlite", cfg.SQLitePath(), ledger.DialectSQLite, opts)
	case config.LedgerPostgres:
		return openSQLLedger(ctx, rt, "postgres", cfg.DatabaseURL, ledger.DialectPostgres, opts)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger)
	}
}

func openSQLLedger(ctx context.Context, rt *runtime, driver, dsn string, dialect ledger.Dialect, opts []ledger.Option) (*ledger.Ledger, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", driver, err)
	}
	backend := ledger.NewSQLBackend(db, dialect)
	if err := backend.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init ledger: %w", err)
	}
	rt.closers = append(rt.closers, db.Close)
	log.Printf("[pilgrim] %s: connected", driver)
	return ledger.New(backend, opts...), nil
}

// withRuntime builds the runtime, runs fn and tears everything down.
// A build failure is a runtime error (exit 2).
func withRuntime(stderr io.Writer, fn func(ctx context.Context, rt *runtime) int) int {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer rt.Close(ctx)
	return fn(ctx, rt)
}
