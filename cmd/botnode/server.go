package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Renator13/botnode-public/pkg/api"
	"github.com/Renator13/botnode-public/pkg/config"
	"github.com/Renator13/botnode-public/pkg/cri"
	"github.com/Renator13/botnode-public/pkg/gateway"
	"github.com/Renator13/botnode-public/pkg/lawv"
	"github.com/Renator13/botnode-public/pkg/observability"
	"github.com/Renator13/botnode-public/pkg/store"
	"github.com/Renator13/botnode-public/pkg/util/resiliency"
)

type mode string

const (
	modeAll     mode = "serve"
	modeGateway mode = "gateway"
	modeLawV    mode = "lawv"
	modeCRI     mode = "cri"
)

var defaultPorts = map[mode]string{
	modeAll:     "8100",
	modeGateway: "8100",
	modeLawV:    "8110",
	modeCRI:     "8111",
}

const (
	defaultEnvFile = ".env.hybrid"
	idempotencyTTL = 24 * time.Hour
	shutdownGrace  = 10 * time.Second
)

// stack is the routed mux of one mode plus whatever must be released when
// the process exits.
type stack struct {
	mux     *http.ServeMux
	closers []func()
}

func (s *stack) onClose(f func()) { s.closers = append(s.closers, f) }

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func runServer(m mode, stdout, stderr io.Writer) int {
	envFile := os.Getenv("BOTNODE_ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel, stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := newObservability(ctx, cfg, m)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	st, err := build(ctx, m, cfg, obs)
	if err != nil {
		logger.Error("startup failed", "mode", m, "error", err)
		return 1
	}
	defer st.close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr(defaultPorts[m]),
		Handler:           wrap(st, cfg, logger, obs),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("botnode ready", "mode", m, "addr", srv.Addr, "version", version)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

// newLogger builds the JSON logger at the named level. Unknown levels fall
// back to INFO.
func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newObservability(ctx context.Context, cfg *config.Config, m mode) (*observability.Provider, error) {
	if !cfg.OTelEnabled {
		return observability.Disabled(), nil
	}
	oc := observability.DefaultConfig()
	oc.ServiceName = "botnode-" + string(m)
	oc.ServiceVersion = version
	oc.OTLPEndpoint = cfg.OTelEndpoint
	oc.Insecure = cfg.OTelInsecure
	oc.SampleRate = cfg.OTelSampleRate
	return observability.New(ctx, oc)
}

// wrap applies the middleware chain, outermost first: request id, access log,
// rate limit, tracing.
func wrap(st *stack, cfg *config.Config, logger *slog.Logger, obs *observability.Provider) http.Handler {
	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateLimitRPS, cfg.RateLimitBurst)
	} else {
		local := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		st.onClose(local.Close)
		limiter = local
	}

	var h http.Handler = st.mux
	h = obs.HTTPMiddleware(h)
	h = api.RateLimit(limiter, h)
	h = api.WithLogging(logger, h)
	return api.WithRequestID(h)
}

// build routes the services of mode m.
func build(ctx context.Context, m mode, cfg *config.Config, obs *observability.Provider) (*stack, error) {
	st := &stack{mux: http.NewServeMux()}

	switch m {
	case modeLawV:
		engine, err := newLawV(obs)
		if err != nil {
			return nil, err
		}
		h := lawv.NewHandler(engine)
		h.RegisterRoutes(st.mux)
		h.RegisterServiceRoutes(st.mux)

	case modeCRI:
		_, h, err := newCRI(ctx, cfg, obs, st)
		if err != nil {
			st.close()
			return nil, err
		}
		h.RegisterRoutes(st.mux)
		h.RegisterServiceRoutes(st.mux)

	case modeGateway:
		catalog, err := config.LoadCatalog(cfg.SkillsCatalogPath)
		if err != nil {
			return nil, err
		}
		validator := gateway.NewRemoteValidator(cfg.LawVURL, newClient("law_v", cfg))
		scorer := gateway.NewRemoteScorer(cfg.CRIURL, newClient("cri", cfg))
		gw := newGateway(cfg, obs, catalog, validator, scorer)
		h := gateway.NewHandler(gw)
		h.RegisterRoutes(st.mux)
		h.RegisterServiceRoutes(st.mux)

	case modeAll:
		catalog, err := config.LoadCatalog(cfg.SkillsCatalogPath)
		if err != nil {
			return nil, err
		}
		engine, err := newLawV(obs)
		if err != nil {
			return nil, err
		}
		reputation, criHandler, err := newCRI(ctx, cfg, obs, st)
		if err != nil {
			st.close()
			return nil, err
		}
		lawv.NewHandler(engine).RegisterRoutes(st.mux)
		criHandler.RegisterRoutes(st.mux)

		gw := newGateway(cfg, obs, catalog, gateway.NewLocalValidator(engine), gateway.NewLocalScorer(reputation))
		h := gateway.NewHandler(gw)
		h.RegisterRoutes(st.mux)
		h.RegisterServiceRoutes(st.mux)
		st.mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
			api.WriteJSON(w, http.StatusOK, map[string]any{
				"law_v":     engine.Stats(),
				"cri":       reputation.Stats(),
				"timestamp": api.Now(),
			})
		})

	default:
		return nil, fmt.Errorf("unknown mode %q", m)
	}
	return st, nil
}

func newLawV(obs *observability.Provider) (*lawv.Engine, error) {
	registry := lawv.NewRegistry()
	if err := registry.SeedBuiltins(); err != nil {
		return nil, fmt.Errorf("seed schemas: %w", err)
	}
	return lawv.NewEngine(registry, obs), nil
}

// newCRI builds the reputation store, seeding the demo nodes and then
// replaying the event journal when configured, and its handler with live feed
// and idempotent updates.
func newCRI(ctx context.Context, cfg *config.Config, obs *observability.Provider, st *stack) (*cri.Store, *cri.Handler, error) {
	logger := slog.Default().With("component", "cri")
	reputation := cri.NewStore(cri.WithObservability(obs))

	// The demo seed is deterministic and never journaled; journaled events
	// replay on top of it.
	if cfg.SeedDemo && reputation.SeedDemo() {
		logger.Info("demo nodes seeded", "nodes", reputation.Len())
	}

	journal, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	if journal != nil {
		st.onClose(func() { _ = journal.Close() })
		n, err := store.Replay(ctx, journal, reputation)
		if err != nil {
			return nil, nil, fmt.Errorf("replay journal: %w", err)
		}
		logger.Info("journal replayed", "events", n, "nodes", reputation.Len())
		reputation.Subscribe(store.Listener(journal))
	}

	feed := cri.NewFeed()
	reputation.Subscribe(feed.Listener())

	idem := api.NewIdempotencyStore(idempotencyTTL)
	st.onClose(idem.Close)

	return reputation, cri.NewHandler(reputation, cri.WithFeed(feed), cri.WithIdempotency(idem)), nil
}

func newClient(name string, cfg *config.Config) *resiliency.Client {
	return resiliency.New(name, cfg.HTTPTimeout, cfg.HTTPMaxRetries,
		resiliency.WithAPIKey(cfg.InternalAPIKey),
		resiliency.WithBreaker(5, 30*time.Second),
	)
}

func newGateway(cfg *config.Config, obs *observability.Provider, catalog *config.Catalog, validator gateway.Validator, scorer gateway.Scorer) *gateway.Gateway {
	backend := gateway.NewHTTPBackend(cfg.BackendURL, newClient("backend", cfg), catalog)
	return gateway.New(backend, validator, scorer,
		gateway.WithCatalog(catalog),
		gateway.WithLawV(cfg.EnableLawV),
		gateway.WithObservability(obs),
	)
}
