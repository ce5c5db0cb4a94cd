// Command kupo runs the chain-index server: it follows a Cardano node,
// matches outputs against a registered pattern set, and serves the
// result over HTTP (spec §2).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/kupo-index/kupo/internal/apperr"
	"github.com/kupo-index/kupo/internal/chainpoint"
	"github.com/kupo-index/kupo/internal/config"
	"github.com/kupo-index/kupo/internal/consumer"
	"github.com/kupo-index/kupo/internal/health"
	"github.com/kupo-index/kupo/internal/httpapi"
	"github.com/kupo-index/kupo/internal/model"
	"github.com/kupo-index/kupo/internal/pattern"
	"github.com/kupo-index/kupo/internal/producer"
	"github.com/kupo-index/kupo/internal/registry"
	"github.com/kupo-index/kupo/internal/store"
)

// version and commit are set at link time (-ldflags "-X main.version=... -X main.commit=...").
var (
	version = "dev"
	commit  = "none"
)

func main() {
	args := os.Args[1:]

	switch {
	case len(args) > 0 && (args[0] == "version" || args[0] == "--version" || args[0] == "-v"):
		fmt.Printf("kupo %s (%s)\n", version, commit)
		return
	case len(args) > 0 && args[0] == "health-check":
		runHealthCheck(args[1:])
		return
	case len(args) > 0 && args[0] == "run":
		args = args[1:]
	}

	runServer(args)
}

func runHealthCheck(args []string) {
	var opts config.HealthCheckOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		os.Exit(2)
	}

	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/health", opts.Host, opts.Port))
	if err != nil {
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}

	var h model.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil || h.MostRecentCheckpoint == nil {
		os.Exit(1)
	}
}

func runServer(args []string) {
	var opts config.RunOptions
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, err := config.ParseLogLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := config.BuildLogger(level)
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal("kupo exited", zap.Error(err))
	}
}

func run(ctx context.Context, opts config.RunOptions, logger *zap.Logger) error {
	since := chainpoint.Origin
	if opts.Since != "" {
		pt, err := chainpoint.Parse(opts.Since)
		if err != nil {
			return err
		}
		since = pt
	}

	storeLogger, err := config.ComponentLogger(logger, "store", opts.LogLevelStore)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, store.Config{
		Path:         storePath(opts),
		InMemory:     opts.InMemory,
		PoolSize:     opts.MaxConcurrency,
		DeferIndexes: opts.DeferDBIndexes,
		Logger:       storeLogger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	persisted, err := st.ListPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load persisted patterns: %w", err)
	}
	patterns := persisted
	for _, text := range opts.Match {
		p, err := pattern.Parse(text)
		if err != nil {
			return fmt.Errorf("--match %q: %w", text, err)
		}
		patterns = append(patterns, p)
	}
	reg := registry.New(patterns)

	hlt := health.New(model.Configuration{
		LongestRollback: longestRollbackOf(opts),
		PruneUTXO:       opts.PruneUTXO,
	})

	target := opts.NodeSocket
	if target == "" {
		target = fmt.Sprintf("%s:%d", opts.OgmiosHost, opts.OgmiosPort)
	}
	prod, err := producer.Dial(ctx, target)
	if err != nil && !errors.Is(err, apperr.ErrConfiguration) {
		return fmt.Errorf("dial producer: %w", err)
	}

	consumerLogger, err := config.ComponentLogger(logger, "consumer", opts.LogLevelConsumer)
	if err != nil {
		return err
	}

	var cons *consumer.Consumer
	if prod != nil {
		cons = consumer.New(consumer.Config{
			Producer:        prod,
			Store:           st,
			Registry:        reg,
			Since:           since,
			LongestRollback: longestRollbackOf(opts),
			Logger:          consumerLogger,
			OnHealth: func(connected bool, tip *chainpoint.Point) {
				status := model.ConnectionDisconnected
				if connected {
					status = model.ConnectionConnected
				}
				hlt.SetConnection(status)
				if tip != nil && !tip.IsOrigin() {
					hlt.SetNodeTip(&model.Checkpoint{Slot: tip.Slot, Hash: tip.Hash[:]})
				}
			},
			OnCheckpoint: hlt.SetCheckpoint,
		})
	} else {
		logger.Warn("no producer transport configured; serving HTTP against already-ingested data only")
	}

	httpLogger, err := config.ComponentLogger(logger, "http", opts.LogLevelHTTP)
	if err != nil {
		return err
	}
	handler := httpapi.New(st, reg, cons, hlt, prod, httpLogger)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // streaming responses may run long
		IdleTimeout:       60 * time.Second,
	}

	gcLogger, err := config.ComponentLogger(logger, "gc", opts.LogLevelGC)
	if err != nil {
		return err
	}
	mode := store.MarkSpentInputs
	if opts.PruneUTXO {
		mode = store.RemoveSpentInputs
	}
	gc := store.NewGCTicker(st, mode, longestRollbackOf(opts), time.Duration(opts.GCInterval)*time.Second)

	errCh := make(chan error, 2)

	go func() {
		logger.Info("starting http server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cons != nil {
		go func() {
			if err := cons.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("consumer: %w", err)
			}
		}()
	}

	go func() {
		if err := gc.Run(ctx, func() uint64 { return tipSlot(cons) }); err != nil && ctx.Err() == nil {
			gcLogger.Error("gc ticker stopped", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("subsystem failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}

	return nil
}

func storePath(opts config.RunOptions) string {
	if opts.InMemory {
		return ""
	}
	return opts.Workdir + "/kupo.sqlite3"
}

// longestRollbackOf is the chain's security parameter, fixed for the
// Cardano mainnet/testnets this binary targets; a future --network flag
// would make this configurable per spec's Open Questions.
func longestRollbackOf(config.RunOptions) uint64 { return 2160 }

func tipSlot(c *consumer.Consumer) uint64 {
	if c == nil {
		return 0
	}
	return c.Tip().Slot
}
