package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/ipl-auction/internal/auction"
	"github.com/jensholdgaard/ipl-auction/internal/bot"
	"github.com/jensholdgaard/ipl-auction/internal/catalog"
	"github.com/jensholdgaard/ipl-auction/internal/clock"
	"github.com/jensholdgaard/ipl-auction/internal/config"
	"github.com/jensholdgaard/ipl-auction/internal/health"
	"github.com/jensholdgaard/ipl-auction/internal/httpapi"
	"github.com/jensholdgaard/ipl-auction/internal/leader"
	"github.com/jensholdgaard/ipl-auction/internal/pool"
	"github.com/jensholdgaard/ipl-auction/internal/registry"
	"github.com/jensholdgaard/ipl-auction/internal/room"
	"github.com/jensholdgaard/ipl-auction/internal/store"
	"github.com/jensholdgaard/ipl-auction/internal/telemetry"
	"github.com/jensholdgaard/ipl-auction/internal/tournament"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/ipl-auction/internal/store/memory"
	_ "github.com/jensholdgaard/ipl-auction/internal/store/postgres"
	_ "github.com/jensholdgaard/ipl-auction/internal/store/sqlite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	cat, err := loadCatalog(cfg.Auction.CatalogPath)
	if err != nil {
		return err
	}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "ledger store ready", slog.String("driver", cfg.Database.Driver))

	seed := cfg.Auction.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	engine := auction.NewEngine(pool.NewGenerator(cat, rand.New(rand.NewSource(seed))),
		registry.New[*auction.Room](), repos.Events, logger, tp.TracerProvider, clk)
	sim := tournament.NewSimulator(registry.New[*tournament.Tournament](), rand.New(rand.NewSource(seed+1)),
		repos.Events, logger, tp.TracerProvider, clk)
	rooms := room.NewManager(engine, sim, repos.Results, logger, tp.TracerProvider, clk, room.Options{
		BidTimeout:        cfg.Auction.BidTimeout,
		AutoPass:          cfg.Auction.AutoPass,
		DefaultMaxPlayers: cfg.Auction.MaxPlayers,
	})
	defer rooms.Close()

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)
	healthHandler.AddGauge(health.Gauge{Name: "rooms", Value: rooms.Len})

	elector := &leader.Elector{}
	if cfg.LeaderElection.Enabled {
		// Room state lives in this process; only the leader takes traffic.
		healthHandler.AddChecker(health.Checker{Name: "leader", Check: elector.Check})
	}

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Rooms:          rooms,
			Events:         repos.Events,
			Results:        repos.Results,
			Health:         healthHandler,
			Logger:         logger,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	// serve runs the front-ends until ctx is done.
	serve := func(ctx context.Context) error {
		var discordBot *bot.Bot
		if cfg.Discord.Enabled {
			b, botErr := bot.New(cfg.Discord, rooms, logger, tp.TracerProvider)
			if botErr != nil {
				return fmt.Errorf("creating bot: %w", botErr)
			}
			if botErr = b.Start(ctx); botErr != nil {
				return fmt.Errorf("starting bot: %w", botErr)
			}
			discordBot = b
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auctiond is running",
			slog.String("version", version),
			slog.Bool("discord", discordBot != nil),
		)

		<-ctx.Done()

		healthHandler.SetReady(false)
		if discordBot != nil {
			if stopErr := discordBot.Stop(); stopErr != nil {
				logger.Error("bot shutdown error", slog.Any("error", stopErr))
			}
		}
		return nil
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := elector.Run(ctx, cfg.LeaderElection, logger, func(ctx context.Context) {
			if serveErr := serve(ctx); serveErr != nil {
				logger.ErrorContext(ctx, "serving failed", slog.Any("error", serveErr))
				cancel()
			}
		}, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else if err := serve(ctx); err != nil {
		return err
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading player catalog: %w", err)
	}
	return c, nil
}
