package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gitlab.com/ranfdev/pollvote/internal/db"
	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/event"
	"gitlab.com/ranfdev/pollvote/internal/memstore"
	"gitlab.com/ranfdev/pollvote/internal/metrics"
	"gitlab.com/ranfdev/pollvote/internal/models"
	"gitlab.com/ranfdev/pollvote/internal/ratelimit"
	"gitlab.com/ranfdev/pollvote/internal/routes"
	"gitlab.com/ranfdev/pollvote/internal/voting"
)

const usage = `Usage:
	- start
	- migrate [up/down/drop]
`

func main() {
	if len(os.Args) == 1 {
		fmt.Print(usage)
		return
	}
	envConfig, err := models.ReadEnvConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	switch os.Args[1] {
	case "start":
		server := PollvoteServer{EnvConfig: envConfig}
		server.Setup()
		server.Run()
	case "migrate":
		if len(os.Args) < 3 {
			fmt.Print(usage)
			return
		}
		switch os.Args[2] {
		case "up":
			err = db.MigrateUp(envConfig.DatabaseURL)
		case "down":
			err = db.MigrateDown(envConfig.DatabaseURL)
		case "drop":
			err = db.Drop(envConfig.DatabaseURL)
		default:
			fmt.Print(usage)
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Done")
	default:
		fmt.Print(usage)
	}
}

type PollvoteServer struct {
	models.EnvConfig
	addr       string
	logger     zerolog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.VoteMetrics
	catalog    domain.PollCatalog
	store      domain.VoteStore
	signals    domain.ProjectionSignals
	health     func(ctx context.Context) error
	publisher  domain.VoteEventPublisher
	limiter    domain.RateLimiter
	router     http.Handler
	httpServer *http.Server

	// Background work and resources released on shutdown.
	runners []func(ctx context.Context)
	closers []func()
}

func (server *PollvoteServer) setupLogger() {
	var writer io.Writer
	if server.Debug {
		writer = zerolog.ConsoleWriter{Out: os.Stdout}
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		writer = os.Stdout
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	server.logger = zerolog.New(writer).With().Timestamp().Logger()
}
func (server *PollvoteServer) setupMetrics() {
	server.registry = prometheus.NewRegistry()
	server.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	server.metrics = metrics.NewVoteMetrics(server.registry)
}
func (server *PollvoteServer) setupDB() {
	if server.DatabaseURL == "" {
		server.logger.Warn().Msg("No database configured, votes are kept in memory")
		store := memstore.New(nil)
		server.catalog = store
		server.store = store
		server.signals = store
		return
	}

	err := db.MigrateUp(server.DatabaseURL)
	if err != nil {
		server.logger.Fatal().Err(err).Send()
	}
	sdb, err := db.Connect(context.Background(), &server.EnvConfig)
	if err != nil {
		server.logger.Fatal().AnErr("Connecting to db", err).Send()
	}
	listener := db.NewListener(sdb, server.logger.With().Str("component", "listener").Logger())

	server.catalog = sdb
	server.store = sdb
	server.signals = listener
	server.health = sdb.Ping
	server.runners = append(server.runners, listener.Run)
	server.closers = append(server.closers, sdb.Close)
}
func (server *PollvoteServer) setupEvents() {
	if len(server.KafkaBrokers) == 0 {
		server.publisher = event.NopPublisher{}
		return
	}
	publisher := event.NewKafkaPublisher(server.KafkaBrokers, server.KafkaTopic)
	server.publisher = publisher
	server.closers = append(server.closers, func() {
		if err := publisher.Close(); err != nil {
			server.logger.Error().Err(err).Msg("Closing kafka publisher")
		}
	})
}
func (server *PollvoteServer) setupRateLimiter() {
	if server.RedisURL == "" {
		server.limiter = ratelimit.Unlimited{}
		return
	}
	opts, err := redis.ParseURL(server.RedisURL)
	if err != nil {
		server.logger.Fatal().Err(err).Msg("Parsing redis url")
	}
	rdb := redis.NewClient(opts)
	server.limiter = ratelimit.NewLimiter(rdb, nil, server.ToggleBurst, server.TogglesPerMinute)
	server.closers = append(server.closers, func() { rdb.Close() })
}
func (server *PollvoteServer) setupRouter() {
	coordinator := voting.NewCoordinator(voting.Options{
		Catalog:                    server.catalog,
		Store:                      server.store,
		Signals:                    server.signals,
		Publisher:                  server.publisher,
		Metrics:                    server.metrics,
		Logger:                     server.logger,
		PropagationTimeout:         server.PropagationTimeout,
		PropagationPollInterval:    server.PropagationPollInterval,
		LegacySingleChoiceFallback: server.LegacySingleChoiceFallback,
	})
	server.router = routes.NewRouter(routes.Deps{
		Toggler:  coordinator,
		Reports:  voting.NewReporter(server.catalog),
		Limiter:  server.limiter,
		Metrics:  server.metrics,
		Gatherer: server.registry,
		Health:   server.health,
	}, server.logger)
}
func (server *PollvoteServer) setupHttpServer() {
	server.addr = fmt.Sprintf(":%s", server.Port)
	server.httpServer = &http.Server{
		Addr:         server.addr,
		Handler:      server.router,
		ReadTimeout:  1 * time.Minute,
		WriteTimeout: 1 * time.Minute,
	}
}
func (server *PollvoteServer) Setup() {
	server.setupLogger()
	server.setupMetrics()
	server.setupDB()
	server.setupEvents()
	server.setupRateLimiter()
	server.setupRouter()
	server.setupHttpServer()
}
func (server *PollvoteServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.httpServer.Shutdown(ctx); err != nil {
		server.logger.Error().
			Err(err).
			Msg("Error shutting down")
	}
	for i := len(server.closers) - 1; i >= 0; i-- {
		server.closers[i]()
	}
}
func (server *PollvoteServer) Run() {
	server.logger.Info().Str("server_address", server.addr).Msg("Server is starting")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, run := range server.runners {
		go run(ctx)
	}
	go func() {
		err := server.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			server.logger.Error().Err(err).Msg("Http server stopped")
			stop()
		}
	}()
	server.logger.Info().Msg("Ready")

	<-ctx.Done()
	stop() // Stop listening for signals
	server.logger.Info().Msg("Shutting down gracefully")
	server.Shutdown()
}
