package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	app "github.com/loomworks/loom"
	"github.com/loomworks/loom/internal/adapter"
	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/defload"
	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/internal/server"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/log"
)

type loom struct {
	cfg        *config.Config
	redis      *redis.Client
	store      store.Store
	hub        events.Hub
	engine     *engine.Engine
	archiver   *archive.Archiver
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrConnectRedis = errors.New("failed to connect to redis")
	ErrOpenArchive  = errors.New("failed to open archive bucket")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &loom{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *loom) run() error {
	if err := s.initializeStore(); err != nil {
		return err
	}
	if err := s.initializeEngine(); err != nil {
		return err
	}
	if err := s.loadDefinitions(); err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *loom) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Loom Engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.RedisAddr),
		slog.Int("redis_db", s.cfg.RedisDB),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *loom) initializeStore() error {
	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}

	s.redis = client
	s.store = store.NewRedisWithClient(client, s.cfg.RedisPrefix)
	s.hub = events.NewRedisHub(client, s.cfg.RedisPrefix)
	return nil
}

func (s *loom) initializeEngine() error {
	p := provider.NewHTTPProvider(s.cfg.ProviderEndpoint, s.cfg.AgentTimeout)

	var fallback adapter.Invoker
	if s.cfg.AdapterEndpoint != "" {
		fallback = adapter.NewHTTPInvoker(
			s.cfg.AdapterEndpoint, s.cfg.AdapterTimeout,
		)
	}
	adapters := adapter.NewRegistry(fallback)

	s.engine = engine.New(s.store, p, adapters, s.hub, s.cfg)
	s.engine.Start()

	if s.cfg.ArchiveBucketURL != "" {
		archiver, err := archive.New(
			context.Background(), s.store, s.cfg.ArchiveBucketURL,
			s.cfg.ArchiveAfter, s.cfg.ArchiveInterval,
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		s.archiver = archiver
		s.archiver.Start()
	}
	return nil
}

func (s *loom) loadDefinitions() error {
	if s.cfg.DefinitionDir == "" {
		return nil
	}

	count, err := defload.Load(
		context.Background(), s.store, s.cfg.DefinitionDir,
	)
	if err != nil {
		return err
	}

	slog.Info("Definitions loaded",
		slog.String("dir", s.cfg.DefinitionDir),
		slog.Int("count", count))
	return nil
}

func (s *loom) startServer() {
	s.apiServer = server.NewServer(s.engine, s.store, s.hub)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *loom) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if s.archiver != nil {
		if err := s.archiver.Stop(); err != nil {
			slog.Error("Archiver shutdown failed", log.Error(err))
		}
	}

	_ = s.hub.Close()
	_ = s.store.Close()
	_ = s.redis.Close()

	slog.Info("Server exited")
}
