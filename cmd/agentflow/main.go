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
	"time"

	"github.com/redis/go-redis/v9"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	app "github.com/nOOne-is-hier/AgentFlow"
	"github.com/nOOne-is-hier/AgentFlow/internal/artifact"
	"github.com/nOOne-is-hier/AgentFlow/internal/assistant"
	"github.com/nOOne-is-hier/AgentFlow/internal/config"
	"github.com/nOOne-is-hier/AgentFlow/internal/engine"
	"github.com/nOOne-is-hier/AgentFlow/internal/runstore"
	"github.com/nOOne-is-hier/AgentFlow/internal/searchindex"
	"github.com/nOOne-is-hier/AgentFlow/internal/server"
	"github.com/nOOne-is-hier/AgentFlow/internal/stream"
	"github.com/nOOne-is-hier/AgentFlow/internal/workflow"
	"github.com/nOOne-is-hier/AgentFlow/pkg/log"
)

type agentflow struct {
	cfg        *config.Config
	redis      *redis.Client
	artifacts  *artifact.Store
	controller *engine.Controller
	hub        *stream.Hub
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrConnectRedis = errors.New("failed to connect to redis")
	ErrOpenBucket   = errors.New("failed to open blob bucket")
)

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

	s := &agentflow{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *agentflow) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}
	s.initializeController()
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *agentflow) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)
	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("AgentFlow starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.RedisAddr),
		slog.Int("redis_db", s.cfg.RedisDB),
		slog.String("redis_prefix", s.cfg.RedisPrefix),
		slog.String("bucket_url", s.cfg.BlobBucketURL),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *agentflow) initializeStores() error {
	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}

	store, err := artifact.OpenStore(ctx, s.cfg.BlobBucketURL)
	if err != nil {
		_ = s.redis.Close()
		return fmt.Errorf("%w: %w", ErrOpenBucket, err)
	}
	s.artifacts = store
	return nil
}

func (s *agentflow) initializeController() {
	logger := slog.Default()
	steps := &engine.Steps{
		Store:  s.artifacts,
		Index:  searchindex.NewLocal(),
		Parser: engine.NewTextParser(),
	}
	s.hub = stream.NewHub()

	s.controller = &engine.Controller{
		Runs:  runstore.New(s.redis, s.cfg.RedisPrefix),
		Steps: steps,
		Executor: &engine.Executor{
			Registry: steps.Registry(),
			Logger:   logger,
			Buffer:   s.cfg.EventBuffer,
		},
		Sink:         s.hub,
		Logger:       logger,
		PollInterval: s.cfg.HITLPollInterval,
	}
	if s.cfg.AssistantEndpoint != "" {
		s.controller.Assistant = assistant.NewClient(
			s.cfg.AssistantEndpoint, s.cfg.AssistantTimeout, logger)
	}
}

func (s *agentflow) startServer() {
	s.apiServer = server.NewServer(
		s.controller,
		workflow.New(s.redis, s.cfg.RedisPrefix),
		s.artifacts, s.hub, slog.Default(), s.cfg.HITLPollInterval)
	router := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: router,
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

func (s *agentflow) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.controller.Close()
	s.hub.Close()

	if err := s.artifacts.Close(); err != nil {
		slog.Error("Bucket close failed", log.Error(err))
	}
	if err := s.redis.Close(); err != nil {
		slog.Error("Redis close failed", log.Error(err))
	}

	slog.Info("Server exited")
}
