package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mediapack/internal/api"
	"mediapack/internal/archive"
	"mediapack/internal/config"
	fileutil "mediapack/internal/file"
	"mediapack/internal/job"
)

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	router := setupRouter()

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	jobManager := buildJobManager(cfg)
	wireAPI(router, jobManager)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	jobManager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, jobManager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.RequestLogger())
	return r
}

func buildJobManager(cfg config.Config) *job.Manager {
	jm := job.NewManagerWithOptions(job.Options{
		DataDir:           cfg.DataDir,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		BuildWorkers:      cfg.BuildWorkers,
		Archive:           archiveOptions(cfg),
	})

	_ = jm.LoadFromDisk()
	return jm
}

func archiveOptions(cfg config.Config) archive.Options {
	return archive.Options{
		CompressionLevel: cfg.CompressionLevel,
		ChunkSize:        cfg.ChunkSize,
		MaxParallel:      cfg.MaxParallel,
	}
}

func wireAPI(router *gin.Engine, jm *job.Manager) {
	apiHandler := api.NewAPI(jm)
	apiHandler.RegisterRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, jm *job.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := jm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	jm.Close()
	log.Info().Msg("server exited cleanly")
}
