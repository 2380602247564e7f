package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"socialflow/internal/api"
	"socialflow/internal/clock"
	"socialflow/internal/config"
	"socialflow/internal/domain"
	"socialflow/internal/maintenance"
	"socialflow/internal/publication"
	"socialflow/internal/queue"
	"socialflow/internal/sqlitedb"
	"socialflow/internal/store"
	"socialflow/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := sqlitedb.Open(ctx, cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	if err := queue.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("ensure queue schema")
	}
	clk := clock.Real()
	st := store.New(sqlitedb.Bun(db), clk, store.WithBcryptCost(cfg.Auth.BcryptCost))
	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate store")
	}

	repo := queue.NewSQLiteRepo(db, clk,
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithVisibilityTimeout(cfg.Worker.VisibilityTimeout))
	if n, err := repo.RecoverStale(ctx, clk.Now()); err != nil {
		log.Error().Err(err).Msg("recover stale running tasks")
	} else {
		log.Info().Int("recovered", n).Msg("recovered stale running tasks")
	}

	pub := publication.NewService(repo, st, st, clk)

	handlers := map[string]worker.Handler{
		domain.TaskTypePublishPost: pub,
	}
	pool := worker.NewPool(repo, handlers, cfg.Worker.Count, cfg.Worker.Poll)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	sweeper := maintenance.NewService(repo, clk, cfg.Maintenance.Cron, cfg.Maintenance.Retention)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start maintenance")
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewServerWithDebug(st, repo, pub, cfg.HTTP.Debug)}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	sweeper.Stop()
	<-poolDone
}
