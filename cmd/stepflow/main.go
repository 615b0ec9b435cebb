package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"

	"stepflow/internal/api"
	"stepflow/internal/auth"
	"stepflow/internal/cronlog"
	"stepflow/internal/scheduler"
	"stepflow/internal/sink"
	"stepflow/internal/store"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "HTTP bind address")
		dbPath       = flag.String("db", "stepflow.db", "SQLite DB path")
		tz           = flag.String("tz", "", "scheduler timezone (IANA name, empty = local)")
		sinkEndpoint = flag.String("sink", "http://localhost:9000/activity", "activity sink endpoint")
		sinkRate     = flag.Int("sink-rate", 1, "max sink submissions per second")
		fireTimeout  = flag.Duration("fire-timeout", time.Minute, "per-firing deadline")
		oauthToken   = flag.String("oauth-token-url", "", "token refresh endpoint (empty disables refresh)")
		oauthID      = flag.String("oauth-client-id", os.Getenv("OAUTH_CLIENT_ID"), "oauth client id")
		oauthSecret  = flag.String("oauth-client-secret", os.Getenv("OAUTH_CLIENT_SECRET"), "oauth client secret")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure settings schema")
	}
	if err := cronlog.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure log schema")
	}

	repo := store.NewSQLiteRepo(db)
	logStore := cronlog.NewSQLiteStore(db)
	hub := cronlog.NewHub()
	logSink := cronlog.NewSink(logStore, hub)

	var oauthConf *oauth2.Config
	if *oauthToken != "" {
		oauthConf = &oauth2.Config{
			ClientID:     *oauthID,
			ClientSecret: *oauthSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: *oauthToken},
		}
	}
	authProvider := auth.NewProvider(repo, oauthConf)
	activitySink := sink.New(*sinkEndpoint, *sinkRate)

	registry := scheduler.NewRegistry(scheduler.Config{
		Timezone:    *tz,
		FireTimeout: *fireTimeout,
	}, repo, authProvider, activitySink, logSink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go logSink.Run(ctx)

	if err := registry.StartAll(ctx); err != nil {
		log.Error().Err(err).Msg("bulk start failed, continuing with zero jobs")
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(registry, repo, logStore, hub)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	registry.Close(ctxTimeout)
}
