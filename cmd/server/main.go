package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perceptionlab/assignd/internal/api"
	"github.com/perceptionlab/assignd/internal/archive"
	"github.com/perceptionlab/assignd/internal/config"
	"github.com/perceptionlab/assignd/internal/engine"
	"github.com/perceptionlab/assignd/internal/imagelib"
	"github.com/perceptionlab/assignd/internal/store"
	"github.com/perceptionlab/assignd/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if cfg.AppEnv == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}

	ctx := context.Background()
	telemetry.Init()

	st, err := store.NewStore(ctx, cfg.StoreType, store.Options{
		StateFile: cfg.StateFile,
		DSN:       cfg.DatabaseDSN,
		StateName: cfg.StateName,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()

	space, err := buildSpace(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("condition space invalid")
	}

	coord, err := engine.New(st, space, cfg.SessionTimeout, engine.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("coordinator init failed")
	}

	ar, err := archive.New(cfg.DataDir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("archive init failed")
	}
	images, err := imagelib.New(cfg.ImagesDir, "/images", log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("image library init failed")
	}

	srvAPI := api.NewServer(coord, ar, images, cfg.StaticDir, cfg.AdminAPIKey, cfg.RateLimitPerIP, log.Logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("store", cfg.StoreType).
			Str("space", cfg.SpaceMode).
			Str("policy", string(space.Policy())).
			Dur("session_timeout", cfg.SessionTimeout).
			Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	_ = metricsSrv.Shutdown(ctxShut)
	log.Info().Msg("stopped")
}

func buildSpace(cfg *config.Config) (*engine.Space, error) {
	if cfg.SpaceMode == "repetitions" {
		return engine.NewRepetitionSpace(cfg.Repetitions)
	}
	return engine.NewGroupSpace(cfg.Groups)
}
