package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// main starts the two listeners: the relay hub cameras and viewers connect
// to, and the page server carrying the static dashboard.
func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	gin.SetMode(gin.ReleaseMode)

	settings := newSettingsStore(cfg.SettingsPath)
	events := newMotionEmitter(cfg.MQTT)
	if events != nil {
		if err := events.connect(); err != nil {
			log.Warn().Err(err).Msg("mqtt broker unreachable, motion events disabled")
			events = nil
		}
	}

	h := newHub(settings, events)
	h.loadPersisted()
	go h.runRouter()

	hubSrv := &http.Server{Addr: cfg.HubAddr, Handler: newHubRouter(h)}
	pageSrv := &http.Server{Addr: cfg.PageAddr, Handler: newPageRouter(cfg.StaticDir)}

	go func() {
		log.Info().Str("addr", cfg.HubAddr).Msg("relay hub listening")
		if err := hubSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("hub listener failed")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.PageAddr).Msg("page server listening")
		if err := pageSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("page listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	h.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := hubSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("hub shutdown")
	}
	if err := pageSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("page server shutdown")
	}
	log.Info().Msg("server exited")
}
