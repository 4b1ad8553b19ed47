package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"marketfeed/internal/app"
	"marketfeed/internal/config"
	"marketfeed/internal/logging"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a JSON or YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build")
	}
	a.Start()
	defer a.Close()

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: newRouter(&api{
			svc:      a.Service,
			reports:  a.Reporter,
			timeout:  time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
			maxBatch: cfg.Server.MaxBatch,
		}, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+5) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server")
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	log.Info("server stopped")
}
