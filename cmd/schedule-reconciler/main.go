package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"schedule-reconciler/internal/config"
	"schedule-reconciler/internal/db"
	httphandler "schedule-reconciler/internal/http"
	"schedule-reconciler/internal/logger"
	"schedule-reconciler/internal/pipeline"
	"schedule-reconciler/internal/repository"
	"schedule-reconciler/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cfg, logger.New(cfg.Log.Level, cfg.Log.Format))
	}

	cmd := &cobra.Command{
		Use:           "schedule-reconciler",
		Short:         "Reconcile gate detections against the vehicle schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("RECONCILER_CONFIG"), "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Load and validate configuration, then print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			if cfg.DB.DSN != "" {
				cfg.DB.DSN = "********"
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})
	return cmd
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cameras := make(map[string]pipeline.Camera, len(cfg.Gates))
	for _, g := range cfg.Gates {
		cameras[g.ID] = pipeline.Camera{ID: g.CameraID, Name: g.CameraName}
	}

	svc := service.NewReconciliationService(service.Options{
		FuzzyThreshold:    cfg.Matching.FuzzyThreshold,
		LogCapacity:       cfg.Log.Capacity,
		AutoDetectDefault: cfg.Pipeline.AutoDetectDefault,
		OverdueGrace:      cfg.Schedule.OverdueGrace,
		Cameras:           cameras,
	}, log)

	handler := httphandler.NewHandler(svc, log)

	archiveDone := make(chan struct{})
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()
	if cfg.DB.Enabled {
		gdb, err := db.Open(cfg.DB.DSN, log)
		if err != nil {
			svc.Close()
			return err
		}
		archive := service.NewArchiveService(repository.NewArchiveRepository(gdb), 1024, log)
		sub := archive.Attach(svc)
		defer sub.Cancel()
		handler.WithArchive(archive)

		go func() {
			defer close(archiveDone)
			archive.Run(archiveCtx)
		}()
		go runRetention(ctx, archive, cfg.DB.RetentionDays, cfg.DB.CleanupInterval, log)
	} else {
		close(archiveDone)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		JWTSecret:   cfg.Auth.JWTSecret,
	}, log)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, operator endpoints are unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Int("gates", len(cameras)).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			svc.Close()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	svc.Close()
	stopArchive()
	<-archiveDone
	log.Info().Msg("stopped")
	return nil
}

func runRetention(ctx context.Context, archive *service.ArchiveService, days int, interval time.Duration, log zerolog.Logger) {
	if days <= 0 || interval <= 0 {
		log.Info().Msg("archive retention disabled")
		return
	}
	cleanup := func() {
		if _, err := archive.CleanupOldEntries(ctx, days); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("archive cleanup failed")
		}
	}
	cleanup()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}
