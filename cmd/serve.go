package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/cogserve/internal/config"
	"github.com/kiesman99/cogserve/internal/logging"
	"github.com/kiesman99/cogserve/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP preview and tile server",
	Long: `Start an HTTP server exposing the COG endpoints.

Examples:
  # Serve rasters from the current directory on port 8080
  cogserve serve

  # Serve a dedicated data directory on all interfaces
  cogserve serve --bind 0.0.0.0 --port 8000 --data-root /srv/rasters

  # Disable the ranged-read cache (also reachable as COGSERVE_CACHE_DISABLED=true)
  cogserve serve --cache-disabled`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
	serveCmd.Flags().Bool("cache-disabled", false, "disable the block cache for ranged reads")
	serveCmd.Flags().Bool("static-listing", false, "allow directory listings on the /files mount")

	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("cache.disabled", serveCmd.Flags().Lookup("cache-disabled"))
	viper.BindPFlag("static.listing", serveCmd.Flags().Lookup("static-listing"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	handler, err := server.New(cfg, log, Version)
	if err != nil {
		return err
	}
	router := handler.Routes()
	server.LogRoutes(router, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("data_root", cfg.Data.Root).
		Str("version", Version).
		Msg("cogserve listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
