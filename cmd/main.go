/*
Package main is the entry point for the chat hub server.

It loads configuration from flags and environment variables, initializes the
global logging system, opens the session store and the backplane, starts the
HTTP server and the hub, and gracefully handles SIGINT and SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"chathub/internal/app/backplane"
	"chathub/internal/app/hub"
	"chathub/internal/app/session"
	"chathub/internal/configs"
	"chathub/internal/handler"
	"chathub/internal/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	configs.SetDefaults(v)

	cmd := &cobra.Command{
		Use:           "chathub",
		Short:         "Real-time chat hub with rooms, presence and admin moderation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configs.LoadConfig(v)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int(configs.KeyPort, v.GetInt(configs.KeyPort), "HTTP listen port")
	flags.String(configs.KeyEnvironment, v.GetString(configs.KeyEnvironment), "development or production")
	flags.String(configs.KeySessionBackend, v.GetString(configs.KeySessionBackend), "session store backend: memory, redis or postgres")
	flags.String(configs.KeyBackplane, v.GetString(configs.KeyBackplane), "broadcast backplane: local or nats")
	flags.String(configs.KeyInstanceID, v.GetString(configs.KeyInstanceID), "instance id used on the backplane (random when empty)")

	for _, key := range []string{
		configs.KeyPort,
		configs.KeyEnvironment,
		configs.KeySessionBackend,
		configs.KeyBackplane,
		configs.KeyInstanceID,
	} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	return cmd
}

func run(parent context.Context, cfg *configs.AppConfig) error {
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("instance_id", cfg.InstanceID).
		Str("session_backend", cfg.SessionBackend).
		Str("backplane", cfg.Backplane).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded successfully")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logx.Error(err, "Failed to close session store")
		}
	}()

	bp, err := backplane.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open backplane: %w", err)
	}

	chatHub, err := hub.New(store, bp, hub.Options{
		InstanceID:            cfg.InstanceID,
		MaxMessageBytes:       cfg.MaxMessageBytes,
		MessageRate:           rate.Limit(cfg.MessageRate),
		MessageBurst:          cfg.MessageBurst,
		NotifyDeniedPromotion: cfg.NotifyDeniedPromotion,
	})
	if err != nil {
		_ = bp.Close()
		return err
	}

	router, stopRouter := handler.Router(&handler.AppDeps{Hub: chatHub, Config: cfg})
	defer stopRouter()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logx.Info(fmt.Sprintf("Chat hub starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			_ = chatHub.Shutdown(context.Background())
			return fmt.Errorf("server failed to start: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	// hijacked websocket connections are not tracked by Shutdown; the hub closes them
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	if err := chatHub.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Hub shutdown failed")
	}

	logx.Info("Server gracefully stopped.")
	return nil
}
