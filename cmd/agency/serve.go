package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/spf13/cobra"

	"agencyhub/internal/engine"
	"agencyhub/internal/logging"
	"agencyhub/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:      os.Getenv("AGENCY_JWT_SECRET"),
				EnableDevLogin: devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AGENCY_JWT_SECRET is required for bearer auth")
			}
			return withEngineLogger(cmd.Context(), func(ctx context.Context, e engine.Engine, logger *bolt.Logger) error {
				authCfg.Logger = logger
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
				if err != nil {
					return err
				}

				hooksCtx, cancelHooks := context.WithCancel(ctx)
				defer cancelHooks()
				if d := server.NewWebhookDispatcher(e, logger); d != nil {
					go d.Run(hooksCtx)
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logging.With(logger.Info(), logging.Component("serve")).
					Str("addr", addr).
					Str("base_path", basePath).
					Bool("dev_login", devLogin).
					Msg("serving agency API (OpenAPI at /openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (development only)")
	return cmd
}
