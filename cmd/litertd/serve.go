package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maceip/rlitert-lm/internal/httpapi"
)

func buildServeCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			baseCtx, cancel := context.WithCancel(context.Background())
			defer cancel()

			mgr, err := buildManager(baseCtx, cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			httpapi.SetLogger(log)
			httpapi.SetBaseContext(baseCtx)
			mux := httpapi.NewMux(mgr)
			srv := &http.Server{Addr: cfg.Addr, Handler: mux}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("litertd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			// Graceful shutdown (Ctrl+C / SIGTERM)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}
			cancel() // unblocks in-flight handlers
			ctx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer sdCancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (defaults LITERTD_ADDR or :8080)")
	return cmd
}
