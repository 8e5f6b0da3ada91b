package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"sdturbo/internal/config"
	"sdturbo/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(o *Options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Load the pipeline and serve the HTTP API",
		Example: "  sdturbod serve --addr :8080 --set provider=webgpu",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []string
			if addr != "" {
				extra = append(extra, "addr="+addr)
			}
			cfg, err := o.resolve(extra...)
			if err != nil {
				return err
			}
			a, err := build(cfg, NewLogger(cfg.LogLevel, o.stderr))
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults "+config.EnvAddr+" or "+config.DefaultAddr+")")
	return cmd
}

// serve runs the HTTP API on ln and loads the pipeline in the background.
// It returns after ctx is canceled and the server has shut down.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	httpapi.SetLogger(a.log)
	httpapi.SetDefaultLogLevel(a.cfg.LogLevel)
	httpapi.SetCORSOrigins(a.cfg.CORSOrigins)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Handler:           httpapi.NewMux(a.svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if _, err := a.svc.Load(ctx, false); err != nil && ctx.Err() == nil {
			a.log.Error().Err(err).Msg("initial load failed; retry with POST /load")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("sdturbod listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := a.pipe.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close pipeline")
	}
	a.log.Info().Msg("sdturbod stopped")
	return nil
}
