package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/httpapi"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat engine over a local HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := a.cfg.HTTPAddr
		if v, _ := cmd.Flags().GetString("addr"); v != "" {
			addr = v
		}

		// cancelled on shutdown so open event feeds return
		baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelBase()

		h := handlers.NewHandler(a.svc, a.models, a.repo, a.log.Named("http"))
		srv := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewRouter(h, a.log.Named("http")),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		}

		if err := a.svc.RefreshTopics(ctx); err != nil {
			a.log.Warn("initial topic load failed", zap.Error(err))
		}

		errc := make(chan error, 1)
		go func() {
			a.log.Info("listening", zap.String("addr", addr))
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		a.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		cancelBase()
		err = srv.Shutdown(sctx)
		h.Shutdown()
		return err
	},
}
