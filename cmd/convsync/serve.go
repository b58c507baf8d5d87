package main

import (
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/hrygo/convsync/server/router/api/v1"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciler against the local backend and serve the debug API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			prof, err := loadProfile(v)
			if err != nil {
				return err
			}

			b, err := openBackend(ctx, prof)
			if err != nil {
				return err
			}
			defer b.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			r, err := newReconciler(b.gateway, prof, reg)
			if err != nil {
				return err
			}
			defer r.Close()

			echoServer := apiv1.NewEchoServer(apiv1.NewAPIV1Service(prof, r, reg))
			addr := net.JoinHostPort(prof.Addr, strconv.Itoa(prof.Port))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return r.Run(gctx)
			})
			g.Go(func() error {
				slog.Info("debug server listening", "addr", addr, "version", prof.Version, "mode", prof.Mode)
				if err := echoServer.Start(addr); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				r.Close()
				return apiv1.Shutdown(echoServer, shutdownTimeout)
			})
			return g.Wait()
		},
	}
}
