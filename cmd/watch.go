package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"allin/internal/authstate"
	"allin/internal/session"
	"allin/pkg/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var watchMetricsAddr string

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session alive and follow changes",
	Long: `Run in the foreground, keeping the bearer token refreshed and
printing every state change. Sign-ins and sign-outs made by other allin
processes sharing the same session directory are picked up as they happen.

With --metrics-addr the session metrics are served in the Prometheus
format on /metrics.

Examples:
  allin watch
  allin watch --metrics-addr :9090`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withRuntime(ctx, func(rt *runtime) error {
		unsubscribe := rt.session.Machine().SubscribeState(func(prev, next authstate.State) {
			authPrint(cmd, "%s  %s -> %s\n", time.Now().Format(time.TimeOnly), prev, stateLabel(next.String()))
		})
		defer unsubscribe()

		authPrint(cmd, "Watching session (%s), press Ctrl+C to stop.\n", stateLabel(rt.session.State().String()))

		g, gctx := errgroup.WithContext(ctx)

		if w, ok := rt.durable.(session.Watcher); ok {
			g.Go(func() error {
				return rt.session.WatchExternal(gctx, w)
			})
		} else {
			logging.Info("Watch", "storage backend %s cannot be watched, changes by other processes are not followed", rt.cfg.Storage.Backend)
		}

		if watchMetricsAddr != "" {
			srv := &http.Server{Addr: watchMetricsAddr, ReadHeaderTimeout: 5 * time.Second}
			mux := http.NewServeMux()
			mux.Handle("/metrics", rt.metrics.Handler())
			srv.Handler = mux

			g.Go(func() error {
				logging.Info("Watch", "serving metrics on %s/metrics", watchMetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		g.Go(func() error {
			<-gctx.Done()
			return nil
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}
