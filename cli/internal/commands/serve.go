package commands

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/notes/api/handlers"
	"github.com/malbeclabs/notes/api/server"
	"github.com/malbeclabs/notes/client/pkg/metrics"
	"github.com/malbeclabs/notes/utils/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newServeCommand(r *root) *cobra.Command {
	var (
		listenAddr    string
		enableMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the client state and note operations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.NewWithWriter(cmd.ErrOrStderr(), r.verbose, false)
			scfg := r.cfg.Server
			if cmd.Flags().Changed("listen-addr") {
				scfg.ListenAddr = listenAddr
			}

			build := r.opts.Build
			metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.Date).Set(1)

			if scfg.SentryDSN != "" {
				if err := sentry.Init(sentry.ClientOptions{
					Dsn:              scfg.SentryDSN,
					Environment:      scfg.SentryEnvironment,
					Release:          build.Version,
					EnableTracing:    true,
					TracesSampleRate: 0.1,
				}); err != nil {
					return fmt.Errorf("failed to initialize sentry: %w", err)
				}
				defer sentry.Flush(2 * time.Second)
				log.Info("serve: sentry enabled", "environment", scfg.SentryEnvironment)
			}

			a, closeApp, err := r.openApp(ctx, openOptions{log: log})
			if err != nil {
				return err
			}
			defer closeApp()

			h, err := handlers.New(handlers.Config{
				Logger:          log,
				Session:         a.Session,
				Account:         a.Watcher,
				Notes:           a.View,
				MutationTimeout: r.cfg.ConfirmTimeout.Std(),
			})
			if err != nil {
				return err
			}

			var limiter *handlers.RateLimiter
			if scfg.MutationsPerMinute > 0 {
				limiter = handlers.NewRateLimiter(nil, rate.Every(time.Minute/time.Duration(scfg.MutationsPerMinute)), scfg.MutationsPerMinute)
			}
			srv, err := server.New(server.Config{
				Logger:          log,
				ListenAddr:      scfg.ListenAddr,
				ShutdownTimeout: scfg.ShutdownTimeout.Std(),
				VersionInfo: server.VersionInfo{
					Version: build.Version,
					Commit:  build.Commit,
					Date:    build.Date,
				},
				Handlers:    h,
				RateLimiter: limiter,
				CORSOrigins: scfg.CORSOrigins,
				Metrics:     enableMetrics,
				Sentry:      scfg.SentryDSN != "",
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "address to listen on (or set NOTES_LISTEN_ADDR)")
	cmd.Flags().BoolVar(&enableMetrics, "metrics", true, "expose prometheus metrics on /metrics")
	return cmd
}
