package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/startuppulse/pulsesync/internal/client/cli"
	"github.com/startuppulse/pulsesync/internal/config"
	"github.com/startuppulse/pulsesync/internal/models"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type withApp func(ctx context.Context, c *cobra.Command, a *app, args []string) error

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "pulsesync",
		Short:         "Offline-first sync client for pulses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")
	config.BindFlags(cmd.PersistentFlags(), config.DefaultClient())

	// live: подключение к ленте NATS нужно только долгоживущей команде run
	wrap := func(live bool, fn withApp) func(c *cobra.Command, args []string) error {
		return func(c *cobra.Command, args []string) error {
			cfg, err := config.NewLoader(configPath, c.Flags()).WithDotenv(".env").LoadClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, live)
			if err != nil {
				return err
			}
			defer a.close()
			return fn(ctx, c, a, args)
		}
	}

	cmd.AddCommand(
		runCmd(wrap),
		submitCmd(wrap),
		listCmd(wrap),
		getCmd(wrap),
		statusCmd(wrap),
		entitleCmd(wrap),
		versionCmd(),
	)
	return cmd
}

type wrapFunc func(live bool, fn withApp) func(c *cobra.Command, args []string) error

func runCmd(wrap wrapFunc) *cobra.Command {
	var control bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize continuously until interrupted",
		Long: `Synchronize continuously until interrupted.

The local database is locked by the running process, so other pulsesync
commands against the same database wait and then fail while run is active.
With --stdin, run accepts changes and billing events as JSON lines instead:

  {"op":"submit","mutation":"update","id":"<id>","fields":["status=active"]}
  {"op":"entitle","event":"purchased","purchase_token":"<token>","sku":"pro_monthly"}`,
		RunE: wrap(true, func(ctx context.Context, c *cobra.Command, a *app, _ []string) error {
			g, gctx := errgroup.WithContext(ctx)

			updates, cancel := a.engine.Statuses(64)
			defer cancel()
			g.Go(func() error {
				a.cli.Watch(gctx, updates)
				return nil
			})

			g.Go(func() error { return a.engine.Run(gctx) })

			var billing chan models.BillingEvent
			if a.monitor != nil {
				billing = make(chan models.BillingEvent, 8)
				g.Go(func() error { return a.monitor.Run(gctx, billing) })
			}

			if control {
				g.Go(func() error { return a.cli.Serve(gctx, c.InOrStdin(), billing) })
			}

			if a.cfg.MetricsAddr != "" {
				srv := &http.Server{
					Addr:              a.cfg.MetricsAddr,
					Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				g.Go(func() error {
					a.logger.Info("Serving metrics", "addr", a.cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server failed: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			return g.Wait()
		}),
	}
	cmd.Flags().BoolVar(&control, "stdin", false, "accept submit and entitle commands as JSON lines on stdin")
	return cmd
}

func submitCmd(wrap wrapFunc) *cobra.Command {
	var (
		opts     cli.SubmitOptions
		mutation string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create, update or delete a document locally",
		Long: `Create, update or delete a document locally.

The change is journaled and pushed by the next run. While run is active it
holds the database lock; send the change through run --stdin instead.`,
		Example: `  pulsesync submit --kind pulse --field title="Solar kiosks" --author user-1
  pulsesync submit --mutation update --id <id> --field status=active
  pulsesync submit --mutation delete --id <id>`,
		RunE: wrap(false, func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			opts.Mutation = models.MutationType(mutation)
			return a.cli.Submit(ctx, opts)
		}),
	}
	cmd.Flags().StringVar(&mutation, "mutation", string(models.MutationCreate), "create, update or delete")
	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (generated for create when empty)")
	cmd.Flags().StringVar(&opts.Kind, "kind", models.KindPulse, "document kind for create")
	cmd.Flags().StringArrayVar(&opts.Fields, "field", nil, "field as key=value, repeatable")
	cmd.Flags().StringVar(&opts.Author, "author", "", "user id recorded as author of a new pulse")
	cmd.Flags().BoolVar(&opts.Premium, "premium", false, "mark the change as premium")
	return cmd
}

func listCmd(wrap wrapFunc) *cobra.Command {
	var (
		kind    string
		deleted bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local documents",
		RunE: wrap(false, func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			return a.cli.List(ctx, kind, deleted)
		}),
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only documents of this kind")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include deleted documents")
	return cmd
}

func getCmd(wrap wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a local document and its sync state",
		Args:  cobra.ExactArgs(1),
		RunE: wrap(false, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			return a.cli.Get(ctx, args[0])
		}),
	}
}

func statusCmd(wrap wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status [<id> <seq>]",
		Short: "Show device sync status, or the status of one accepted change",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return errors.New("expected no arguments or <id> <seq>")
			}
			return nil
		},
		RunE: wrap(false, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			if len(args) == 0 {
				return a.cli.Status(ctx)
			}
			seq, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid seq %q: %w", args[1], err)
			}
			return a.cli.WriteStatus(ctx, args[0], seq)
		}),
	}
}

func entitleCmd(wrap wrapFunc) *cobra.Command {
	var ev models.BillingEvent
	var event string

	cmd := &cobra.Command{
		Use:   "entitle",
		Short: "Apply a billing event and verify the subscription with the server",
		Long: `Apply a billing event and verify the subscription with the server.

While run is active it holds the database lock; send the event through
run --stdin instead.`,
		RunE: wrap(false, func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			ev.Type = models.BillingEventType(event)
			return a.cli.Entitle(ctx, ev)
		}),
	}
	cmd.Flags().StringVar(&event, "event", string(models.BillingPurchased), "purchased, renewed, canceled, revoked or expired")
	cmd.Flags().StringVar(&ev.PurchaseToken, "purchase-token", "", "purchase token from the billing provider")
	cmd.Flags().StringVar(&ev.SKU, "sku", "", "product id of the subscription")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(c *cobra.Command, _ []string) {
			out := c.OutOrStdout()
			fmt.Fprintf(out, "pulsesync client\n")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}
