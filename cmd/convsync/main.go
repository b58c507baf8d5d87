package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/convsync/internal/profile"
	"github.com/hrygo/convsync/plugin/gateway/local"
	"github.com/hrygo/convsync/server/reconciler"
	"github.com/hrygo/convsync/store"
	"github.com/hrygo/convsync/store/db"
)

// version is set at build time.
var version = "0.1.0-dev"

var (
	v = profile.NewViper()

	rootCmd = &cobra.Command{
		Use:           "convsync",
		Short:         "Conversation list reconciler with a local development backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", profile.DefaultMode, `mode of the local backend: "prod", "dev" or "demo"`)
	flags.String("addr", profile.DefaultAddr, "address of the debug server")
	flags.Int("port", profile.DefaultPort, "port of the debug server")
	flags.String("data", "", "data directory of the local backend, empty keeps data in memory")
	flags.String("driver", profile.DefaultDriver, `database driver: "sqlite" or "postgres"`)
	flags.String("dsn", "", "database source name")
	flags.String("log-level", profile.DefaultLogLevel, "log level: debug, info, warn or error")
	flags.Duration("sync-interval", profile.DefaultSyncInterval, "polling backstop interval, 0 disables it")
	flags.Duration("reload-every", profile.DefaultReloadEvery, "minimum spacing between reloads")
	flags.Int("reload-burst", profile.DefaultReloadBurst, "reloads allowed back to back")
	flags.Int("preview-length", profile.DefaultPreviewLength, "preview length in characters")
	flags.Int("preview-cache-size", profile.DefaultPreviewCacheSize, "number of cached previews")
	flags.String("default-model", "", "model label reported for AI conversations")

	for _, name := range []string{
		"mode", "addr", "port", "data", "driver", "dsn", "log-level",
		"sync-interval", "reload-every", "reload-burst",
		"preview-length", "preview-cache-size", "default-model",
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(newDemoCmd(), newListCmd(), newServeCmd())
}

// loadProfile resolves flags, environment and defaults into a validated
// profile and installs the default logger.
func loadProfile(vp *viper.Viper) (*profile.Profile, error) {
	prof := &profile.Profile{Version: version}
	prof.FromViper(vp)
	if err := prof.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: prof.SlogLevel()}))
	slog.SetDefault(logger)
	return prof, nil
}

// backend is the local backend and the driver it owns.
type backend struct {
	driver  store.Driver
	gateway *local.Gateway
}

func openBackend(ctx context.Context, prof *profile.Profile) (*backend, error) {
	driver, err := db.NewDBDriver(prof)
	if err != nil {
		return nil, err
	}
	if err := driver.Migrate(ctx); err != nil {
		_ = driver.Close()
		return nil, err
	}
	gw := local.New(driver,
		local.WithLogger(slog.Default()),
		local.WithDefaultModel(prof.DefaultModel),
	)
	return &backend{driver: driver, gateway: gw}, nil
}

func (b *backend) Close() {
	b.gateway.Close()
	if err := b.driver.Close(); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
}

func newReconciler(gw *local.Gateway, prof *profile.Profile, reg prometheus.Registerer) (*reconciler.Reconciler, error) {
	return reconciler.New(gw,
		reconciler.WithLogger(slog.Default()),
		reconciler.WithRegisterer(reg),
		reconciler.WithSyncInterval(prof.SyncInterval),
		reconciler.WithReloadLimit(prof.ReloadEvery, prof.ReloadBurst),
		reconciler.WithPreview(prof.PreviewLength, prof.PreviewCacheSize),
		reconciler.WithErrorHandler(func(_, message string) {
			fmt.Fprintln(os.Stderr, message)
		}),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
