// syncctl is the composition root for the offline sync engine: it wires one
// explicit instance of the store, replay client, driver, resolver and
// connectivity monitor, and exposes them as CLI commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	"github.com/c0deZ3R0/go-offline-sync/logging"
	"github.com/c0deZ3R0/go-offline-sync/storage/sqlite"
	"github.com/c0deZ3R0/go-offline-sync/transport/httpreplay"
)

var (
	configPath string
	cfg        Config
)

var rootCmd = &cobra.Command{
	Use:           "syncctl",
	Short:         "Offline sync queue control",
	Long:          "syncctl drains the offline mutation queue against the remote store,\nlists unresolved conflicts, and applies resolution strategies.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = LoadConfig(configPath)
		if err != nil {
			return err
		}
		logging.Init(cfg.Logging)
		return nil
	},
}

// openStore builds the durable store from config.
func openStore() (*sqlite.Store, error) {
	return sqlite.NewWithDataSource(cfg.DBPath)
}

// buildEngine wires the driver stack around an open store.
func buildEngine(store *sqlite.Store) (*offsync.Driver, *offsync.Monitor) {
	replayer := httpreplay.NewClient(cfg.RemoteURL,
		httpreplay.WithRoutes(offsync.DefaultRoutes()),
	)

	var monitor *offsync.Monitor
	driver := offsync.NewDriver(store, store, replayer,
		offsync.WithMaxRetries(cfg.MaxRetries),
		offsync.WithReplayTimeout(cfg.ReplayTimeout()),
		offsync.WithDeviceID(cfg.DeviceID),
		offsync.WithUserID(cfg.UserID),
		offsync.WithOnlineChecker(onlineCheckerFunc(func() bool {
			if monitor == nil {
				return true
			}
			return monitor.IsOnline()
		})),
	)
	monitor = offsync.NewMonitor(driver)
	return driver, monitor
}

type onlineCheckerFunc func() bool

func (f onlineCheckerFunc) IsOnline() bool { return f() }

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the queue on a periodic tick until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		_, monitor := buildEngine(store)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(cfg.TickInterval())
		defer ticker.Stop()

		logging.Info("sync loop started")
		monitor.Tick() // drain immediately on startup

		for {
			select {
			case <-ctx.Done():
				logging.Info("sync loop stopped")
				return nil
			case <-ticker.C:
				monitor.Tick()
			}
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run exactly one sync pass and report the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		driver, _ := buildEngine(store)

		result, err := driver.Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("replayed=%d failed=%d promoted=%d duration=%s\n",
			result.Replayed, result.Failed, result.Promoted, result.Duration)
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.ListConflicts(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no conflicts")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%s  %-12s %-7s detected=%s\n",
				rec.ID, rec.EntityType, rec.ConflictType,
				rec.Metadata.DetectedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var resolveStrategy string

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Apply a resolution strategy to a conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := offsync.NewResolver(store)
		result, err := resolver.Resolve(cmd.Context(), args[0],
			offsync.ResolutionStrategy(resolveStrategy))
		if err != nil {
			return err
		}

		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var resetConfirmed bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all offline data (queue, conflicts, cache)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirmed {
			return fmt.Errorf("refusing to wipe offline data without --yes")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearAllOfflineData(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("offline data cleared")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	resolveCmd.Flags().StringVarP(&resolveStrategy, "strategy", "s", "server",
		"resolution strategy: client, server, merge, manual, newest, custom")
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "confirm wiping all offline data")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
