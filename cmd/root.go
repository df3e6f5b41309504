// Package cmd implements the vtptmeter command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vtpt/vtpt-meter/auth"
	"github.com/vtpt/vtpt-meter/config"
	"github.com/vtpt/vtpt-meter/logging"
	"github.com/vtpt/vtpt-meter/remote"
	"github.com/vtpt/vtpt-meter/storage/sqlite"
	"github.com/vtpt/vtpt-meter/syncer"
)

var (
	configFlag string
	pinFlag    string
)

var rootCmd = &cobra.Command{
	Use:           "vtptmeter",
	Short:         "Utility meter tracker for the VTPT boarding houses",
	Long:          "Record electricity and water readings per room, offline-tolerant, synced to the shared spreadsheet.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.yaml (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&pinFlag, "pin", "", "sign-in PIN (default: saved session or VTPT_PIN)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles the wired components behind one Close.
type app struct {
	cfg    config.Config
	store  *sqlite.Store
	client *remote.Client
	sync   *syncer.Syncer
}

// configDir is where the config file and local store live by default.
func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "vtpt-meter"), nil
}

// newApp loads configuration and wires the local store, remote client, and
// syncer together.
func newApp() (*app, error) {
	path := configFlag
	if path == "" {
		dir, err := configDir()
		if err == nil {
			candidate := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging)

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, dbPath)
	}

	store, err := sqlite.New(&sqlite.Config{
		DataSourceName: dbPath,
		EnableWAL:      cfg.Storage.EnableWAL,
	})
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(cfg.Remote.BaseURL,
		remote.WithToken(cfg.Remote.Token),
		remote.WithTimeout(cfg.Remote.Timeout.Std()),
	)

	a := &app{
		cfg:    cfg,
		store:  store,
		client: client,
		sync:   syncer.New(client, store, cfg.Directory(), cfg.SyncerConfig()),
	}
	return a, nil
}

func (a *app) Close() {
	_ = a.sync.Close()
	_ = a.store.Close()
}

// pin resolves the caller's PIN: flag, then environment, then the saved
// session.
func (a *app) pin(cmd *cobra.Command) (string, error) {
	if pinFlag != "" {
		return pinFlag, nil
	}
	if env := os.Getenv("VTPT_PIN"); env != "" {
		return env, nil
	}
	if saved := a.sync.Session().Load(cmd.Context()); saved != "" {
		return saved, nil
	}
	return "", fmt.Errorf("no PIN: pass --pin, set VTPT_PIN, or record a reading to save a session")
}

// identity resolves and prints nothing; used by commands that want the
// admin gate before doing work.
func (a *app) identity(cmd *cobra.Command) (auth.Identity, string, error) {
	pin, err := a.pin(cmd)
	if err != nil {
		return auth.Identity{}, "", err
	}
	id, err := a.cfg.Directory().Resolve(pin)
	if err != nil {
		return auth.Identity{}, "", err
	}
	return id, pin, nil
}
