// Command kj is the Kayedejour journal CLI: a local-first notes store
// with background synchronization to a remote row store.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kayedejour/kayedejour/internal/auth"
	"github.com/kayedejour/kayedejour/internal/config"
	"github.com/kayedejour/kayedejour/internal/remote"
	"github.com/kayedejour/kayedejour/internal/store"
	"github.com/kayedejour/kayedejour/internal/sync"
)

var (
	flagConfig string
	flagDB     string
)

var rootCmd = &cobra.Command{
	Use:   "kj",
	Short: "Offline-first journal with cloud sync",
	Long: `kj keeps your journal in a local database that works fully offline,
and synchronizes it with your account's cloud store whenever a
connection is available. The local store is always the source of
truth for what you see; sync happens out of band.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./kayedejour.yaml or ~/.config/kayedejour/kayedejour.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database file (overrides config)")

	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

// loadConfig resolves configuration plus command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.StorePath = flagDB
	}
	return cfg, nil
}

// openStore opens and initializes the local store.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// currentSession parses the configured access token. A missing token
// means guest usage: local-only, no remote operations.
func currentSession(cfg *config.Config) (*auth.Session, error) {
	if cfg.AccessToken == "" {
		return nil, nil
	}
	return auth.ParseToken(cfg.AccessToken)
}

// newEngine builds the sync engine for an authenticated session.
func newEngine(cfg *config.Config, st *store.Store) (*sync.Engine, *auth.Session, error) {
	session, err := currentSession(cfg)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, fmt.Errorf("not signed in: set access_token in the config or KJ_ACCESS_TOKEN")
	}
	if cfg.RemoteURL == "" {
		return nil, nil, fmt.Errorf("no remote configured: set remote_url in the config or KJ_REMOTE_URL")
	}

	client, err := remote.NewHTTP(remote.Config{
		BaseURL: cfg.RemoteURL,
		APIKey:  cfg.APIKey,
		Token:   cfg.AccessToken,
	})
	if err != nil {
		return nil, nil, err
	}

	return sync.New(st, client, nil), session, nil
}
