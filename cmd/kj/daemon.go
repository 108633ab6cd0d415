package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kayedejour/kayedejour/internal/daemon"
	"github.com/kayedejour/kayedejour/internal/realtime"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync",
	Long: `Run the sync daemon for the signed-in account.

The daemon bootstraps the local store, syncs on a fixed interval, and
additionally reacts to the remote change feed when realtime_url is
configured. With import_dir set it also watches that directory for
dropped note JSON files and imports them. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		engine, session, err := newEngine(cfg, st)
		if err != nil {
			return err
		}

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = cfg.SyncInterval
		dcfg.ImportDir = cfg.ImportDir
		if cfg.LogFile != "" {
			dcfg.Logger = log.New(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
			}, "[daemon] ", log.LstdFlags)
		}

		var sub *realtime.Subscriber
		if cfg.RealtimeURL != "" {
			sub = realtime.New(realtime.Config{
				URL:     cfg.RealtimeURL,
				Token:   cfg.AccessToken,
				OwnerID: session.OwnerID,
				Logger:  dcfg.Logger,
			})
		}

		d, err := daemon.New(engine, st, session.OwnerID, sub, dcfg)
		if err != nil {
			return err
		}

		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
