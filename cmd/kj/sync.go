package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kayedejour/kayedejour/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize now",
	Long: `Run one full sync cycle for the signed-in account:

  1. Push locally changed notes and folders to the cloud store
  2. Push pending deletes and purge their local tombstones
  3. Pull the account's rows and merge them last-write-wins

Running it repeatedly is safe; a cycle already in flight is shared
rather than duplicated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		engine, session, err := newEngine(cfg, st)
		if err != nil {
			return err
		}

		fmt.Printf("%s Syncing as %s...\n", ui.RenderAccent("↻"), session.OwnerID)
		start := time.Now()

		if err := engine.SyncAll(ctx, session.OwnerID); err != nil {
			fmt.Printf("%s Sync failed\n", ui.RenderFail(ui.IconFail))
			return err
		}

		fmt.Printf("%s Sync complete in %v\n",
			ui.RenderPass(ui.IconPass), time.Since(start).Round(time.Millisecond))
		return nil
	},
}
