package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and session status",
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

		fmt.Printf("Store: %s", st.Path())
		if info, err := os.Stat(st.Path()); err == nil {
			fmt.Printf(" (%d KB)", info.Size()/1024)
		}
		fmt.Println()

		session, err := currentSession(cfg)
		if err != nil {
			fmt.Printf("Session: %s\n", ui.RenderWarn("invalid token: "+err.Error()))
		} else if session == nil {
			fmt.Printf("Session: %s\n", ui.RenderMuted("guest (local only)"))
		} else {
			fmt.Printf("Session: %s\n", session.OwnerID)
		}

		noteCounts, err := st.NoteStateCounts(ctx)
		if err != nil {
			return err
		}
		folderCounts, err := st.FolderStateCounts(ctx)
		if err != nil {
			return err
		}

		printCounts := func(label string, counts map[journal.State]int) {
			total := 0
			for _, c := range counts {
				total += c
			}
			line := fmt.Sprintf("%s: %d", label, total)
			if pending := counts[journal.StateDirty]; pending > 0 {
				line += ui.RenderWarn(fmt.Sprintf("  %d unpushed", pending))
			}
			if tomb := counts[journal.StateTombstone]; tomb > 0 {
				line += ui.RenderWarn(fmt.Sprintf("  %d pending delete", tomb))
			}
			fmt.Println(line)
		}

		printCounts("Notes", noteCounts)
		printCounts("Folders", folderCounts)

		if cfg.RemoteURL == "" {
			fmt.Printf("Remote: %s\n", ui.RenderMuted("not configured"))
		} else {
			fmt.Printf("Remote: %s\n", cfg.RemoteURL)
		}
		return nil
	},
}
