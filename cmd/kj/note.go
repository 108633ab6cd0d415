package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/store"
	"github.com/kayedejour/kayedejour/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Create, edit, and list journal notes",
}

var (
	noteTitle   string
	noteContent string
	noteFolder  string
	noteDate    string
)

var noteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a note",
	Long: `Add a note to the local journal.

The note is written to the local store immediately and marked for
push; no network is involved. Use --date to backdate the journaled
day: the entry date is yours to set and never affects sync.`,
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

		session, err := currentSession(cfg)
		if err != nil {
			return err
		}
		ownerID := ""
		if session != nil {
			ownerID = session.OwnerID
		}

		note := journal.NewNote(ownerID)
		note.Title = noteTitle
		note.Content = noteContent

		if noteFolder != "" {
			folder, err := findFolder(cmd, st, ownerID, noteFolder)
			if err != nil {
				return err
			}
			note.FolderID = folder.ID
		}

		if noteDate != "" {
			day, err := time.Parse("2006-01-02", noteDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", noteDate)
			}
			note.CreatedAt = day.UTC()
		}

		if err := st.PutNote(ctx, note); err != nil {
			return err
		}

		fmt.Printf("%s Added note %s\n", ui.RenderPass(ui.IconPass), note.ID)
		return nil
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, newest journaled day first",
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

		session, err := currentSession(cfg)
		if err != nil {
			return err
		}
		ownerID := ""
		if session != nil {
			ownerID = session.OwnerID
		}

		notes, err := st.ListNotes(ctx, ownerID)
		if err != nil {
			return err
		}
		folders, err := st.ListFolders(ctx, ownerID)
		if err != nil {
			return err
		}

		if noteFolder != "" {
			folder, err := findFolder(cmd, st, ownerID, noteFolder)
			if err != nil {
				return err
			}
			filtered := notes[:0]
			for _, n := range notes {
				if n.FolderID == folder.ID {
					filtered = append(filtered, n)
				}
			}
			notes = filtered
		}

		if len(notes) == 0 {
			fmt.Println(ui.RenderMuted("no notes"))
			return nil
		}

		for _, n := range notes {
			marker := " "
			if n.State.Pending() {
				marker = ui.RenderWarn("*")
			}
			title := n.Title
			if title == "" {
				title = "Untitled"
			}
			fmt.Printf("%s %s  %-40s %s  %s\n",
				marker,
				n.CreatedAt.Format("2006-01-02"),
				title,
				ui.RenderAccent(journal.ResolveFolderName(n, folders)),
				ui.RenderMuted(n.ID))
		}
		return nil
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one note",
	Args:  cobra.ExactArgs(1),
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

		note, err := st.GetNote(ctx, args[0])
		if err != nil {
			return err
		}
		folders, err := st.ListFolders(ctx, "")
		if err != nil {
			return err
		}

		title := note.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Printf("%s\n", ui.AccentStyle.Bold(true).Render(title))
		fmt.Printf("%s  %s\n",
			note.CreatedAt.Format("Jan 2, 2006"),
			ui.RenderMuted(journal.ResolveFolderName(note, folders)))
		if note.Content != "" {
			fmt.Printf("\n%s\n", note.Content)
		}
		for _, img := range note.Images {
			fmt.Printf("%s\n", ui.RenderMuted("image: "+img.Large))
		}
		return nil
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a note's title, content, folder, or journaled date",
	Args:  cobra.ExactArgs(1),
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

		note, err := st.GetNote(ctx, args[0])
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("title") {
			note.Title = noteTitle
		}
		if cmd.Flags().Changed("content") {
			note.Content = noteContent
		}
		if cmd.Flags().Changed("folder") {
			if noteFolder == "" {
				note.FolderID = ""
			} else {
				folder, err := findFolder(cmd, st, note.OwnerID, noteFolder)
				if err != nil {
					return err
				}
				note.FolderID = folder.ID
			}
		}
		if cmd.Flags().Changed("date") {
			day, err := time.Parse("2006-01-02", noteDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", noteDate)
			}
			note.CreatedAt = day.UTC()
		}

		note.Touch()
		if err := st.PutNote(ctx, note); err != nil {
			return err
		}

		fmt.Printf("%s Updated note %s\n", ui.RenderPass(ui.IconPass), note.ID)
		return nil
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a note",
	Long: `Delete a note.

The note disappears immediately; the delete is propagated to the
cloud store on the next sync cycle.`,
	Args: cobra.ExactArgs(1),
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

		if err := st.SoftDeleteNote(ctx, args[0]); err != nil {
			return err
		}

		fmt.Printf("%s Deleted note %s\n", ui.RenderPass(ui.IconPass), args[0])
		return nil
	},
}

// findFolder resolves a folder by id or by name among live folders.
func findFolder(cmd *cobra.Command, st *store.Store, ownerID, ref string) (*journal.Folder, error) {
	ctx := cmd.Context()

	if folder, err := st.GetFolder(ctx, ref); err == nil {
		return folder, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	folders, err := st.ListFolders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if f.Name == ref {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no folder %q (run 'kj folder add %s' first)", ref, ref)
}

func init() {
	noteAddCmd.Flags().StringVarP(&noteTitle, "title", "t", "", "note title")
	noteAddCmd.Flags().StringVarP(&noteContent, "content", "c", "", "note content")
	noteAddCmd.Flags().StringVarP(&noteFolder, "folder", "f", "", "folder id or name")
	noteAddCmd.Flags().StringVar(&noteDate, "date", "", "journaled date (YYYY-MM-DD)")

	noteEditCmd.Flags().StringVarP(&noteTitle, "title", "t", "", "new title")
	noteEditCmd.Flags().StringVarP(&noteContent, "content", "c", "", "new content")
	noteEditCmd.Flags().StringVarP(&noteFolder, "folder", "f", "", "new folder id or name (empty for Unsorted)")
	noteEditCmd.Flags().StringVar(&noteDate, "date", "", "new journaled date (YYYY-MM-DD)")

	noteListCmd.Flags().StringVarP(&noteFolder, "folder", "f", "", "only this folder")

	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteShowCmd)
	noteCmd.AddCommand(noteEditCmd)
	noteCmd.AddCommand(noteRmCmd)
}
