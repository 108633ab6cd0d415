package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kayedejour/kayedejour/internal/journal"
	"github.com/kayedejour/kayedejour/internal/ui"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders",
}

var folderAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a folder",
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

		session, err := currentSession(cfg)
		if err != nil {
			return err
		}
		ownerID := ""
		if session != nil {
			ownerID = session.OwnerID
		}

		folder := journal.NewFolder(ownerID, args[0])
		if err := st.PutFolder(ctx, folder); err != nil {
			return err
		}

		fmt.Printf("%s Added folder %s (%s)\n", ui.RenderPass(ui.IconPass), folder.Name, folder.ID)
		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List folders",
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

		folders, err := st.ListFolders(ctx, ownerID)
		if err != nil {
			return err
		}
		if len(folders) == 0 {
			fmt.Println(ui.RenderMuted("no folders"))
			return nil
		}

		for _, f := range folders {
			marker := " "
			if f.State.Pending() {
				marker = ui.RenderWarn("*")
			}
			fmt.Printf("%s %-30s %s\n", marker, f.Name, ui.RenderMuted(f.ID))
		}
		return nil
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm <id-or-name>",
	Short: "Delete a folder",
	Long: `Delete a folder.

Notes in the folder are not deleted; they show up under Unsorted
until they are refiled.`,
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

		folder, err := findFolder(cmd, st, "", args[0])
		if err != nil {
			return err
		}

		if err := st.SoftDeleteFolder(ctx, folder.ID); err != nil {
			return err
		}

		fmt.Printf("%s Deleted folder %s\n", ui.RenderPass(ui.IconPass), folder.Name)
		return nil
	},
}

func init() {
	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderRmCmd)
}
