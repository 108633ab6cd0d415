package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kayedejour/kayedejour/internal/migrate"
	"github.com/kayedejour/kayedejour/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Export the journal to JSONL files",
	Long: `Write notes.jsonl and folders.jsonl under the given directory,
one JSON object per line. Tombstoned rows are not exported.`,
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

		res, err := migrate.Export(ctx, st, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Exported %d notes, %d folders to %s\n",
			ui.RenderPass(ui.IconPass), res.Notes, res.Folders, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import a JSONL export into the journal",
	Long: `Read notes.jsonl and folders.jsonl from the given directory and
merge the rows into the local store. Imported rows are marked for
push, so the next sync cycle uploads them.`,
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

		res, err := migrate.Import(ctx, st, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Imported %d notes, %d folders\n",
			ui.RenderPass(ui.IconPass), res.Notes, res.Folders)
		for _, skipped := range res.Skipped {
			fmt.Printf("%s skipped %s\n", ui.RenderWarn(ui.IconWarn), skipped)
		}
		return nil
	},
}
