package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chomhq/chom/pkg/types"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage site backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create DOMAIN",
	Short: "Create a backup on the site's node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		switch types.BackupKind(kind) {
		case types.BackupKindFull, types.BackupKindFiles, types.BackupKindDatabase:
		default:
			return fmt.Errorf("unknown backup type %q", kind)
		}

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		backups, err := rt.orc.BackupSite(cmd.Context(), args[0], types.BackupKind(kind))
		if err != nil {
			return err
		}
		for _, b := range backups {
			fmt.Printf("✓ %s (%s, %d bytes) at %s\n", b.ID, b.Kind, b.SizeBytes, b.Location)
		}
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list [DOMAIN]",
	Short: "List recorded backups",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		backups, err := rt.store.ListBackups()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			filtered := backups[:0]
			for _, b := range backups {
				if b.Domain == args[0] {
					filtered = append(filtered, b)
				}
			}
			backups = filtered
		}
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(backups)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tKIND\tSIZE\tCREATED\tEXPIRES")
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				b.ID, b.Domain, b.Kind, b.SizeBytes,
				b.CreatedAt.Format("2006-01-02 15:04"), b.ExpiresAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore DOMAIN",
	Short: "Restore a backup onto the site's node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("--id is required")
		}

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.orc.RestoreBackup(cmd.Context(), args[0], id); err != nil {
			return err
		}
		fmt.Printf("✓ %s restored from backup %s\n", args[0], id)
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)

	backupCreateCmd.Flags().String("type", "full", "Backup type: full, files, database")
	backupListCmd.Flags().Bool("json", false, "Output as JSON")
	backupRestoreCmd.Flags().String("id", "", "Backup ID (timestamp, without artifact suffix)")
}
