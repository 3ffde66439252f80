package commands

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"
)

func newBackupCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage zone snapshots",
	}

	cmd.AddCommand(newBackupCreateCommand(a))
	cmd.AddCommand(newBackupListCommand(a))
	cmd.AddCommand(newBackupDeleteCommand(a))
	cmd.AddCommand(newBackupPruneCommand(a))

	return cmd
}

func newBackupCreateCommand(a *app) *cobra.Command {
	var (
		domain      string
		description string
		author      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot a domain's current records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dom, err := a.effectiveDomain(domain, nil)
			if err != nil {
				return err
			}
			if author == "" {
				if u, err := user.Current(); err == nil {
					author = u.Username
				}
			}

			records := a.recordStore()
			mgr, closer, err := a.openBackup(ctx, records)
			if err != nil {
				return err
			}
			defer closer()

			snap, err := mgr.Capture(ctx, dom, description, author)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(snap)
			}
			fmt.Printf("Snapshot %s captured for %s (%d records)\n", snap.ID, dom, len(snap.Records))
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to snapshot")
	cmd.Flags().StringVar(&description, "description", "manual snapshot", "snapshot description")
	cmd.Flags().StringVar(&author, "author", "", "snapshot author (default: current user)")

	return cmd
}

func newBackupListCommand(a *app) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots for a domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dom, err := a.effectiveDomain(domain, nil)
			if err != nil {
				return err
			}

			mgr, closer, err := a.openBackup(ctx, a.recordStore())
			if err != nil {
				return err
			}
			defer closer()

			snaps, err := mgr.List(ctx, dom)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(snaps)
			}
			if len(snaps) == 0 {
				fmt.Printf("No snapshots for %s\n", dom)
				return nil
			}
			fmt.Printf("%-38s %-22s %-12s %s\n", "ID", "CREATED", "AUTHOR", "DESCRIPTION")
			for _, s := range snaps {
				fmt.Printf("%-38s %-22s %-12s %s\n",
					s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Author, s.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to list snapshots for")

	return cmd
}

func newBackupDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SNAPSHOT-ID",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mgr, closer, err := a.openBackup(ctx, a.recordStore())
			if err != nil {
				return err
			}
			defer closer()

			if err := mgr.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted snapshot %s\n", args[0])
			return nil
		},
	}
}

func newBackupPruneCommand(a *app) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dom, err := a.effectiveDomain(domain, nil)
			if err != nil {
				return err
			}

			mgr, closer, err := a.openBackup(ctx, a.recordStore())
			if err != nil {
				return err
			}
			defer closer()

			n, err := mgr.Prune(ctx, dom)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d snapshots for %s (retention %d days)\n",
				n, dom, a.cfg.Backup.RetentionDays)
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to prune snapshots for")

	return cmd
}
