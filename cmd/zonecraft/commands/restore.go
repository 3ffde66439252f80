package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zonecraft/zonecraft/pkg/engine"
)

func newRestoreCommand(a *app) *cobra.Command {
	var (
		domain      string
		dryRun      bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "restore SNAPSHOT-ID",
		Short: "Restore a domain from a snapshot",
		Long: `Restore a domain's records to the state captured in a snapshot.

The snapshot is diffed against the current records and only the
differences are applied, so restoring onto an unchanged zone is a
no-op.`,
		Example: `  # Preview what a restore would change
  zonecraft restore 6f4c... --domain example.com --dry-run

  # Restore for real
  zonecraft restore 6f4c... --domain example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dom, err := a.effectiveDomain(domain, nil)
			if err != nil {
				return err
			}

			records := a.recordStore()
			mgr, closer, err := a.openBackup(ctx, records)
			if err != nil {
				return err
			}
			defer closer()

			exec, err := a.newExecutor(ctx, records, nil)
			if err != nil {
				return err
			}

			opts := engine.Options{
				DryRun:      dryRun,
				Parallelism: parallelism,
				OpTimeout:   a.cfg.Apply.OpTimeout,
			}
			if opts.Parallelism == 0 {
				opts.Parallelism = a.cfg.Apply.Parallelism
			}

			report, err := mgr.Restore(ctx, exec, dom, args[0], opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}
			printReport(report)
			if !report.Succeeded() {
				return fmt.Errorf("restore finished with %d failed operations", report.Summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to restore")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what the restore would change")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max parallel operations (0 = config default)")

	return cmd
}
