package commands

import (
	"fmt"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/zonecraft/zonecraft/pkg/config"
	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
)

// applyFlags are the per-run knobs of the apply command.
type applyFlags struct {
	mode         engine.Mode
	dryRun       bool
	allowDeletes bool
	strict       bool
	noRollback   bool
	noBackup     bool
	parallelism  int
	opTimeout    time.Duration
}

// buildOptions folds the template's settings, the workspace config,
// and the command flags into executor options. The template decides
// whether backup and rollback are available at all; config and the
// boolean flags widen strict mode or switch features off.
func buildOptions(s template.Settings, cfg config.Apply, f applyFlags) engine.Options {
	opts := engine.Options{
		Mode:          f.mode,
		DryRun:        f.dryRun,
		AllowDeletes:  f.allowDeletes || cfg.AllowDeletes,
		Parallelism:   f.parallelism,
		OpTimeout:     f.opTimeout,
		Strict:        f.strict || cfg.Strict || s.Validation.Strict,
		AutoRollback:  !f.noRollback && s.Rollback.Enabled && (cfg.AutoRollback || s.Rollback.Automatic),
		BackupEnabled: !f.dryRun && !f.noBackup && s.Backup.Enabled,
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = cfg.Parallelism
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = cfg.OpTimeout
	}
	return opts
}

func newApplyCommand(a *app) *cobra.Command {
	var (
		domain       string
		env          string
		sets         []string
		mode         string
		dryRun       bool
		force        bool
		allowDeletes bool
		strict       bool
		noRollback   bool
		noBackup     bool
		parallelism  int
		opTimeout    time.Duration
		description  string
		author       string
	)

	cmd := &cobra.Command{
		Use:   "apply NAME",
		Short: "Apply a template to a domain",
		Long: `Apply a template's desired records to a domain.

The plan is validated, checked against safety policies, and executed
level by level following record dependencies. A snapshot is captured
before the first mutation so failed runs can be rolled back.`,
		Example: `  # Preview without touching anything
  zonecraft apply webshop --domain example.com --dry-run

  # Apply the full plan including deletions
  zonecraft apply webshop --domain example.com --force --allow-deletes

  # Only create records that are missing
  zonecraft apply webshop --domain example.com --mode create-missing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			overrides, err := parseSetFlags(sets)
			if err != nil {
				return err
			}

			if force {
				mode = string(engine.ModeForce)
			}
			m, err := engine.ParseMode(mode)
			if err != nil {
				return err
			}

			p, err := a.planChanges(ctx, args[0], domain, env, overrides)
			if err != nil {
				return err
			}
			cs := p.changes

			if !cs.HasMutations() {
				fmt.Printf("Domain %s already matches template %s, nothing to do\n", p.domain, args[0])
				return nil
			}

			if author == "" {
				if u, err := user.Current(); err == nil {
					author = u.Username
				}
			}

			opts := buildOptions(p.settings, a.cfg.Apply, applyFlags{
				mode:         m,
				dryRun:       dryRun,
				allowDeletes: allowDeletes,
				strict:       strict,
				noRollback:   noRollback,
				noBackup:     noBackup,
				parallelism:  parallelism,
				opTimeout:    opTimeout,
			})
			opts.BackupDescription = description
			opts.BackupAuthor = author
			if description == "" {
				opts.BackupDescription = fmt.Sprintf("pre-apply of template %s", args[0])
			}

			records := a.recordStore()

			var snapshots engine.Snapshotter
			if opts.BackupEnabled || opts.AutoRollback {
				mgr, closer, err := a.openBackup(ctx, records)
				if err != nil {
					return err
				}
				defer closer()
				snapshots = mgr
			}

			exec, err := a.newExecutor(ctx, records, snapshots)
			if err != nil {
				return err
			}

			report, err := exec.Apply(ctx, cs, opts)
			if err != nil {
				if report != nil && jsonOutput {
					_ = printJSON(report)
				}
				return err
			}

			if jsonOutput {
				return printJSON(report)
			}
			printReport(report)
			if !report.Succeeded() {
				return fmt.Errorf("apply finished with %d failed operations", report.Summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to apply to")
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to resolve for")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "variable override (key=value), repeatable")
	cmd.Flags().StringVar(&mode, "mode", string(engine.ModeForce), "apply mode: force, create-missing, or update-existing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, do not write anything")
	cmd.Flags().BoolVar(&force, "force", false, "shorthand for --mode force")
	cmd.Flags().BoolVar(&allowDeletes, "allow-deletes", false, "permit record deletion")
	cmd.Flags().BoolVar(&strict, "strict", false, "halt on the first failed operation")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "do not roll back on failure")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the pre-apply snapshot")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max parallel operations (0 = config default)")
	cmd.Flags().DurationVar(&opTimeout, "op-timeout", 0, "per-operation timeout (0 = config default)")
	cmd.Flags().StringVar(&description, "description", "", "snapshot description")
	cmd.Flags().StringVar(&author, "author", "", "snapshot author (default: current user)")

	return cmd
}

// printReport renders an apply report for humans.
func printReport(report *engine.ApplyReport) {
	for _, res := range report.Results {
		line := fmt.Sprintf("%-11s %s", res.Status, engine.Describe(res.Change))
		if res.Error != "" {
			line += "  (" + res.Error + ")"
		}
		fmt.Println(line)
	}

	s := report.Summary
	verb := "Applied"
	if report.DryRun {
		verb = "Planned"
	}
	fmt.Printf("\n%s run %s on %s: %d applied, %d planned, %d skipped, %d failed, %d rolled back\n",
		verb, report.RunID, report.Domain, s.Applied, s.Planned, s.Skipped, s.Failed, s.RolledBack)
	if report.SnapshotID != "" {
		fmt.Printf("Snapshot: %s\n", report.SnapshotID)
	}
}
