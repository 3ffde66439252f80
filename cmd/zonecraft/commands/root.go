// Package commands implements the zonecraft command-line interface.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zonecraft/zonecraft/pkg/backup"
	"github.com/zonecraft/zonecraft/pkg/config"
	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/policy"
	"github.com/zonecraft/zonecraft/pkg/provider"
	"github.com/zonecraft/zonecraft/pkg/telemetry"
	"github.com/zonecraft/zonecraft/pkg/template"
	"github.com/zonecraft/zonecraft/pkg/variables"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

// app bundles the shared subsystems commands operate on. It is built
// once by the root command's PersistentPreRunE.
type app struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	loader   *template.Loader
	resolver *variables.Resolver
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{}
	rootCmd := newRootCommand(a, version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}
	return err
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zonecraft",
		Short: "ZoneCraft - DNS zone template reconciliation",
		Long: `ZoneCraft manages DNS zones from declarative templates.

Templates describe the desired records of a zone, with variables,
per-environment overrides, and inheritance between templates. ZoneCraft
diffs the desired state against the record store, plans the minimal set
of changes, and applies them with dependency ordering, safety policies,
and snapshot-based rollback.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			a.metrics.Serve(cmd.Context(), a.cfg.Telemetry.Metrics.Listen)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "workspace config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand(a))
	rootCmd.AddCommand(newTemplateCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newDiffCommand(a))
	rootCmd.AddCommand(newApplyCommand(a))
	rootCmd.AddCommand(newExportCommand(a))
	rootCmd.AddCommand(newVarCommand(a))
	rootCmd.AddCommand(newBackupCommand(a))
	rootCmd.AddCommand(newRestoreCommand(a))
	rootCmd.AddCommand(newPolicyCommand(a))

	return rootCmd
}

// setup loads the workspace config and builds the shared subsystems.
func (a *app) setup() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	a.cfg = cfg

	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return err
	}
	a.log = log
	a.metrics = telemetry.NewMetrics(cfg.Telemetry.Metrics)

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing)
	if err != nil {
		return err
	}
	a.tracer = tracer

	a.loader = template.NewLoader()
	a.resolver = variables.NewResolver()
	return nil
}

// templatePath maps a template name to its file. A name that already
// points at a YAML file is used as-is.
func (a *app) templatePath(name string) string {
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		return name
	}
	return filepath.Join(a.cfg.TemplatesDir, name+".yaml")
}

// recordStore returns the store plans are applied against.
func (a *app) recordStore() provider.RecordStore {
	return provider.NewFileStore(a.cfg.StateDir)
}

// resolveTemplate loads a template and resolves its variables for the
// given environment.
func (a *app) resolveTemplate(ctx context.Context, name, env string, overrides map[string]string) (*variables.Resolved, error) {
	_, span := a.tracer.StartSpan(ctx, "template.load", attribute.String("template", name))
	tpl, err := a.loader.Load(a.templatePath(name))
	a.tracer.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	_, span = a.tracer.StartSpan(ctx, "template.resolve", attribute.String("environment", env))
	res, err := a.resolver.Resolve(tpl, env, overrides)
	a.tracer.EndSpan(span, err)
	return res, err
}

// openBackup opens the snapshot store and wraps it in a manager. The
// returned closer must be called when the command is done.
func (a *app) openBackup(ctx context.Context, records provider.RecordStore) (*backup.Manager, func(), error) {
	store, err := backup.NewStore(a.cfg.Backup.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	mgr := backup.NewManager(store, records, a.cfg.Backup.RetentionDays, a.log)
	return mgr, func() { store.Close() }, nil
}

// policyGate builds the safety gate, loading custom policies and
// starting the watcher when configured.
func (a *app) policyGate(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.log)
	if err != nil {
		return nil, err
	}
	if a.cfg.Policy.Dir == "" {
		return eng, nil
	}

	paths := []string{a.cfg.Policy.Dir}
	if err := eng.LoadPaths(ctx, paths); err != nil {
		return nil, err
	}
	if a.cfg.Policy.Watch {
		loader := policy.NewLoader(a.log)
		if err := loader.Watch(ctx, paths, eng.Replace); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// newExecutor wires an executor with the gate, snapshotter, logger,
// and metrics.
func (a *app) newExecutor(ctx context.Context, records provider.RecordStore, snapshots engine.Snapshotter) (*engine.Executor, error) {
	gate, err := a.policyGate(ctx)
	if err != nil {
		return nil, err
	}

	opts := []engine.ExecutorOption{
		engine.WithGate(gate),
		engine.WithLogger(a.log),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(a.tracer),
	}
	if snapshots != nil {
		opts = append(opts, engine.WithSnapshotter(snapshots))
	}
	return engine.NewExecutor(records, opts...), nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
