package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const starterConfig = `# ZoneCraft workspace configuration
templates_dir: templates
state_dir: state

# Default domain for commands that do not pass --domain.
# domain: example.com

backup:
  path: zonecraft.db
  retention_days: 30

apply:
  parallelism: 4
  op_timeout: 30s

# policy:
#   dir: policies
#   watch: true

telemetry:
  logging:
    level: info
    format: console
`

func newInitCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a new workspace",
		Long: `Initialize a ZoneCraft workspace in the given directory
(default: current directory).

Creates the workspace config file, the templates directory with a
starter template, and the local state directory.`,
		Example: `  # Initialize in the current directory
  zonecraft init

  # Initialize a new directory
  zonecraft init ./zones`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			cfgPath := filepath.Join(dir, "zonecraft.yaml")
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfgPath)
			}

			if err := os.MkdirAll(filepath.Join(dir, "templates"), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(dir, "state"), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, []byte(starterConfig), 0o644); err != nil {
				return err
			}

			starterPath := filepath.Join(dir, "templates", "base.yaml")
			if _, err := os.Stat(starterPath); err != nil || force {
				if err := os.WriteFile(starterPath, []byte(starterTemplate("base")), 0o644); err != nil {
					return err
				}
			}

			a.log.Infof("workspace initialized in %s", dir)
			fmt.Printf("Workspace initialized in %s\n", dir)
			fmt.Println("  zonecraft.yaml       workspace configuration")
			fmt.Println("  templates/base.yaml  starter template")
			fmt.Println("  state/               local record store")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
