package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zonecraft/zonecraft/pkg/template"
)

func newExportCommand(a *app) *cobra.Command {
	var (
		env      string
		sets     []string
		output   string
		raw      bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "export NAME",
		Short: "Export a template in canonical form",
		Long: `Export a template with inheritance applied and variables resolved,
in the canonical shape (records grouped by type, flat variables).

With --raw, variables are left unsubstituted so the export can be used
as a portable template rather than a rendered zone.`,
		Example: `  # Export the rendered production zone
  zonecraft export webshop --env production -o webshop.yaml

  # Export the merged template without substitution
  zonecraft export webshop --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseSetFlags(sets)
			if err != nil {
				return err
			}

			tpl, err := a.loader.Load(a.templatePath(args[0]))
			if err != nil {
				return err
			}

			out := tpl
			if !raw {
				res, err := a.resolver.Resolve(tpl, env, overrides)
				if err != nil {
					return err
				}
				out = res.Template
			}

			var data []byte
			if asJSON || jsonOutput {
				data, err = json.MarshalIndent(out, "", "  ")
				if err == nil {
					data = append(data, '\n')
				}
			} else {
				data, err = template.Marshal(out)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				fmt.Print(string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Exported %s to %s\n", args[0], output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to resolve for")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "variable override (key=value), repeatable")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&raw, "raw", false, "skip variable substitution")
	cmd.Flags().BoolVar(&asJSON, "to-json", false, "emit JSON instead of YAML")

	return cmd
}
