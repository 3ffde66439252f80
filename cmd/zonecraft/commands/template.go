package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zonecraft/zonecraft/pkg/template"
)

func newTemplateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage zone templates",
	}

	cmd.AddCommand(newTemplateCreateCommand(a))
	cmd.AddCommand(newTemplateListCommand(a))
	cmd.AddCommand(newTemplateShowCommand(a))

	return cmd
}

// starterTemplate renders the skeleton written by init and template
// create.
func starterTemplate(name string) string {
	return fmt.Sprintf(`metadata:
  name: %s
  version: 1.0.0
  description: Zone template

variables:
  domain: example.com
  ttl: 3600

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
      ttl: ${ttl}
    - id: www
      name: www
      value: 203.0.113.10
      depends_on: [apex]

environments:
  production:
    variables:
      ttl: 3600
  staging:
    variables:
      ttl: 300
`, name)
}

func newTemplateCreateCommand(a *app) *cobra.Command {
	var inherit []string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new template",
		Example: `  # Create a fresh template
  zonecraft template create webshop

  # Create a template inheriting from base
  zonecraft template create webshop --inherit base`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			path := a.templatePath(name)

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("template %s already exists at %s", name, path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}

			content := starterTemplate(name)
			if len(inherit) > 0 {
				// Inherit entries are file paths; bare names get the
				// conventional extension.
				parents := make([]string, len(inherit))
				for i, p := range inherit {
					if filepath.Ext(p) == "" {
						p += ".yaml"
					}
					parents[i] = p
				}

				// Inheriting templates start minimal, the parents carry
				// the records.
				content = fmt.Sprintf(`metadata:
  name: %s
  version: 1.0.0

inherit: [%s]

variables: {}

records: {}
`, name, strings.Join(parents, ", "))
			}

			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}

			// Round-trip through the loader so a broken skeleton never
			// ships.
			if _, err := a.loader.Load(path); err != nil {
				return err
			}

			fmt.Printf("Created %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inherit, "inherit", nil, "parent templates to inherit from")

	return cmd
}

func newTemplateListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(a.cfg.TemplatesDir)
			if err != nil {
				return fmt.Errorf("reading templates directory: %w", err)
			}

			type row struct {
				Name        string `json:"name"`
				Version     string `json:"version"`
				Records     int    `json:"records"`
				Description string `json:"description,omitempty"`
			}
			var rows []row

			for _, e := range entries {
				if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
					continue
				}
				tpl, err := a.loader.Load(filepath.Join(a.cfg.TemplatesDir, e.Name()))
				if err != nil {
					a.log.Z().Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable template")
					continue
				}
				name := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".yaml"), ".yml")
				rows = append(rows, row{
					Name:        name,
					Version:     tpl.Metadata.Version,
					Records:     tpl.RecordCount(),
					Description: tpl.Metadata.Description,
				})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

			if jsonOutput {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Println("No templates found.")
				return nil
			}
			fmt.Printf("%-20s %-10s %-8s %s\n", "NAME", "VERSION", "RECORDS", "DESCRIPTION")
			for _, r := range rows {
				fmt.Printf("%-20s %-10s %-8d %s\n", r.Name, r.Version, r.Records, r.Description)
			}
			return nil
		},
	}
}

func newTemplateShowCommand(a *app) *cobra.Command {
	var env string
	var resolved bool

	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show a template",
		Long: `Show a template after inheritance has been applied.

With --resolved, variables are substituted and conditional records
evaluated for the given environment, so the output is exactly the
desired state a diff would use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := a.loader.Load(a.templatePath(args[0]))
			if err != nil {
				return err
			}

			out := tpl
			if resolved {
				res, err := a.resolver.Resolve(tpl, env, nil)
				if err != nil {
					return err
				}
				out = res.Template
			}

			if jsonOutput {
				return printJSON(out)
			}
			data, err := template.Marshal(out)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to resolve for")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "substitute variables before printing")

	return cmd
}
