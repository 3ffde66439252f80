package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zonecraft/zonecraft/pkg/validate"
)

func newValidateCommand(a *app) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "validate NAME",
		Short: "Validate a template",
		Long: `Validate a template after inheritance and variable resolution.

Checks record syntax per type, TTL bounds, duplicate IDs, dependency
references and cycles, CNAME conflicts, and MX priority collisions.
Exits non-zero when any error-severity issue is found.`,
		Example: `  # Validate for the default environment
  zonecraft validate webshop

  # Validate the production variant
  zonecraft validate webshop --env production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.resolveTemplate(cmd.Context(), args[0], env, nil)
			if err != nil {
				return err
			}

			result := validate.New().Validate(res.Template)

			if jsonOutput {
				if err := printJSON(result); err != nil {
					return err
				}
			} else {
				for _, issue := range result.Issues {
					marker := "warn "
					if issue.Severity == validate.SeverityError {
						marker = "error"
					}
					fmt.Printf("%s  %-22s %-28s %s\n", marker, issue.Code, issue.Path, issue.Message)
				}
				if result.Valid {
					fmt.Printf("Template %s is valid (%d warnings)\n", args[0], len(result.Warnings()))
				}
			}

			if !result.Valid {
				return fmt.Errorf("template %s has %d validation errors", args[0], len(result.Errors()))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to validate for")

	return cmd
}
