package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zonecraft/zonecraft/pkg/variables"
)

func newVarCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "var",
		Short: "Manage template variables",
	}

	cmd.AddCommand(newVarSetCommand(a))
	cmd.AddCommand(newVarGetCommand(a))
	cmd.AddCommand(newVarRemoveCommand(a))
	cmd.AddCommand(newVarListCommand(a))

	return cmd
}

func newVarSetCommand(a *app) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "set TEMPLATE NAME VALUE",
		Short: "Set a variable in a template file",
		Example: `  # Set a global variable
  zonecraft var set webshop ttl 3600

  # Set a production-only override
  zonecraft var set webshop ttl 7200 --env production`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := variables.NewManager(a.loader)
			if err := mgr.Set(a.templatePath(args[0]), env, args[1], args[2]); err != nil {
				return err
			}
			scope := "global"
			if env != "" {
				scope = env
			}
			fmt.Printf("Set %s=%s (%s) in %s\n", args[1], args[2], scope, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "set in this environment's overrides")

	return cmd
}

func newVarGetCommand(a *app) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "get TEMPLATE NAME",
		Short: "Print a variable's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := variables.NewManager(a.loader)
			value, err := mgr.Get(a.templatePath(args[0]), env, args[1])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "read from this environment's overrides")

	return cmd
}

func newVarRemoveCommand(a *app) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "remove TEMPLATE NAME",
		Short: "Remove a variable from a template file",
		Long: `Remove a variable from a template file.

The built-in variables domain and ttl cannot be removed from the
global scope, only overridden per environment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := variables.NewManager(a.loader)
			if err := mgr.Remove(a.templatePath(args[0]), env, args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s from %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "remove from this environment's overrides")

	return cmd
}

func newVarListCommand(a *app) *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "list TEMPLATE",
		Short: "List a template's variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := variables.NewManager(a.loader)
			entries, err := mgr.List(a.templatePath(args[0]), env)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(entries)
			}
			fmt.Printf("%-24s %-14s %s\n", "NAME", "SCOPE", "VALUE")
			for _, e := range entries {
				fmt.Printf("%-24s %-14s %s\n", e.Name, e.Scope, e.Value)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "include this environment's overrides")

	return cmd
}
