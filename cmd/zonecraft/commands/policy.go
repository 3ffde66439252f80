package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPolicyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect safety policies",
	}

	cmd.AddCommand(newPolicyListCommand(a))
	cmd.AddCommand(newPolicyShowCommand(a))

	return cmd
}

func newPolicyListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.policyGate(cmd.Context())
			if err != nil {
				return err
			}

			policies := eng.List()
			if jsonOutput {
				return printJSON(policies)
			}
			fmt.Printf("%-26s %-10s %-9s %s\n", "NAME", "SEVERITY", "ENABLED", "DESCRIPTION")
			for _, p := range policies {
				fmt.Printf("%-26s %-10s %-9t %s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return nil
		},
	}
}

func newPolicyShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a policy's Rego source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.policyGate(cmd.Context())
			if err != nil {
				return err
			}

			p, err := eng.Get(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(p)
			}
			fmt.Printf("# %s (%s)\n# %s\n\n%s", p.Name, p.Severity, p.Description, p.Rego)
			return nil
		},
	}
}
