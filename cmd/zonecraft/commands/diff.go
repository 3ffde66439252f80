package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
	"github.com/zonecraft/zonecraft/pkg/validate"
	"github.com/zonecraft/zonecraft/pkg/variables"
)

// parseSetFlags turns --set key=value pairs into an override table.
func parseSetFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set value %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// effectiveDomain picks the domain a command operates on: the flag,
// then the workspace default, then the template's domain variable.
func (a *app) effectiveDomain(flag string, res *variables.Resolved) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if a.cfg.Domain != "" {
		return a.cfg.Domain, nil
	}
	if res != nil {
		if d, ok := res.Values["domain"]; ok && d != "" {
			return d, nil
		}
	}
	return "", fmt.Errorf("no domain given, use --domain or set it in the config")
}

// plan bundles what the apply phase needs from planning: the change
// set, the domain it targets, and the template's operational settings.
type plan struct {
	changes  *engine.ChangeSet
	domain   string
	settings template.Settings
}

// planChanges resolves a template, validates it, and diffs the desired
// records against the store. Shared by diff and apply.
func (a *app) planChanges(ctx context.Context, name, domain, env string, overrides map[string]string) (*plan, error) {
	res, err := a.resolveTemplate(ctx, name, env, overrides)
	if err != nil {
		return nil, err
	}

	_, span := a.tracer.StartSpan(ctx, "template.validate", attribute.String("template", name))
	result := validate.New().Validate(res.Template)
	if !result.Valid {
		for _, issue := range result.Errors() {
			a.log.Z().Error().Str("path", issue.Path).Str("code", issue.Code).Msg(issue.Message)
		}
		err := engine.NewError(engine.ErrCodeValidation,
			fmt.Sprintf("template %s has %d validation errors", name, len(result.Errors())))
		a.tracer.EndSpan(span, err)
		return nil, err
	}
	a.tracer.EndSpan(span, nil)

	domain, err = a.effectiveDomain(domain, res)
	if err != nil {
		return nil, err
	}

	desired, err := res.DesiredRecords()
	if err != nil {
		return nil, err
	}

	_, span = a.tracer.StartSpan(ctx, "plan.diff", attribute.String("domain", domain))
	store := a.recordStore()
	remote, err := store.List(ctx, domain)
	if err != nil {
		a.tracer.EndSpan(span, err)
		return nil, err
	}
	cs := engine.Diff(domain, env, desired, remote)
	a.tracer.EndSpan(span, nil)

	return &plan{changes: cs, domain: domain, settings: res.Template.Settings}, nil
}

func newDiffCommand(a *app) *cobra.Command {
	var (
		domain string
		env    string
		sets   []string
	)

	cmd := &cobra.Command{
		Use:   "diff NAME",
		Short: "Show what apply would change",
		Example: `  # Diff the production variant
  zonecraft diff webshop --domain example.com --env production

  # Diff with a variable override
  zonecraft diff webshop --set ttl=300`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseSetFlags(sets)
			if err != nil {
				return err
			}

			p, err := a.planChanges(cmd.Context(), args[0], domain, env, overrides)
			if err != nil {
				return err
			}
			cs := p.changes

			if jsonOutput {
				return printJSON(cs)
			}

			for _, c := range cs.Changes {
				fmt.Println(engine.Describe(c))
			}
			sum := cs.Summary()
			fmt.Printf("\nPlan: %d to create, %d to update, %d to delete, %d unchanged\n",
				sum.Creates, sum.Updates, sum.Deletes, sum.Noops)
			return nil
		},
	}

	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain to diff against")
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to resolve for")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "variable override (key=value), repeatable")

	return cmd
}
