package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"aioffice/internal/engine"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage accounting policies",
	}
	cmd.AddCommand(policyAddCmd())
	cmd.AddCommand(policyListCmd())
	return cmd
}

func policyAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a policy (a new version when the scope key already exists)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyAdd,
	}
	cmd.Flags().String("scope", "company", "policy scope (company, supplier, category)")
	cmd.Flags().String("key", "", "scope key, e.g. a supplier name")
	cmd.Flags().Int64("company-id", 1, "company the policy belongs to")
	cmd.Flags().String("rules", "", "rules JSON, or @file")
	cmd.Flags().String("active-from", "", "activation date (YYYY-MM-DD)")
	cmd.Flags().String("active-to", "", "deactivation date (YYYY-MM-DD)")
	return cmd
}

func runPolicyAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	scopeName, _ := cmd.Flags().GetString("scope")
	key, _ := cmd.Flags().GetString("key")
	companyID, _ := cmd.Flags().GetInt64("company-id")
	rulesArg, _ := cmd.Flags().GetString("rules")
	fromStr, _ := cmd.Flags().GetString("active-from")
	toStr, _ := cmd.Flags().GetString("active-to")

	scope := model.PolicyScope(scopeName)
	switch scope {
	case model.ScopeCompany, model.ScopeSupplier, model.ScopeCategory:
	default:
		return fmt.Errorf("unknown scope %q", scopeName)
	}
	if scope == model.ScopeSupplier {
		key = engine.SupplierKey(key)
	}

	rules, err := readPayload(rulesArg)
	if err != nil {
		return err
	}

	p := &model.Policy{
		Name:      args[0],
		Scope:     scope,
		Key:       key,
		RulesJSON: string(rules),
		CompanyID: companyID,
		Active:    true,
	}
	if fromStr != "" {
		if p.ActiveFrom, err = time.Parse("2006-01-02", fromStr); err != nil {
			return fmt.Errorf("invalid --active-from date: %w", err)
		}
	}
	if toStr != "" {
		if p.ActiveTo, err = time.Parse("2006-01-02", toStr); err != nil {
			return fmt.Errorf("invalid --active-to date: %w", err)
		}
	}

	saved, err := store.SavePolicy(ctx, p)
	if err != nil {
		return err
	}

	fmt.Printf("policy %q saved (scope %s, version %d)\n", saved.Name, saved.Scope, saved.Version)
	return nil
}

func policyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List policies matching a supplier or company",
		RunE:  runPolicyList,
	}
	cmd.Flags().String("supplier", "", "supplier name to match")
	cmd.Flags().String("category", "", "category key to match")
	cmd.Flags().Int64("company-id", 1, "company id to match")
	return cmd
}

func runPolicyList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	supplier, _ := cmd.Flags().GetString("supplier")
	category, _ := cmd.Flags().GetString("category")
	companyID, _ := cmd.Flags().GetInt64("company-id")

	policies, err := store.GetPolicies(ctx, service.PolicyQuery{
		SupplierKey: engine.SupplierKey(supplier),
		CategoryKey: category,
		CompanyID:   companyID,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCOPE\tKEY\tVERSION\tRULES")
	for i := range policies {
		p := &policies[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.Name, p.Scope, p.Key, p.Version, p.RulesJSON)
	}
	return w.Flush()
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors and their roles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <role>",
		Short: "Grant an actor a role (user, approver, admin)",
		Args:  cobra.ExactArgs(2),
		RunE:  runActorSet,
	})
	return cmd
}

func runActorSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	role, ok := model.ParseRole(args[1])
	if !ok {
		return fmt.Errorf("unknown role %q", args[1])
	}

	if err := store.SaveActor(ctx, model.Actor{Name: args[0], Role: role}); err != nil {
		return err
	}

	fmt.Printf("%s is now %s\n", args[0], role)
	return nil
}
