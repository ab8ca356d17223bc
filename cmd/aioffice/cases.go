package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aioffice/internal/model"
	"aioffice/internal/service"
)

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Manage accounting cases",
	}
	cmd.AddCommand(caseCreateCmd())
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseDeleteCmd())
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <case>",
		Short: "Delete a case and its suggestions (the audit trail is kept)",
		Args:  cobra.ExactArgs(1),
		RunE:  runCaseDelete,
	}
}

func runCaseDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c, err := resolveCase(ctx, store, args[0])
	if err != nil {
		return err
	}

	if err := store.DeleteCase(ctx, c.ID); err != nil {
		return err
	}

	fmt.Printf("%s deleted\n", c.Name)
	return nil
}

func caseCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new case",
		RunE:  runCaseCreate,
	}
	cmd.Flags().String("partner", "", "partner (supplier) name")
	cmd.Flags().Int64("partner-id", 0, "partner id")
	cmd.Flags().Int64("company-id", 1, "company id")
	cmd.Flags().String("period", "", "accounting period (YYYY-MM)")
	return cmd
}

func runCaseCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	eng, store, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	partner, _ := cmd.Flags().GetString("partner")
	partnerID, _ := cmd.Flags().GetInt64("partner-id")
	companyID, _ := cmd.Flags().GetInt64("company-id")
	period, _ := cmd.Flags().GetString("period")

	c, err := eng.CreateCase(ctx, &model.Case{
		PartnerName: partner,
		PartnerID:   partnerID,
		CompanyID:   companyID,
		Period:      period,
	})
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}

	fmt.Printf("%s created (id %d, state %s)\n", c.Name, c.ID, c.State)
	return nil
}

func caseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE:  runCaseList,
	}
	cmd.Flags().StringSlice("state", nil, "filter by state (repeatable)")
	cmd.Flags().String("period-from", "", "earliest period (YYYY-MM)")
	cmd.Flags().String("period-to", "", "latest period (YYYY-MM)")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}

func runCaseList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stateNames, _ := cmd.Flags().GetStringSlice("state")
	periodFrom, _ := cmd.Flags().GetString("period-from")
	periodTo, _ := cmd.Flags().GetString("period-to")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := service.CaseFilter{
		PeriodFrom: periodFrom,
		PeriodTo:   periodTo,
		Limit:      limit,
	}
	for _, name := range stateNames {
		state := model.CaseState(name)
		if !state.Valid() {
			return fmt.Errorf("unknown state %q", name)
		}
		filter.States = append(filter.States, state)
	}

	cases, err := store.ListCases(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list cases: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tPARTNER\tPERIOD")
	for i := range cases {
		c := &cases[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.State, c.PartnerName, c.Period)
	}
	return w.Flush()
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case>",
		Short: "Show a case with its suggestions and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE:  runCaseShow,
	}
}

func runCaseShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c, err := resolveCase(ctx, store, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s (id %d)\n", c.Name, c.ID)
	fmt.Printf("  state:   %s\n", c.State)
	fmt.Printf("  partner: %s (id %d)\n", c.PartnerName, c.PartnerID)
	fmt.Printf("  period:  %s\n", c.Period)
	if c.MoveID != 0 {
		fmt.Printf("  move:    %d\n", c.MoveID)
	}

	suggestions, err := store.GetSuggestions(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(suggestions) > 0 {
		fmt.Printf("\nSuggestions (%d):\n", len(suggestions))
		for i := range suggestions {
			s := &suggestions[i]
			human := ""
			if s.RequiresHuman {
				human = " [needs human]"
			}
			fmt.Printf("  #%d %s by %s, confidence %.2f, risk %.2f%s\n",
				s.ID, s.Type, s.AgentName, s.Confidence, s.RiskScore, human)
		}
	}

	entries, err := store.GetAuditEntries(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Printf("\nAudit trail (%d):\n", len(entries))
		for _, e := range entries {
			fmt.Printf("  %s  %-12s %s (%s)\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.Actor, e.ActorType)
		}
	}
	return nil
}
