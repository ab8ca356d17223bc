package main

import (
	"encoding/json"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"aioffice/internal/engine"
	"aioffice/internal/model"
)

var seedSuppliers = []struct {
	name      string
	partnerID int64
}{
	{"Mueller GmbH", 101},
	{"Schulze Bürobedarf AG", 102},
	{"Weber IT Services", 103},
	{"Stadtwerke Leipzig", 104},
	{"Hoffmann Logistik KG", 105},
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo data",
		Long: `Create demo suppliers, policies, actors and cases for trying the
workflow locally. Safe to run more than once, each run adds new cases.`,
		RunE: runSeed,
	}
	cmd.Flags().Int("cases", 20, "number of demo cases to create")
	cmd.Flags().String("period", "2026-01", "accounting period for the cases")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	eng, store, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	count, _ := cmd.Flags().GetInt("cases")
	period, _ := cmd.Flags().GetString("period")

	// Demo actors for each capability level.
	actors := []model.Actor{
		{Name: "alice", Role: model.RoleUser},
		{Name: "carol", Role: model.RoleApprover},
		{Name: "root", Role: model.RoleAdmin},
	}
	for _, a := range actors {
		if err := store.SaveActor(ctx, a); err != nil {
			return fmt.Errorf("failed to seed actor %s: %w", a.Name, err)
		}
	}

	// One supplier policy so orchestration has something to match.
	rules, err := json.Marshal(model.PolicyRules{
		DefaultAccount:      "6815",
		ConfidenceThreshold: 0.8,
		RiskScoreMax:        0.3,
	})
	if err != nil {
		return err
	}
	if _, err := store.SavePolicy(ctx, &model.Policy{
		Name:      "office supplies default",
		Scope:     model.ScopeSupplier,
		Key:       engine.SupplierKey(seedSuppliers[1].name),
		RulesJSON: string(rules),
		CompanyID: 1,
		Active:    true,
	}); err != nil {
		return fmt.Errorf("failed to seed policy: %w", err)
	}

	bar := progressbar.Default(int64(count), "seeding cases")
	for i := 0; i < count; i++ {
		supplier := seedSuppliers[i%len(seedSuppliers)]
		if _, err := eng.CreateCase(ctx, &model.Case{
			PartnerName: supplier.name,
			PartnerID:   supplier.partnerID,
			CompanyID:   1,
			Period:      period,
		}); err != nil {
			return fmt.Errorf("failed to seed case: %w", err)
		}
		_ = bar.Add(1)
	}

	fmt.Printf("\nseeded %d cases, %d actors, 1 policy\n", count, len(actors))
	return nil
}
