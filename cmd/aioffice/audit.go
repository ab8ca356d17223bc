package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"aioffice/internal/common"
	"aioffice/internal/model"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and administer the audit trail",
	}
	cmd.AddCommand(auditDeleteCmd())
	return cmd
}

func auditDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete an audit entry (admin only; the deletion is itself recorded)",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuditDelete,
	}
}

func runAuditDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	actorName, err := currentActor()
	if err != nil {
		return err
	}

	entryID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entry id %q", args[0])
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	actor, err := store.GetActor(ctx, actorName)
	if errors.Is(err, common.ErrNotFound) {
		actor = &model.Actor{Name: actorName, Role: model.RoleUser}
	} else if err != nil {
		return err
	}

	if err := store.DeleteAuditEntry(ctx, entryID, *actor); err != nil {
		return err
	}

	fmt.Printf("audit entry %d deleted by %s\n", entryID, actor.Name)
	return nil
}
