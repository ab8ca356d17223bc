package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"aioffice/internal/export"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export bookings and audit trails",
	}
	cmd.AddCommand(exportDatevCmd())
	cmd.AddCommand(exportUstvaCmd())
	cmd.AddCommand(exportAuditCmd())
	return cmd
}

func exportUstvaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ustva",
		Short: "Generate the UStVA Kennziffern for one period",
		Long: `Aggregate all posted and exported cases of a period into the advance
VAT return (Umsatzsteuervoranmeldung) Kennziffern. Only cases with a
linked journal entry count.`,
		RunE: runExportUstva,
	}
	cmd.Flags().String("period", "", "accounting period (YYYY-MM)")
	cmd.Flags().String("format", "csv", "output format (csv, json)")
	cmd.Flags().String("out", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func runExportUstva(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	period, _ := cmd.Flags().GetString("period")
	format, _ := cmd.Flags().GetString("format")

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeOut()

	reporter := export.NewUStVAReporter(store)

	var report *export.UStVA
	switch format {
	case "csv":
		report, err = reporter.WriteCSV(ctx, out, period)
	case "json":
		report, err = reporter.WriteJSON(ctx, out, period)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "UStVA %s: Vorauszahlung %.2f\n", report.Period, report.Kz83)
	return nil
}

func exportDatevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datev",
		Short: "Write posted cases as a DATEV booking batch",
		Long: `Export all posted cases in the period range as a DATEV CSV batch.
Every exported case moves to its terminal exported state; cases without
a usable accounting entry are skipped and stay posted.`,
		RunE: runExportDatev,
	}
	cmd.Flags().String("from", "", "earliest period (YYYY-MM)")
	cmd.Flags().String("to", "", "latest period (YYYY-MM)")
	cmd.Flags().String("format", "datev", "output format (datev, summary)")
	cmd.Flags().Bool("include-exported", false, "re-emit already exported cases")
	cmd.Flags().String("out", "", "output file (default stdout)")
	return cmd
}

func runExportDatev(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	actor, err := currentActor()
	if err != nil {
		return err
	}

	eng, store, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	format, _ := cmd.Flags().GetString("format")
	includeExported, _ := cmd.Flags().GetBool("include-exported")

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeOut()

	exporter := export.NewDATEVExporter(store, eng)
	opts := export.Options{
		PeriodFrom:      from,
		PeriodTo:        to,
		IncludeExported: includeExported,
	}

	switch format {
	case "datev":
		batch, err := exporter.Export(ctx, out, actor, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "exported %d cases (%d lines, %d skipped)\n",
			len(batch.Cases), batch.Lines, batch.Skipped)
	case "summary":
		count, err := exporter.WriteSummary(ctx, out, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "summarized %d cases\n", count)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

func exportAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Export the audit trail for a date range",
		RunE:  runExportAudit,
	}
	cmd.Flags().String("from", "", "start date (YYYY-MM-DD, default 30 days ago)")
	cmd.Flags().String("to", "", "end date (YYYY-MM-DD, default now)")
	cmd.Flags().String("format", "csv", "output format (csv, json)")
	cmd.Flags().String("out", "", "output file (default stdout)")
	return cmd
}

func runExportAudit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	start, end, err := parseDateRange(cmd)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeOut()

	exporter := export.NewAuditExporter(store)
	format, _ := cmd.Flags().GetString("format")

	var count int
	switch format {
	case "csv":
		count, err = exporter.WriteCSV(ctx, out, start, end)
	case "json":
		count, err = exporter.WriteJSON(ctx, out, start, end)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "exported %d audit entries\n", count)
	return nil
}

func parseDateRange(cmd *cobra.Command) (start, end time.Time, err error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	end = time.Now().UTC()
	start = end.AddDate(0, 0, -30)

	if fromStr != "" {
		if start, err = time.Parse("2006-01-02", fromStr); err != nil {
			return start, end, fmt.Errorf("invalid --from date: %w", err)
		}
	}
	if toStr != "" {
		if end, err = time.Parse("2006-01-02", toStr); err != nil {
			return start, end, fmt.Errorf("invalid --to date: %w", err)
		}
		// Include the whole end day.
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return start, end, nil
}

func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("out")
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
