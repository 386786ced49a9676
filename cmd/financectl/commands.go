package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/financesync"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/reconciliation"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/spf13/cobra"
)

func newLinkCommand(a *app) *cobra.Command {
	var externalId string

	cmd := &cobra.Command{
		Use:   "link <candidate-id>",
		Short: "Link a candidate's principal and authorized committees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			candidateId := args[0]
			if externalId != "" {
				if _, err := financesync.UpsertExternalId(ctx, a.db, financesync.ExternalIdInput{
					CandidateId:         candidateId,
					ExternalCandidateId: externalId,
					IsPrimary:           true,
					MatchSource:         models.MatchSourceManual,
				}); err != nil {
					return fmt.Errorf("store external id: %w", err)
				}
			}
			res, err := financesync.LinkCandidate(ctx, a.db, a.api, a.logger, candidateId)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&externalId, "external-id", "", "authority candidate id to store as primary before linking")
	return cmd
}

func newSyncCommand(a *app) *cobra.Command {
	var cycle, pages int

	cmd := &cobra.Command{
		Use:   "sync <candidate-id>",
		Short: "Import itemized contributions for a candidate's active committees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycle == 0 {
				cycle = a.settings.DefaultCycle
			}
			run, err := financesync.SyncCandidate(cmd.Context(), a.syncDeps(), args[0], cycle, pages, models.RunTriggeredManual)
			if err != nil {
				return err
			}
			detail, err := financesync.GetSyncRun(cmd.Context(), a.db, run.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, detail)
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 0, "election cycle (default FINANCE_DEFAULT_CYCLE)")
	cmd.Flags().IntVar(&pages, "pages", 0, "page budget per committee, 0 for unlimited")
	return cmd
}

func newDedupeCommand(a *app) *cobra.Command {
	var candidateId string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Zero ledger rows attributed to conduit organizations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := conduit.DeduplicateConduits(
				cmd.Context(),
				a.db,
				a.logger,
				conduit.NewMatcher(a.settings.ConduitOrgs),
				conduit.Options{CandidateId: candidateId, DryRun: dryRun},
				reconciliation.LedgerRecompute(reconciliation.ThresholdsFromSettings(a.settings)),
			)
			if err != nil {
				return err
			}
			return printJSON(cmd, reconciliation.ToCleanupResponse(report))
		},
	}
	cmd.Flags().StringVar(&candidateId, "candidate", "", "limit cleanup to one candidate")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report matches without writing")
	return cmd
}

func newReconcileCommand(a *app) *cobra.Command {
	var cycle int

	cmd := &cobra.Command{
		Use:   "reconcile <candidate-id>",
		Short: "Reconcile one candidate against the authority's committee totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycle == 0 {
				cycle = a.settings.DefaultCycle
			}
			if _, err := models.GetCandidate(cmd.Context(), a.db, args[0]); err != nil {
				return fmt.Errorf("candidate %s: %w", args[0], err)
			}
			res, err := reconciliation.Reconcile(cmd.Context(), a.reconcileDeps(), args[0], cycle)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 0, "election cycle (default FINANCE_DEFAULT_CYCLE)")
	return cmd
}

func newBatchCommand(a *app) *cobra.Command {
	var opts reconciliation.BatchOptions
	var all, includeEmpty bool
	var variance float64
	var queue bool

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Reconcile stale candidates in one pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				opts.OnlyStale = utils.NewFalse()
			}
			if includeEmpty {
				opts.OnlyWithData = utils.NewFalse()
			}
			if variance > 0 {
				opts.VarianceThreshold = &variance
			}
			ctx := cmd.Context()
			run, err := reconciliation.CreateBatchRun(ctx, a.db, a.settings, opts, models.RunTriggeredManual)
			if err != nil {
				return err
			}

			if queue {
				if err := reconciliation.PublishBatchRun(ctx, a.settings.BatchTopic, run.ID); err != nil {
					return fmt.Errorf("publish batch run %d: %w", run.ID, err)
				}
				return printJSON(cmd, map[string]interface{}{"runId": run.ID, "status": run.Status})
			}

			if _, err := reconciliation.RunBatchJob(ctx, a.reconcileDeps(), run.ID); err != nil {
				if errors.Is(err, reconciliation.ErrBatchInProgress) {
					_, _ = reconciliation.CancelBatchRun(ctx, a.db, run.ID, err.Error())
				}
				return err
			}
			resp, err := reconciliation.GetBatchRun(ctx, a.db, run.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&opts.CandidateId, "candidate", "", "reconcile only this candidate")
	cmd.Flags().IntVar(&opts.Cycle, "cycle", 0, "election cycle (default FINANCE_DEFAULT_CYCLE)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum candidates (default FINANCE_BATCH_LIMIT)")
	cmd.Flags().BoolVar(&all, "all", false, "include candidates reconciled within the stale window")
	cmd.Flags().BoolVar(&includeEmpty, "include-unsynced", false, "include candidates never synced")
	cmd.Flags().Float64Var(&variance, "variance", 0, "warning threshold in percent for this run")
	cmd.Flags().BoolVar(&queue, "queue", false, "publish the job to Pub/Sub instead of running it here")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var cycle int
	var out, gcsObject string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the cycle's reconciliations to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycle == 0 {
				cycle = a.settings.DefaultCycle
			}
			if out == "" && gcsObject == "" {
				out = fmt.Sprintf("reconciliation-%d.xlsx", cycle)
			}

			var buf bytes.Buffer
			n, err := reconciliation.ExportXLSX(cmd.Context(), a.db, cycle, &buf)
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", out, err)
				}
			}
			if gcsObject != "" {
				if err := utils.UploadReportToGCS(cmd.Context(), gcsObject, utils.XLSXContentType, bytes.NewReader(buf.Bytes())); err != nil {
					return fmt.Errorf("uploading %s: %w", gcsObject, err)
				}
			}
			return printJSON(cmd, map[string]interface{}{"rows": n, "file": out, "gcsObject": gcsObject})
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 0, "election cycle (default FINANCE_DEFAULT_CYCLE)")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	cmd.Flags().StringVar(&gcsObject, "gcs-object", "", "also upload to this object in GCS_BUCKET")
	return cmd
}
