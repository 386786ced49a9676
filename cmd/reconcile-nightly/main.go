package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/financesync"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/reconciliation"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	cycle := flag.Int("cycle", 0, "Election cycle. Defaults to FINANCE_DEFAULT_CYCLE.")
	limit := flag.Int("limit", 0, "Maximum candidates to reconcile. Defaults to FINANCE_BATCH_LIMIT.")
	doSync := flag.Bool("sync", false, "Import new contributions for candidates with active committees before reconciling.")
	pages := flag.Int("pages", 5, "Page budget per committee when -sync is set. Unfinished committees resume next run.")
	skipDedupe := flag.Bool("skip-dedupe", false, "Skip the conduit cleanup pass.")
	flag.Parse()

	logger := config.GetLogger()
	log := logger.WithFields(logrus.Fields{"field": "reconcile-nightly"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetActorInContext(ctx, "reconcile-nightly")
	ctx = utils.SetCorrelationIdInContext(ctx, utils.CorrelationIdOrNew(ctx))

	settings, err := config.LoadFinanceSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *cycle == 0 {
		*cycle = settings.DefaultCycle
	}
	api, err := financeapi.NewClient(settings, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	redisCtx, cancelRedis := context.WithTimeout(ctx, 30*time.Second)
	config.ConnectRedisWithRetry(redisCtx)
	cancelRedis()

	matcher := conduit.NewMatcher(settings.ConduitOrgs)

	if *doSync {
		var candidateIds []string
		if err := db.WithContext(ctx).Model(&models.Committee{}).
			Where("active = ?", true).
			Distinct().
			Order("candidate_id").
			Pluck("candidate_id", &candidateIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "list candidates: %v\n", err)
			os.Exit(1)
		}
		deps := financesync.Deps{DB: db, API: api, Logger: logger, Matcher: matcher, Settings: settings}
		for _, id := range candidateIds {
			if ctx.Err() != nil {
				break
			}
			run, err := financesync.SyncCandidate(ctx, deps, id, *cycle, *pages, models.RunTriggeredSchedule)
			if err != nil {
				log.WithField("candidate_id", id).Warnf("sync failed: %v", err)
				continue
			}
			fmt.Printf("synced candidate=%s status=%s imported=%d errors=%d\n", id, run.Status, run.RecordsImported, run.ErrorCount)
		}
	}

	th := reconciliation.ThresholdsFromSettings(settings)
	if !*skipDedupe && ctx.Err() == nil {
		report, err := conduit.DeduplicateConduits(ctx, db, logger, matcher, conduit.Options{}, reconciliation.LedgerRecompute(th))
		if err != nil {
			fmt.Fprintf(os.Stderr, "conduit cleanup failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("conduit cleanup found=%d updated=%d candidates=%d recompute_failures=%d\n",
			report.Found, report.Updated, len(report.AffectedCandidates), report.RecomputeFailures)
	}

	run, err := reconciliation.CreateBatchRun(ctx, db, settings, reconciliation.BatchOptions{Cycle: *cycle, Limit: *limit}, models.RunTriggeredSchedule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create batch run: %v\n", err)
		os.Exit(1)
	}
	done, err := reconciliation.RunBatchJob(ctx, reconciliation.Deps{DB: db, API: api, Logger: logger, Settings: settings}, run.ID)
	if errors.Is(err, reconciliation.ErrBatchInProgress) {
		if _, cerr := reconciliation.CancelBatchRun(ctx, db, run.ID, err.Error()); cerr != nil {
			log.WithField("run_id", run.ID).Warnf("cancel batch run: %v", cerr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch run %d: %v\n", run.ID, err)
		os.Exit(1)
	}
	fmt.Printf("batch run=%d status=%s %s\n", done.ID, done.Status, done.Message)
	if done.Status == models.RunStatusFailed || done.Status == models.RunStatusCancelled {
		os.Exit(1)
	}
}
