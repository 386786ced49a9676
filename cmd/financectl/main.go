package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/financesync"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/reconciliation"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app is resolved once by the root command before any subcommand runs.
type app struct {
	db       *gorm.DB
	logger   *logrus.Logger
	settings config.FinanceSettings
	api      financeapi.API
}

func (a *app) syncDeps() financesync.Deps {
	return financesync.Deps{
		DB:       a.db,
		API:      a.api,
		Logger:   a.logger,
		Matcher:  conduit.NewMatcher(a.settings.ConduitOrgs),
		Settings: a.settings,
	}
}

func (a *app) reconcileDeps() reconciliation.Deps {
	return reconciliation.Deps{
		DB:       a.db,
		API:      a.api,
		Logger:   a.logger,
		Settings: a.settings,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetActorInContext(ctx, "financectl")

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var migrate bool

	rootCmd := &cobra.Command{
		Use:   "financectl",
		Short: "Operate the campaign finance reconciliation engine",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = config.GetLogger()
			settings, err := config.LoadFinanceSettings()
			if err != nil {
				return err
			}
			a.settings = settings
			client, err := financeapi.NewClient(settings, a.logger)
			if err != nil {
				return err
			}
			a.api = client

			config.ConnectDatabaseWithRetry()
			a.db = config.GetDB()
			if migrate {
				return models.MigrateTable(a.db)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&migrate, "migrate", false, "run AutoMigrate before the command")

	rootCmd.AddCommand(
		newLinkCommand(a),
		newSyncCommand(a),
		newDedupeCommand(a),
		newReconcileCommand(a),
		newBatchCommand(a),
		newExportCommand(a),
	)
	return rootCmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
