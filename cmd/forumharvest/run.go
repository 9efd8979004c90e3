package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/config"
	"github.com/JakeFAU/forumharvest/internal/logging"
	"github.com/JakeFAU/forumharvest/internal/report"
)

const closeTimeout = 30 * time.Second

var (
	errStoreFailures = errors.New("run finished with store failures")
	errRunCanceled   = errors.New("run canceled before every page was processed")
)

// newRunCmd creates the 'run' subcommand, which harvests one page range and
// prints the run summary.
func newRunCmd(v *viper.Viper, cfgFile *string, factory appFactory) *cobra.Command {
	var failOnStoreErrors bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest listing pages 1..N into the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, *cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := runHarvest(cmd, cfg, logger, factory, failOnStoreErrors); err != nil {
				logger.Error("harvest failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int("pages", 0, "number of listing pages to harvest (overrides source.page_count)")
	flags.Int("concurrency", 0, "pages processed at once (overrides crawler.concurrency)")
	flags.String("store", "", "record store: mongo, postgres or memory (overrides store.provider)")
	flags.BoolVar(&failOnStoreErrors, "fail-on-store-errors", false, "exit non-zero when any record failed to store")

	// BindPFlag only reports an error for a nil flag.
	_ = v.BindPFlag("source.page_count", flags.Lookup("pages"))
	_ = v.BindPFlag("crawler.concurrency", flags.Lookup("concurrency"))
	_ = v.BindPFlag("store.provider", flags.Lookup("store"))
	return cmd
}

func runHarvest(cmd *cobra.Command, cfg config.Config, logger *zap.Logger, factory appFactory, failOnStoreErrors bool) error {
	ctx := cmd.Context()
	h, err := factory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := h.Close(closeCtx); cerr != nil {
			logger.Warn("failed to release harvester resources", zap.Error(cerr))
		}
	}()

	rep, err := h.Run(ctx)
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}

	out := cmd.OutOrStdout()
	report.Render(out, rep)
	logger.Info("harvest finished",
		zap.String("run_id", rep.RunID),
		zap.Int("records_stored", rep.RecordsStored),
		zap.Int("store_failures", rep.StoreFailures),
		zap.Duration("duration", rep.Duration()),
	)

	switch {
	case rep.Canceled:
		return errRunCanceled
	case failOnStoreErrors && rep.StoreFailures > 0:
		return fmt.Errorf("%w: %d", errStoreFailures, rep.StoreFailures)
	}
	fmt.Fprintln(out, "Finished.")
	return nil
}
