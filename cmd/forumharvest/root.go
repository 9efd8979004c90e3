package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/app"
	"github.com/JakeFAU/forumharvest/internal/config"
	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

// harvester is the slice of *app.App the commands drive. Tests substitute
// a fake through appFactory.
type harvester interface {
	Run(ctx context.Context) (crawler.RunReport, error)
	Close(ctx context.Context) error
}

type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvester, error)

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvester, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd builds the command tree. Each tree owns its Viper instance so
// flag bindings never leak between invocations.
func newRootCmd(factory appFactory) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "forumharvest",
		Short: "Harvest question listings into a document store.",
		Long: `forumharvest fetches the newest-questions listing page by page,
extracts each question's id, posting time and tags, and upserts them into
MongoDB or Postgres keyed by id. Re-running over the same pages converges
on the same stored records.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newRunCmd(v, &cfgFile, factory))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the forumharvest version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "forumharvest "+version)
		},
	}
}
