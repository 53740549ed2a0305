package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/iago/recognition-orchestrator/internal/config"
)

type commandContext struct {
	envFiles []string
	verbose  bool
	cfg      *config.Config
}

func (c *commandContext) config() config.Config {
	if c.cfg == nil {
		_, _ = config.LoadDotEnv(c.envFiles...)
		cfg := config.Load()
		c.cfg = &cfg
	}
	return *c.cfg
}

func (c *commandContext) logger() *log.Logger {
	if !c.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "[casectl] ", log.LstdFlags|log.LUTC)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "casectl",
		Short:         "Operate the recognition orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringSliceVar(&ctx.envFiles, "env-file", []string{".env", ".env.local"}, "Env files to load before reading configuration")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Log backend activity to stderr")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))

	return rootCmd
}
