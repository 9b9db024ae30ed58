package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"videobatch/internal/batch"
	"videobatch/internal/bootstrap"
	"videobatch/internal/domain"
	"videobatch/internal/infra"
	"videobatch/internal/providers/video"
	"videobatch/internal/service"
)

func defaultProviders() *video.Registry { return video.Default() }

func newRunCommand() *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "run <batch.toml>",
		Short: "Run a batch file and print one row per prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			accounts, err := file.accounts()
			if err != nil {
				return err
			}

			_ = godotenv.Load()
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.BrowserHeadless = headless
			}
			logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "batchctl").Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			artifacts, err := bootstrap.Artifacts(ctx, cfg, logger)
			if err != nil {
				return err
			}
			svc := bootstrap.Service(cfg, logger, nil, artifacts)

			errOut := cmd.ErrOrStderr()
			res, runErr := svc.Run(ctx, service.Request{
				Provider: file.Provider,
				Category: file.Category,
				Prompts:  file.Prompts,
				Accounts: accounts,
				Observer: batch.Hooks{
					OnJob: func(job domain.Job) {
						fmt.Fprintf(errOut, "job %d %s\n", job.Index, job.Status)
					},
					OnRotate: func(index, from, to int) {
						fmt.Fprintf(errOut, "job %d: rotated account %d -> %d\n", index, from, to)
					},
				},
			})
			if res != nil {
				renderResults(cmd.OutOrStdout(), res.Jobs)
			}
			if runErr != nil {
				if ctx.Err() != nil {
					return context.Canceled
				}
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window (overrides BROWSER_HEADLESS)")
	return cmd
}
